package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/tokenbudget/config"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	cfg := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, cfg, manager.config)
	assert.Equal(t, "postgres", manager.Driver())
	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, mockDB, manager.SQLDB())
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, testPoolConfig(), nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) RecordDBConnections(database string, open, idle int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, database)
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func TestPoolManager_StatsObserver(t *testing.T) {
	obs := &recordingObserver{}
	pm, err := Open(config.DatabaseConfig{
		Driver:              "sqlite",
		Name:                ":memory:",
		MaxOpenConns:        1,
		HealthCheckInterval: 10 * time.Millisecond,
	}, zap.NewNop(), WithStatsObserver(obs))
	require.NoError(t, err)
	defer pm.Close()

	assert.Eventually(t, func() bool { return obs.count() >= 2 }, time.Second, 5*time.Millisecond)
	obs.mu.Lock()
	assert.Equal(t, "sqlite", obs.calls[0])
	obs.mu.Unlock()
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()
	err = manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil })
	assert.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	// 第一次死锁回滚，第二次提交
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_NonRetryable(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err = manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		return errors.New("duplicate key value violates unique constraint")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	cfg := testPoolConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	manager, err := NewPoolManager(gormDB, cfg, nil)
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	// 重复关闭是空操作
	require.NoError(t, manager.Close())

	assert.Error(t, manager.Ping(context.Background()))
	assert.Error(t, manager.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil }))
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{
		MaxOpenConns:        40,
		ConnMaxLifetime:     time.Minute,
		HealthCheckInterval: 0,
	})
	assert.Equal(t, 40, pc.MaxOpenConns)
	// 未设置的字段保留默认值
	assert.Equal(t, DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)
	assert.Zero(t, pc.HealthCheckInterval)
}

func TestPoolConfigFrom_MemorySQLite(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:", MaxOpenConns: 20, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 1, pc.MaxOpenConns)
	assert.Zero(t, pc.ConnMaxLifetime)

	pc = PoolConfigFrom(config.DatabaseConfig{Driver: "sqlite", Name: "budget.db", MaxOpenConns: 20})
	assert.Equal(t, 20, pc.MaxOpenConns)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "file:x?mode=memory&cache=shared", sqliteDSN("file:x?mode=memory&cache=shared"))
	assert.Equal(t, "budget.db?_pragma=foreign_keys(1)", sqliteDSN("budget.db?_pragma=foreign_keys(1)"))
	assert.Equal(t, "budget.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("budget.db"))
}

func TestOpen_SQLiteFile(t *testing.T) {
	pm, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "budget.db")}, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	var mode string
	require.NoError(t, pm.DB().Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", strings.ToLower(mode))
}

func TestDialector(t *testing.T) {
	for _, name := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(config.DatabaseConfig{Driver: name, Name: "x"})
		require.NoError(t, err, name)
		assert.Equal(t, name, d.Name())
	}

	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	pm, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: ":memory:", MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	assert.Equal(t, "sqlite", pm.Driver())
	require.NoError(t, pm.Ping(context.Background()))

	var one int
	require.NoError(t, pm.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Deadlock found when trying to get lock"), true},
		{errors.New("could not serialize access due to concurrent update: serialization failure"), true},
		{errors.New("pq: SQLSTATE 40001"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("Lock wait timeout exceeded"), true},
		{driver.ErrBadConn, true},
		{fmt.Errorf("begin: %w", driver.ErrBadConn), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("syntax error at or near"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "%v", tt.err)
	}
}
