package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// 每种方言一个子目录：migrations/<postgres|mysql|sqlite>/NNNNNN_name.{up,down}.sql
//
//go:embed migrations
var migrationsFS embed.FS

// DefaultTableName 迁移版本表名
const DefaultTableName = "schema_migrations"

// DatabaseType 支持的方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// dialect 打开连接用的 database/sql 驱动名，以及 golang-migrate 的包装
type dialect struct {
	sqlDriver string
	wrap      func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {"postgres", func(db *sql.DB, table string) (database.Driver, error) {
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	}},
	DatabaseTypeMySQL: {"mysql", func(db *sql.DB, table string) (database.Driver, error) {
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	}},
	// 迁移语句是纯 SQL，sqlite3 包装可以跑在任何 sqlite 连接上。
	// "sqlite" 由纯 Go 驱动注册：服务进程里是 glebarez，测试里是 modernc。
	DatabaseTypeSQLite: {"sqlite", func(db *sql.DB, table string) (database.Driver, error) {
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	}},
}

func lookupDialect(t DatabaseType) (dialect, error) {
	d, ok := dialects[t]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database type: %s", t)
	}
	return d, nil
}

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// MigrationInfo 汇总信息
type MigrationInfo struct {
	CurrentVersion    uint `json:"current_version"`
	Dirty             bool `json:"dirty"`
	TotalMigrations   int  `json:"total_migrations"`
	AppliedMigrations int  `json:"applied_migrations"`
	PendingMigrations int  `json:"pending_migrations"`
}

// Config 独立连接模式的参数
type Config struct {
	DatabaseType DatabaseType
	// 连接串，格式见 BuildDatabaseURL
	DatabaseURL string
	// 默认 schema_migrations
	TableName string
	// 获取迁移锁的超时，默认 15s
	LockTimeout time.Duration
	Logger      *zap.Logger
}

// Migrator 迁移操作。ctx 取消时在当前迁移完成后停下。
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps n > 0 前进，n < 0 回退
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force 只改版本号并清除 dirty，不执行 SQL
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator 基于 golang-migrate 与内嵌 SQL 的实现
type DefaultMigrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
	logger  *zap.Logger
	// 为 false 时连接属于调用方，Close 不关闭它
	ownsDB bool
}

// NewMigrator 按 cfg.DatabaseURL 自行打开连接，Close 时关闭
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	d, err := lookupDialect(cfg.DatabaseType)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.sqlDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	m, err := newMigrator(cfg, d, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	m.ownsDB = true
	return m, nil
}

// NewMigratorFromDB 在服务已打开的连接池上迁移，Close 后连接池仍可用
func NewMigratorFromDB(dbType DatabaseType, db *sql.DB, logger *zap.Logger) (*DefaultMigrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	d, err := lookupDialect(dbType)
	if err != nil {
		return nil, err
	}
	return newMigrator(&Config{DatabaseType: dbType, Logger: logger}, d, db)
}

func newMigrator(cfg *Config, d dialect, db *sql.DB) (*DefaultMigrator, error) {
	table := cfg.TableName
	if table == "" {
		table = DefaultTableName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dbDriver, err := d.wrap(db, table)
	if err != nil {
		return nil, fmt.Errorf("init %s migration driver: %w", cfg.DatabaseType, err)
	}
	src, err := iofs.New(migrationsFS, "migrations/"+string(cfg.DatabaseType))
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", src, string(cfg.DatabaseType), dbDriver)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	mg.LockTimeout = cfg.LockTimeout
	if mg.LockTimeout == 0 {
		mg.LockTimeout = 15 * time.Second
	}

	return &DefaultMigrator{
		dbType:  cfg.DatabaseType,
		migrate: mg,
		logger:  logger.With(zap.String("component", "migrator"), zap.String("database", string(cfg.DatabaseType))),
	}, nil
}

// run 执行一次 golang-migrate 操作。ctx 取消时通过 GracefulStop
// 让它在当前迁移结束后返回；ErrNoChange 视为成功。
func (m *DefaultMigrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	err := fn()
	close(done)
	<-stopped
	// 丢弃未被消费的停止信号，避免影响下一次操作
	select {
	case <-m.migrate.GracefulStop:
	default:
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s: %w", op, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.run(ctx, "up", m.migrate.Up); err != nil {
		return err
	}
	m.logger.Info("schema up to date")
	return nil
}

func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	if err := m.run(ctx, "down all", m.migrate.Down); err != nil {
		return err
	}
	m.logger.Warn("all migrations rolled back")
	return nil
}

func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, "steps", func() error { return m.migrate.Steps(n) })
}

func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, "goto", func() error { return m.migrate.Migrate(version) })
}

func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.run(ctx, "force", func() error { return m.migrate.Force(version) }); err != nil {
		return err
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 未执行过任何迁移时返回 0
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, files, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, len(files))
	for i, f := range files {
		statuses[i] = MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		}
	}
	return statuses, nil
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	current, dirty, files, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	applied := 0
	for _, f := range files {
		if f.version <= current {
			applied++
		}
	}
	return &MigrationInfo{
		CurrentVersion:    current,
		Dirty:             dirty,
		TotalMigrations:   len(files),
		AppliedMigrations: applied,
		PendingMigrations: len(files) - applied,
	}, nil
}

func (m *DefaultMigrator) snapshot(ctx context.Context) (uint, bool, []migrationFile, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return 0, false, nil, err
	}
	files, err := availableMigrations(m.dbType)
	if err != nil {
		return 0, false, nil, err
	}
	return current, dirty, files, nil
}

// Close 只在自行打开连接时关闭它
func (m *DefaultMigrator) Close() error {
	if !m.ownsDB {
		return nil
	}
	srcErr, dbErr := m.migrate.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return fmt.Errorf("close migrator: %w", err)
	}
	return nil
}

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations 按版本升序列出内嵌的 up 迁移
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	if _, err := lookupDialect(dbType); err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(migrationsFS, "migrations/"+string(dbType))
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []migrationFile
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		// 000001_create_cache_entries
		num, name, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{version: uint(v), name: name})
	}
	slices.SortFunc(files, func(a, b migrationFile) int { return int(a.version) - int(b.version) })
	return files, nil
}

// ParseDatabaseType 接受常见别名
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// BuildDatabaseURL 拼接连接串。sqlite 的 database 即文件路径，
// 外键通过 _pragma 打开，glebarez 与 modernc 都认这个参数。
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, username, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			username, password, host, port, database, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			username, password, host, port, database)
	case DatabaseTypeSQLite:
		return fmt.Sprintf("file:%s?mode=rwc&_pragma=foreign_keys(1)", database)
	default:
		return ""
	}
}
