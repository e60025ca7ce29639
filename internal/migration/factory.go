package migration

import (
	"go.uber.org/zap"

	appconfig "github.com/BaSui01/tokenbudget/config"
)

// NewMigratorFromDatabaseConfig 按服务的 database 配置建立独立连接，
// tokenbudget migrate 默认走这里
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  databaseURL(dbType, dbCfg),
		Logger:       logger,
	})
}

func databaseURL(dbType DatabaseType, c appconfig.DatabaseConfig) string {
	switch dbType {
	case DatabaseTypeSQLite:
		return BuildDatabaseURL(dbType, "", 0, c.Name, "", "", "")
	case DatabaseTypeMySQL:
		return BuildDatabaseURL(dbType, c.Host, c.Port, c.Name, c.User, c.Password, "")
	default:
		return BuildDatabaseURL(dbType, c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
	}
}

// NewMigratorFromURL --db-type 与 --db-url 显式指定连接
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, Logger: logger})
}
