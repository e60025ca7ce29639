package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/config"
	"github.com/BaSui01/tokenbudget/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// migrateFlags 迁移子命令共享的连接参数
type migrateFlags struct {
	configPath string
	dbType     string
	dbURL      string
	json       bool
}

func (f *migrateFlags) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&f.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	cmd.PersistentFlags().StringVar(&f.dbURL, "db-url", "", "Database connection URL")
	cmd.PersistentFlags().BoolVar(&f.json, "json", false, "Print results as JSON")
}

// createMigrator 优先使用 --db-type/--db-url，否则读取配置文件
func (f *migrateFlags) createMigrator() (*migration.DefaultMigrator, error) {
	logger := zap.NewNop()

	if f.dbType != "" && f.dbURL != "" {
		return migration.NewMigratorFromURL(f.dbType, f.dbURL, logger)
	}

	loader := config.NewLoader()
	if f.configPath != "" {
		loader = loader.WithConfigPath(f.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f.dbType != "" {
		cfg.Database.Driver = f.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// run 创建迁移器、执行 fn 后关闭。fn 的参数顺序与 (*migration.CLI).RunUp 这类方法表达式一致。
func (f *migrateFlags) run(cmd *cobra.Command, fn func(cli *migration.CLI, ctx context.Context) error) error {
	m, err := f.createMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(cmd.OutOrStdout())
	cli.SetJSON(f.json)
	return fn(cli, cmd.Context())
}

func newMigrateCmd() *cobra.Command {
	flags := &migrateFlags{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}
	flags.bind(cmd)

	var all bool
	down := &cobra.Command{
		Use:   "down",
		Short: "Rollback the last migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.run(cmd, func(cli *migration.CLI, ctx context.Context) error {
				if all {
					return cli.RunDownAll(ctx)
				}
				return cli.RunDown(ctx)
			})
		},
	}
	down.Flags().BoolVar(&all, "all", false, "Rollback all migrations")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return flags.run(cmd, (*migration.CLI).RunUp)
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return flags.run(cmd, (*migration.CLI).RunStatus)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show current migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return flags.run(cmd, (*migration.CLI).RunVersion)
			},
		},
		&cobra.Command{
			Use:   "info",
			Short: "Show detailed migration information",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return flags.run(cmd, (*migration.CLI).RunInfo)
			},
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version number: %s", args[0])
				}
				return flags.run(cmd, func(cli *migration.CLI, ctx context.Context) error {
					return cli.RunGoto(ctx, uint(v))
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force set migration version (use with caution)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version number: %s", args[0])
				}
				return flags.run(cmd, func(cli *migration.CLI, ctx context.Context) error {
					return cli.RunForce(ctx, v)
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Rollback all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return flags.run(cmd, (*migration.CLI).RunDownAll)
			},
		},
	)
	return cmd
}
