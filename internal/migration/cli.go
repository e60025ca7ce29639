package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI 把 Migrator 的操作渲染成命令行输出，文本或 JSON 二选一
type CLI struct {
	migrator Migrator
	output   io.Writer
	asJSON   bool
}

// ActionResult 变更类命令的 JSON 输出
type ActionResult struct {
	Action  string `json:"action"`
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
}

// NewCLI creates a new CLI instance
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput sets the output writer for CLI messages
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// SetJSON 切换为 JSON 输出
func (c *CLI) SetJSON(enabled bool) {
	c.asJSON = enabled
}

func (c *CLI) writeJSON(v any) error {
	enc := json.NewEncoder(c.output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *CLI) printf(format string, args ...any) {
	if !c.asJSON {
		fmt.Fprintf(c.output, format, args...)
	}
}

// apply 执行一次变更并报告之后的版本
func (c *CLI) apply(ctx context.Context, action, progress, failure string, fn func(context.Context) error) error {
	c.printf("%s...\n", progress)
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", failure, err)
	}

	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	if c.asJSON {
		return c.writeJSON(ActionResult{Action: action, Version: version, Dirty: dirty})
	}
	c.printf("Done. Current version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

func dirtySuffix(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}

// RunUp 应用全部未执行的迁移
func (c *CLI) RunUp(ctx context.Context) error {
	return c.apply(ctx, "up", "Running migrations", "migration failed", c.migrator.Up)
}

// RunDown 回滚最近一次迁移
func (c *CLI) RunDown(ctx context.Context) error {
	return c.apply(ctx, "down", "Rolling back last migration", "rollback failed", c.migrator.Down)
}

// RunDownAll 回滚全部迁移，会删除 cache_entries 与会话表
func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.apply(ctx, "down_all", "Rolling back all migrations", "rollback failed", c.migrator.DownAll)
}

// RunSteps n > 0 前进 n 步，n < 0 回退 -n 步
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	progress := fmt.Sprintf("Applying %d migration(s)", n)
	if n < 0 {
		progress = fmt.Sprintf("Rolling back %d migration(s)", -n)
	}
	return c.apply(ctx, "steps", progress, "migration steps failed", func(ctx context.Context) error {
		return c.migrator.Steps(ctx, n)
	})
}

// RunGoto 迁移到指定版本
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.apply(ctx, "goto", fmt.Sprintf("Migrating to version %d", version), "migration failed",
		func(ctx context.Context) error { return c.migrator.Goto(ctx, version) })
}

// RunForce 强制设置版本并清除 dirty 标记，不执行任何 SQL
func (c *CLI) RunForce(ctx context.Context, version int) error {
	return c.apply(ctx, "force", fmt.Sprintf("Forcing version to %d", version), "force failed",
		func(ctx context.Context) error { return c.migrator.Force(ctx, version) })
}

// RunVersion 输出当前版本
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	if c.asJSON {
		return c.writeJSON(map[string]any{"version": version, "dirty": dirty})
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.output, "Current version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

// RunStatus 以表格列出每个迁移的状态
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if c.asJSON {
		return c.writeJSON(statuses)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	applied := 0
	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
			applied++
		case s.Applied:
			state = "applied"
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	w.Flush()

	fmt.Fprintf(c.output, "\n%d applied, %d pending\n", applied, len(statuses)-applied)
	return nil
}

// RunInfo 输出汇总信息
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	if c.asJSON {
		return c.writeJSON(info)
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "current version\t%d%s\n", info.CurrentVersion, dirtySuffix(info.Dirty))
	fmt.Fprintf(w, "migrations\t%d total, %d applied, %d pending\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return w.Flush()
}
