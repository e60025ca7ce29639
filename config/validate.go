package config

import (
	"fmt"
	"strings"
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if p := c.Server.MetricsPort; p < 0 || p > 65535 || (p != 0 && p == c.Server.HTTPPort) {
		errs = append(errs, "metrics_port must be 0 or a port other than http_port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}

	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	switch c.Cache.Backend {
	case "sql", "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("unsupported cache backend %q", c.Cache.Backend))
	}
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, "cache max_size must be positive")
	}

	if r := c.Compression.TargetRatio; r <= 0 || r >= 1 {
		errs = append(errs, "compression target_ratio must be in (0,1)")
	}
	switch c.Compression.DefaultStrategy {
	case "", "summarize", "remove_old", "compress_similar", "smart":
	default:
		errs = append(errs, fmt.Sprintf("unknown compression strategy %q", c.Compression.DefaultStrategy))
	}
	if c.Compression.PreserveRecent < 0 {
		errs = append(errs, "compression preserve_recent must not be negative")
	}

	for model, limit := range c.Tokenizer.Limits {
		if limit <= 0 {
			errs = append(errs, fmt.Sprintf("tokenizer limit for %q must be positive", model))
		}
	}

	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, "mcp path must start with /")
	}
	if r := c.Telemetry.SampleRate; r < 0 || r > 1 {
		errs = append(errs, "telemetry sample_rate must be in [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
