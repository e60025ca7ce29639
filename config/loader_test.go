// 配置加载器与默认配置测试。
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sql", cfg.Cache.Backend)
	assert.Equal(t, "smart", cfg.Compression.DefaultStrategy)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  cors_allowed_origins: ["https://a.example", "https://b.example"]

database:
  driver: postgres
  host: db.internal
  name: budget

cache:
  backend: redis
  max_size: 50
  default_ttl: 10m

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

tokenizer:
  default_model: gpt-4o
  anthropic_api_key: sk-test
  limits:
    my-local-model: 4096
    claude-mini: 50000

compression:
  target_ratio: 0.3
  preserve_recent: 8

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 50, cfg.Cache.MaxSize)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "gpt-4o", cfg.Tokenizer.DefaultModel)
	assert.Equal(t, "sk-test", cfg.Tokenizer.AnthropicAPIKey)
	assert.Equal(t, map[string]int{"my-local-model": 4096, "claude-mini": 50000}, cfg.Tokenizer.Limits)

	assert.Equal(t, 0.3, cfg.Compression.TargetRatio)
	assert.Equal(t, 8, cfg.Compression.PreserveRecent)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"TOKENBUDGET_SERVER_HTTP_PORT":            "7777",
		"TOKENBUDGET_CACHE_BACKEND":               "memory",
		"TOKENBUDGET_CACHE_DEFAULT_TTL":           "90s",
		"TOKENBUDGET_TOKENIZER_ANTHROPIC_API_KEY": "sk-env",
		"TOKENBUDGET_COMPRESSION_TARGET_RATIO":    "0.25",
		"TOKENBUDGET_REDIS_ADDR":                  "env-redis:6379",
		"TOKENBUDGET_LOG_LEVEL":                   "warn",
		"TOKENBUDGET_AUTH_API_KEYS":               "k1, k2",
		"TOKENBUDGET_AUTH_JWT_SECRET":             "s3cret",
		"TOKENBUDGET_DATABASE_AUTO_MIGRATE":       "false",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, "sk-env", cfg.Tokenizer.AnthropicAPIKey)
	assert.Equal(t, 0.25, cfg.Compression.TargetRatio)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
	assert.True(t, cfg.Auth.JWT.Enabled())
	assert.False(t, cfg.Database.AutoMigrate)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
tokenizer:
  default_model: yaml-model
  timeout: 2s
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 设置环境变量（应该覆盖 YAML）
	os.Setenv("TOKENBUDGET_SERVER_HTTP_PORT", "9999")
	os.Setenv("TOKENBUDGET_TOKENIZER_TIMEOUT", "7s")
	defer func() {
		os.Unsetenv("TOKENBUDGET_SERVER_HTTP_PORT")
		os.Unsetenv("TOKENBUDGET_TOKENIZER_TIMEOUT")
	}()

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 7*time.Second, cfg.Tokenizer.Timeout)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, "yaml-model", cfg.Tokenizer.DefaultModel)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	os.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	os.Setenv("MYAPP_CACHE_MAX_SIZE", "12")
	defer func() {
		os.Unsetenv("MYAPP_SERVER_HTTP_PORT")
		os.Unsetenv("MYAPP_CACHE_MAX_SIZE")
	}()

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, 12, cfg.Cache.MaxSize)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	os.Setenv("TOKENBUDGET_CACHE_MAX_SIZE", "lots")
	defer os.Unsetenv("TOKENBUDGET_CACHE_MAX_SIZE")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_size")
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	os.Setenv("TOKENBUDGET_SERVER_HTTP_PORT", "80")
	defer os.Unsetenv("TOKENBUDGET_SERVER_HTTP_PORT")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	_, err = NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid HTTP port (negative)",
			modify:  func(c *Config) { c.Server.HTTPPort = -1 },
			wantErr: true,
		},
		{
			name:    "invalid HTTP port (too large)",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: true,
		},
		{
			name:    "unsupported database driver",
			modify:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: true,
		},
		{
			name:    "unsupported cache backend",
			modify:  func(c *Config) { c.Cache.Backend = "mongo" },
			wantErr: true,
		},
		{
			name:    "zero cache size",
			modify:  func(c *Config) { c.Cache.MaxSize = 0 },
			wantErr: true,
		},
		{
			name:    "target ratio of one",
			modify:  func(c *Config) { c.Compression.TargetRatio = 1 },
			wantErr: true,
		},
		{
			name:    "negative preserve recent",
			modify:  func(c *Config) { c.Compression.PreserveRecent = -1 },
			wantErr: true,
		},
		{
			name:    "non-positive limit override",
			modify:  func(c *Config) { c.Tokenizer.Limits = map[string]int{"x": 0} },
			wantErr: true,
		},
		{
			name:    "metrics port equals http port",
			modify:  func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort },
			wantErr: true,
		},
		{
			name:    "tls cert without key",
			modify:  func(c *Config) { c.Server.TLSCertFile = "cert.pem" },
			wantErr: true,
		},
		{
			name:    "unknown compression strategy",
			modify:  func(c *Config) { c.Compression.DefaultStrategy = "zip" },
			wantErr: true,
		},
		{
			name: "relative mcp path",
			modify: func(c *Config) {
				c.MCP.Enabled = true
				c.MCP.Path = "mcp"
			},
			wantErr: true,
		},
		{
			name:    "sample rate above one",
			modify:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: true,
		},
		{
			name:    "redis backend",
			modify:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "sqlite DSN",
			config: DatabaseConfig{
				Driver: "sqlite",
				Name:   "/path/to/db.sqlite",
			},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server:\n  http_port: 8080\n"), 0644)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	os.Setenv("TOKENBUDGET_TOKENIZER_DEFAULT_MODEL", "env-only-model")
	defer os.Unsetenv("TOKENBUDGET_TOKENIZER_DEFAULT_MODEL")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-only-model", cfg.Tokenizer.DefaultModel)
}

func TestConfig_WriteYAML_Redacts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Password = "db-pass"
	cfg.Redis.Password = "redis-pass"
	cfg.Tokenizer.AnthropicAPIKey = "sk-ant-123"
	cfg.Auth.APIKeys = []string{"key-a", "key-b"}
	cfg.Auth.JWT.Secret = "jwt-secret"

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))
	out := buf.String()

	for _, secret := range []string{"db-pass", "redis-pass", "sk-ant-123", "key-a", "key-b", "jwt-secret"} {
		assert.NotContains(t, out, secret)
	}
	assert.Contains(t, out, "http_port: 8080")
	// 原配置不受影响
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Auth.APIKeys)

	// 输出可以作为配置文件重新加载
	path := filepath.Join(t.TempDir(), "dump.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	reloaded, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.HTTPPort, reloaded.Server.HTTPPort)
	assert.Equal(t, cfg.Server.ReadTimeout, reloaded.Server.ReadTimeout)
	assert.Equal(t, cfg.Cache, reloaded.Cache)
	assert.Equal(t, redactedValue, reloaded.Auth.JWT.Secret)
}
