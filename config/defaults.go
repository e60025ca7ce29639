// =============================================================================
// 📦 TokenBudget 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Log:         DefaultLogConfig(),
		Database:    DefaultDatabaseConfig(),
		Redis:       DefaultRedisConfig(),
		Cache:       DefaultCacheConfig(),
		Tokenizer:   DefaultTokenizerConfig(),
		Compression: DefaultCompressionConfig(),
		MCP:         DefaultMCPConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     0,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
		MaxBodyBytes:    4 << 20,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置，开箱即用的本地 SQLite 文件
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "sqlite",
		Host:                "localhost",
		Port:                5432,
		User:                "tokenbudget",
		Name:                "tokenbudget.db",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		AutoMigrate:         true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "tokenbudget:",
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:      "sql",
		MaxSize:      1000,
		DefaultTTL:   time.Hour,
		CleanOnStart: true,
	}
}

// DefaultTokenizerConfig 返回默认计数配置
func DefaultTokenizerConfig() TokenizerConfig {
	return TokenizerConfig{
		DefaultModel: "claude-sonnet-4",
		Timeout:      5 * time.Second,
		MaxRetries:   1,
	}
}

// DefaultCompressionConfig 返回默认压缩参数
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		DefaultStrategy: "smart",
		TargetRatio:     0.5,
		PreserveRecent:  5,
	}
}

// DefaultMCPConfig 返回默认 MCP 配置
func DefaultMCPConfig() MCPConfig {
	return MCPConfig{
		Enabled: true,
		Path:    "/mcp",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "tokenbudget",
		SampleRate:   0.1,
		Insecure:     true,
	}
}
