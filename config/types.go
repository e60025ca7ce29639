package config

import "time"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 TokenBudget 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database"`

	// Redis 配置（cache.backend=redis 时使用）
	Redis RedisConfig `yaml:"redis"`

	// Cache 结果缓存配置
	Cache CacheConfig `yaml:"cache"`

	// Tokenizer 计数配置
	Tokenizer TokenizerConfig `yaml:"tokenizer"`

	// Compression 压缩默认参数
	Compression CompressionConfig `yaml:"compression"`

	// MCP 工具服务配置
	MCP MCPConfig `yaml:"mcp"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Auth 认证配置
	Auth AuthConfig `yaml:"auth"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port"`
	// Metrics 端口，0 表示挂在主端口的 /metrics
	MetricsPort int `yaml:"metrics_port"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// 每 IP 每秒请求数，0 表示不限流
	RateLimitRPS int `yaml:"rate_limit_rps"`
	// 限流突发量
	RateLimitBurst int `yaml:"rate_limit_burst"`
	// 允许的跨域来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	// 请求体上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// TLS 证书与私钥，均配置时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// TLSEnabled 是否配置了证书
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level"`
	// 输出格式: json, console
	Format string `yaml:"format"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver"`
	// 主机
	Host string `yaml:"host"`
	// 端口
	Port int `yaml:"port"`
	// 用户名
	User string `yaml:"user"`
	// 密码
	Password string `yaml:"password"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// 连接池健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// 启动时自动执行迁移
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr"`
	// 密码
	Password string `yaml:"password"`
	// 数据库编号
	DB int `yaml:"db"`
	// 连接池大小
	PoolSize int `yaml:"pool_size"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix"`
	// 是否使用 TLS 连接
	TLS bool `yaml:"tls"`
}

// CacheConfig 结果缓存配置
type CacheConfig struct {
	// 存储后端: sql, redis, memory
	Backend string `yaml:"backend"`
	// 最大存活条目数
	MaxSize int `yaml:"max_size"`
	// 默认 TTL
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// 启动时清理过期条目
	CleanOnStart bool `yaml:"clean_on_start"`
}

// TokenizerConfig 计数配置
type TokenizerConfig struct {
	// 默认模型
	DefaultModel string `yaml:"default_model"`
	// Anthropic API Key，为空时 primary 族直接使用估算
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	// Anthropic 基础 URL（可选）
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	// 精确计数超时
	Timeout time.Duration `yaml:"timeout"`
	// 精确计数最大重试次数
	MaxRetries int `yaml:"max_retries"`
	// 模型上下文上限覆盖（仅 YAML）
	Limits map[string]int `yaml:"limits"`
}

// CompressionConfig 压缩默认参数
type CompressionConfig struct {
	// 默认策略
	DefaultStrategy string `yaml:"default_strategy"`
	// 默认目标压缩比
	TargetRatio float64 `yaml:"target_ratio"`
	// 默认保留最近消息数
	PreserveRecent int `yaml:"preserve_recent"`
}

// MCPConfig MCP 工具服务配置
type MCPConfig struct {
	// 是否在 HTTP 服务上挂载
	Enabled bool `yaml:"enabled"`
	// 挂载路径
	Path string `yaml:"path"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// 服务名称
	ServiceName string `yaml:"service_name"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate"`
	// 为 true 时以明文 gRPC 连接 collector，否则使用 TLS
	Insecure bool `yaml:"insecure"`
}

// AuthConfig 认证配置。APIKeys 与 JWT 均为空时不启用认证。
type AuthConfig struct {
	// 允许的 API Key
	APIKeys []string `yaml:"api_keys"`
	// 是否允许通过 query 参数传递 API Key
	AllowQueryAPIKey bool `yaml:"allow_query_api_key"`
	// JWT 配置
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	// HMAC 密钥
	Secret string `yaml:"secret"`
	// 签发者（可选）
	Issuer string `yaml:"issuer"`
	// 受众（可选）
	Audience string `yaml:"audience"`
}

// Enabled 是否配置了 JWT 校验
func (j JWTConfig) Enabled() bool {
	return j.Secret != ""
}
