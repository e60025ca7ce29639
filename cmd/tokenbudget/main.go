// =============================================================================
// TokenBudget 主入口
// =============================================================================
// 服务入口点：HTTP API、MCP 工具、数据库迁移与本地计数
//
// 使用方法:
//
//	tokenbudget serve                       # 启动服务
//	tokenbudget serve --config config.yaml  # 指定配置文件
//	tokenbudget stdio                       # 以 stdio 方式提供 MCP 工具
//	tokenbudget count --model gpt-4o < a.txt
//	tokenbudget migrate up                  # 运行数据库迁移
//	tokenbudget health --ready              # 就绪检查
//	tokenbudget config                      # 打印生效配置
//	tokenbudget version                     # 显示版本信息
// =============================================================================

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/tokenbudget/api/handlers"
	"github.com/BaSui01/tokenbudget/config"
	"github.com/BaSui01/tokenbudget/internal/tlsutil"
	"github.com/BaSui01/tokenbudget/llm/tokenizer"
	"github.com/BaSui01/tokenbudget/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tokenbudget",
		Short:         "Token counting, context budgeting and compression service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCmd(),
		newStdioCmd(),
		newMigrateCmd(),
		newCountCmd(),
		newHealthCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := initLogger(cfg.Log)
			defer logger.Sync()

			logger.Info("Starting TokenBudget",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			srv := NewServer(cfg, logger)
			if err := srv.Start(cmd.Context()); err != nil {
				srv.Shutdown()
				return fmt.Errorf("failed to start server: %w", err)
			}

			err = srv.WaitForShutdown(cmd.Context())
			logger.Info("TokenBudget stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	return cmd
}

// =============================================================================
// 🔌 stdio 命令
// =============================================================================

func newStdioCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve the MCP tools over stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			// stdout 承载协议帧，日志只能写 stderr
			cfg.Log.OutputPaths = []string{"stderr"}
			logger := initLogger(cfg.Log)
			defer logger.Sync()

			c, err := buildComponents(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			logger.Info("Serving MCP over stdio", zap.Strings("tools", c.mcp.Tools()))
			return c.mcp.ServeStdio()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	return cmd
}

// =============================================================================
// 🔢 count 命令
// =============================================================================

func newCountCmd() *cobra.Command {
	var (
		model    string
		messages bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "count [file]",
		Short: "Count tokens of a file or stdin without starting the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			// 离线计数：不接精确计数器，只用 tiktoken 与估算
			counter := tokenizer.NewCounter()
			var tc types.TokenCount
			if messages {
				var msgs []types.Message
				if err := json.Unmarshal(data, &msgs); err != nil {
					return fmt.Errorf("decode messages: %w", err)
				}
				tc = counter.CountMessages(cmd.Context(), msgs, model)
			} else {
				tc = counter.Count(cmd.Context(), string(data), model)
			}
			rec := counter.Recommend(tc.Tokens, tc.Model)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"count":          tc,
					"recommendation": rec,
				})
			}
			fmt.Fprintf(out, "%d tokens (%s, %s)\n", tc.Tokens, tc.Model, tc.Family)
			fmt.Fprintf(out, "%.1f%% of %d: %s %s\n", rec.Percentage, rec.Limit, rec.Status, rec.Action)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "claude-sonnet-4", "Model used to select the tokenizer")
	cmd.Flags().BoolVar(&messages, "messages", false, "Treat input as a JSON array of messages")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func newHealthCmd() *cobra.Command {
	var (
		addr  string
		ready bool
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/health"
			if ready {
				path = "/ready"
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(addr, "/")+path, nil)
			if err != nil {
				return err
			}
			resp, err := tlsutil.SecureHTTPClient(5 * time.Second).Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			var body handlers.ServiceHealthResponse
			_ = json.NewDecoder(resp.Body).Decode(&body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: status %d (%s)", resp.StatusCode, body.Status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), body.Status)
			for name, c := range body.Checks {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s %s\n", name, c.Status, c.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Server address")
	cmd.Flags().BoolVar(&ready, "ready", false, "Run readiness checks instead of liveness")
	return cmd
}

// =============================================================================
// 📋 版本
// =============================================================================

// newConfigCmd 打印合并默认值、文件与环境变量后的配置，密钥已隐去
func newConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return cfg.WriteYAML(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "TokenBudget %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	opts := []zap.Option{}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
