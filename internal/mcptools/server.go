package mcptools

import (
	"context"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/internal/cache"
	llmcontext "github.com/BaSui01/tokenbudget/llm/context"
	"github.com/BaSui01/tokenbudget/llm/observability"
	"github.com/BaSui01/tokenbudget/llm/tokenizer"
	"github.com/BaSui01/tokenbudget/types"
)

// ServerName MCP 握手时上报的服务名
const ServerName = "tokenbudget"

// Counter 计数能力，*tokenizer.Counter 满足它
type Counter interface {
	Count(ctx context.Context, text, model string) types.TokenCount
	CountMessages(ctx context.Context, messages []types.Message, model string) types.TokenCount
	Recommend(tokens int, model string) tokenizer.Recommendation
}

// BudgetProvider 按会话计算预算
type BudgetProvider interface {
	Status(ctx context.Context, conversationID, model string) (*llmcontext.BudgetStatus, error)
}

// Compressor 压缩流水线
type Compressor interface {
	Compress(ctx context.Context, req llmcontext.Request) (*llmcontext.Result, error)
}

// CacheManager 缓存管理能力
type CacheManager interface {
	Stats(ctx context.Context) (*cache.Stats, error)
	Invalidate(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	CleanExpired(ctx context.Context) (int64, error)
}

// ToolRecorder 记录工具调用结果
type ToolRecorder interface {
	RecordToolCall(tool string, success bool)
}

// Deps 工具依赖。Counter 必填，其余为 nil 时对应工具不注册。
type Deps struct {
	Counter    Counter
	Budget     BudgetProvider
	Compressor Compressor
	Cache      CacheManager

	DefaultModel          string
	DefaultStrategy       string
	DefaultTargetRatio    float64
	DefaultPreserveRecent int
}

// Option 配置 Server
type Option func(*Server)

// WithRecorder 设置 Prometheus 记录器
func WithRecorder(r ToolRecorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithMetrics 设置 OTel 埋点
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server TokenBudget 的 MCP 工具服务
type Server struct {
	mcp      *server.MCPServer
	deps     Deps
	recorder ToolRecorder
	metrics  *observability.Metrics
	logger   *zap.Logger
	tools    []string
}

// New 创建 MCP 服务并注册工具
func New(version string, deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:   deps,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "mcp"))

	s.mcp = server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer 返回底层 mcp-go 服务
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Tools 返回已注册的工具名，按注册顺序
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// ServeStdio 在标准输入输出上运行，直到输入关闭
func (s *Server) ServeStdio() error {
	s.logger.Info("serving MCP over stdio", zap.Strings("tools", s.tools))
	return server.ServeStdio(s.mcp)
}

// HTTPHandler 返回挂载在 path 上的 Streamable HTTP 处理器
func (s *Server) HTTPHandler(path string) http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath(path))
}

func (s *Server) add(tool mcp.Tool, fn server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, s.instrument(tool.Name, fn))
	s.tools = append(s.tools, tool.Name)
}

// instrument 记录调用结果与耗时。返回 IsError 的结果计为失败。
func (s *Server) instrument(name string, fn server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := fn(ctx, req)
		success := err == nil && res != nil && !res.IsError

		if s.recorder != nil {
			s.recorder.RecordToolCall(name, success)
		}
		if s.metrics != nil {
			s.metrics.RecordToolCall(ctx, name, time.Since(start), success)
		}
		if !success {
			s.logger.Debug("tool call failed", zap.String("tool", name), zap.Error(err))
		}
		return res, err
	}
}
