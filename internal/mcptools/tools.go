package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	llmcontext "github.com/BaSui01/tokenbudget/llm/context"
	"github.com/BaSui01/tokenbudget/types"
)

func (s *Server) registerTools() {
	modelOpt := mcp.WithString("model",
		mcp.Description("Model identifier; the server default is used when empty"),
	)
	messagesOpt := func(required bool) mcp.ToolOption {
		opts := []mcp.PropertyOption{
			mcp.Description(`Messages as [{"role":"user|assistant|system","content":"..."}]`),
		}
		if required {
			opts = append(opts, mcp.Required())
		}
		return mcp.WithArray("messages", opts...)
	}

	s.add(mcp.NewTool("count_tokens",
		mcp.WithDescription("Count the tokens in a piece of text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to count")),
		modelOpt,
	), s.handleCountTokens)

	s.add(mcp.NewTool("count_message_tokens",
		mcp.WithDescription("Count the tokens of a message sequence including per-message overhead"),
		messagesOpt(true),
		modelOpt,
	), s.handleCountMessageTokens)

	s.add(mcp.NewTool("check_budget",
		mcp.WithDescription("Report context usage and a compression recommendation for a stored conversation or a message list"),
		mcp.WithString("conversation_id", mcp.Description("Stored conversation to evaluate")),
		messagesOpt(false),
		modelOpt,
	), s.handleCheckBudget)

	if s.deps.Compressor != nil {
		s.add(mcp.NewTool("compress_context",
			mcp.WithDescription("Compress a conversation with summarize, remove_old, compress_similar or smart"),
			mcp.WithString("conversation_id", mcp.Description("Stored conversation to compress when messages are omitted")),
			messagesOpt(false),
			mcp.WithString("strategy",
				mcp.Description("Compression strategy"),
				mcp.Enum("smart", "summarize", "remove_old", "compress_similar"),
			),
			mcp.WithNumber("target_ratio", mcp.Description("Target ratio in (0, 1)")),
			mcp.WithNumber("preserve_recent", mcp.Description("Number of recent messages to keep verbatim")),
			modelOpt,
		), s.handleCompress)
	}

	if s.deps.Cache != nil {
		s.add(mcp.NewTool("cache_stats",
			mcp.WithDescription("Return result cache statistics"),
		), s.handleCacheStats)
		s.add(mcp.NewTool("cache_invalidate",
			mcp.WithDescription("Expire a single cache key"),
			mcp.WithString("key", mcp.Required(), mcp.Description("Cache key")),
		), s.handleCacheInvalidate)
		s.add(mcp.NewTool("cache_clear",
			mcp.WithDescription("Expire every cache entry"),
		), s.handleCacheClear)
		s.add(mcp.NewTool("cache_clean",
			mcp.WithDescription("Physically delete expired cache entries"),
		), s.handleCacheClean)
	}
}

// =============================================================================
// 🔢 计数与预算
// =============================================================================

func (s *Server) handleCountTokens(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	text, ok := args["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text is required"), nil
	}
	return jsonResult(s.deps.Counter.Count(ctx, text, s.model(args)))
}

func (s *Server) handleCountMessageTokens(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	msgs, err := messages(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultError("messages is required"), nil
	}
	return jsonResult(s.deps.Counter.CountMessages(ctx, msgs, s.model(args)))
}

func (s *Server) handleCheckBudget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	msgs, err := messages(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, _ := args["conversation_id"].(string)
	if id != "" && len(msgs) == 0 {
		if s.deps.Budget == nil {
			return mcp.NewToolResultError("conversation storage is not configured"), nil
		}
		model, _ := args["model"].(string)
		st, err := s.deps.Budget.Status(ctx, id, model)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(st)
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultError("conversation_id or messages is required"), nil
	}

	st := llmcontext.NewBudget(nil, s.deps.Counter).Evaluate(ctx, msgs, s.model(args))
	st.ConversationID = id
	return jsonResult(st)
}

// =============================================================================
// 🗜️ 压缩
// =============================================================================

func (s *Server) handleCompress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	msgs, err := messages(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, _ := args["conversation_id"].(string)
	if id == "" && len(msgs) == 0 {
		return mcp.NewToolResultError("conversation_id or messages is required"), nil
	}

	creq := llmcontext.Request{
		ConversationID: id,
		Messages:       msgs,
		Strategy:       s.deps.DefaultStrategy,
		TargetRatio:    s.deps.DefaultTargetRatio,
		PreserveRecent: s.deps.DefaultPreserveRecent,
		Model:          s.model(args),
	}
	if v, ok := args["strategy"].(string); ok && v != "" {
		creq.Strategy = v
	}
	if v, ok := args["target_ratio"].(float64); ok {
		creq.TargetRatio = v
	}
	if v, ok := args["preserve_recent"].(float64); ok {
		creq.PreserveRecent = int(v)
	}
	if creq.TargetRatio <= 0 || creq.TargetRatio >= 1 {
		return mcp.NewToolResultError("target_ratio must be between 0 and 1 (exclusive)"), nil
	}
	if creq.PreserveRecent < 0 {
		return mcp.NewToolResultError("preserve_recent must not be negative"), nil
	}

	res, err := s.deps.Compressor.Compress(ctx, creq)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// =============================================================================
// 🗄️ 缓存
// =============================================================================

func (s *Server) handleCacheStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.deps.Cache.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (s *Server) handleCacheInvalidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, _ := arguments(req)["key"].(string)
	if key == "" {
		return mcp.NewToolResultError("key is required"), nil
	}
	if err := s.deps.Cache.Invalidate(ctx, key); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("invalidated %s", key)), nil
}

func (s *Server) handleCacheClear(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.deps.Cache.Clear(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("cache cleared"), nil
}

func (s *Server) handleCacheClean(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.deps.Cache.CleanExpired(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]int64{"deleted": n})
}

// =============================================================================
// 🔧 参数辅助
// =============================================================================

func arguments(req mcp.CallToolRequest) map[string]any {
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		return args
	}
	return map[string]any{}
}

func (s *Server) model(args map[string]any) string {
	if m, ok := args["model"].(string); ok && m != "" {
		return m
	}
	return s.deps.DefaultModel
}

// messages 把 JSON 数组参数转换为消息并校验角色
func messages(args map[string]any) ([]types.Message, error) {
	raw, ok := args["messages"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid messages: %w", err)
	}
	var msgs []types.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("invalid messages: %w", err)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("messages[%d].role must be system, user or assistant", i)
		}
	}
	return msgs, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
