package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/api"
	llmcontext "github.com/BaSui01/tokenbudget/llm/context"
)

// BudgetStatusProvider 按会话计算预算，*ConversationHandler 满足它
type BudgetStatusProvider interface {
	Status(ctx context.Context, conversationID, model string) (*llmcontext.BudgetStatus, error)
}

const (
	defaultBudgetPushInterval = 5 * time.Second
	budgetWriteTimeout        = 5 * time.Second
)

// =============================================================================
// 📡 预算推送 WebSocket
// =============================================================================

// BudgetSocket 在 /ws/budget 上推送会话预算。客户端发送 api.BudgetSubscribe
// 切换订阅，服务端立即推送一次，之后按固定间隔推送。
type BudgetSocket struct {
	provider       BudgetStatusProvider
	interval       time.Duration
	originPatterns []string
	logger         *zap.Logger
}

// BudgetSocketOption 配置 BudgetSocket
type BudgetSocketOption func(*BudgetSocket)

// WithPushInterval 设置推送间隔
func WithPushInterval(d time.Duration) BudgetSocketOption {
	return func(s *BudgetSocket) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithOriginPatterns 允许的跨域来源，为空时只接受同源连接
func WithOriginPatterns(patterns ...string) BudgetSocketOption {
	return func(s *BudgetSocket) { s.originPatterns = patterns }
}

// NewBudgetSocket 创建预算推送处理器
func NewBudgetSocket(provider BudgetStatusProvider, logger *zap.Logger, opts ...BudgetSocketOption) *BudgetSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &BudgetSocket{
		provider: provider,
		interval: defaultBudgetPushInterval,
		logger:   logger.With(zap.String("component", "budget_socket")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP 升级连接并进入推送循环
func (s *BudgetSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 长连接不受服务器读写超时约束
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := make(chan api.BudgetSubscribe)
	go s.readLoop(ctx, cancel, conn, subs)

	err = s.pushLoop(ctx, conn, subs)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		s.logger.Debug("budget socket closed", zap.Error(err))
	}
}

// readLoop 读取订阅消息，连接断开时取消 ctx
func (s *BudgetSocket) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, subs chan<- api.BudgetSubscribe) {
	defer cancel()
	for {
		var sub api.BudgetSubscribe
		if err := wsjson.Read(ctx, conn, &sub); err != nil {
			return
		}
		select {
		case subs <- sub:
		case <-ctx.Done():
			return
		}
	}
}

// pushLoop 串行负责全部写入
func (s *BudgetSocket) pushLoop(ctx context.Context, conn *websocket.Conn, subs <-chan api.BudgetSubscribe) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var current *api.BudgetSubscribe
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub := <-subs:
			if sub.ConversationID == "" {
				current = nil
				if err := s.write(ctx, conn, api.BudgetEvent{Type: "error", Error: "conversation_id is required"}); err != nil {
					return err
				}
				continue
			}
			current = &sub
		case <-ticker.C:
			if current == nil {
				continue
			}
		}

		if err := s.push(ctx, conn, *current); err != nil {
			return err
		}
	}
}

func (s *BudgetSocket) push(ctx context.Context, conn *websocket.Conn, sub api.BudgetSubscribe) error {
	st, err := s.provider.Status(ctx, sub.ConversationID, sub.Model)
	if err != nil {
		return s.write(ctx, conn, api.BudgetEvent{Type: "error", Error: err.Error()})
	}
	return s.write(ctx, conn, api.BudgetEvent{Type: "budget", Budget: st})
}

func (s *BudgetSocket) write(ctx context.Context, conn *websocket.Conn, ev api.BudgetEvent) error {
	wctx, cancel := context.WithTimeout(ctx, budgetWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}
