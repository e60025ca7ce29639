package tokenizer

import (
	"context"
	"errors"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/BaSui01/tokenbudget/internal/tlsutil"
)

// ExactCounter counts tokens through an external exact-counting capability.
type ExactCounter interface {
	CountTokens(ctx context.Context, model, text string) (int, error)
}

type countTokensAPI interface {
	CountTokens(ctx context.Context, params anthropicsdk.MessageCountTokensParams, opts ...option.RequestOption) (*anthropicsdk.MessageTokensCount, error)
}

// AnthropicConfig configures the Anthropic count_tokens client.
type AnthropicConfig struct {
	APIKey     string        `yaml:"api_key" env:"API_KEY" json:"-"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL" json:"base_url,omitempty"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES" json:"max_retries"`
}

// AnthropicCounter 通过 Messages.CountTokens 精确计数单段文本。
type AnthropicCounter struct {
	msgs    countTokensAPI
	timeout time.Duration
}

// NewAnthropicCounter builds a counter from cfg. An empty API key is an error
// so callers can decide to run without the exact tier.
func NewAnthropicCounter(cfg AnthropicConfig) (*AnthropicCounter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithHTTPClient(tlsutil.SecureHTTPClient(cfg.Timeout)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropicsdk.NewClient(opts...)
	return &AnthropicCounter{msgs: &client.Messages, timeout: cfg.Timeout}, nil
}

// CountTokens implements ExactCounter.
func (a *AnthropicCounter) CountTokens(ctx context.Context, model, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.msgs.CountTokens(ctx, anthropicsdk.MessageCountTokensParams{
		Model: anthropicsdk.Model(model),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(text)),
		},
	})
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, errors.New("empty count_tokens response")
	}
	return int(resp.InputTokens), nil
}
