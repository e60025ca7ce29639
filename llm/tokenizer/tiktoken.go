package tokenizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding 是未知模型与重试时使用的固定编码。
const DefaultEncoding = "cl100k_base"

// ErrUnknownEncoding is returned when an encoding cannot be loaded.
var ErrUnknownEncoding = errors.New("unknown encoding")

// modelEncodings 将模型名称（前缀）映射到 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4.1":       "o200k_base",
	"gpt-4.5":       "o200k_base",
	"gpt-5":         "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4-32k":     "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
	"gpt-35-turbo":  "cl100k_base",
}

// encodingPrefixes 按长度降序排列，保证最长前缀优先命中。
var encodingPrefixes = sortedPrefixes(modelEncodings)

func sortedPrefixes[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// EncodingForModel returns the tiktoken encoding for model, falling back to
// DefaultEncoding when no prefix matches.
func EncodingForModel(model string) string {
	m := strings.ToLower(model)
	// 去掉 "openai/" 一类的路由前缀
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	if enc, ok := modelEncodings[m]; ok {
		return enc
	}
	for _, prefix := range encodingPrefixes {
		if strings.HasPrefix(m, prefix) {
			return modelEncodings[prefix]
		}
	}
	return DefaultEncoding
}

// Encoder counts tokens with a named encoding.
type Encoder interface {
	Count(encoding, text string) (int, error)
}

// TiktokenEncoder 按编码名惰性加载并缓存 tiktoken 编码器（首次使用可能需要下载 BPE 数据）。
// 加载失败不会被缓存，下次调用会重试。
type TiktokenEncoder struct {
	mu       sync.RWMutex
	encoders map[string]*tiktoken.Tiktoken
	load     func(encoding string) (*tiktoken.Tiktoken, error)
}

// NewTiktokenEncoder creates an encoder backed by tiktoken.GetEncoding.
func NewTiktokenEncoder() *TiktokenEncoder {
	return &TiktokenEncoder{
		encoders: make(map[string]*tiktoken.Tiktoken),
		load:     tiktoken.GetEncoding,
	}
}

func (t *TiktokenEncoder) get(encoding string) (*tiktoken.Tiktoken, error) {
	t.mu.RLock()
	enc, ok := t.encoders[encoding]
	t.mu.RUnlock()
	if ok {
		return enc, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encoders[encoding]; ok {
		return enc, nil
	}
	enc, err := t.load(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrUnknownEncoding, encoding, err)
	}
	t.encoders[encoding] = enc
	return enc, nil
}

// Count implements Encoder.
func (t *TiktokenEncoder) Count(encoding, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	enc, err := t.get(encoding)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
