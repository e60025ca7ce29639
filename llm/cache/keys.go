package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BaSui01/tokenbudget/types"
)

// 键前缀
const (
	PrefixCompression = "compression"
	PrefixTokens      = "tokens"
	PrefixContent     = "content"
)

// FullKey 拼接前缀：prefix 非空时为 "prefix:key"，否则原样返回 key。
func FullKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

// HashKey returns a stable sha256 hex digest of input, optionally prefixed.
// Strings are trimmed before hashing; any other value is JSON-encoded.
func HashKey(prefix string, input any) string {
	var data []byte
	switch v := input.(type) {
	case string:
		data = []byte(strings.TrimSpace(v))
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			// 无法序列化时退化为 %v，保证键仍是确定的
			b = []byte(fmt.Sprintf("%v", v))
		}
		data = b
	}
	sum := sha256.Sum256(data)
	return FullKey(prefix, hex.EncodeToString(sum[:]))
}

// CompressionKey identifies a compression result by conversation, strategy
// and target ratio.
func CompressionKey(conversationID, strategy string, ratio float64) string {
	return FullKey(PrefixCompression, fmt.Sprintf("%s:%s:%s",
		conversationID, strategy, strconv.FormatFloat(ratio, 'f', -1, 64)))
}

// MessagesKey hashes a message sequence for a given model. Only role and
// content take part so recomputed token fields do not change the key.
func MessagesKey(model string, msgs []types.Message) string {
	type keyed struct {
		Role    types.Role `json:"r"`
		Content string     `json:"c"`
	}
	parts := make([]keyed, len(msgs))
	for i, m := range msgs {
		parts[i] = keyed{Role: m.Role, Content: m.Content}
	}
	return HashKey(FullKey(PrefixTokens, strings.ToLower(model)), parts)
}
