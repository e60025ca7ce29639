package tokenizer

import (
	"strings"

	"github.com/BaSui01/tokenbudget/types"
)

// DefaultLimit 是未知模型的上下文窗口。
const DefaultLimit = 100000

// defaultLimits 为模型（前缀）到上下文窗口大小的静态表。
var defaultLimits = map[string]int{
	// primary
	"claude":    200000,
	"anthropic": 200000,

	// secondary, large
	"gpt-4o":      128000,
	"gpt-4-turbo": 128000,
	"gpt-4.1":     128000,
	"gpt-4.5":     128000,
	"gpt-5":       128000,
	"gpt-4-32k":   32768,
	"gpt-4":       32768,

	// secondary, small
	"gpt-3.5-turbo": 16385,
	"gpt-35-turbo":  16385,
}

// Limits resolves a model identifier to its context window. Lookups try
// the exact name first and then the longest matching prefix.
type Limits struct {
	table    map[string]int
	prefixes []string
}

// NewLimits returns the default table with overrides applied on top.
func NewLimits(overrides map[string]int) *Limits {
	table := make(map[string]int, len(defaultLimits)+len(overrides))
	for k, v := range defaultLimits {
		table[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			table[strings.ToLower(k)] = v
		}
	}
	return &Limits{table: table, prefixes: sortedPrefixes(table)}
}

// Lookup returns the context window for model.
func (l *Limits) Lookup(model string) int {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	if v, ok := l.table[m]; ok {
		return v
	}
	for _, prefix := range l.prefixes {
		if strings.HasPrefix(m, prefix) {
			return l.table[prefix]
		}
	}
	// 带路由前缀或别名的 primary 模型仍按 primary 处理
	if types.DetectFamily(model) == types.FamilyPrimary {
		return l.table["claude"]
	}
	return DefaultLimit
}
