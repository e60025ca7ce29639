package types

import "strings"

// Family is the coarse classification of a model identifier. It decides
// which counting method, message overhead and context limit apply.
type Family string

const (
	// FamilyPrimary models have an exact external counter.
	FamilyPrimary Family = "primary"
	// FamilySecondary models are counted with a local encoding table.
	FamilySecondary Family = "secondary"
	// FamilyGeneric models only get the length heuristic.
	FamilyGeneric Family = "generic"
)

// DetectFamily classifies a model identifier by case-insensitive substring.
// This is the only place the substring checks live.
func DetectFamily(model string) Family {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"), strings.Contains(m, "anthropic"):
		return FamilyPrimary
	case strings.Contains(m, "gpt"), strings.Contains(m, "openai"):
		return FamilySecondary
	default:
		return FamilyGeneric
	}
}

// TokenCount is a derived token count. Tokens is never negative.
type TokenCount struct {
	Tokens int    `json:"tokens"`
	Model  string `json:"model"`
	Family Family `json:"family"`
}

// TokenCounter is the minimal counting contract shared by packages that
// must not depend on llm/tokenizer directly.
type TokenCounter interface {
	CountTokens(text string) int
}
