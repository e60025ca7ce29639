package tokenizer

// charsPerToken is the divisor of the length heuristic.
const charsPerToken = 4

// EstimateTokens returns ceil(len(text)/4), len measured in bytes.
// It is the last tier of every counting path and the only tier of the
// generic family.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// HeuristicCounter adapts EstimateTokens to types.TokenCounter.
type HeuristicCounter struct{}

// CountTokens implements types.TokenCounter.
func (HeuristicCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}
