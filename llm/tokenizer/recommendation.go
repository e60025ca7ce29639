package tokenizer

// Status 为上下文占用分级。
type Status string

const (
	StatusSafe     Status = "safe"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// 分级阈值（占上下文窗口的百分比）。
const (
	WarningThreshold  = 50.0
	CriticalThreshold = 75.0
	UrgentThreshold   = 90.0
)

// Recommendation describes what a caller should do at a given usage level.
type Recommendation struct {
	Status         Status  `json:"status"`
	Urgent         bool    `json:"urgent,omitempty"`
	Action         string  `json:"action"`
	ShouldCompress bool    `json:"should_compress"`
	Percentage     float64 `json:"percentage"`
	Tokens         int     `json:"tokens"`
	Limit          int     `json:"limit"`
}

// RecommendForPercentage maps a usage percentage to a band. First match wins.
func RecommendForPercentage(pct float64) Recommendation {
	switch {
	case pct < WarningThreshold:
		return Recommendation{
			Status:     StatusSafe,
			Action:     "Context usage is healthy. No action needed.",
			Percentage: pct,
		}
	case pct < CriticalThreshold:
		return Recommendation{
			Status:         StatusWarning,
			Action:         "Consider compressing older messages soon.",
			ShouldCompress: true,
			Percentage:     pct,
		}
	case pct < UrgentThreshold:
		return Recommendation{
			Status:         StatusCritical,
			Action:         "Compress the conversation now to stay within the context window.",
			ShouldCompress: true,
			Percentage:     pct,
		}
	default:
		return Recommendation{
			Status:         StatusCritical,
			Urgent:         true,
			Action:         "URGENT: context window nearly exhausted. Compress immediately or start a new conversation.",
			ShouldCompress: true,
			Percentage:     pct,
		}
	}
}
