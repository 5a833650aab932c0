package evaluator

import (
	"strings"

	"github.com/agenteval/agenteval/pkg/llm"
)

// Score returns 1 when the trimmed expected text occurs in the
// response, else 0. An empty expectation always scores 0. Matching is
// case-sensitive.
func Score(response, expected string) float64 {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return 0
	}

	if strings.Contains(response, expected) {
		return 1
	}

	return 0
}

// Cost estimates the USD cost of a completion from its total tokens.
func Cost(usage llm.Usage, pricePerToken float64) float64 {
	return float64(usage.TotalTokens) * pricePerToken
}
