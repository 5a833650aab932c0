package llm

import (
	"context"
	"fmt"
	"net/http"
)

// Client issues a single chat completion for an agent and prompt.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Request is one model call. Config is the agent's free-form config;
// remote clients decode it with DecodeSettings.
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Config       map[string]any
}

// Usage reports token consumption for a completion.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Completion is the model output for a request.
type Completion struct {
	Content string
	Usage   Usage
	// Simulated is set when no remote model was called.
	Simulated bool
}

// APIError is a failed exchange with the model API: a non-2xx answer,
// or a transport failure with StatusCode 0.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}

	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports whether the API rejected the call for rate or
// quota reasons.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}
