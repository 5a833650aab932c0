package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sirupsen/logrus"

	"github.com/agenteval/agenteval/pkg/config"
)

type openAIClient struct {
	log    logrus.FieldLogger
	client openai.Client
}

var _ Client = (*openAIClient)(nil)

// NewOpenAIClient creates a Client for an OpenAI-compatible chat API.
// Requests are not retried.
func NewOpenAIClient(log logrus.FieldLogger, cfg *config.ModelConfig) Client {
	opts := []openaiopt.RequestOption{
		openaiopt.WithMaxRetries(0),
		openaiopt.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}

	if cfg.APIKey != "" {
		opts = append(opts, openaiopt.WithAPIKey(cfg.APIKey))
	}

	if cfg.BaseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(cfg.BaseURL))
	}

	return &openAIClient{
		log:    log.WithField("component", "openai"),
		client: openai.NewClient(opts...),
	}
}

// Complete sends a system message followed by the user prompt and
// returns the first choice.
func (c *openAIClient) Complete(
	ctx context.Context,
	req Request,
) (*Completion, error) {
	settings, err := DecodeSettings(req.Config)
	if err != nil {
		return nil, err
	}

	params, opts := buildParams(req, settings)

	resp, err := c.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &APIError{
				StatusCode: apiErr.StatusCode,
				Message:    apiErr.Error(),
			}
		}

		// Connection failures and timeouts.
		return nil, &APIError{Message: err.Error()}
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model %s returned no choices", req.Model)
	}

	c.log.WithFields(logrus.Fields{
		"model":        req.Model,
		"total_tokens": resp.Usage.TotalTokens,
	}).Debug("Chat completion finished")

	return &Completion{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

func buildParams(
	req Request,
	s Settings,
) (openai.ChatCompletionNewParams, []openaiopt.RequestOption) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.Prompt),
		},
	}

	if s.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(*s.MaxTokens)
	}

	if s.Temperature != nil {
		params.Temperature = openai.Float(*s.Temperature)
	}

	if s.TopP != nil {
		params.TopP = openai.Float(*s.TopP)
	}

	if s.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(*s.PresencePenalty)
	}

	if s.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(*s.FrequencyPenalty)
	}

	switch len(s.Stop) {
	case 0:
	case 1:
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(s.Stop[0]),
		}
	default:
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: s.Stop,
		}
	}

	opts := make([]openaiopt.RequestOption, 0, len(s.ExtraBody))
	for key, value := range s.ExtraBody {
		opts = append(opts, openaiopt.WithJSONSet(key, value))
	}

	return params, opts
}
