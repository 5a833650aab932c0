package llm

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Settings are the model parameters understood in an agent's config.
// Unknown keys are ignored.
type Settings struct {
	SystemPrompt     string   `mapstructure:"system_prompt"`
	Temperature      *float64 `mapstructure:"temperature"`
	MaxTokens        *int64   `mapstructure:"max_tokens"`
	TopP             *float64 `mapstructure:"top_p"`
	PresencePenalty  *float64 `mapstructure:"presence_penalty"`
	FrequencyPenalty *float64 `mapstructure:"frequency_penalty"`
	Stop             []string `mapstructure:"stop"`
	// ExtraBody fields are merged into the request body as-is.
	ExtraBody map[string]any `mapstructure:"extra_body"`
}

// SystemPrompt returns the "system_prompt" string of an agent config,
// or "" when it is absent or not a string.
func SystemPrompt(raw map[string]any) string {
	prompt, _ := raw["system_prompt"].(string)

	return prompt
}

// DecodeSettings decodes a free-form agent config. Numbers given as
// strings and a single stop string are accepted.
func DecodeSettings(raw map[string]any) (Settings, error) {
	var settings Settings

	if len(raw) == 0 {
		return settings, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &settings,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return settings, fmt.Errorf("creating settings decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return settings, fmt.Errorf("decoding agent config: %w", err)
	}

	return settings, nil
}
