package config

import (
	"fmt"

	"github.com/entrhq/evocode/pkg/llm/openai"
)

// BuildProvider creates the chat-completions provider described by cfg.
// An empty API key falls through to the provider's own environment lookup.
func BuildProvider(cfg LLMConfig) (*openai.Provider, error) {
	var opts []openai.ProviderOption
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	provider, err := openai.NewProvider(cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w (set EVOCODE_API_KEY or GEMINI_API_KEY, or llm.api_key in %s)", err, DefaultFileName)
	}
	return provider, nil
}
