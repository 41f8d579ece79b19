// Package openai provides an OpenAI-compatible chat completions provider.
//
// Any endpoint speaking the chat completions protocol works; the default is
// Gemini's OpenAI-compatible endpoint.
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("EVOCODE_API_KEY"),
//	    openai.WithModel("gemini-2.5-flash"),
//	    openai.WithTemperature(0.2),
//	)
package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/entrhq/evocode/pkg/llm"
	"github.com/entrhq/evocode/pkg/llm/parser"
	"github.com/entrhq/evocode/pkg/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"

	// DefaultTemperature keeps structured output stable across calls.
	DefaultTemperature = 0.2
)

// apiKeyEnvVars are consulted in order when no key is passed to NewProvider.
var apiKeyEnvVars = []string{"EVOCODE_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY"}

// Provider implements llm.Provider for OpenAI-compatible APIs.
type Provider struct {
	client      openai.Client
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
}

var _ llm.Provider = (*Provider)(nil)

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL sets the API base URL, for example http://localhost:8080/v1
// for a local server.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = t
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// NewProvider creates a provider with the given API key.
//
// If apiKey is empty, EVOCODE_API_KEY, GEMINI_API_KEY and OPENAI_API_KEY are
// tried in that order. If no base URL option is given, OPENAI_BASE_URL is
// consulted before falling back to DefaultBaseURL.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		for _, name := range apiKeyEnvVars {
			if v := os.Getenv(name); v != "" {
				apiKey = v
				break
			}
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required (provide via parameter or one of %s)", strings.Join(apiKeyEnvVars, ", "))
	}

	p := &Provider{
		model:       DefaultModel,
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		baseURL:     DefaultBaseURL,
		temperature: DefaultTemperature,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = strings.TrimSuffix(envBaseURL, "/")
		}
	}

	// Retries belong to the caller; the SDK must make exactly one attempt.
	p.client = openai.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL+"/"),
		option.WithHTTPClient(p.httpClient),
		option.WithMaxRetries(0),
	)

	return p, nil
}

// Complete sends messages and returns the full assistant response with any
// reasoning block removed.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    convertToOpenAIMessages(messages),
		Model:       shared.ChatModel(p.model),
		Temperature: openai.Float(p.temperature),
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return types.NewAssistantMessage(""), nil
	}

	_, content := parser.Split(completion.Choices[0].Message.Content)
	msg := types.NewAssistantMessage(content)
	msg.Metadata["finish_reason"] = completion.Choices[0].FinishReason
	msg.Metadata["prompt_tokens"] = completion.Usage.PromptTokens
	msg.Metadata["completion_tokens"] = completion.Usage.CompletionTokens
	return msg, nil
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// GetBaseURL returns the base URL being used.
func (p *Provider) GetBaseURL() string {
	return p.baseURL
}

// convertToOpenAIMessages converts our Message format to the SDK's message union.
func convertToOpenAIMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}

	return out
}
