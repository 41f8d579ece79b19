// Package llm provides the model invocation gateway and the provider
// abstraction it calls.
//
// Example usage:
//
//	provider, err := openai.NewProvider(apiKey, openai.WithModel("gemini-2.5-flash"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gateway := llm.NewGateway(provider, llm.WithTimeout(2*time.Minute))
//	resp, err := gateway.Invoke(ctx, rolePrompt, []*types.Message{
//	    types.NewUserMessage(projectSnapshot),
//	})
package llm

import (
	"context"

	"github.com/entrhq/evocode/pkg/types"
)

// Provider defines the interface for LLM integrations.
//
// Providers handle API communication only. Role prompts, validation and tool
// handling live above the provider so a provider stays reusable and testable
// on its own.
type Provider interface {
	// Complete sends messages to the LLM and returns the full response.
	// Reasoning content is not included in the returned message.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// GetModel returns the model name being used.
	GetModel() string

	// GetBaseURL returns the base URL being used for API requests.
	GetBaseURL() string
}
