package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/entrhq/evocode/pkg/llm/tokenizer"
	"github.com/entrhq/evocode/pkg/logging"
	"github.com/entrhq/evocode/pkg/types"
)

// DefaultTimeout bounds a single model request.
const DefaultTimeout = 120 * time.Second

var gatewayLog *logging.Logger

func init() {
	gatewayLog, _ = logging.NewLogger("gateway")
}

// Response is the text returned by one model invocation.
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Gateway sends a role prompt plus conversation to a provider and returns
// the raw response text. It never retries; callers decide what a failure means.
type Gateway struct {
	provider  Provider
	tokenizer *tokenizer.Tokenizer
	timeout   time.Duration
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout sets the per-request timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithTokenizer sets the tokenizer used for usage accounting.
func WithTokenizer(t *tokenizer.Tokenizer) GatewayOption {
	return func(g *Gateway) {
		g.tokenizer = t
	}
}

// NewGateway creates a Gateway over provider.
func NewGateway(provider Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider: provider,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Provider returns the underlying provider.
func (g *Gateway) Provider() Provider {
	return g.provider
}

// Invoke sends rolePrompt as the system message followed by conversation.
//
// Failures to reach the model, including the request timeout, are returned
// as *TransportError. Blank output is returned as *EmptyResponseError.
// Cancellation of ctx by the caller is returned as the context error.
func (g *Gateway) Invoke(ctx context.Context, rolePrompt string, conversation []*types.Message) (*Response, error) {
	messages := make([]*types.Message, 0, len(conversation)+1)
	messages = append(messages, types.NewSystemMessage(rolePrompt))
	messages = append(messages, conversation...)

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.provider.GetModel()
	promptTokens := g.tokenizer.CountMessagesTokens(messages)
	gatewayLog.Debugf("Invoking %s with %d messages (~%d prompt tokens)", model, len(messages), promptTokens)

	start := time.Now()
	msg, err := g.provider.Complete(reqCtx, messages)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			gatewayLog.Infof("Invocation of %s cancelled after %s", model, elapsed)
			return nil, ctx.Err()
		}
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded)
		gatewayLog.Errorf("Invocation of %s failed after %s (timeout=%v): %v", model, elapsed, timedOut, err)
		return nil, &TransportError{Err: err, Timeout: timedOut}
	}

	text := ""
	if msg != nil {
		text = strings.TrimSpace(msg.Content)
	}
	if text == "" {
		gatewayLog.Warnf("Model %s returned an empty response after %s", model, elapsed)
		return nil, &EmptyResponseError{Model: model}
	}

	resp := &Response{
		Text:             text,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: g.tokenizer.CountTokens(text),
		Duration:         elapsed,
	}
	if n, ok := metadataTokens(msg, "prompt_tokens"); ok {
		resp.PromptTokens = n
	}
	if n, ok := metadataTokens(msg, "completion_tokens"); ok {
		resp.CompletionTokens = n
	}
	gatewayLog.Infof("Model %s answered in %s (prompt %d tokens, completion %d tokens)",
		model, elapsed, resp.PromptTokens, resp.CompletionTokens)
	return resp, nil
}

// metadataTokens reads a positive token count reported by the provider.
func metadataTokens(msg *types.Message, key string) (int, bool) {
	var n int64
	switch v := msg.Metadata[key].(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		n = int64(v)
	default:
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	return int(n), true
}
