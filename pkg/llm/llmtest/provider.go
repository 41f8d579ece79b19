// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/evocode/pkg/llm"
	"github.com/entrhq/evocode/pkg/types"
)

var _ llm.Provider = (*ScriptedProvider)(nil)

// Reply computes the next response from the conversation sent to the provider.
type Reply func(messages []*types.Message) (string, error)

// Text returns a Reply that always answers text.
func Text(text string) Reply {
	return func([]*types.Message) (string, error) { return text, nil }
}

// Fail returns a Reply that always fails with err.
func Fail(err error) Reply {
	return func([]*types.Message) (string, error) { return "", err }
}

// ScriptedProvider answers each Complete call with the next queued Reply.
// When the queue is empty the Fallback reply is used, or an error is
// returned if there is none.
type ScriptedProvider struct {
	Model    string
	Fallback Reply

	// Metadata is copied onto every response, for example provider token
	// counts.
	Metadata map[string]interface{}

	mu      sync.Mutex
	replies []Reply
	calls   [][]*types.Message
}

// NewScriptedProvider creates a provider answering with replies in order.
func NewScriptedProvider(replies ...Reply) *ScriptedProvider {
	return &ScriptedProvider{Model: "scripted-model", replies: replies}
}

// Push appends replies to the queue.
func (p *ScriptedProvider) Push(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

// Calls returns the conversations received so far.
func (p *ScriptedProvider) Calls() [][]*types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]*types.Message, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Complete calls.
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Complete answers with the next reply.
func (p *ScriptedProvider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls = append(p.calls, messages)
	var reply Reply
	if len(p.replies) > 0 {
		reply = p.replies[0]
		p.replies = p.replies[1:]
	} else {
		reply = p.Fallback
	}
	p.mu.Unlock()

	if reply == nil {
		return nil, fmt.Errorf("scripted provider: no reply queued for call %d", p.CallCount())
	}
	text, err := reply(messages)
	if err != nil {
		return nil, err
	}
	msg := types.NewAssistantMessage(text)
	for k, v := range p.Metadata {
		msg.WithMetadata(k, v)
	}
	return msg, nil
}

func (p *ScriptedProvider) GetModel() string {
	if p.Model == "" {
		return "scripted-model"
	}
	return p.Model
}

func (p *ScriptedProvider) GetBaseURL() string { return "" }
