// Package tokenizer counts tokens client-side for logging and context budgets.
package tokenizer

import (
	"fmt"

	"github.com/entrhq/evocode/pkg/types"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for counting. Counts are an
// approximation for non-OpenAI models.
const DefaultEncoding = "cl100k_base"

// perMessageOverhead approximates the role and separator tokens of a chat message.
const perMessageOverhead = 4

// Tokenizer counts tokens of text and conversations.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New creates a Tokenizer using DefaultEncoding.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", DefaultEncoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens returns the token count of text. A nil Tokenizer estimates
// four characters per token.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t == nil || t.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// CountMessagesTokens returns the token count of a conversation.
func (t *Tokenizer) CountMessagesTokens(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		total += perMessageOverhead + t.CountTokens(msg.Content)
	}
	return total
}

// Truncate cuts text to at most maxTokens tokens. It returns the text and
// whether it was shortened.
func (t *Tokenizer) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || t.CountTokens(text) <= maxTokens {
		return text, false
	}
	if t == nil || t.enc == nil {
		limit := maxTokens * 4
		if limit > len(text) {
			limit = len(text)
		}
		return text[:limit], true
	}
	tokens := t.enc.Encode(text, nil, nil)
	return t.enc.Decode(tokens[:maxTokens]), true
}
