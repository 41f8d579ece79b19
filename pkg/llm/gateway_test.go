package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/entrhq/evocode/pkg/llm"
	"github.com/entrhq/evocode/pkg/llm/llmtest"
	"github.com/entrhq/evocode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayInvoke(t *testing.T) {
	provider := llmtest.NewScriptedProvider(llmtest.Text("  [{\"id\":1}]  \n"))
	gw := llm.NewGateway(provider)

	resp, err := gw.Invoke(context.Background(), "You are the ideator.", []*types.Message{
		types.NewUserMessage("project snapshot"),
	})
	require.NoError(t, err)
	assert.Equal(t, "[{\"id\":1}]", resp.Text)
	assert.Equal(t, "scripted-model", resp.Model)
	assert.Greater(t, resp.PromptTokens, 0)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, types.RoleSystem, calls[0][0].Role)
	assert.Equal(t, "You are the ideator.", calls[0][0].Content)
	assert.Equal(t, "project snapshot", calls[0][1].Content)
}

func TestGatewayPrefersProviderUsage(t *testing.T) {
	t.Run("reported counts win", func(t *testing.T) {
		provider := llmtest.NewScriptedProvider(llmtest.Text("PASS"))
		provider.Metadata = map[string]interface{}{
			"prompt_tokens":     int64(1234),
			"completion_tokens": int64(56),
		}

		resp, err := llm.NewGateway(provider).Invoke(context.Background(), "prompt", nil)
		require.NoError(t, err)
		assert.Equal(t, 1234, resp.PromptTokens)
		assert.Equal(t, 56, resp.CompletionTokens)
	})

	t.Run("zero counts fall back to estimates", func(t *testing.T) {
		provider := llmtest.NewScriptedProvider(llmtest.Text("a longer answer than one token"))
		provider.Metadata = map[string]interface{}{
			"prompt_tokens":     int64(0),
			"completion_tokens": 0,
		}

		resp, err := llm.NewGateway(provider).Invoke(context.Background(), "prompt", nil)
		require.NoError(t, err)
		assert.Greater(t, resp.PromptTokens, 0)
		assert.Greater(t, resp.CompletionTokens, 0)
	})
}

func TestGatewayEmptyResponse(t *testing.T) {
	gw := llm.NewGateway(llmtest.NewScriptedProvider(llmtest.Text(" \n\t ")))

	_, err := gw.Invoke(context.Background(), "prompt", nil)
	require.Error(t, err)
	assert.True(t, llm.IsEmptyResponseError(err))
	assert.False(t, llm.IsTransportError(err))
}

func TestGatewayTransportError(t *testing.T) {
	gw := llm.NewGateway(llmtest.NewScriptedProvider(llmtest.Fail(errors.New("connection refused"))))

	_, err := gw.Invoke(context.Background(), "prompt", nil)
	require.Error(t, err)

	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Timeout)
	assert.Equal(t, "TransportError", te.Kind())
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGatewayTimeoutIsTransportError(t *testing.T) {
	slow := func(ctx context.Context) llmtest.Reply {
		return func([]*types.Message) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}
	}

	provider := &blockingProvider{ScriptedProvider: llmtest.NewScriptedProvider()}
	provider.block = slow
	gw := llm.NewGateway(provider, llm.WithTimeout(20*time.Millisecond))

	_, err := gw.Invoke(context.Background(), "prompt", nil)
	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
}

func TestGatewayCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := llm.NewGateway(llmtest.NewScriptedProvider(llmtest.Text("ignored")))
	_, err := gw.Invoke(ctx, "prompt", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, llm.IsTransportError(err))
}

// blockingProvider waits on the request context so the gateway timeout fires.
type blockingProvider struct {
	*llmtest.ScriptedProvider
	block func(ctx context.Context) llmtest.Reply
}

func (p *blockingProvider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	text, err := p.block(ctx)(messages)
	if err != nil {
		return nil, err
	}
	return types.NewAssistantMessage(text), nil
}
