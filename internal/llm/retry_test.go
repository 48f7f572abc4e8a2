package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita/internal/llm"
	"vita/internal/llm/llmtest"
)

func fastRetry(n int) llm.RetryOptions {
	return llm.RetryOptions{MaxRetries: n, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetryRecoversFromTransient(t *testing.T) {
	attempts := 0
	gw := llmtest.New(func(ctx context.Context, _ []llm.Message, _ []llm.ToolSpec) (llm.Completion, error) {
		attempts++
		if attempts < 3 {
			return llm.Completion{}, &llm.GatewayError{Kind: llm.KindRateLimit, Status: 429, Err: errors.New("slow down")}
		}
		return llmtest.Text("ok"), nil
	})
	out, err := llm.WithRetry(gw, fastRetry(3)).Complete(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, 3, attempts)
}

func TestRetryGivesUpAfterMax(t *testing.T) {
	gw := llmtest.New(func(ctx context.Context, _ []llm.Message, _ []llm.ToolSpec) (llm.Completion, error) {
		return llm.Completion{}, &llm.GatewayError{Kind: llm.KindNetwork, Err: errors.New("connection refused")}
	})
	_, err := llm.WithRetry(gw, fastRetry(2)).Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err))
	assert.Len(t, gw.Calls(), 3)
}

func TestRetryNeverRepeatsPolicy(t *testing.T) {
	gw := llmtest.New(func(ctx context.Context, _ []llm.Message, _ []llm.ToolSpec) (llm.Completion, error) {
		return llm.Completion{}, &llm.GatewayError{Kind: llm.KindPolicy, Status: 400, Err: errors.New("content_filter")}
	})
	_, err := llm.WithRetry(gw, fastRetry(5)).Complete(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, llm.IsPolicy(err))
	assert.Len(t, gw.Calls(), 1)
}

func TestSafeMessageHidesProviderText(t *testing.T) {
	err := &llm.GatewayError{Kind: llm.KindPolicy, Err: errors.New("ResponsibleAI: prompt flagged for category X")}
	msg := llm.SafeMessage(err)
	assert.NotContains(t, msg, "ResponsibleAI")
	assert.Equal(t, llm.KindOther, llm.KindOf(errors.New("plain")))
}

func TestResponseFallsBackToSyntheticShape(t *testing.T) {
	resp := llm.Response(llm.Completion{Content: "hi"})
	choices, ok := resp["choices"].([]any)
	require.True(t, ok)
	require.Len(t, choices, 1)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "hi", msg["content"])
}
