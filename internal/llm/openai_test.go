package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIStub(t *testing.T, status int, body any) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test-model", EmbeddingModel: "test-embed"})
}

func TestOpenAICompleteParsesToolCalls(t *testing.T) {
	gw := newOpenAIStub(t, http.StatusOK, map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "tool_calls",
			"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []any{map[string]any{
					"id":       "call_1",
					"type":     "function",
					"function": map[string]any{"name": "search_nutrition", "arguments": `{"query":"eggs"}`},
				}},
			},
		}},
	})
	out, err := gw.Complete(context.Background(), []Message{{Role: RoleUser, Content: "eggs?"}}, nil)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "search_nutrition", out.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"eggs"}`, out.ToolCalls[0].Arguments)
	assert.NotNil(t, out.Raw["choices"])
}

func TestOpenAIClassifiesErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		msg    string
		want   ErrorKind
	}{
		{"rate limit", http.StatusTooManyRequests, "rate_limit_exceeded", "slow down", KindRateLimit},
		{"content filter", http.StatusBadRequest, "content_filter", "The response was filtered", KindPolicy},
		{"server", http.StatusBadGateway, "server_error", "upstream failed", KindNetwork},
		{"auth", http.StatusUnauthorized, "invalid_api_key", "bad key", KindOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := newOpenAIStub(t, tc.status, map[string]any{
				"error": map[string]any{"message": tc.msg, "type": "invalid_request_error", "code": tc.code},
			})
			_, err := gw.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)
			require.Error(t, err)
			assert.Equal(t, tc.want, KindOf(err))
		})
	}
}

func TestOpenAIContentFilterFinishReason(t *testing.T) {
	gw := newOpenAIStub(t, http.StatusOK, map[string]any{
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "content_filter",
			"message":       map[string]any{"role": "assistant", "content": ""},
		}},
	})
	_, err := gw.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)
	assert.True(t, IsPolicy(err))
}

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	gw := newOpenAIStub(t, http.StatusOK, map[string]any{
		"object": "list",
		"data": []any{
			map[string]any{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
			map[string]any{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
		},
	})
	vecs, err := gw.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}
