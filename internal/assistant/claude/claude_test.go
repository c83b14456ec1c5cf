package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssistant(t *testing.T, handler http.HandlerFunc) *ClaudeAssistant {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return newClaudeAssistant("sk-test", "claude-test", anthropic.WithBaseURL(server.URL))
}

func TestClaudeSuggest(t *testing.T) {
	var got map[string]interface{}
	a := newTestAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		resp := map[string]interface{}{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"content": []map[string]interface{}{
				{"type": "text", "text": "Try a tomato risotto."},
			},
			"usage": map[string]int{"input_tokens": 10, "output_tokens": 5},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	text, err := a.Suggest(context.Background(), "what can I cook?")
	require.NoError(t, err)
	assert.Equal(t, "Try a tomato risotto.", text)
	assert.Equal(t, "claude-test", got["model"])
	assert.Contains(t, got, "messages")
}

func TestClaudeSuggestAPIError(t *testing.T) {
	a := newTestAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := a.Suggest(context.Background(), "hi")
	assert.Error(t, err)
}

func TestClaudeSuggestEmpty(t *testing.T) {
	a := newTestAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[]}`))
	})

	_, err := a.Suggest(context.Background(), "hi")
	assert.ErrorIs(t, err, errEmptyResponse)
}
