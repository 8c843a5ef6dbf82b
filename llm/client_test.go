package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/plateful/plateful/llm"
	_ "github.com/plateful/plateful/llm/providers" // Register providers
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionResponse(content string, toolCalls []map[string]any) map[string]any {
	message := map[string]any{"role": "assistant", "content": content}
	finish := "stop"
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
		finish = "tool_calls"
	}
	return map[string]any{
		"id":    "chatcmpl-123",
		"model": "test-model",
		"choices": []map[string]any{
			{"index": 0, "message": message, "finish_reason": finish},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func newTestClient(t *testing.T, url string) *llm.Client {
	t.Helper()
	client, err := llm.NewClient(llm.Endpoint{
		Provider: "openai",
		BaseURL:  url,
		Model:    "test-model",
	})
	require.NoError(t, err)
	return client
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse("Hello!", nil))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Content)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
}

func TestClient_Complete_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tools      []map[string]any `json:"tools"`
			ToolChoice string           `json:"tool_choice"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Tools, 1)
		assert.Equal(t, "auto", req.ToolChoice)

		calls := []map[string]any{
			{
				"id":   "call_1",
				"type": "function",
				"function": map[string]any{
					"name":      "search_saved_recipes",
					"arguments": `{"query":"chicken"}`,
				},
			},
		}
		json.NewEncoder(w).Encode(completionResponse("", calls))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "plan my meals"}},
		Tools: []llm.ToolDefinition{
			{Name: "search_saved_recipes", Parameters: map[string]any{"type": "object"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search_saved_recipes", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"chicken"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestClient_Complete_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(completionResponse("recovered", nil))
	}))
	defer server.Close()

	client, err := llm.NewClient(llm.Endpoint{
		Provider: "openai",
		BaseURL:  server.URL,
		Model:    "test-model",
	}, llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       1, // nanoseconds, keep the test fast
		BackoffMultiplier: 1,
		MaxBackoff:        1,
	}))
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Complete_FatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Complete_NoMessages(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")
	_, err := client.Complete(context.Background(), llm.Request{})
	assert.Error(t, err)
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := llm.NewClient(llm.Endpoint{Provider: "nope", Model: "m"})
	assert.Error(t, err)
}
