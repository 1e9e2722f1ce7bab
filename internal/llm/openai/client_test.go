package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/llm"
)

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   defaultModelName,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestGenerateSuccess(t *testing.T) {
	var captured struct {
		Path          string
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(" I can send ETH and check balances. "))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1", Timeout: time.Second})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), llm.Request{Prompt: "what can you do?"})
	require.NoError(t, err)
	assert.Equal(t, "I can send ETH and check balances.", resp.Reply)
	assert.Equal(t, "/v1/chat/completions", captured.Path)
	assert.True(t, strings.HasPrefix(captured.Authorization, "Bearer "))
	assert.Equal(t, defaultModelName, captured.Body["model"])
	messages, ok := captured.Body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit reached","type":"requests"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Model: "custom-model", Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), llm.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, llm.CodeChatUnavailable, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limit reached")
}

func TestGenerateEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), llm.Request{Prompt: "hi"})
	assert.Equal(t, llm.CodeChatUnavailable, xerrors.CodeOf(err))
}
