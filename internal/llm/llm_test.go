package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenAIInvoke(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"llama","choices":[{"index":0,"message":{"role":"assistant","content":"SELECT 1"},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "k", Model: "llama", MaxTokens: 64})
	resp, err := c.Invoke(context.Background(), Request{System: "sys", User: "usr", Temperature: 0})
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", resp.Content)
	assert.Equal(t, "llama", resp.Model)
	assert.Equal(t, 7, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)

	assert.Equal(t, "llama", body["model"])
	temp, ok := body["temperature"].(float64)
	require.True(t, ok, "temperature must be sent even when zero")
	assert.Less(t, temp, 1e-6)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "usr", msgs[1].(map[string]any)["content"])
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"m","choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(Config{BaseURL: srv.URL, Model: "m"}).Invoke(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(Config{BaseURL: srv.URL, Model: "m"}).Invoke(context.Background(), Request{})
	assert.Error(t, err)
}

func TestAnthropicInvoke(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-x","content":[{"type":"text","text":"ACCEPTED"}],"stop_reason":"end_turn","usage":{"input_tokens":11,"output_tokens":1}}`))
	}))
	defer srv.Close()

	c := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "k", Model: "claude-x", MaxTokens: 100})
	resp, err := c.Invoke(context.Background(), Request{System: "judge", User: "check", Temperature: 0})
	require.NoError(t, err)

	assert.Equal(t, "ACCEPTED", resp.Content)
	assert.Equal(t, "claude-x", resp.Model)
	assert.Equal(t, 11, resp.PromptTokens)
	assert.Equal(t, 1, resp.CompletionTokens)
	assert.Equal(t, float64(100), body["max_tokens"])
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "carrier-pigeon"}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewWrapsRateLimit(t *testing.T) {
	p, err := New(Config{Provider: "openai", Model: "m", RequestsPerMinute: 30}, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, ok := p.(*RateLimited)
	assert.True(t, ok)
	assert.Equal(t, "m", p.Model())

	p, err = New(Config{Provider: "anthropic", Model: "c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

type countingProvider struct{ calls atomic.Int32 }

func (c *countingProvider) Name() string  { return "count" }
func (c *countingProvider) Model() string { return "count" }
func (c *countingProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	c.calls.Add(1)
	return &Response{Content: "ok"}, nil
}

func TestRateLimitedHonoursContext(t *testing.T) {
	inner := &countingProvider{}
	p := NewRateLimited(inner, 1)

	_, err := p.Invoke(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Invoke(ctx, Request{})
	assert.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}
