package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightloop/chat-service/internal/config"
	"github.com/lightloop/chat-service/internal/llm"
	"github.com/lightloop/chat-service/internal/model/catalog"
	"github.com/stretchr/testify/require"
)

// memCache is a trivial in-test catalog cache.
type memCache struct {
	models []catalog.Model
	set    bool
}

func (m *memCache) Available() bool { return true }
func (m *memCache) Get(context.Context) ([]catalog.Model, bool, error) {
	return m.models, m.set, nil
}
func (m *memCache) Set(_ context.Context, models []catalog.Model, _ time.Duration) error {
	m.models, m.set = models, true
	return nil
}
func (m *memCache) Remove(context.Context) error {
	m.models, m.set = nil, false
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cache *memCache) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.DefaultConfig()
	cfg.OpenRouterBaseURL = server.URL
	cfg.OpenRouterAPIKey = "test-key"
	if cache == nil {
		return New(&cfg, nil)
	}
	return New(&cfg, cache)
}

func catalogHandler(hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []catalog.Model{
				{ID: "anthropic/claude-sonnet-4.5", Name: "Claude Sonnet 4.5"},
				{ID: "openai/gpt-4o", Name: "GPT-4o"},
			},
		})
	}
}

func TestModels_PopulatesCache(t *testing.T) {
	var hits atomic.Int32
	cache := &memCache{}
	client := newTestClient(t, catalogHandler(&hits), cache)
	ctx := context.Background()

	models, err := client.Models(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, int32(1), hits.Load())
	require.True(t, cache.set)

	// Second listing is served from cache.
	models, err = client.Models(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, int32(1), hits.Load())
}

func TestModels_UpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, nil)

	_, err := client.Models(context.Background())
	require.Error(t, err)
}

func TestValidateModel(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, catalogHandler(&hits), nil)
	ctx := context.Background()

	result, err := client.ValidateModel(ctx, "anthropic/claude-sonnet-4.5")
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.NotNil(t, result.Model)

	// Wrong vendor prefix suggests the real id.
	result, err = client.ValidateModel(ctx, "google/claude-sonnet-4.5")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "anthropic/claude-sonnet-4.5", result.Suggestion)

	// Bare substring falls back to a contains match.
	result, err = client.ValidateModel(ctx, "gpt")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "openai/gpt-4o", result.Suggestion)

	result, err = client.ValidateModel(ctx, "  ")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Empty(t, result.Suggestion)
}

func TestStreamChat_ParsesSSE(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "conv-42", r.Header.Get("x-session-id"))

		var body completionBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.True(t, body.Stream)
		require.Equal(t, "anthropic/claude-sonnet-4.5", body.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": keep-alive comment\n\n")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		_, _ = io.WriteString(w, "data: not json\n\n")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}, nil)

	stream, err := client.StreamChat(context.Background(), llm.CompletionRequest{
		Model:     "anthropic/claude-sonnet-4.5",
		Messages:  []llm.Message{{Role: "user", Content: "hi"}},
		SessionID: "conv-42",
	})
	require.NoError(t, err)
	defer stream.Close()

	delta, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "Hel", delta.Content)

	// The malformed chunk is skipped, not surfaced.
	delta, err = stream.Recv()
	require.NoError(t, err)
	require.Equal(t, "lo", delta.Content)
	require.Equal(t, "stop", delta.FinishReason)

	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
	// Recv stays terminal after the done marker.
	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamChat_ToolCallFragments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"salaryRange","arguments":"{\"role\":"}}]}}]}`+"\n\n")
		_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"backend\"}"}}]}}]}`+"\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}, nil)

	stream, err := client.StreamChat(context.Background(), llm.CompletionRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	delta, err := stream.Recv()
	require.NoError(t, err)
	require.Len(t, delta.ToolCalls, 1)
	require.Equal(t, "call_1", delta.ToolCalls[0].ID)
	require.Equal(t, "salaryRange", delta.ToolCalls[0].Function.Name)
	require.NotNil(t, delta.ToolCalls[0].Index)

	delta, err = stream.Recv()
	require.NoError(t, err)
	require.Len(t, delta.ToolCalls, 1)
	require.Equal(t, `"backend"}`, delta.ToolCalls[0].Function.Arguments)

	_, err = stream.Recv()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamChat_ErrorResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid api key"}`)
	}, nil)

	_, err := client.StreamChat(context.Background(), llm.CompletionRequest{Model: "m"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid api key")
}
