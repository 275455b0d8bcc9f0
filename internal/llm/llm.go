// Package llm defines the provider-neutral chat completion interface the
// orchestrator streams against.
package llm

import (
	"context"
	"encoding/json"

	"github.com/lightloop/chat-service/internal/model/catalog"
)

// Message is one entry of the completion prompt, in OpenAI wire shape.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool advertises a callable function to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a model-initiated function invocation. Arguments arrive as a
// JSON-encoded string. In streamed deltas a call is fragmented: Index ties
// the fragments of one call together and Arguments accumulate across deltas.
type ToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletionRequest is a streaming chat completion call.
type CompletionRequest struct {
	Model    string
	Messages []Message
	Tools    []Tool
	// User is an opaque end-user identifier forwarded upstream for abuse
	// attribution. Callers pass a salted hash, never the raw id.
	User string
	// SessionID groups requests of one conversation upstream.
	SessionID string
}

// Delta is one increment of a streamed completion. Exactly one of Content,
// ToolCalls, or FinishReason is typically set per delta.
type Delta struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Stream yields completion deltas. Recv returns io.EOF after the final delta.
type Stream interface {
	Recv() (*Delta, error)
	Close() error
}

// Provider is a chat completion backend with a model catalog.
type Provider interface {
	// StreamChat starts a streaming completion.
	StreamChat(ctx context.Context, req CompletionRequest) (Stream, error)
	// Models lists the provider's model catalog.
	Models(ctx context.Context) ([]catalog.Model, error)
	// ValidateModel checks a model id against the catalog and suggests a
	// close match for near misses.
	ValidateModel(ctx context.Context, id string) (*catalog.ValidationResult, error)
}
