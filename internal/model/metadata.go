package model

import (
	"encoding/json"
	"fmt"
)

// Message part kinds. The metadata column stores the structured parts of a
// turn alongside the flattened content text; each part is one of these.
type PartKind string

const (
	PartText           PartKind = "text"
	PartToolInvocation PartKind = "tool_invocation"
	PartAttachment     PartKind = "attachment"
)

// MessagePart is one structured element of a turn. Exactly the fields for
// its Kind are populated.
type MessagePart struct {
	Kind PartKind `json:"kind"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartToolInvocation
	ToolName string          `json:"toolName,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`

	// PartAttachment
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Validate checks the part is well-formed for its kind.
func (p MessagePart) Validate() error {
	switch p.Kind {
	case PartText:
		if p.Text == "" {
			return fmt.Errorf("text part requires text")
		}
	case PartToolInvocation:
		if p.ToolName == "" {
			return fmt.Errorf("tool_invocation part requires toolName")
		}
	case PartAttachment:
		if p.URL == "" {
			return fmt.Errorf("attachment part requires url")
		}
	default:
		return fmt.Errorf("unknown message part kind %q", p.Kind)
	}
	return nil
}

// MessageMetadata is the typed form of the message metadata column.
type MessageMetadata struct {
	Parts []MessagePart `json:"parts"`
}

// TextParts returns the concatenated text of all text parts.
func (m *MessageMetadata) TextParts() string {
	if m == nil {
		return ""
	}
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// EncodeMetadata serializes metadata for storage. Nil metadata encodes to
// nil so the column stays NULL.
func EncodeMetadata(m *MessageMetadata) (*string, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message metadata: %w", err)
	}
	s := string(data)
	return &s, nil
}

// DecodeMetadata parses a stored metadata column. A NULL column decodes to nil.
func DecodeMetadata(raw *string) (*MessageMetadata, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var m MessageMetadata
	if err := json.Unmarshal([]byte(*raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode message metadata: %w", err)
	}
	return &m, nil
}
