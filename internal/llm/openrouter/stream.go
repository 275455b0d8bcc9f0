package openrouter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/lightloop/chat-service/internal/llm"
)

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"

	scannerInitialBuffer = 12 * 1024
	scannerMaxBuffer     = 10 * 1024 * 1024
)

type completionBody struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Tools    []llm.Tool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
	User     string        `json:"user,omitempty"`
}

// StreamChat opens a streaming completion against /chat/completions.
func (c *Client) StreamChat(ctx context.Context, req llm.CompletionRequest) (llm.Stream, error) {
	r := c.prepare(ctx).
		SetBody(completionBody{
			Model:    req.Model,
			Messages: req.Messages,
			Tools:    req.Tools,
			Stream:   true,
			User:     req.User,
		}).
		SetHeader("Accept-Encoding", "identity").
		SetDoNotParseResponse(true)
	if req.SessionID != "" {
		r.SetHeader("x-session-id", req.SessionID)
	}

	resp, err := r.Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("starting completion stream: %w", err)
	}
	if resp.IsError() {
		body, _ := io.ReadAll(resp.RawBody())
		_ = resp.RawBody().Close()
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status()
		}
		return nil, fmt.Errorf("completion stream failed: %s", msg)
	}

	scanner := bufio.NewScanner(resp.RawBody())
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)
	return &sseStream{body: resp.RawBody(), scanner: scanner}, nil
}

// sseStream parses an OpenAI-style SSE body into deltas.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []llm.ToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (s *sseStream) Recv() (*llm.Delta, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		data, found := strings.CutPrefix(line, dataPrefix)
		if !found {
			continue
		}
		if data == doneMarker {
			s.done = true
			return nil, io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn("Skipping malformed stream chunk", "err", err)
			continue
		}
		delta := &llm.Delta{}
		for _, choice := range chunk.Choices {
			delta.Content += choice.Delta.Content
			delta.ToolCalls = append(delta.ToolCalls, choice.Delta.ToolCalls...)
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				delta.FinishReason = *choice.FinishReason
			}
		}
		if delta.Content == "" && len(delta.ToolCalls) == 0 && delta.FinishReason == "" {
			continue
		}
		return delta, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	s.done = true
	return nil, io.EOF
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}
