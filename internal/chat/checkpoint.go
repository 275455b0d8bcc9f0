package chat

import (
	"context"
	"strings"
	"time"

	"github.com/lightloop/chat-service/internal/config"
	"github.com/lightloop/chat-service/internal/model"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
	"github.com/lightloop/chat-service/internal/security"
)

const (
	checkpointTitleMax   = 60
	checkpointSummaryMax = 240

	fallbackCheckpointTitle = "Conversation checkpoint"
)

// TruncateText shortens s to at most max runes, trimming trailing whitespace
// and appending an ellipsis when anything was cut.
func TruncateText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimRight(string(runes[:max]), " \t\n") + "…"
}

// DeriveCheckpointTitle picks a title from a newest-first message tail:
// the most recent user message, else the most recent message of any role.
func DeriveCheckpointTitle(tail []model.Message) string {
	var candidate string
	for _, m := range tail {
		if m.Role == model.RoleUser && strings.TrimSpace(m.Content) != "" {
			candidate = m.Content
			break
		}
	}
	if candidate == "" && len(tail) > 0 {
		candidate = tail[0].Content
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return fallbackCheckpointTitle
	}
	return TruncateText(candidate, checkpointTitleMax)
}

// DeriveCheckpointSummary renders a newest-first message tail as a short
// oldest-first transcript ("You: ... Assistant: ..."). Returns nil when the
// tail has no usable content.
func DeriveCheckpointSummary(tail []model.Message) *string {
	parts := make([]string, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		content := strings.TrimSpace(tail[i].Content)
		if content == "" {
			continue
		}
		prefix := "Assistant: "
		if tail[i].Role == model.RoleUser {
			prefix = "You: "
		}
		parts = append(parts, prefix+content)
	}
	if len(parts) == 0 {
		return nil
	}
	summary := TruncateText(strings.Join(parts, " "), checkpointSummaryMax)
	return &summary
}

// DeriveConversationTitle turns the first user message into a conversation
// title: whitespace collapsed, truncated, with the creation placeholder as
// fallback for empty input.
func DeriveConversationTitle(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	if normalized == "" {
		return model.DefaultConversationTitle
	}
	return TruncateText(normalized, checkpointTitleMax)
}

// Engine decides when a located conversation is stale and snapshots it
// before the orchestrator starts a fresh thread.
type Engine struct {
	resumeWindow time.Duration
	tail         int
}

func NewEngine(cfg *config.Config) *Engine {
	return &Engine{resumeWindow: cfg.ResumeWindow, tail: cfg.CheckpointTail}
}

// WithinWindow reports whether the conversation was active recently enough
// to resume instead of checkpoint.
func (e *Engine) WithinWindow(conv *model.Conversation, now int64) bool {
	return now-conv.EffectiveLastActiveAt() <= e.resumeWindow.Milliseconds()
}

// CheckpointStale snapshots a stale conversation as a session checkpoint.
// Skipped when a checkpoint already covers the latest activity, so repeated
// stale hits never pile up duplicates. Returns the new checkpoint or nil.
func (e *Engine) CheckpointStale(ctx context.Context, tx registrystore.ChatStore, conv *model.Conversation, userID int64, now int64) (*model.ConversationCheckpoint, error) {
	latest, err := tx.LatestCheckpoint(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.CreatedAt >= conv.EffectiveLastActiveAt() {
		return nil, nil
	}
	return e.snapshot(ctx, tx, conv, userID, model.CheckpointSession, now)
}

// ManualCheckpoint snapshots a conversation on user request. Returns nil
// when the conversation has no messages to snapshot.
func (e *Engine) ManualCheckpoint(ctx context.Context, tx registrystore.ChatStore, conv *model.Conversation, userID int64, now int64) (*model.ConversationCheckpoint, error) {
	return e.snapshot(ctx, tx, conv, userID, model.CheckpointManual, now)
}

// snapshot creates a checkpoint from the conversation's message tail. A
// conversation with no messages has nothing to snapshot and yields nil.
func (e *Engine) snapshot(ctx context.Context, tx registrystore.ChatStore, conv *model.Conversation, userID int64, ct model.CheckpointType, now int64) (*model.ConversationCheckpoint, error) {
	tail, err := tx.RecentMessages(ctx, conv.ID, e.tail)
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return nil, nil
	}

	anchor := &tail[0].ID
	cp, err := tx.CreateCheckpoint(ctx, registrystore.NewCheckpoint{
		ConversationID:  conv.ID,
		UserID:          userID,
		Title:           DeriveCheckpointTitle(tail),
		Summary:         DeriveCheckpointSummary(tail),
		AnchorMessageID: anchor,
		CheckpointType:  ct,
		Scope:           conv.Scope,
		OrgID:           conv.OrgID,
		ProjectID:       conv.ProjectID,
	}, now)
	if err != nil {
		return nil, err
	}
	if security.CheckpointsTotal != nil {
		security.CheckpointsTotal.WithLabelValues(string(ct)).Inc()
	}
	return cp, nil
}
