package chat

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lightloop/chat-service/internal/config"
	"github.com/lightloop/chat-service/internal/identity"
	"github.com/lightloop/chat-service/internal/llm"
	"github.com/lightloop/chat-service/internal/model"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
	"github.com/lightloop/chat-service/internal/security"
	"github.com/lightloop/chat-service/internal/tools"
)

const systemPrompt = "You are Lightloop, an AI hiring assistant. You help recruiters and " +
	"hiring managers find candidates, plan interviews, and make hiring decisions. " +
	"Be concise and concrete. Use the provided tools when the user asks to see " +
	"candidates, salary data, quizzes, or to switch workspaces; ask for " +
	"confirmation via the confirmAction tool before any consequential action."

// TurnRequest is one incoming chat turn.
type TurnRequest struct {
	// ConversationID pins the turn to an existing conversation. When nil the
	// orchestrator locates or creates one for the requested scope.
	ConversationID *int64
	Scope          model.ConversationScope
	// OrgID is the external org id the client believes it is acting in.
	// When set it must match the session's active org.
	OrgID     *string
	ProjectID *int64
	Model     string
	Content   string
	Metadata  *model.MessageMetadata
}

// Turn is the prepared state of a chat turn: the conversation the turn runs
// in, resolved before any tokens stream.
type Turn struct {
	Identity     *identity.Identity
	Conversation *model.Conversation
	// Checkpoint is set when a stale conversation was snapshotted before
	// this turn started a fresh one.
	Checkpoint  *model.ConversationCheckpoint
	Resumed     bool
	UserMessage *model.Message
	Model       string
}

// Orchestrator ties identity, conversation lifecycle, persistence, and the
// completion provider together into chat turns.
type Orchestrator struct {
	store    registrystore.ChatStore
	identity *identity.Resolver
	engine   *Engine
	provider llm.Provider
	tools    *tools.Registry
	cfg      *config.Config
	nowFn    func() int64
}

func NewOrchestrator(store registrystore.ChatStore, provider llm.Provider, registry *tools.Registry, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:    store,
		identity: identity.NewResolver(store),
		engine:   NewEngine(cfg),
		provider: provider,
		tools:    registry,
		cfg:      cfg,
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}
}

// WithClock overrides the wall clock. Test hook.
func (o *Orchestrator) WithClock(now func() int64) *Orchestrator {
	o.nowFn = now
	return o
}

// ResolveIdentity maps the session onto local user and org rows.
func (o *Orchestrator) ResolveIdentity(ctx context.Context, sess *security.Session) (*identity.Identity, error) {
	return o.identity.Resolve(ctx, sess, o.nowFn())
}

// Prepare resolves the caller, locates or creates the conversation, persists
// the user message, and rewrites the placeholder title. The whole sequence
// runs in one transaction so a concurrent turn cannot race the
// checkpoint-then-create decision.
func (o *Orchestrator) Prepare(ctx context.Context, sess *security.Session, req TurnRequest) (*Turn, error) {
	now := o.nowFn()
	id, err := o.identity.Resolve(ctx, sess, now)
	if err != nil {
		return nil, err
	}

	turn := &Turn{Identity: id, Model: req.Model}
	if turn.Model == "" {
		turn.Model = o.cfg.DefaultModel
	}

	err = o.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		scoper := NewScoper(tx)

		var conv *model.Conversation
		if req.ConversationID != nil {
			conv, err = tx.GetConversation(ctx, *req.ConversationID)
			if err != nil {
				return err
			}
			if err := scoper.AuthorizeExisting(ctx, id, conv); err != nil {
				return err
			}
			turn.Resumed = true
		} else {
			sc, err := scoper.Resolve(ctx, id, req.Scope, req.OrgID, req.ProjectID)
			if err != nil {
				return err
			}
			existing, err := tx.FindMostRecentConversation(ctx, registrystore.ConversationQuery{
				UserID:    id.User.ID,
				Scope:     sc.Scope,
				OrgID:     sc.OrgID,
				ProjectID: sc.ProjectID,
			})
			if err != nil {
				return err
			}

			switch {
			case existing != nil && o.engine.WithinWindow(existing, now):
				conv = existing
				turn.Resumed = true
			default:
				if existing != nil {
					cp, err := o.engine.CheckpointStale(ctx, tx, existing, id.User.ID, now)
					if err != nil {
						return err
					}
					turn.Checkpoint = cp
				}
				conv, err = tx.CreateConversation(ctx, id.User.ID, "", sc.Scope, sc.OrgID, sc.ProjectID, now)
				if err != nil {
					return err
				}
				if sc.Scope == model.ScopeOrgGroup {
					if err := tx.AddConversationParticipant(ctx, conv.ID, id.User.ID, now); err != nil {
						return err
					}
				}
			}
		}

		msg, err := tx.AppendMessage(ctx, conv.ID, model.RoleUser, req.Content, req.Metadata, now)
		if err != nil {
			return err
		}
		if err := tx.TouchConversation(ctx, conv.ID, now); err != nil {
			return err
		}
		conv.UpdatedAt, conv.LastActiveAt = now, now

		if strings.TrimSpace(req.Content) != "" && conv.Title == model.DefaultConversationTitle {
			title := DeriveConversationTitle(req.Content)
			if err := tx.RenameConversationIfDefault(ctx, conv.ID, title); err != nil {
				return err
			}
			conv.Title = title
		}

		turn.Conversation = conv
		turn.UserMessage = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// Stream runs the completion for a prepared turn, forwarding text deltas to
// emit as they arrive. Tool calls are resolved server-side and fed back to
// the model for up to the configured number of rounds. The assistant message
// is persisted once the stream finishes.
func (o *Orchestrator) Stream(ctx context.Context, turn *Turn, emit func(content string) error) (*model.Message, error) {
	msg, err := o.stream(ctx, turn, emit)
	if security.ChatTurnsTotal != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		security.ChatTurnsTotal.WithLabelValues(outcome).Inc()
	}
	return msg, err
}

func (o *Orchestrator) stream(ctx context.Context, turn *Turn, emit func(content string) error) (*model.Message, error) {
	history, err := o.store.ListMessages(ctx, turn.Conversation.ID)
	if err != nil {
		return nil, err
	}

	prompt := make([]llm.Message, 0, len(history)+1)
	prompt = append(prompt, llm.Message{Role: model.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		prompt = append(prompt, llm.Message{Role: m.Role, Content: m.Content})
	}

	req := llm.CompletionRequest{
		Model:     turn.Model,
		Tools:     o.tools.Definitions(),
		User:      security.HashUserID(o.cfg.ObservabilitySalt, turn.Identity.User.ExternalID),
		SessionID: strconv.FormatInt(turn.Conversation.ID, 10),
	}

	var final strings.Builder
	var toolParts []model.MessagePart

	for round := 0; ; round++ {
		req.Messages = prompt
		calls, roundText, err := o.streamRound(ctx, req, emit)
		if err != nil {
			return nil, err
		}
		final.WriteString(roundText)

		if len(calls) == 0 {
			break
		}
		if round >= o.cfg.ToolCallRounds {
			log.Warn("Tool call round limit reached", "conversation", turn.Conversation.ID, "rounds", round)
			break
		}

		prompt = append(prompt, llm.Message{Role: model.RoleAssistant, Content: roundText, ToolCalls: calls})
		for _, call := range calls {
			result := o.tools.Execute(ctx, turn.Identity, call)
			prompt = append(prompt, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result,
			})
			toolParts = append(toolParts, model.MessagePart{
				Kind:     model.PartToolInvocation,
				ToolName: call.Function.Name,
				Input:    []byte(call.Function.Arguments),
				Output:   []byte(result),
			})
		}
	}

	var metadata *model.MessageMetadata
	if len(toolParts) > 0 {
		parts := toolParts
		if final.Len() > 0 {
			parts = append(parts, model.MessagePart{Kind: model.PartText, Text: final.String()})
		}
		metadata = &model.MessageMetadata{Parts: parts}
	}

	now := o.nowFn()
	var saved *model.Message
	err = o.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		saved, err = tx.AppendMessage(ctx, turn.Conversation.ID, model.RoleAssistant, final.String(), metadata, now)
		if err != nil {
			return err
		}
		return tx.TouchConversation(ctx, turn.Conversation.ID, now)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// streamRound consumes one completion stream, forwarding content and
// accumulating fragmented tool calls by index.
func (o *Orchestrator) streamRound(ctx context.Context, req llm.CompletionRequest, emit func(string) error) ([]llm.ToolCall, string, error) {
	stream, err := o.provider.StreamChat(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer stream.Close()

	var text strings.Builder
	acc := map[int]*llm.ToolCall{}

	for {
		delta, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, "", err
		}
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if emit != nil {
				if err := emit(delta.Content); err != nil {
					return nil, "", err
				}
			}
		}
		for _, frag := range delta.ToolCalls {
			idx := 0
			if frag.Index != nil {
				idx = *frag.Index
			}
			call, ok := acc[idx]
			if !ok {
				call = &llm.ToolCall{Type: "function"}
				acc[idx] = call
			}
			if frag.ID != "" {
				call.ID = frag.ID
			}
			if frag.Function.Name != "" {
				call.Function.Name = frag.Function.Name
			}
			call.Function.Arguments += frag.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(acc))
	for idx := range acc {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	calls := make([]llm.ToolCall, 0, len(acc))
	for _, idx := range indexes {
		calls = append(calls, *acc[idx])
	}
	return calls, text.String(), nil
}

// --- Conversation and checkpoint queries for the HTTP surface ---

// AuthorizedConversation loads a conversation the caller may access.
func (o *Orchestrator) AuthorizedConversation(ctx context.Context, id *identity.Identity, conversationID int64) (*model.Conversation, error) {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := NewScoper(o.store).AuthorizeExisting(ctx, id, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns all conversations visible to the caller.
func (o *Orchestrator) ListConversations(ctx context.Context, sess *security.Session) ([]model.Conversation, error) {
	id, err := o.identity.Resolve(ctx, sess, o.nowFn())
	if err != nil {
		return nil, err
	}
	return o.store.ListVisibleConversations(ctx, id.User.ID)
}

// GetConversationMessages returns an authorized conversation with its
// full message history, oldest first.
func (o *Orchestrator) GetConversationMessages(ctx context.Context, sess *security.Session, conversationID int64) (*model.Conversation, []model.Message, error) {
	id, err := o.identity.Resolve(ctx, sess, o.nowFn())
	if err != nil {
		return nil, nil, err
	}
	conv, err := o.AuthorizedConversation(ctx, id, conversationID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := o.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// CreateManualCheckpoint snapshots a conversation on explicit user request.
// Returns nil when the conversation has no messages to snapshot.
func (o *Orchestrator) CreateManualCheckpoint(ctx context.Context, sess *security.Session, conversationID int64) (*model.ConversationCheckpoint, error) {
	now := o.nowFn()
	id, err := o.identity.Resolve(ctx, sess, now)
	if err != nil {
		return nil, err
	}

	var cp *model.ConversationCheckpoint
	err = o.store.Transaction(ctx, func(tx registrystore.ChatStore) error {
		conv, err := tx.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if err := NewScoper(tx).AuthorizeExisting(ctx, id, conv); err != nil {
			return err
		}
		cp, err = o.engine.ManualCheckpoint(ctx, tx, conv, id.User.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// ListCheckpoints returns checkpoints visible to the caller, newest first.
func (o *Orchestrator) ListCheckpoints(ctx context.Context, sess *security.Session, projectID *int64, limit int) ([]model.ConversationCheckpoint, error) {
	id, err := o.identity.Resolve(ctx, sess, o.nowFn())
	if err != nil {
		return nil, err
	}
	return o.store.ListVisibleCheckpoints(ctx, id.User.ID, projectID, limit)
}
