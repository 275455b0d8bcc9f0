package chat

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/lightloop/chat-service/internal/config"
	"github.com/lightloop/chat-service/internal/llm"
	"github.com/lightloop/chat-service/internal/model"
	"github.com/lightloop/chat-service/internal/model/catalog"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
	"github.com/lightloop/chat-service/internal/security"
	"github.com/lightloop/chat-service/internal/tools"
	"github.com/stretchr/testify/require"
)

// fakeStream replays a scripted list of deltas and then io.EOF.
type fakeStream struct {
	deltas []llm.Delta
	pos    int
}

func (f *fakeStream) Recv() (*llm.Delta, error) {
	if f.pos >= len(f.deltas) {
		return nil, io.EOF
	}
	d := f.deltas[f.pos]
	f.pos++
	return &d, nil
}

func (f *fakeStream) Close() error { return nil }

// fakeProvider returns one scripted stream per StreamChat call and records
// the requests it saw.
type fakeProvider struct {
	streams  [][]llm.Delta
	requests []llm.CompletionRequest
}

func (f *fakeProvider) StreamChat(_ context.Context, req llm.CompletionRequest) (llm.Stream, error) {
	f.requests = append(f.requests, req)
	if len(f.streams) == 0 {
		return &fakeStream{}, nil
	}
	deltas := f.streams[0]
	f.streams = f.streams[1:]
	return &fakeStream{deltas: deltas}, nil
}

func (f *fakeProvider) Models(context.Context) ([]catalog.Model, error) { return nil, nil }

func (f *fakeProvider) ValidateModel(context.Context, string) (*catalog.ValidationResult, error) {
	return nil, nil
}

func textDeltas(chunks ...string) []llm.Delta {
	deltas := make([]llm.Delta, 0, len(chunks))
	for _, c := range chunks {
		deltas = append(deltas, llm.Delta{Content: c})
	}
	return deltas
}

func newTestOrchestrator(t *testing.T, provider llm.Provider, now int64) (*Orchestrator, registrystore.ChatStore) {
	t.Helper()
	store := newTestStore(t)
	cfg := config.DefaultConfig()
	orch := NewOrchestrator(store, provider, tools.NewRegistry(store), &cfg).
		WithClock(func() int64 { return now })
	return orch, store
}

func sessionFor(userID string) *security.Session {
	return &security.Session{ExternalUserID: userID, Email: userID + "@example.com"}
}

func TestPrepare_CreatesConversationAndTitle(t *testing.T) {
	orch, store := newTestOrchestrator(t, &fakeProvider{}, 10_000)
	ctx := context.Background()

	turn, err := orch.Prepare(ctx, sessionFor("user_1"), TurnRequest{
		Content: "  Find me   Go engineers ",
	})
	require.NoError(t, err)
	require.False(t, turn.Resumed)
	require.Nil(t, turn.Checkpoint)
	require.Equal(t, "Find me Go engineers", turn.Conversation.Title)
	require.Equal(t, model.ScopePersonal, turn.Conversation.Scope)
	require.Equal(t, "anthropic/claude-sonnet-4.5", turn.Model)
	require.Equal(t, model.RoleUser, turn.UserMessage.Role)

	msgs, err := store.ListMessages(ctx, turn.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestPrepare_ResumesWithinWindow(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeProvider{}, 10_000)
	ctx := context.Background()
	sess := sessionFor("user_1")

	first, err := orch.Prepare(ctx, sess, TurnRequest{Content: "hello"})
	require.NoError(t, err)

	// One hour later, well inside the 12h window.
	orch.WithClock(func() int64 { return 10_000 + time.Hour.Milliseconds() })
	second, err := orch.Prepare(ctx, sess, TurnRequest{Content: "still here"})
	require.NoError(t, err)
	require.True(t, second.Resumed)
	require.Nil(t, second.Checkpoint)
	require.Equal(t, first.Conversation.ID, second.Conversation.ID)
	// The first message already claimed the title.
	require.Equal(t, "hello", second.Conversation.Title)
}

func TestPrepare_CheckpointsStaleConversation(t *testing.T) {
	orch, store := newTestOrchestrator(t, &fakeProvider{}, 10_000)
	ctx := context.Background()
	sess := sessionFor("user_1")

	first, err := orch.Prepare(ctx, sess, TurnRequest{Content: "old topic"})
	require.NoError(t, err)

	// 13 hours later the thread is stale.
	orch.WithClock(func() int64 { return 10_000 + 13*time.Hour.Milliseconds() })
	second, err := orch.Prepare(ctx, sess, TurnRequest{Content: "new topic"})
	require.NoError(t, err)
	require.False(t, second.Resumed)
	require.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
	require.NotNil(t, second.Checkpoint)
	require.Equal(t, first.Conversation.ID, second.Checkpoint.ConversationID)
	require.Equal(t, model.CheckpointSession, second.Checkpoint.CheckpointType)
	require.Equal(t, "old topic", second.Checkpoint.Title)

	convs, err := store.ListVisibleConversations(ctx, second.Identity.User.ID)
	require.NoError(t, err)
	require.Len(t, convs, 2)
}

func TestPrepare_PinnedConversationSkipsLocate(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeProvider{}, 10_000)
	ctx := context.Background()
	sess := sessionFor("user_1")

	first, err := orch.Prepare(ctx, sess, TurnRequest{Content: "hello"})
	require.NoError(t, err)

	// Pinning by id resumes even after the window has long expired.
	orch.WithClock(func() int64 { return 10_000 + 48*time.Hour.Milliseconds() })
	second, err := orch.Prepare(ctx, sess, TurnRequest{
		ConversationID: &first.Conversation.ID,
		Content:        "back again",
	})
	require.NoError(t, err)
	require.True(t, second.Resumed)
	require.Equal(t, first.Conversation.ID, second.Conversation.ID)
}

func TestPrepare_PinnedConversationAuthz(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeProvider{}, 10_000)
	ctx := context.Background()

	turn, err := orch.Prepare(ctx, sessionFor("owner"), TurnRequest{Content: "private"})
	require.NoError(t, err)

	var notFound *registrystore.NotFoundError
	_, err = orch.Prepare(ctx, sessionFor("stranger"), TurnRequest{
		ConversationID: &turn.Conversation.ID,
		Content:        "let me in",
	})
	require.ErrorAs(t, err, &notFound)
}

func TestPrepare_PersonalScopeRejectsProject(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeProvider{}, 10_000)
	projectID := int64(4)

	var validation *registrystore.ValidationError
	_, err := orch.Prepare(context.Background(), sessionFor("user_1"), TurnRequest{
		Scope:     model.ScopePersonal,
		ProjectID: &projectID,
		Content:   "hi",
	})
	require.ErrorAs(t, err, &validation)
}

func TestStream_PersistsAssistantMessage(t *testing.T) {
	provider := &fakeProvider{streams: [][]llm.Delta{
		textDeltas("Hello", ", ", "recruiter!"),
	}}
	orch, store := newTestOrchestrator(t, provider, 10_000)
	ctx := context.Background()

	turn, err := orch.Prepare(ctx, sessionFor("user_1"), TurnRequest{Content: "hi"})
	require.NoError(t, err)

	var streamed string
	saved, err := orch.Stream(ctx, turn, func(content string) error {
		streamed += content
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "Hello, recruiter!", streamed)
	require.Equal(t, "Hello, recruiter!", saved.Content)
	require.Equal(t, model.RoleAssistant, saved.Role)
	require.Nil(t, saved.Metadata)

	msgs, err := store.ListMessages(ctx, turn.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// The prompt carried the system preamble plus the persisted history.
	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	require.Equal(t, model.RoleSystem, req.Messages[0].Role)
	require.Equal(t, "hi", req.Messages[len(req.Messages)-1].Content)
	require.NotEmpty(t, req.Tools)
}

func TestStream_ToolCallRoundTrip(t *testing.T) {
	idx := 0
	provider := &fakeProvider{streams: [][]llm.Delta{
		{
			// Arguments arrive fragmented across deltas.
			{ToolCalls: []llm.ToolCall{{
				Index:    &idx,
				ID:       "call_1",
				Function: llm.ToolCallFunction{Name: "salaryRange", Arguments: `{"role":`},
			}}},
			{ToolCalls: []llm.ToolCall{{
				Index:    &idx,
				Function: llm.ToolCallFunction{Arguments: `"backend engineer"}`},
			}}},
		},
		textDeltas("Here is the range."),
	}}
	orch, _ := newTestOrchestrator(t, provider, 10_000)
	ctx := context.Background()

	turn, err := orch.Prepare(ctx, sessionFor("user_1"), TurnRequest{Content: "salary for backend?"})
	require.NoError(t, err)

	saved, err := orch.Stream(ctx, turn, nil)
	require.NoError(t, err)
	require.Equal(t, "Here is the range.", saved.Content)

	// Tool execution is recorded as metadata on the assistant message.
	require.NotNil(t, saved.Metadata)
	meta, err := model.DecodeMetadata(saved.Metadata)
	require.NoError(t, err)
	require.Len(t, meta.Parts, 2)
	require.Equal(t, model.PartToolInvocation, meta.Parts[0].Kind)
	require.Equal(t, "salaryRange", meta.Parts[0].ToolName)
	require.Equal(t, model.PartText, meta.Parts[1].Kind)

	// The second round fed the tool result back to the model.
	require.Len(t, provider.requests, 2)
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	require.Equal(t, "tool", last.Role)
	require.Equal(t, "call_1", last.ToolCallID)
}

func TestCreateManualCheckpoint(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeProvider{}, 10_000)
	ctx := context.Background()
	sess := sessionFor("user_1")

	turn, err := orch.Prepare(ctx, sess, TurnRequest{Content: "keep this"})
	require.NoError(t, err)

	cp, err := orch.CreateManualCheckpoint(ctx, sess, turn.Conversation.ID)
	require.NoError(t, err)
	require.Equal(t, model.CheckpointManual, cp.CheckpointType)
	require.Equal(t, "keep this", cp.Title)

	var notFound *registrystore.NotFoundError
	_, err = orch.CreateManualCheckpoint(ctx, sessionFor("stranger"), turn.Conversation.ID)
	require.ErrorAs(t, err, &notFound)

	list, err := orch.ListCheckpoints(ctx, sess, nil, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, cp.ID, list[0].ID)
}
