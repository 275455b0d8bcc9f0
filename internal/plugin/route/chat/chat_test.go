package chatroute

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lightloop/chat-service/internal/chat"
	"github.com/lightloop/chat-service/internal/config"
	"github.com/lightloop/chat-service/internal/llm"
	"github.com/lightloop/chat-service/internal/model"
	"github.com/lightloop/chat-service/internal/model/catalog"
	"github.com/lightloop/chat-service/internal/plugin/store/gormstore"
	"github.com/lightloop/chat-service/internal/security"
	"github.com/lightloop/chat-service/internal/tools"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type scriptedStream struct {
	deltas []llm.Delta
	pos    int
}

func (s *scriptedStream) Recv() (*llm.Delta, error) {
	if s.pos >= len(s.deltas) {
		return nil, io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return &d, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedProvider struct {
	deltas []llm.Delta
}

func (p *scriptedProvider) StreamChat(context.Context, llm.CompletionRequest) (llm.Stream, error) {
	return &scriptedStream{deltas: p.deltas}, nil
}

func (p *scriptedProvider) Models(context.Context) ([]catalog.Model, error) { return nil, nil }

func (p *scriptedProvider) ValidateModel(context.Context, string) (*catalog.ValidationResult, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, provider llm.Provider) (*gin.Engine, *gormstore.GormStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, gormstore.AutoMigrate(db))
	store := gormstore.New(db)

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting

	gin.SetMode(gin.TestMode)
	router := gin.New()
	orch := chat.NewOrchestrator(store, provider, tools.NewRegistry(store), &cfg)
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))
	MountRoutes(router, orch, auth)
	return router, store
}

func postChatRequest(router *gin.Engine, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Email", userID+"@example.com")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPostChat_StreamsAndPersists(t *testing.T) {
	provider := &scriptedProvider{deltas: []llm.Delta{
		{Content: "Hello"},
		{Content: " there"},
	}}
	router, store := newTestRouter(t, provider)

	w := postChatRequest(router, "user_1", `{"message":{"content":"hi"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	require.NotEmpty(t, w.Header().Get("X-Conversation-Id"))

	body := w.Body.String()
	require.Contains(t, body, `"type":"delta"`)
	require.Contains(t, body, `"content":"Hello"`)
	require.Contains(t, body, `"type":"done"`)
	require.Contains(t, body, "data: [DONE]")

	convs, err := store.ListVisibleConversations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "hi", convs[0].Title)

	msgs, err := store.ListMessages(context.Background(), convs[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, model.RoleAssistant, msgs[1].Role)
	require.Equal(t, "Hello there", msgs[1].Content)
}

func TestPostChat_ContentFallsBackToParts(t *testing.T) {
	router, store := newTestRouter(t, &scriptedProvider{})

	w := postChatRequest(router, "user_1",
		`{"message":{"parts":[{"kind":"text","text":"from parts"}]}}`)
	require.Equal(t, http.StatusOK, w.Code)

	convs, err := store.ListVisibleConversations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	msgs, err := store.ListMessages(context.Background(), convs[0].ID)
	require.NoError(t, err)
	require.Equal(t, "from parts", msgs[0].Content)
	require.NotNil(t, msgs[0].Metadata)
}

func TestPostChat_EmptyContentRejected(t *testing.T) {
	router, _ := newTestRouter(t, &scriptedProvider{})

	w := postChatRequest(router, "user_1", `{"message":{"content":"  "}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "validation_error")
}

func TestPostChat_InvalidPartRejected(t *testing.T) {
	router, _ := newTestRouter(t, &scriptedProvider{})

	w := postChatRequest(router, "user_1",
		`{"message":{"parts":[{"kind":"hologram"}]}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "validation_error")
}

func TestPostChat_RequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t, &scriptedProvider{})

	w := postChatRequest(router, "", `{"message":{"content":"hi"}}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPostChat_ForeignConversationIsNotFound(t *testing.T) {
	router, _ := newTestRouter(t, &scriptedProvider{deltas: []llm.Delta{{Content: "ok"}}})

	w := postChatRequest(router, "owner", `{"message":{"content":"mine"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	convID := w.Header().Get("X-Conversation-Id")

	w = postChatRequest(router, "stranger",
		`{"conversationId":`+convID+`,"message":{"content":"let me in"}}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "not_found")
}

func TestPostChat_PersonalScopeRejectsProject(t *testing.T) {
	router, _ := newTestRouter(t, &scriptedProvider{})

	w := postChatRequest(router, "user_1",
		`{"scope":"personal","projectId":3,"message":{"content":"hi"}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "org context")
}

func TestPostChat_PersonalScopeRejectsOrgID(t *testing.T) {
	router, _ := newTestRouter(t, &scriptedProvider{})

	w := postChatRequest(router, "user_1",
		`{"scope":"personal","orgId":"org_1","message":{"content":"hi"}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "org context")
}

func TestPostChat_OrgMismatchIsForbidden(t *testing.T) {
	router, _ := newTestRouter(t, &scriptedProvider{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"scope":"org_personal","orgId":"org_2","message":{"content":"hi"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user_1")
	req.Header.Set("X-User-Email", "user_1@example.com")
	req.Header.Set("X-Org-ID", "org_1")
	req.Header.Set("X-Org-Name", "Acme")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), "organization mismatch")
}
