package conversations

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
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

type stubStream struct{}

func (stubStream) Recv() (*llm.Delta, error) { return nil, io.EOF }
func (stubStream) Close() error              { return nil }

type stubProvider struct{}

func (stubProvider) StreamChat(context.Context, llm.CompletionRequest) (llm.Stream, error) {
	return stubStream{}, nil
}

func (stubProvider) Models(context.Context) ([]catalog.Model, error) { return nil, nil }

func (stubProvider) ValidateModel(context.Context, string) (*catalog.ValidationResult, error) {
	return nil, nil
}

func newTestSetup(t *testing.T) (*gin.Engine, *chat.Orchestrator, *gormstore.GormStore) {
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
	orch := chat.NewOrchestrator(store, stubProvider{}, tools.NewRegistry(store), &cfg)
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))
	MountRoutes(router, orch, auth)
	return router, orch, store
}

func get(router *gin.Engine, userID, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("X-User-Email", userID+"@example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func prepareTurn(t *testing.T, orch *chat.Orchestrator, userID, content string) *chat.Turn {
	t.Helper()
	sess := &security.Session{ExternalUserID: userID, Email: userID + "@example.com"}
	turn, err := orch.Prepare(context.Background(), sess, chat.TurnRequest{Content: content})
	require.NoError(t, err)
	return turn
}

func TestListConversations(t *testing.T) {
	router, orch, _ := newTestSetup(t)
	turn := prepareTurn(t, orch, "user_1", "hello there")

	w := get(router, "user_1", "/v1/conversations")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []model.Conversation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, turn.Conversation.ID, resp.Data[0].ID)
	require.Equal(t, "hello there", resp.Data[0].Title)

	// Another user sees an empty list, not an error.
	w = get(router, "user_2", "/v1/conversations")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Empty(t, resp.Data)
}

func TestGetConversation_Messages(t *testing.T) {
	router, orch, store := newTestSetup(t)
	turn := prepareTurn(t, orch, "user_1", "show candidates")

	meta := &model.MessageMetadata{Parts: []model.MessagePart{
		{Kind: model.PartText, Text: "done"},
	}}
	_, err := store.AppendMessage(context.Background(), turn.Conversation.ID,
		model.RoleAssistant, "done", meta, 2000)
	require.NoError(t, err)

	w := get(router, "user_1", "/v1/conversations/"+strconv.FormatInt(turn.Conversation.ID, 10))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Conversation model.Conversation `json:"conversation"`
		Messages     []struct {
			Role     string                 `json:"role"`
			Content  string                 `json:"content"`
			Metadata *model.MessageMetadata `json:"metadata"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, turn.Conversation.ID, resp.Conversation.ID)
	require.Len(t, resp.Messages, 2)
	require.Equal(t, model.RoleUser, resp.Messages[0].Role)
	require.Nil(t, resp.Messages[0].Metadata)
	require.Equal(t, model.RoleAssistant, resp.Messages[1].Role)
	require.NotNil(t, resp.Messages[1].Metadata)
	require.Len(t, resp.Messages[1].Metadata.Parts, 1)
}

func TestGetConversation_InvalidID(t *testing.T) {
	router, _, _ := newTestSetup(t)

	w := get(router, "user_1", "/v1/conversations/abc")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "validation_error")
}

func TestGetConversation_ForeignIsNotFound(t *testing.T) {
	router, orch, _ := newTestSetup(t)
	turn := prepareTurn(t, orch, "owner", "private")

	w := get(router, "stranger", "/v1/conversations/"+strconv.FormatInt(turn.Conversation.ID, 10))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "not_found")
}
