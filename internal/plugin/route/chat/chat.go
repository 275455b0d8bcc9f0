// Package chatroute serves the streaming chat endpoint.
package chatroute

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/lightloop/chat-service/internal/chat"
	"github.com/lightloop/chat-service/internal/model"
	registryroute "github.com/lightloop/chat-service/internal/registry/route"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
	"github.com/lightloop/chat-service/internal/security"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts the chat endpoint. Called after store initialization.
func MountRoutes(r *gin.Engine, orch *chat.Orchestrator, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)
	g.POST("/chat", func(c *gin.Context) {
		postChat(c, orch)
	})
}

type chatMessage struct {
	Content string              `json:"content"`
	Parts   []model.MessagePart `json:"parts"`
}

type chatRequest struct {
	ConversationID *int64      `json:"conversationId"`
	Scope          string      `json:"scope"`
	OrgID          *string     `json:"orgId"`
	ProjectID      *int64      `json:"projectId"`
	Model          string      `json:"model"`
	Message        chatMessage `json:"message"`
}

// streamEvent is one SSE data payload. The stream carries delta events while
// tokens arrive, then a single done or error event.
type streamEvent struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ConversationID int64  `json:"conversationId,omitempty"`
	MessageID      int64  `json:"messageId,omitempty"`
	Error          string `json:"error,omitempty"`
}

func postChat(c *gin.Context, orch *chat.Orchestrator) {
	sess := security.GetSession(c)
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	content := req.Message.Content
	var metadata *model.MessageMetadata
	if len(req.Message.Parts) > 0 {
		for _, p := range req.Message.Parts {
			if err := p.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
				return
			}
		}
		metadata = &model.MessageMetadata{Parts: req.Message.Parts}
		if content == "" {
			content = metadata.TextParts()
		}
	}
	if strings.TrimSpace(content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "message content is required"})
		return
	}

	turn, err := orch.Prepare(c.Request.Context(), sess, chat.TurnRequest{
		ConversationID: req.ConversationID,
		Scope:          model.ConversationScope(req.Scope),
		OrgID:          req.OrgID,
		ProjectID:      req.ProjectID,
		Model:          req.Model,
		Content:        content,
		Metadata:       metadata,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	// The conversation id is committed before the first token so the client
	// can pin followup turns even if the stream dies midway.
	c.Header("X-Conversation-Id", strconv.FormatInt(turn.Conversation.ID, 10))
	if turn.Checkpoint != nil {
		c.Header("X-Checkpoint-Id", strconv.FormatInt(turn.Checkpoint.ID, 10))
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()

	saved, err := orch.Stream(c.Request.Context(), turn, func(content string) error {
		return writeEvent(c, streamEvent{Type: "delta", Content: content})
	})
	if err != nil {
		log.Error("Chat stream failed", "conversation", turn.Conversation.ID, "err", err)
		_ = writeEvent(c, streamEvent{Type: "error", Error: "completion failed"})
		return
	}

	_ = writeEvent(c, streamEvent{
		Type:           "done",
		ConversationID: turn.Conversation.ID,
		MessageID:      saved.ID,
	})
	_, _ = c.Writer.WriteString("data: [DONE]\n\n")
	c.Writer.Flush()
}

func writeEvent(c *gin.Context, ev streamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := c.Writer.WriteString("data: " + string(data) + "\n\n"); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError
	var unauthorized *registrystore.UnauthorizedError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	case errors.As(err, &unauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": err.Error()})
	default:
		log.Error("Request failed", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
