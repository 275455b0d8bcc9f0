package conversations

import (
	"errors"
	"net/http"
	"strconv"

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
		Order: 110,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts conversation routes. Called after store initialization.
func MountRoutes(r *gin.Engine, orch *chat.Orchestrator, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)
	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, orch)
	})
	g.GET("/conversations/:conversationId", func(c *gin.Context) {
		getConversation(c, orch)
	})
}

func listConversations(c *gin.Context, orch *chat.Orchestrator) {
	sess := security.GetSession(c)
	convs, err := orch.ListConversations(c.Request.Context(), sess)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": convs})
}

func getConversation(c *gin.Context, orch *chat.Orchestrator) {
	sess := security.GetSession(c)
	convID, err := strconv.ParseInt(c.Param("conversationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid conversation id"})
		return
	}

	conv, msgs, err := orch.GetConversationMessages(c.Request.Context(), sess, convID)
	if err != nil {
		handleError(c, err)
		return
	}

	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		metadata, err := model.DecodeMetadata(m.Metadata)
		if err != nil {
			handleError(c, err)
			return
		}
		out = append(out, gin.H{
			"id":        m.ID,
			"role":      m.Role,
			"content":   m.Content,
			"metadata":  metadata,
			"createdAt": m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": out})
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		log.Error("Request failed", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
