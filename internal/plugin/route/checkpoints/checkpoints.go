package checkpoints

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/lightloop/chat-service/internal/chat"
	registryroute "github.com/lightloop/chat-service/internal/registry/route"
	registrystore "github.com/lightloop/chat-service/internal/registry/store"
	"github.com/lightloop/chat-service/internal/security"
)

const maxListLimit = 50

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 120,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts checkpoint routes. Called after store initialization.
func MountRoutes(r *gin.Engine, orch *chat.Orchestrator, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)
	g.POST("/conversations/:conversationId/checkpoints", func(c *gin.Context) {
		createCheckpoint(c, orch)
	})
	g.GET("/checkpoints", func(c *gin.Context) {
		listCheckpoints(c, orch)
	})
}

func createCheckpoint(c *gin.Context, orch *chat.Orchestrator) {
	sess := security.GetSession(c)
	convID, err := strconv.ParseInt(c.Param("conversationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid conversation id"})
		return
	}

	cp, err := orch.CreateManualCheckpoint(c.Request.Context(), sess, convID)
	if err != nil {
		handleError(c, err)
		return
	}
	if cp == nil {
		// Nothing to snapshot yet.
		c.JSON(http.StatusOK, gin.H{"created": false})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": true, "checkpointId": cp.ID})
}

func listCheckpoints(c *gin.Context, orch *chat.Orchestrator) {
	sess := security.GetSession(c)

	limit := maxListLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid limit"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	var projectID *int64
	if v := c.Query("projectId"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid projectId"})
			return
		}
		projectID = &parsed
	}

	cps, err := orch.ListCheckpoints(c.Request.Context(), sess, projectID, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cps})
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
