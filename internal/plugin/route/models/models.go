package models

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/lightloop/chat-service/internal/llm"
	registryroute "github.com/lightloop/chat-service/internal/registry/route"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 130,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after provider init
		},
	})
}

// MountRoutes mounts model catalog routes. Called after provider init.
func MountRoutes(r *gin.Engine, provider llm.Provider, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)
	g.GET("/models", func(c *gin.Context) {
		listModels(c, provider)
	})
	g.POST("/models/validate", func(c *gin.Context) {
		validateModel(c, provider)
	})
}

func listModels(c *gin.Context, provider llm.Provider) {
	models, err := provider.Models(c.Request.Context())
	if err != nil {
		log.Error("Model listing failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "model catalog unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": models})
}

func validateModel(c *gin.Context, provider llm.Provider) {
	var req struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := provider.ValidateModel(c.Request.Context(), req.Model)
	if err != nil {
		log.Error("Model validation failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "model catalog unavailable"})
		return
	}
	c.JSON(http.StatusOK, result)
}
