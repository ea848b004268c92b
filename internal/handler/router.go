package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mnote-agent/internal/middleware"
)

// StreamPaths are the routes answering with server-sent events. They must
// stay out of response compression.
var StreamPaths = []string{
	"/api/v1/ai/chat/stream",
	"/api/v1/agent/ask/stream",
}

type RouterDeps struct {
	AI       *AIHandler
	Agent    *AgentHandler
	Notes    *NoteHandler
	Settings *SettingsHandler
	Metrics  http.Handler
	// JWTSecret enables bearer auth on every route except /metrics when set.
	JWTSecret []byte
	// RateLimit applies to model backed routes only.
	RateLimit       int
	RateLimitWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	if deps.Metrics != nil {
		api.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))

	aiGroup := authGroup.Group("")
	aiGroup.Use(middleware.RateLimit(deps.RateLimit, deps.RateLimitWindow))
	aiGroup.POST("/ai/translate", deps.AI.Translate)
	aiGroup.POST("/ai/polish", deps.AI.Polish)
	aiGroup.POST("/ai/query", deps.AI.Query)
	aiGroup.POST("/ai/chat", deps.AI.Chat)
	aiGroup.POST("/ai/chat/stream", deps.AI.ChatStream)
	aiGroup.POST("/agent/ask", deps.Agent.Ask)
	aiGroup.POST("/agent/ask/stream", deps.Agent.AskStream)

	authGroup.POST("/notes", deps.Notes.Create)
	authGroup.GET("/notes", deps.Notes.List)
	authGroup.GET("/notes/search", deps.Notes.Search)
	authGroup.GET("/notes/:id", deps.Notes.Get)
	authGroup.PUT("/notes/:id", deps.Notes.Update)
	authGroup.DELETE("/notes/:id", deps.Notes.Delete)

	authGroup.GET("/settings", deps.Settings.Get)
	authGroup.PUT("/settings", deps.Settings.Update)
}
