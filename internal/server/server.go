// Package server assembles the gin engine: middleware chain, public API
// routes, the asset proxy and the management surface.
package server

import (
	"github.com/gin-gonic/gin"

	"github.com/cjdem/grok2api/internal/config"
	"github.com/cjdem/grok2api/internal/conversation"
	"github.com/cjdem/grok2api/internal/handlers/images"
	"github.com/cjdem/grok2api/internal/handlers/management"
	"github.com/cjdem/grok2api/internal/handlers/openai"
	"github.com/cjdem/grok2api/internal/logging"
	"github.com/cjdem/grok2api/internal/middleware"
	"github.com/cjdem/grok2api/internal/upstream/grok"
)

// Dependencies are the runtime services the routes need.
type Dependencies struct {
	Store conversation.Store
	Grok  *grok.Client
}

// BuildEngine constructs the HTTP engine.
func BuildEngine(cfg *config.Manager, deps Dependencies) *gin.Engine {
	snap := cfg.Get()
	if snap.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	if snap.RequestLog {
		engine.Use(middleware.RequestLogger())
	}
	engine.Use(middleware.CORS())
	if snap.RateLimitEnabled {
		engine.Use(middleware.RateLimiter(snap.RateLimitRPS, snap.RateLimitBurst))
	}

	logging.InstallWebSocketLogging()

	oh := openai.New(cfg, deps.Store, deps.Grok)
	ih := images.New(cfg, deps.Grok)
	mh := management.New(cfg, deps.Store, deps.Grok)

	engine.GET("/health", mh.Health)
	engine.GET("/images/:segment", ih.Serve)

	v1 := engine.Group("/v1", middleware.APIKeyAuth(cfg))
	v1.POST("/chat/completions", oh.ChatCompletions)
	v1.GET("/models", oh.Models)
	v1.GET("/rate-limits", oh.RateLimits)

	mgmt := engine.Group("/api/management", middleware.ManagementAuth(cfg))
	mgmt.GET("/conversations/stats", mh.Stats)
	mgmt.POST("/conversations/cleanup", mh.Cleanup)
	mgmt.DELETE("/conversations/:id", mh.DeleteConversation)
	mgmt.POST("/share-links/:id/clone", mh.CloneShare)
	mgmt.POST("/conversations/:id/share", mh.Share)
	mgmt.POST("/bootstrap", mh.Bootstrap)
	mgmt.GET("/logs", mh.LogsFetch)
	mgmt.GET("/logs/ws", mh.LogsWS)

	return engine
}
