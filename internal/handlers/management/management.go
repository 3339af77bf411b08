// Package management exposes the operational surface: store statistics,
// cleanup triggers, session operations, account bootstrap and the live log
// tail. Every route sits behind the management key.
package management

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/cjdem/grok2api/internal/config"
	"github.com/cjdem/grok2api/internal/constants"
	"github.com/cjdem/grok2api/internal/conversation"
	"github.com/cjdem/grok2api/internal/handlers/common"
	"github.com/cjdem/grok2api/internal/upstream/grok"
	"github.com/cjdem/grok2api/internal/version"
)

type Handler struct {
	cfg   *config.Manager
	store conversation.Store
	grok  *grok.Client
}

func New(cfg *config.Manager, store conversation.Store, client *grok.Client) *Handler {
	return &Handler{cfg: cfg, store: store, grok: client}
}

// Health serves GET /health. Unauthenticated.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}

// Stats serves GET /api/management/conversations/stats.
func (h *Handler) Stats(c *gin.Context) {
	topN := queryInt(c, "top", 10)
	stats, err := h.store.Stats(c.Request.Context(), topN, time.Now())
	if err != nil {
		common.AbortWithError(c, http.StatusInternalServerError, "server_error", "stats query failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Cleanup serves POST /api/management/conversations/cleanup.
func (h *Handler) Cleanup(c *gin.Context) {
	limit := queryInt(c, "limit", constants.ConversationCleanupBatch)
	removed, err := h.store.CleanupExpired(c.Request.Context(), limit, time.Now())
	if err != nil {
		common.AbortWithError(c, http.StatusInternalServerError, "server_error", "cleanup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// DeleteConversation serves DELETE /api/management/conversations/:id.
// The owning scope arrives as a query parameter since management calls are
// not bound to a caller scope of their own.
func (h *Handler) DeleteConversation(c *gin.Context) {
	scope := c.Query("scope")
	if scope == "" {
		common.AbortWithError(c, http.StatusBadRequest, "invalid_request_error", "scope query parameter is required")
		return
	}
	if err := h.store.DeleteByID(c.Request.Context(), scope, c.Param("id")); err != nil {
		common.AbortWithError(c, http.StatusInternalServerError, "server_error", "delete failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// CloneShare serves POST /api/management/share-links/:id/clone.
func (h *Handler) CloneShare(c *gin.Context) {
	res, err := h.grok.CloneShareLink(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.WithError(err).Warn("share link clone failed")
		common.AbortWithError(c, http.StatusBadGateway, "upstream_error", "clone failed: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversationId": res.ConversationID,
		"lastResponseId": res.LastResponseID,
	})
}

// Share serves POST /api/management/conversations/:id/share.
func (h *Handler) Share(c *gin.Context) {
	var body struct {
		ResponseID string `json:"responseId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ResponseID == "" {
		common.AbortWithError(c, http.StatusBadRequest, "invalid_request_error", "responseId is required")
		return
	}
	id, err := h.grok.ShareConversation(c.Request.Context(), c.Param("id"), body.ResponseID)
	if err != nil {
		common.AbortWithError(c, http.StatusBadGateway, "upstream_error", "share failed: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"shareLinkId": id})
}

// Bootstrap serves POST /api/management/bootstrap and runs the anonymous
// account flow. The step records are returned regardless of outcome.
func (h *Handler) Bootstrap(c *gin.Context) {
	res := h.grok.BootstrapAccount(c.Request.Context())
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusBadGateway
	}
	c.JSON(status, res)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
