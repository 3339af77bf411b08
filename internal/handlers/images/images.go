// Package images streams upstream assets through the gateway so clients
// never hit the upstream CDN directly.
package images

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/cjdem/grok2api/internal/assetproxy"
	"github.com/cjdem/grok2api/internal/config"
	"github.com/cjdem/grok2api/internal/handlers/common"
	"github.com/cjdem/grok2api/internal/upstream/grok"
)

type Handler struct {
	cfg  *config.Manager
	grok *grok.Client
}

func New(cfg *config.Manager, client *grok.Client) *Handler {
	return &Handler{cfg: cfg, grok: client}
}

// Serve handles GET /images/:segment. The segment is an encoded asset
// reference; relative paths resolve against the upstream base URL.
func (h *Handler) Serve(c *gin.Context) {
	segment := c.Param("segment")
	value, isURL, ok := assetproxy.Decode(segment)
	if !ok {
		common.AbortWithError(c, http.StatusNotFound, "invalid_request_error", "unknown asset reference")
		return
	}
	target := value
	if !isURL {
		target = strings.TrimRight(h.cfg.Get().GrokBaseURL, "/") + value
	}

	resp, err := h.grok.FetchAsset(c.Request.Context(), target)
	if err != nil {
		log.WithError(err).WithField("asset", target).Warn("asset fetch failed")
		common.AbortWithError(c, http.StatusBadGateway, "upstream_error", "failed to fetch asset")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		common.AbortWithError(c, http.StatusBadGateway, "upstream_error", "upstream asset request failed")
		return
	}

	header := c.Writer.Header()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		header.Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		header.Set("Content-Length", cl)
	}
	header.Set("Cache-Control", "public, max-age=86400")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		log.WithError(err).Debug("asset stream interrupted")
	}
}
