package openai

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cjdem/grok2api/internal/handlers/common"
	"github.com/cjdem/grok2api/internal/models"
)

// RateLimits serves GET /v1/rate-limits. With ?model= it queries one model,
// otherwise every registered model. Unusable upstream answers surface as
// known:false rather than an error.
func (h *Handler) RateLimits(c *gin.Context) {
	ctx := c.Request.Context()

	if model := strings.TrimSpace(c.Query("model")); model != "" {
		if _, ok := models.Resolve(model); !ok {
			common.AbortWithError(c, http.StatusNotFound, "invalid_request_error", "model not found: "+model)
			return
		}
		c.JSON(http.StatusOK, gin.H{model: h.grok.FetchRateLimits(ctx, model)})
		return
	}

	out := gin.H{}
	for _, info := range models.List() {
		out[info.ID] = h.grok.FetchRateLimits(ctx, info.ID)
	}
	c.JSON(http.StatusOK, out)
}
