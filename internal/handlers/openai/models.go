package openai

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cjdem/grok2api/internal/models"
)

// Models serves GET /v1/models.
func (h *Handler) Models(c *gin.Context) {
	created := time.Now().Unix()
	data := make([]gin.H, 0, len(models.List()))
	for _, info := range models.List() {
		data = append(data, gin.H{
			"id":       info.ID,
			"object":   "model",
			"created":  created,
			"owned_by": "grok",
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}
