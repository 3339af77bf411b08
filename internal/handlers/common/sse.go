package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PrepareSSE sets the response headers for an event stream and returns the
// flusher when the writer supports it.
func PrepareSSE(c *gin.Context) http.Flusher {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	return flusher
}

// SSEWriteDone writes the [DONE] marker commonly used for SSE endings.
func SSEWriteDone(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := w.Write([]byte("data: [DONE]\n\n")); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
