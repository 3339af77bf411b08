package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/cjdem/grok2api/internal/logging"
)

// RequestLogger logs HTTP requests
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		apiKeyVal, _ := c.Get("api_key")
		modelVal, _ := c.Get("model")
		extras := log.Fields{
			"status":     status,
			"latency_ms": logging.DurationMS(latency),
			"user_agent": c.Request.UserAgent(),
			"method":     method,
			"path":       path,
			"api_key":    maskKey(apiKeyVal),
			"model":      modelVal,
		}
		logging.WithReq(c, extras).Info("http_request")
	}
}

// maskKey keeps only the last four characters of a credential for logs.
func maskKey(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
