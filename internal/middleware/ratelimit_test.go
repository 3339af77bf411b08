package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newLimitedRouter(rps, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(rps, burst))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	r := newLimitedRouter(1, 1)

	w := doGet(r, map[string]string{"x-api-key": "caller-a"}, "/ping")
	require.Equal(t, http.StatusOK, w.Code)

	w = doGet(r, map[string]string{"x-api-key": "caller-a"}, "/ping")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "rate_limit_error")
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	r := newLimitedRouter(1, 1)

	w := doGet(r, map[string]string{"x-api-key": "caller-a"}, "/ping")
	require.Equal(t, http.StatusOK, w.Code)

	w = doGet(r, map[string]string{"x-api-key": "caller-b"}, "/ping")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterFallsBackToIP(t *testing.T) {
	r := newLimitedRouter(1, 1)

	w := doGet(r, nil, "/ping")
	require.Equal(t, http.StatusOK, w.Code)

	w = doGet(r, nil, "/ping")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}
