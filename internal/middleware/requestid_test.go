package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRequestIDRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRequestIDGenerated(t *testing.T) {
	r := newRequestIDRouter()
	w := doGet(r, nil, "/ping")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, w.Header().Get("X-Request-ID"), 32)
}

func TestRequestIDPreserved(t *testing.T) {
	r := newRequestIDRouter()
	w := doGet(r, map[string]string{"X-Request-ID": "rid-abc"}, "/ping")
	require.Equal(t, "rid-abc", w.Header().Get("X-Request-ID"))
}
