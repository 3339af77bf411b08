package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/cjdem/grok2api/internal/logging"
)

var logUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens before the upgrade; cross-origin tails are allowed.
	CheckOrigin: func(*http.Request) bool { return true },
}

// LogsWS serves GET /api/management/logs/ws as a live log tail.
func (h *Handler) LogsWS(c *gin.Context) {
	conn, err := logUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Debug("log tail upgrade failed")
		return
	}

	wsl := logging.GetWSLogger()
	if err := wsl.AddClient(conn); err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		conn.Close()
		return
	}

	// Drain client frames until the peer goes away.
	go func() {
		defer wsl.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// LogsFetch serves GET /api/management/logs as a cursor-polled history view
// for clients that cannot hold a WebSocket.
func (h *Handler) LogsFetch(c *gin.Context) {
	cursor, _ := strconv.ParseUint(c.Query("cursor"), 10, 64)
	limit := queryInt(c, "limit", 100)

	messages, next, more := logging.GetWSLogger().FetchSince(cursor, limit)
	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"cursor":   next,
		"more":     more,
	})
}
