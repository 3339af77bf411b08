package logging

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WebSocketLogger broadcasts log messages to connected WebSocket clients.
// The management UI uses it as a live log tail.
type WebSocketLogger struct {
	clients         map[*websocket.Conn]*clientInfo
	broadcast       chan LogMessage
	mu              sync.RWMutex
	stopCh          chan struct{}
	history         []LogMessage
	historyMu       sync.RWMutex
	seq             uint64
	historyCap      int
	maxConnections  int
	idleTimeout     time.Duration
	cleanupInterval time.Duration
}

type clientInfo struct {
	conn         *websocket.Conn
	lastActivity time.Time
	connected    time.Time
}

// LogMessage represents a single broadcast log record.
type LogMessage struct {
	ID        uint64                 `json:"id,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var (
	globalWSLogger *WebSocketLogger
	wsLoggerOnce   sync.Once
)

// ErrMaxConnectionsReached is returned when the client limit is hit.
var ErrMaxConnectionsReached = errors.New("maximum WebSocket connections reached")

// GetWSLogger returns the global WebSocket logger instance.
func GetWSLogger() *WebSocketLogger {
	wsLoggerOnce.Do(func() {
		globalWSLogger = NewWebSocketLogger()
		globalWSLogger.Start()
	})
	return globalWSLogger
}

// NewWebSocketLogger creates a new WebSocket logger.
func NewWebSocketLogger() *WebSocketLogger {
	return &WebSocketLogger{
		clients:         make(map[*websocket.Conn]*clientInfo),
		broadcast:       make(chan LogMessage, 100),
		stopCh:          make(chan struct{}),
		history:         make([]LogMessage, 0, 500),
		historyCap:      500,
		maxConnections:  100,
		idleTimeout:     30 * time.Minute,
		cleanupInterval: 2 * time.Minute,
	}
}

// Start launches the broadcast and idle-cleanup goroutines.
func (wsl *WebSocketLogger) Start() {
	go func() {
		for {
			select {
			case message := <-wsl.broadcast:
				wsl.mu.RLock()
				for conn, info := range wsl.clients {
					go func(c *websocket.Conn, msg LogMessage) {
						if err := c.WriteJSON(msg); err != nil {
							log.Debugf("Error writing to WebSocket client: %v", err)
							wsl.RemoveClient(c)
						}
					}(conn, message)
					info.lastActivity = time.Now()
				}
				wsl.mu.RUnlock()
			case <-wsl.stopCh:
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsl.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				wsl.cleanupDeadConnections()
			case <-wsl.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the logger and closes all client connections.
func (wsl *WebSocketLogger) Stop() {
	close(wsl.stopCh)

	wsl.mu.Lock()
	defer wsl.mu.Unlock()
	for conn := range wsl.clients {
		conn.Close()
	}
	wsl.clients = make(map[*websocket.Conn]*clientInfo)
}

// AddClient registers a WebSocket client.
func (wsl *WebSocketLogger) AddClient(conn *websocket.Conn) error {
	wsl.mu.Lock()
	defer wsl.mu.Unlock()

	if len(wsl.clients) >= wsl.maxConnections {
		log.Warnf("WebSocket connection limit reached (%d), rejecting new connection", wsl.maxConnections)
		return ErrMaxConnectionsReached
	}

	now := time.Now()
	wsl.clients[conn] = &clientInfo{conn: conn, lastActivity: now, connected: now}
	log.Infof("WebSocket client connected (total: %d)", len(wsl.clients))
	return nil
}

// RemoveClient removes a WebSocket client.
func (wsl *WebSocketLogger) RemoveClient(conn *websocket.Conn) {
	wsl.mu.Lock()
	defer wsl.mu.Unlock()

	if _, exists := wsl.clients[conn]; exists {
		delete(wsl.clients, conn)
		conn.Close()
		log.Infof("WebSocket client disconnected (remaining: %d)", len(wsl.clients))
	}
}

func (wsl *WebSocketLogger) cleanupDeadConnections() {
	wsl.mu.Lock()
	defer wsl.mu.Unlock()

	now := time.Now()
	var toRemove []*websocket.Conn
	for conn, info := range wsl.clients {
		if now.Sub(info.lastActivity) > wsl.idleTimeout {
			toRemove = append(toRemove, conn)
		}
	}
	for _, conn := range toRemove {
		delete(wsl.clients, conn)
		conn.Close()
	}
	if len(toRemove) > 0 {
		log.Infof("Cleaned up %d idle WebSocket connections (remaining: %d)", len(toRemove), len(wsl.clients))
	}
}

// ConnectionCount returns the current number of connected clients.
func (wsl *WebSocketLogger) ConnectionCount() int {
	wsl.mu.RLock()
	defer wsl.mu.RUnlock()
	return len(wsl.clients)
}

// BroadcastLog broadcasts a log message to all connected clients.
func (wsl *WebSocketLogger) BroadcastLog(level, message string, fields map[string]interface{}) {
	id := atomic.AddUint64(&wsl.seq, 1)
	logMsg := LogMessage{
		ID:        id,
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Fields:    fields,
	}

	wsl.appendHistory(logMsg)

	select {
	case wsl.broadcast <- logMsg:
	default:
		// Channel full, drop message.
	}
}

func (wsl *WebSocketLogger) appendHistory(msg LogMessage) {
	if wsl.historyCap <= 0 {
		return
	}
	wsl.historyMu.Lock()
	defer wsl.historyMu.Unlock()
	wsl.history = append(wsl.history, msg)
	if len(wsl.history) > wsl.historyCap {
		excess := len(wsl.history) - wsl.historyCap
		wsl.history = append([]LogMessage(nil), wsl.history[excess:]...)
	}
}

// FetchSince returns log messages newer than the provided cursor ID.
func (wsl *WebSocketLogger) FetchSince(cursor uint64, limit int) ([]LogMessage, uint64, bool) {
	wsl.historyMu.RLock()
	defer wsl.historyMu.RUnlock()

	if limit <= 0 || limit > wsl.historyCap {
		limit = wsl.historyCap
	}

	total := len(wsl.history)
	if total == 0 {
		return []LogMessage{}, cursor, false
	}

	start := 0
	if cursor == 0 {
		if total > limit {
			start = total - limit
		}
	} else {
		start = total
		for i, msg := range wsl.history {
			if msg.ID > cursor {
				start = i
				break
			}
		}
		if start >= total {
			return []LogMessage{}, cursor, false
		}
	}

	end := start + limit
	if end > total {
		end = total
	}

	out := make([]LogMessage, end-start)
	copy(out, wsl.history[start:end])

	nextCursor := cursor
	if len(out) > 0 {
		nextCursor = out[len(out)-1].ID
	}
	return out, nextCursor, end < total
}

// LogrusHook is a logrus hook that broadcasts to WebSocket clients.
type LogrusHook struct {
	wsLogger *WebSocketLogger
}

// NewLogrusHook creates a new logrus hook for WebSocket broadcasting.
func NewLogrusHook() *LogrusHook {
	return &LogrusHook{wsLogger: GetWSLogger()}
}

// Levels returns the log levels this hook will fire for.
func (hook *LogrusHook) Levels() []log.Level {
	return log.AllLevels
}

// Fire is called when a log event occurs.
func (hook *LogrusHook) Fire(entry *log.Entry) error {
	fields := make(map[string]interface{})
	for k, v := range entry.Data {
		fields[k] = v
	}
	hook.wsLogger.BroadcastLog(entry.Level.String(), entry.Message, fields)
	return nil
}

// InstallWebSocketLogging installs the WebSocket logging hook.
func InstallWebSocketLogging() {
	log.AddHook(NewLogrusHook())
	log.Info("WebSocket logging installed")
}
