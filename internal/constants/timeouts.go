package constants

import "time"

const (
	// DefaultFirstChunkTimeout bounds the wait for the first parsed upstream frame.
	DefaultFirstChunkTimeout = 30 * time.Second
	// DefaultChunkTimeout bounds idle time between upstream frames after the first.
	DefaultChunkTimeout = 60 * time.Second
	// DefaultTotalTimeout bounds total wall-clock time of one upstream stream.
	DefaultTotalTimeout = 300 * time.Second
	// UpstreamRequestTimeout enforces max duration for non-stream upstream calls.
	UpstreamRequestTimeout = 120 * time.Second
	// StoreOpTimeout bounds individual conversation store operations.
	StoreOpTimeout = 5 * time.Second
	// ServerShutdownTimeout bounds graceful HTTP server shutdown.
	ServerShutdownTimeout = 30 * time.Second
	// ServerGracefulWait defines post-shutdown wait window for cleanup.
	ServerGracefulWait = 2 * time.Second
	// ConversationCleanupBatch is the per-sweep cap on expired row deletion.
	ConversationCleanupBatch = 200
)
