package constants

const (
	// StreamScannerInitialBufferSize defines the initial buffer for NDJSON scanners (64KB).
	StreamScannerInitialBufferSize = 64 * 1024
	// StreamScannerMaxBufferSize defines the max buffer size for NDJSON scanners (4MB).
	StreamScannerMaxBufferSize = 4 * 1024 * 1024
	// GrpcWebTextSniffLimit bounds how many leading bytes are inspected by the
	// base64-text heuristic.
	GrpcWebTextSniffLimit = 1024
	// ToolCardTailWindow is how far back a partial "<xai:" opener is searched
	// when deciding what to retain across chunk boundaries.
	ToolCardTailWindow = 64
)
