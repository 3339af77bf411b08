package constants

import "time"

const (
	// DefaultDialTimeout bounds TCP connection establishment to upstream.
	DefaultDialTimeout = 10 * time.Second
	// DefaultTLSHandshakeTimeout bounds the TLS handshake to upstream.
	DefaultTLSHandshakeTimeout = 10 * time.Second
	// DefaultResponseHeaderTimeout bounds the wait for upstream response headers.
	DefaultResponseHeaderTimeout = 120 * time.Second
	// DefaultExpectContinueTimeout bounds the 100-continue wait.
	DefaultExpectContinueTimeout = 1 * time.Second
	// BaseMaxIdleConns caps the idle connection pool to upstream.
	BaseMaxIdleConns = 100
	// BaseMaxIdleConnsPerHost caps idle connections per upstream host.
	BaseMaxIdleConnsPerHost = 10
	// UpstreamErrorBodyLimit caps how much of a failed upstream body is kept
	// for error reporting.
	UpstreamErrorBodyLimit = 2048
)
