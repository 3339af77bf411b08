// Package streaming converts the upstream NDJSON frame stream into
// OpenAI-style chat completion output, either as live SSE chunks or as one
// collected response.
package streaming

import (
	"strings"
	"time"
)

// Settings bundles the per-request knobs of a stream conversion.
type Settings struct {
	// Model is the client-facing model id echoed in every chunk. A
	// userResponse.model value observed mid-stream replaces it.
	Model string

	ShowThinking bool
	ShowSearch   bool

	// FilteredTags holds lowercase tag names whose tokens are dropped
	// wholesale. Tags owned by the tool-card parser are ignored here.
	FilteredTags []string

	VideoPosterPreview bool

	// ProxyBaseURL prefixes rewritten asset links (<base>/images/<encoded>).
	ProxyBaseURL string

	// Timeouts; zero disables the bound.
	FirstChunkTimeout time.Duration
	ChunkTimeout      time.Duration
	TotalTimeout      time.Duration
}

// Meta carries the upstream conversation cursor discovered while streaming.
type Meta struct {
	GrokConversationID string
	LastResponseID     string
}

// FinishResult is handed to OnFinish exactly once per stream.
type FinishResult struct {
	Status   int
	Duration time.Duration
	Meta     Meta
}

// Hooks are optional callbacks invoked inline from the stream goroutine.
// They must not block for long and must not be re-entrant.
type Hooks struct {
	OnMeta   func(Meta)
	OnFinish func(FinishResult)
}

// ParseFilteredTags splits the config CSV into normalised tag names.
func ParseFilteredTags(csv string) []string {
	var tags []string
	for _, part := range strings.Split(csv, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Tags consumed by the tool-card parser. Filtering these would shred a card
// before the parser ever sees it.
var parserOwnedTags = map[string]bool{
	"xai:tool_usage_card": true,
	"xai:tool_name":       true,
}

// tokenFiltered reports whether the token matches any filtered tag.
func tokenFiltered(token string, tags []string) bool {
	if token == "" || len(tags) == 0 {
		return false
	}
	low := strings.ToLower(token)
	for _, tag := range tags {
		if parserOwnedTags[tag] {
			continue
		}
		if strings.Contains(low, tag) {
			return true
		}
	}
	return false
}

// emptyUpstreamHint is surfaced when the upstream closed without producing
// any usable content.
const emptyUpstreamHint = "上游未返回可用内容"
