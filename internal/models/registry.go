// Package models maps client-facing model ids onto upstream Grok models and
// the per-variant streaming behavior (reasoning trace, search trace, image
// generation) each one implies.
package models

import "strings"

// Info describes one exposed model variant.
type Info struct {
	ID             string
	UpstreamModel  string
	RequestKind    string
	RateLimitAlias string
	ShowThinking   bool
	ShowSearch     bool
	ImageGen       bool
}

// Request kinds understood by the upstream rate-limit surface.
const (
	KindDefault    = "DEFAULT"
	KindReasoning  = "REASONING"
	KindDeepSearch = "DEEPSEARCH"
)

var registry = []Info{
	{ID: "grok-3", UpstreamModel: "grok-3", RequestKind: KindDefault, RateLimitAlias: "grok-3"},
	{ID: "grok-3-think", UpstreamModel: "grok-3", RequestKind: KindReasoning, RateLimitAlias: "grok-3", ShowThinking: true},
	{ID: "grok-3-search", UpstreamModel: "grok-3", RequestKind: KindDeepSearch, RateLimitAlias: "grok-3", ShowThinking: true, ShowSearch: true},
	{ID: "grok-3-imageGen", UpstreamModel: "grok-3", RequestKind: KindDefault, RateLimitAlias: "grok-3", ImageGen: true},
	{ID: "grok-4", UpstreamModel: "grok-4", RequestKind: KindDefault, RateLimitAlias: "grok-4"},
	{ID: "grok-4-think", UpstreamModel: "grok-4", RequestKind: KindReasoning, RateLimitAlias: "grok-4", ShowThinking: true},
	{ID: "grok-4-search", UpstreamModel: "grok-4", RequestKind: KindDeepSearch, RateLimitAlias: "grok-4", ShowThinking: true, ShowSearch: true},
	{ID: "grok-4-imageGen", UpstreamModel: "grok-4", RequestKind: KindDefault, RateLimitAlias: "grok-4", ImageGen: true},
}

var byID = func() map[string]Info {
	m := make(map[string]Info, len(registry))
	for _, info := range registry {
		m[strings.ToLower(info.ID)] = info
	}
	return m
}()

// Resolve looks up a model by client-facing id (case-insensitive).
func Resolve(id string) (Info, bool) {
	info, ok := byID[strings.ToLower(strings.TrimSpace(id))]
	return info, ok
}

// List returns all exposed models in registry order.
func List() []Info {
	out := make([]Info, len(registry))
	copy(out, registry)
	return out
}

// RateLimitAlias returns the upstream rate-limit bucket name for a model id.
// Unknown ids map onto themselves so the normaliser still has tokens to work
// with.
func RateLimitAlias(id string) string {
	if info, ok := Resolve(id); ok {
		return info.RateLimitAlias
	}
	return id
}
