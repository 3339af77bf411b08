// Package openai exposes the OpenAI-compatible surface: chat completions
// (stream and collected), model listing and the rate-limit view.
package openai

import (
	"github.com/cjdem/grok2api/internal/config"
	"github.com/cjdem/grok2api/internal/conversation"
	"github.com/cjdem/grok2api/internal/upstream/grok"
)

// Handler carries the shared collaborators of the OpenAI routes.
type Handler struct {
	cfg   *config.Manager
	store conversation.Store
	grok  *grok.Client
}

// New wires a handler.
func New(cfg *config.Manager, store conversation.Store, client *grok.Client) *Handler {
	return &Handler{cfg: cfg, store: store, grok: client}
}
