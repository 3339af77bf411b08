package server

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cjdem/grok2api/internal/config"
	"github.com/cjdem/grok2api/internal/constants"
	"github.com/cjdem/grok2api/internal/conversation"
	"github.com/cjdem/grok2api/internal/middleware"
)

// StartJanitor launches the background sweep that deletes expired
// conversation records. It runs until ctx is cancelled.
func StartJanitor(ctx context.Context, cfg *config.Manager, store conversation.Store) {
	middleware.SafeGo("conversation-janitor", func() {
		interval := time.Duration(cfg.Get().CleanupIntervalMin) * time.Minute
		if interval <= 0 {
			interval = 30 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx, store)
			}
		}
	})
}

func sweep(ctx context.Context, store conversation.Store) {
	opCtx, cancel := context.WithTimeout(ctx, constants.StoreOpTimeout)
	defer cancel()

	removed, err := store.CleanupExpired(opCtx, constants.ConversationCleanupBatch, time.Now())
	if err != nil {
		log.WithError(err).Warn("conversation cleanup sweep failed")
		return
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("conversation cleanup sweep")
	}
}
