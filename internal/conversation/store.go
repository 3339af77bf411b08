// Package conversation persists the mapping between client-facing
// conversation ids and upstream Grok conversations, keyed by a caller scope
// so one caller can never resume another caller's conversation.
package conversation

import (
	"context"
	"time"
)

// Record is one stored conversation mapping. All timestamps are epoch
// milliseconds; ExpiresAt of zero means the record never expires.
type Record struct {
	Scope                string `json:"scope"`
	OpenAIConversationID string `json:"openai_conversation_id"`
	GrokConversationID   string `json:"grok_conversation_id"`
	LastResponseID       string `json:"last_response_id"`
	ShareLinkID          string `json:"share_link_id"`
	Token                string `json:"token"`
	HistoryHash          string `json:"history_hash"`
	CreatedAt            int64  `json:"created_at"`
	UpdatedAt            int64  `json:"updated_at"`
	ExpiresAt            int64  `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at the given time.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt > 0 && r.ExpiresAt <= now.UnixMilli()
}

// TokenCount is one entry of the per-token usage leaderboard.
type TokenCount struct {
	// TokenSuffix is the last 6 characters of the token, never the full value.
	TokenSuffix string `json:"token_suffix"`
	Count       int    `json:"count"`
}

// Stats summarises the store contents for the management surface.
type Stats struct {
	ActiveTotal  int          `json:"active_total"`
	ExpiredTotal int          `json:"expired_total"`
	TopTokens    []TokenCount `json:"top_tokens"`
}

// Store is the conversation persistence interface. Lookups that miss return
// (nil, nil); errors are reserved for backend failures. Reads purge expired
// records as a side effect so callers never observe stale mappings.
type Store interface {
	// Upsert inserts or replaces the record keyed by
	// (Scope, OpenAIConversationID). CreatedAt of an existing record wins.
	Upsert(ctx context.Context, rec *Record) error

	// GetByID returns the record, or nil when absent or expired. An expired
	// record is deleted before returning nil.
	GetByID(ctx context.Context, scope, id string, now time.Time) (*Record, error)

	// FindByHistoryHash purges expired records in the scope, then returns the
	// most recently updated live record carrying the hash, or nil.
	FindByHistoryHash(ctx context.Context, scope, hash string, now time.Time) (*Record, error)

	// DeleteByID removes a record. Deleting a missing record is not an error.
	DeleteByID(ctx context.Context, scope, id string) error

	// CleanupExpired removes up to limit expired records, oldest expiry
	// first, and returns how many were removed. limit is clamped to [1,500].
	CleanupExpired(ctx context.Context, limit int, now time.Time) (int, error)

	// TrimForToken keeps the newest keep records for (scope, token) and
	// deletes the rest, returning how many were removed.
	TrimForToken(ctx context.Context, scope, token string, keep int) (int, error)

	// Stats reports live/expired totals and the topN busiest tokens.
	Stats(ctx context.Context, topN int, now time.Time) (Stats, error)

	Close() error
}

const (
	cleanupLimitMin = 1
	cleanupLimitMax = 500
)

func clampCleanupLimit(limit int) int {
	if limit < cleanupLimitMin {
		return cleanupLimitMin
	}
	if limit > cleanupLimitMax {
		return cleanupLimitMax
	}
	return limit
}

// tokenSuffix masks a token down to its last 6 characters.
func tokenSuffix(token string) string {
	if len(token) <= 6 {
		return token
	}
	return token[len(token)-6:]
}
