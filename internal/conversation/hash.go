package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HistoryMessage is the minimal view of a chat message needed for hashing.
type HistoryMessage struct {
	Role    string
	Content string
}

// HistoryHash fingerprints a conversation history so a follow-up request can
// be matched back to its stored upstream conversation. Only system and user
// content with non-empty text participates, system parts first, both in
// arrival order. An empty part list hashes to "".
//
// With excludeLastUser set, the final user part is dropped, but only when the
// history contains at least one assistant message. A first-turn request has
// no assistant reply yet, so its sole user message must stay in the hash.
func HistoryHash(messages []HistoryMessage, excludeLastUser bool) string {
	var systems, users []string
	hasAssistant := false

	for _, msg := range messages {
		text := msg.Content
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system", "developer":
			if text != "" {
				systems = append(systems, "system:"+text)
			}
		case "user":
			if text != "" {
				users = append(users, "user:"+text)
			}
		case "assistant":
			hasAssistant = true
		}
	}

	if excludeLastUser && hasAssistant && len(users) > 0 {
		users = users[:len(users)-1]
	}

	parts := append(systems, users...)
	if len(parts) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

// Scope derives the caller isolation key. Authenticated callers are scoped by
// API key, anonymous ones by client IP. The raw key never appears in storage.
func Scope(apiKey, clientIP string) string {
	if key := strings.TrimSpace(apiKey); key != "" {
		sum := sha256.Sum256([]byte(key))
		return "k:" + hex.EncodeToString(sum[:])
	}
	if clientIP == "" {
		clientIP = "0.0.0.0"
	}
	sum := sha256.Sum256([]byte(clientIP))
	return "ip:" + hex.EncodeToString(sum[:])
}
