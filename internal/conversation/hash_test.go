package conversation

import (
	"strings"
	"testing"
)

func TestHistoryHashFirstTurnKeepsOnlyUserMessage(t *testing.T) {
	t.Parallel()
	msgs := []HistoryMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}
	// No assistant reply yet, so excludeLastUser must be a no-op.
	if HistoryHash(msgs, true) != HistoryHash(msgs, false) {
		t.Fatal("excludeLastUser dropped the only user message on first turn")
	}
}

func TestHistoryHashExcludesLastUserAfterAssistantReply(t *testing.T) {
	t.Parallel()
	base := []HistoryMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
	extended := append(append([]HistoryMessage{}, base...), HistoryMessage{Role: "user", Content: "more"})

	// Hash of the prior turns must match the follow-up request with its last
	// user message excluded.
	if HistoryHash(base, false) != HistoryHash(extended, true) {
		t.Fatal("follow-up hash does not match stored hash")
	}
	if HistoryHash(extended, false) == HistoryHash(extended, true) {
		t.Fatal("excludeLastUser had no effect")
	}
}

func TestHistoryHashIgnoresAssistantContent(t *testing.T) {
	t.Parallel()
	a := []HistoryMessage{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "answer one"},
	}
	b := []HistoryMessage{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "answer two"},
	}
	if HistoryHash(a, false) != HistoryHash(b, false) {
		t.Fatal("assistant content leaked into the hash")
	}
}

func TestHistoryHashSystemPartsComeFirst(t *testing.T) {
	t.Parallel()
	a := []HistoryMessage{
		{Role: "user", Content: "u"},
		{Role: "system", Content: "s"},
	}
	b := []HistoryMessage{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "u"},
	}
	if HistoryHash(a, false) != HistoryHash(b, false) {
		t.Fatal("system reordering changed the hash")
	}
}

func TestHistoryHashKnownDigest(t *testing.T) {
	t.Parallel()
	msgs := []HistoryMessage{
		{Role: "system", Content: "S"},
		{Role: "user", Content: "U1"},
		{Role: "assistant", Content: "A1"},
		{Role: "user", Content: "U2"},
	}
	const want = "0f415260ee21aaaaf1121073798ae7fdfd454160d1a99d53b3f7eceb7f3c3916"
	if got := HistoryHash(msgs, true); got != want {
		t.Fatalf("hash = %s, want %s", got, want)
	}
	prefix := []HistoryMessage{
		{Role: "system", Content: "S"},
		{Role: "user", Content: "U1"},
	}
	if got := HistoryHash(prefix, false); got != want {
		t.Fatalf("prefix hash = %s, want %s", got, want)
	}
}

func TestHistoryHashEmpty(t *testing.T) {
	t.Parallel()
	if got := HistoryHash(nil, false); got != "" {
		t.Fatalf("empty history hash = %q", got)
	}
	if got := HistoryHash([]HistoryMessage{{Role: "assistant", Content: "a"}}, false); got != "" {
		t.Fatalf("assistant-only hash = %q", got)
	}
}

func TestScope(t *testing.T) {
	t.Parallel()
	keyed := Scope("sk-abc", "1.2.3.4")
	if !strings.HasPrefix(keyed, "k:") {
		t.Fatalf("keyed scope = %q", keyed)
	}
	if keyed != Scope("sk-abc", "9.9.9.9") {
		t.Fatal("api key scope must ignore client IP")
	}
	if strings.Contains(keyed, "sk-abc") {
		t.Fatal("raw api key leaked into scope")
	}

	anon := Scope("", "1.2.3.4")
	if !strings.HasPrefix(anon, "ip:") {
		t.Fatalf("anonymous scope = %q", anon)
	}
	if Scope("", "") != Scope("", "0.0.0.0") {
		t.Fatal("empty IP must fall back to 0.0.0.0")
	}
}

func TestScopeTrimsAPIKey(t *testing.T) {
	t.Parallel()
	if Scope(" sk-abc ", "1.2.3.4") != Scope("sk-abc", "1.2.3.4") {
		t.Fatal("surrounding whitespace must not change the key scope")
	}
	if !strings.HasPrefix(Scope("   ", "1.2.3.4"), "ip:") {
		t.Fatal("whitespace-only key must fall back to the IP scope")
	}
}
