// Package ratelimit mines per-model remaining/reset values out of the
// upstream rate-limit responses. The upstream payload shape changes between
// deployments and models, so extraction is a tolerant scoring walk rather
// than a fixed schema.
package ratelimit

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cjdem/grok2api/internal/models"
)

// Result is the normalised view of one model's rate-limit state.
type Result struct {
	Known     bool   `json:"known"`
	Remaining *int64 `json:"remaining"`
	ResetAt   *int64 `json:"reset_at"` // epoch milliseconds
}

// Unknown is the result for unusable responses (non-200, empty, junk).
func Unknown() Result { return Result{} }

const (
	maxDepth         = 8
	priorityStep     = 5
	nestedHitBoost   = 4
	scoreAliasExact  = 120
	scoreAliasSubstr = 70
	scoreTokenExact  = 45
	scoreTokenSubstr = 25
)

var baseRemainingKeys = []string{
	"remainingtokens", "remainingqueries", "remaining", "quota",
	"left", "available", "balance", "credits",
}

var baseResetKeys = []string{
	"resetat", "resettime", "retryafter", "timeuntilreset",
	"cooldownuntil", "nextreset", "reset", "waitseconds",
}

var hintKeys = map[string]bool{
	"model": true, "name": true, "bucket": true, "modelname": true,
	"kind": true, "id": true,
}

type strategy struct {
	aliases    map[string]bool
	tokens     []string
	remaining  map[string]int // normalised key -> rank score
	reset      map[string]int
}

type candidate struct {
	value int64
	score float64
	set   bool
}

func (c *candidate) offer(value int64, score float64) {
	if !c.set || score > c.score {
		c.value = value
		c.score = score
		c.set = true
	}
}

// Normalize extracts (remaining, resetAt) for the given model from an
// arbitrary JSON payload. now anchors relative reset interpretations.
func Normalize(model string, payload []byte, now time.Time) Result {
	parsed := gjson.ParseBytes(payload)
	if !parsed.Exists() || (!parsed.IsObject() && !parsed.IsArray()) {
		return Unknown()
	}

	st := buildStrategy(model)
	w := &walker{st: st, now: now}
	w.walk(parsed, 0, walkCtx{})

	res := Result{}
	if w.remaining.set {
		v := w.remaining.value
		res.Remaining = &v
	}
	if w.reset.set {
		v := w.reset.value
		res.ResetAt = &v
	}
	res.Known = res.Remaining != nil || res.ResetAt != nil
	return res
}

func buildStrategy(model string) *strategy {
	aliases := map[string]bool{}
	if n := normalizeKey(model); n != "" {
		aliases[n] = true
	}
	if n := normalizeKey(models.RateLimitAlias(model)); n != "" {
		aliases[n] = true
	}

	seen := map[string]bool{}
	var tokens []string
	for _, src := range []string{model, models.RateLimitAlias(model)} {
		for _, tok := range alphaTokens(src) {
			if len(tok) >= 2 && !seen[tok] {
				seen[tok] = true
				tokens = append(tokens, tok)
			}
		}
	}

	return &strategy{
		aliases:   aliases,
		tokens:    tokens,
		remaining: buildPriorities(tokens, baseRemainingKeys),
		reset:     buildPriorities(tokens, baseResetKeys),
	}
}

// buildPriorities prefixes and suffixes every model token onto the base key
// set, then appends the base set itself. Earlier entries score higher.
func buildPriorities(tokens, base []string) map[string]int {
	var ordered []string
	for _, tok := range tokens {
		for _, key := range base {
			ordered = append(ordered, tok+key, key+tok)
		}
	}
	ordered = append(ordered, base...)

	ranks := map[string]int{}
	n := len(ordered)
	for i, key := range ordered {
		if _, dup := ranks[key]; !dup {
			ranks[key] = (n - i) * priorityStep
		}
	}
	return ranks
}

type walkCtx struct {
	remInherit   float64
	resetInherit float64
	nested       bool // below a priority-matched key
}

type walker struct {
	st        *strategy
	now       time.Time
	remaining candidate
	reset     candidate
}

func (w *walker) walk(node gjson.Result, depth int, ctx walkCtx) {
	if depth > maxDepth {
		return
	}
	if node.IsArray() {
		node.ForEach(func(_, item gjson.Result) bool {
			w.walk(item, depth+1, ctx)
			return true
		})
		return
	}
	if !node.IsObject() {
		return
	}

	hinted := w.objectHinted(node)
	if hinted {
		// A sibling like {"model": "grok-3"} marks the whole object as
		// belonging to the requested model.
		ctx.remInherit += scoreAliasExact
		ctx.resetInherit += scoreAliasExact
	}

	node.ForEach(func(key, value gjson.Result) bool {
		nk := normalizeKey(key.String())
		ks := w.keyScore(nk)
		if hinted {
			ks *= 2
		}

		remRank := w.rank(w.st.remaining, nk, ctx.nested)
		resetRank := w.rank(w.st.reset, nk, ctx.nested)

		switch {
		case value.IsObject() || value.IsArray():
			child := walkCtx{
				remInherit:   ctx.remInherit + ks,
				resetInherit: ctx.resetInherit + ks,
				nested:       ctx.nested,
			}
			if remRank > 0 {
				child.remInherit += float64(remRank)
				child.nested = true
			}
			if resetRank > 0 {
				child.resetInherit += float64(resetRank)
				child.nested = true
			}
			w.walk(value, depth+1, child)
		default:
			w.offerScalar(nk, value, ks, remRank, resetRank, ctx)
		}
		return true
	})
}

func (w *walker) offerScalar(nk string, value gjson.Result, ks float64, remRank, resetRank int, ctx walkCtx) {
	if n, ok := numericValue(value); ok {
		score := ctx.remInherit + ks
		if remRank > 0 {
			score += float64(remRank)
		}
		if score > 0 && resetRank == 0 && !resetHinted(nk) {
			w.remaining.offer(int64(n), score)
		}
	}

	if ms, ok := w.resetValue(nk, value); ok {
		score := ctx.resetInherit + ks
		if resetRank > 0 {
			score += float64(resetRank)
		}
		if resetRank > 0 || resetHinted(nk) || ctx.resetInherit > 0 {
			if score <= 0 {
				score = 1
			}
			w.reset.offer(ms, score)
		}
	}
}

// rank returns the priority score of a key, quadrupled when the walk is
// already inside a priority-matched subtree.
func (w *walker) rank(priorities map[string]int, nk string, nested bool) int {
	r := priorities[nk]
	if nested {
		r *= nestedHitBoost
	}
	return r
}

func (w *walker) keyScore(nk string) float64 {
	if nk == "" {
		return 0
	}
	best := 0.0
	for alias := range w.st.aliases {
		if nk == alias {
			best = maxf(best, scoreAliasExact)
		} else if strings.Contains(nk, alias) {
			best = maxf(best, scoreAliasSubstr)
		}
	}
	for _, tok := range w.st.tokens {
		if nk == tok {
			best = maxf(best, scoreTokenExact)
		} else if strings.Contains(nk, tok) {
			best = maxf(best, scoreTokenSubstr)
		}
	}
	return best
}

// objectHinted reports whether a sibling key like {"model": "grok-3"}
// identifies this object as belonging to the requested model.
func (w *walker) objectHinted(node gjson.Result) bool {
	hinted := false
	node.ForEach(func(key, value gjson.Result) bool {
		if !hintKeys[normalizeKey(key.String())] {
			return true
		}
		if value.Type != gjson.String {
			return true
		}
		nv := normalizeKey(value.String())
		for alias := range w.st.aliases {
			if nv == alias || strings.Contains(nv, alias) {
				hinted = true
				return false
			}
		}
		return true
	})
	return hinted
}

// resetValue interprets a scalar as a reset timestamp in epoch ms, guided by
// the key name it was found under.
func (w *walker) resetValue(nk string, value gjson.Result) (int64, bool) {
	if value.Type == gjson.String {
		s := strings.TrimSpace(value.String())
		if s == "" {
			return 0, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UnixMilli(), true
			}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return w.numericReset(nk, n), true
		}
		return 0, false
	}
	if n, ok := numericValue(value); ok {
		return w.numericReset(nk, n), true
	}
	return 0, false
}

func (w *walker) numericReset(nk string, n float64) int64 {
	switch {
	case strings.Contains(nk, "retryafter") || strings.Contains(nk, "untilreset") || strings.Contains(nk, "seconds"):
		if n > 1e9 {
			return int64(n * 1000) // already an epoch-seconds value
		}
		return w.now.Add(time.Duration(n * float64(time.Second))).UnixMilli()
	case strings.HasSuffix(nk, "millis") || strings.HasSuffix(nk, "ms"):
		return w.now.Add(time.Duration(n * float64(time.Millisecond))).UnixMilli()
	case n >= 1e12:
		return int64(n)
	case n >= 1e9:
		return int64(n * 1000)
	default:
		return w.now.Add(time.Duration(n * float64(time.Second))).UnixMilli()
	}
}

func resetHinted(nk string) bool {
	for _, frag := range []string{"reset", "retry", "cooldown", "until", "expire"} {
		if strings.Contains(nk, frag) {
			return true
		}
	}
	return false
}

func numericValue(value gjson.Result) (float64, bool) {
	switch value.Type {
	case gjson.Number:
		return value.Float(), true
	case gjson.String:
		s := strings.TrimSpace(value.String())
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func alphaTokens(s string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			cur.WriteRune(r)
			continue
		}
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
