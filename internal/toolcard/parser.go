// Package toolcard extracts pseudo-XML tool-usage cards embedded in the
// upstream token stream. Cards arrive split across arbitrary token
// boundaries, so the parser buffers text and only releases a span once it is
// provably not part of a card.
package toolcard

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/cjdem/grok2api/internal/constants"
)

const (
	openCard  = "<xai:tool_usage_card"
	openName  = "<xai:tool_name>"
	closeName = "</xai:tool_name>"
	openArgs  = "<xai:tool_args>"
	closeArgs = "</xai:tool_args>"
	closeCard = "</xai:tool_usage_card>"
	tagPrefix = "<xai:"

	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
)

// Card is one parsed tool invocation.
type Card struct {
	RolloutID string
	Type      string
	Content   string
}

// Options controls how consumed cards are surfaced.
type Options struct {
	// EmitLines renders each parsed card as "[rollout][Type] line" entries;
	// when false parsed cards are dropped silently.
	EmitLines bool
	// FallbackRolloutID is used when the card args carry no rollout id.
	FallbackRolloutID string
}

// Parser incrementally consumes token text and separates plain text from
// tool-usage cards. A single Parser serves exactly one stream.
type Parser struct {
	buf string
}

// NewParser returns an empty parser.
func NewParser() *Parser { return &Parser{} }

// Consume appends input and returns the text that is safe to release plus
// any card lines parsed so far. Text inside a possibly-incomplete card stays
// buffered until a later Consume or Flush resolves it.
func (p *Parser) Consume(input string, opts Options) (string, []string) {
	return p.consume(input, opts, false)
}

// Flush terminates the stream: it runs one empty consume and, when
// emitIncompleteAsText is set, releases whatever partial fragment remains as
// plain text.
func (p *Parser) Flush(opts Options, emitIncompleteAsText bool) (string, []string) {
	text, lines := p.consume("", opts, true)
	if emitIncompleteAsText && p.buf != "" {
		text += p.buf
		p.buf = ""
	}
	return text, lines
}

// ReplaceInText runs a full consume+flush over a complete string. It is the
// non-streaming equivalent of feeding the input chunk by chunk.
func ReplaceInText(input string, opts Options) (string, []string) {
	p := NewParser()
	text, lines := p.Consume(input, opts)
	ft, fl := p.Flush(opts, true)
	return text + ft, append(lines, fl...)
}

func (p *Parser) consume(input string, opts Options, flushing bool) (string, []string) {
	p.buf += input
	var text strings.Builder
	var lines []string

	for {
		low := asciiLower(p.buf)
		start := earliestTag(low)

		if start < 0 {
			cut := retainBoundary(low, len(p.buf))
			text.WriteString(p.buf[:cut])
			p.buf = p.buf[cut:]
			break
		}
		if start > 0 {
			text.WriteString(p.buf[:start])
			p.buf = p.buf[start:]
			continue
		}

		fragEnd, wait := p.fragmentEnd(low, flushing)
		if wait {
			break
		}
		if fragEnd < 0 {
			// Incomplete fragment at end of stream; Flush decides whether
			// the residue becomes text or is dropped.
			break
		}

		frag := p.buf[:fragEnd]
		p.buf = p.buf[fragEnd:]

		card, ok := parseFragment(frag, opts.FallbackRolloutID)
		if !ok {
			text.WriteString(frag)
			continue
		}
		if opts.EmitLines {
			lines = append(lines, card.renderLines()...)
		}
	}

	return text.String(), lines
}

// asciiLower folds only A-Z. The card tags are pure ASCII, so this fully
// implements the case-insensitive tag match while keeping every byte offset
// valid in the original string; full Unicode case mapping can change byte
// lengths (U+0130 shrinks, U+023A grows) and would misalign the index math.
func asciiLower(s string) string {
	i := 0
	for ; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			break
		}
	}
	if i == len(s) {
		return s
	}
	b := []byte(s)
	for ; i < len(b); i++ {
		if c := b[i]; 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// earliestTag finds the first card opener in the (lowercased) buffer.
func earliestTag(low string) int {
	iCard := strings.Index(low, openCard)
	iName := strings.Index(low, openName)
	switch {
	case iCard < 0:
		return iName
	case iName < 0:
		return iCard
	case iName < iCard:
		return iName
	default:
		return iCard
	}
}

// retainBoundary decides how much of a tag-free buffer may be released.
// A trailing "<xai:" (or a prefix of one) within the tail window is kept back
// because the rest of the opener may arrive in the next chunk.
func retainBoundary(low string, n int) int {
	window := 0
	if n > constants.ToolCardTailWindow {
		window = n - constants.ToolCardTailWindow
	}
	if p := strings.LastIndex(low[window:], tagPrefix); p >= 0 {
		return window + p
	}
	for k := len(tagPrefix) - 1; k > 0; k-- {
		if strings.HasSuffix(low, tagPrefix[:k]) {
			return n - k
		}
	}
	return n
}

// fragmentEnd computes where the card fragment starting at offset 0 ends.
// wait=true means the fragment is still incomplete and more input is needed.
func (p *Parser) fragmentEnd(low string, flushing bool) (end int, wait bool) {
	if strings.HasPrefix(low, openCard) {
		idx := strings.Index(low, closeCard)
		if idx < 0 {
			if flushing {
				return -1, false
			}
			return 0, true
		}
		return idx + len(closeCard), false
	}

	// Bare <xai:tool_name> fragment: name close, then args close, then an
	// optional trailing card close after whitespace.
	iName := strings.Index(low, closeName)
	if iName < 0 {
		if flushing {
			return -1, false
		}
		return 0, true
	}
	iArgs := strings.Index(low[iName:], closeArgs)
	if iArgs < 0 {
		if flushing {
			return -1, false
		}
		return 0, true
	}
	end = iName + iArgs + len(closeArgs)

	rest := low[end:]
	j := 0
	for j < len(rest) && (rest[j] == ' ' || rest[j] == '\t' || rest[j] == '\n' || rest[j] == '\r') {
		j++
	}
	tail := rest[j:]
	if strings.HasPrefix(tail, closeCard) {
		return end + j + len(closeCard), false
	}
	// The tail may still grow into the card close; hold the fragment back
	// so a split close tag is not re-emitted as stray text.
	if !flushing && (tail == "" || strings.HasPrefix(closeCard, tail)) && j+len(tail) == len(rest) {
		return 0, true
	}
	return end, false
}

func parseFragment(frag, fallbackRollout string) (Card, bool) {
	low := asciiLower(frag)

	iOpen := strings.Index(low, openName)
	iClose := strings.Index(low, closeName)
	if iOpen < 0 || iClose < 0 || iClose < iOpen {
		return Card{}, false
	}
	name := strings.TrimSpace(frag[iOpen+len(openName) : iClose])
	name = stripCDATA(name)
	if name == "" {
		return Card{}, false
	}

	argsRaw := ""
	if iArgsOpen := strings.Index(low, openArgs); iArgsOpen >= 0 {
		if iArgsClose := strings.Index(low[iArgsOpen:], closeArgs); iArgsClose >= 0 {
			argsRaw = frag[iArgsOpen+len(openArgs) : iArgsOpen+iArgsClose]
			argsRaw = stripCDATA(strings.TrimSpace(argsRaw))
		}
	}

	card := Card{Type: normalizeType(name)}

	if argsRaw != "" && gjson.Valid(argsRaw) {
		parsed := gjson.Parse(argsRaw)
		card.RolloutID = findRolloutID(parsed)
		card.Content = findContent(parsed, card.Type)
	} else {
		card.Content = argsRaw
	}

	if card.RolloutID == "" {
		card.RolloutID = fallbackRollout
	}
	if card.RolloutID == "" {
		card.RolloutID = "-"
	}
	card.Content = strings.TrimSpace(strings.ReplaceAll(card.Content, "\r\n", "\n"))
	return card, true
}

func stripCDATA(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, cdataOpen) && strings.HasSuffix(trimmed, cdataClose) {
		return strings.TrimSpace(trimmed[len(cdataOpen) : len(trimmed)-len(cdataClose)])
	}
	return trimmed
}

func normalizeType(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "web_search", "web-search", "websearch":
		return "WebSearch"
	case "search_image", "search_images", "image_search":
		return "SearchImage"
	case "agent_think", "chatroom_send":
		return "AgentThink"
	case "":
		return "Unknown"
	default:
		return name
	}
}

var rolloutKeys = map[string]bool{
	"rollout_id": true, "rolloutid": true, "rollout-id": true, "rollout": true,
}

const argsSearchDepth = 6

func findRolloutID(args gjson.Result) string {
	found := ""
	var visit func(node gjson.Result, depth int)
	visit = func(node gjson.Result, depth int) {
		if found != "" || depth > argsSearchDepth {
			return
		}
		node.ForEach(func(key, value gjson.Result) bool {
			if rolloutKeys[strings.ToLower(key.String())] && isScalar(value) {
				found = scalarString(value)
				return false
			}
			if value.IsObject() || value.IsArray() {
				visit(value, depth+1)
			}
			return found == ""
		})
	}
	visit(args, 0)
	return found
}

var contentKeys = map[string][]string{
	"WebSearch":   {"query", "queries", "keyword", "keywords", "prompt", "text"},
	"SearchImage": {"query", "prompt", "description", "keywords", "text"},
	"AgentThink":  {"thought", "reason", "reasoning", "content", "text", "summary", "plan"},
}

var defaultContentKeys = []string{"content", "text", "query", "prompt", "message"}

var metadataKeys = map[string]bool{
	"rollout_id": true, "rolloutid": true, "rollout-id": true, "rollout": true,
	"id": true, "type": true, "tool": true, "tool_name": true, "name": true,
	"version": true,
}

func findContent(args gjson.Result, cardType string) string {
	preferred, ok := contentKeys[cardType]
	if !ok {
		preferred = defaultContentKeys
	}
	for _, key := range preferred {
		if v := findKey(args, key, 0); v != "" {
			return v
		}
	}
	return firstNonMetadataScalar(args, 0)
}

func findKey(node gjson.Result, target string, depth int) string {
	if depth > argsSearchDepth {
		return ""
	}
	found := ""
	node.ForEach(func(key, value gjson.Result) bool {
		if strings.EqualFold(key.String(), target) {
			if isScalar(value) {
				found = scalarString(value)
				return false
			}
			if value.IsArray() {
				var parts []string
				value.ForEach(func(_, item gjson.Result) bool {
					if isScalar(item) {
						parts = append(parts, scalarString(item))
					}
					return true
				})
				if len(parts) > 0 {
					found = strings.Join(parts, ", ")
					return false
				}
			}
		}
		if value.IsObject() || value.IsArray() {
			if v := findKey(value, target, depth+1); v != "" {
				found = v
				return false
			}
		}
		return true
	})
	return found
}

func firstNonMetadataScalar(node gjson.Result, depth int) string {
	if depth > argsSearchDepth {
		return ""
	}
	found := ""
	node.ForEach(func(key, value gjson.Result) bool {
		if metadataKeys[strings.ToLower(key.String())] {
			return true
		}
		if isScalar(value) {
			found = scalarString(value)
			return false
		}
		if value.IsObject() || value.IsArray() {
			if v := firstNonMetadataScalar(value, depth+1); v != "" {
				found = v
				return false
			}
		}
		return true
	})
	return found
}

func isScalar(v gjson.Result) bool {
	return v.Type == gjson.String || v.Type == gjson.Number || v.Type == gjson.True || v.Type == gjson.False
}

func scalarString(v gjson.Result) string {
	return strings.TrimSpace(v.String())
}

func (c Card) renderLines() []string {
	prefix := "[" + c.RolloutID + "][" + c.Type + "]"
	if c.Content == "" {
		return []string{prefix}
	}
	var out []string
	for _, line := range strings.Split(c.Content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, prefix+" "+line)
	}
	if len(out) == 0 {
		return []string{prefix}
	}
	return out
}
