package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/cjdem/grok2api/internal/assetproxy"
	"github.com/cjdem/grok2api/internal/constants"
	"github.com/cjdem/grok2api/internal/toolcard"
)

// Transformer converts one upstream NDJSON body into an SSE chat-completion
// stream. A Transformer serves exactly one request and is not reusable.
type Transformer struct {
	settings Settings
	hooks    Hooks

	id      string
	created int64
	model   string
	meta    Meta

	parser        *toolcard.Parser
	lastRolloutID string
	latestMessage string

	thinking       bool
	videoThinkOpen bool
	videoProgress  int
	videoURL       string
	videoThumbURL  string
	videoEmitted   bool
	imageMode      bool

	firstReceived  bool
	contentEmitted bool
	doneSent       bool
	finished       bool
	writeFailed    bool

	start   time.Time
	w       io.Writer
	flusher http.Flusher
}

// NewTransformer prepares a stream conversion with the given settings.
func NewTransformer(settings Settings, hooks Hooks) *Transformer {
	return &Transformer{
		settings: settings,
		hooks:    hooks,
		id:       "chatcmpl-" + uuid.NewString(),
		model:    settings.Model,
		parser:   toolcard.NewParser(),
	}
}

// Run reads the upstream body to completion, writing SSE frames to w.
// It always terminates the output with a single [DONE] frame and reports the
// outcome through the OnFinish hook, regardless of how the stream ends.
func (t *Transformer) Run(ctx context.Context, body io.Reader, w io.Writer) {
	t.start = time.Now()
	t.created = t.start.Unix()
	t.w = w
	t.flusher, _ = w.(http.Flusher)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("stream processing failure")
			t.failException(fmt.Sprintf("%v", r))
		}
	}()

	done := make(chan struct{})
	defer close(done)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, constants.StreamScannerInitialBufferSize), constants.StreamScannerMaxBufferSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		// Read errors at this level are indistinguishable from upstream
		// hangups; both end the stream gracefully.
	}()

	for {
		line, ok := t.nextLine(ctx, lines)
		if !ok {
			t.terminate()
			return
		}
		if t.processLine(line) {
			return
		}
	}
}

// nextLine races the upstream reader against the timeout machine. ok=false
// means the stream is over, whether by EOF, timeout, or cancellation.
func (t *Transformer) nextLine(ctx context.Context, lines <-chan string) (string, bool) {
	timeout, bounded := t.effectiveTimeout()
	if !bounded {
		select {
		case line, ok := <-lines:
			return line, ok
		case <-ctx.Done():
			return "", false
		}
	}
	if timeout <= 0 {
		return "", false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line, ok := <-lines:
		return line, ok
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// effectiveTimeout computes the current read bound:
// min(firstReceived ? chunkTimeout : firstTimeout, totalTimeout - elapsed),
// where a zero setting means unbounded.
func (t *Transformer) effectiveTimeout() (time.Duration, bool) {
	base := t.settings.FirstChunkTimeout
	if t.firstReceived {
		base = t.settings.ChunkTimeout
	}
	eff := base
	bounded := base > 0
	if t.settings.TotalTimeout > 0 {
		remaining := t.settings.TotalTimeout - time.Since(t.start)
		if !bounded || remaining < eff {
			eff = remaining
			bounded = true
		}
	}
	return eff, bounded
}

// processLine handles one NDJSON line. It returns true when the stream has
// been terminated and Run should exit.
func (t *Transformer) processLine(line string) bool {
	f, ok := parseFrame(line)
	if !ok {
		return false
	}

	t.observeMeta(f)
	t.firstReceived = true

	if msg := f.errorMessage(); msg != "" {
		t.emit(t.drainTail() + t.closeWrappers())
		t.writeChunk("Error: "+msg, "stop")
		t.writeDone()
		t.finish(500)
		return true
	}

	grok, ok := f.response()
	if !ok {
		return false
	}

	if m := stringField(grok, "userResponse.model"); m != "" {
		t.model = m
	}

	if grok.Get("streamingVideoGenerationResponse").Exists() {
		t.handleVideo(grok.Get("streamingVideoGenerationResponse"))
		return false
	}

	if grok.Get("imageAttachmentInfo").Exists() {
		// Image mode is sticky for the remainder of the stream.
		t.imageMode = true
	}
	if t.imageMode {
		return t.handleImage(grok)
	}

	t.handleText(grok)
	return false
}

func (t *Transformer) observeMeta(f frame) {
	changed := false
	if cid := f.conversationID(); cid != "" && cid != t.meta.GrokConversationID {
		t.meta.GrokConversationID = cid
		changed = true
	}
	if rid := f.responseID(); rid != "" && rid != t.meta.LastResponseID {
		t.meta.LastResponseID = rid
		changed = true
	}
	if changed && t.hooks.OnMeta != nil {
		t.hooks.OnMeta(t.meta)
	}
}

func (t *Transformer) handleVideo(v gjson.Result) {
	progress := int(v.Get("progress").Int())
	if t.settings.ShowThinking && progress > t.videoProgress {
		switch {
		case progress >= 100:
			if t.videoThinkOpen {
				t.emit("视频已生成100%</think>\n")
				t.videoThinkOpen = false
			} else {
				t.emit("<think>视频已生成100%</think>\n")
			}
		case !t.videoThinkOpen:
			t.emit(fmt.Sprintf("<think>视频已生成%d%%\n", progress))
			t.videoThinkOpen = true
		default:
			t.emit(fmt.Sprintf("视频已生成%d%%\n", progress))
		}
	}
	if progress > t.videoProgress {
		t.videoProgress = progress
	}

	if u := stringField(v, "videoUrl"); u != "" && u != t.videoURL {
		t.videoURL = u
		t.videoThumbURL = stringField(v, "thumbnailImageUrl")
		t.videoEmitted = false
	}
	// The HTML block waits until the progress think is closed so it never
	// lands inside the reasoning wrapper.
	if t.videoURL != "" && !t.videoEmitted && !t.videoThinkOpen {
		t.emit(t.videoHTML(t.videoURL, t.videoThumbURL))
		t.videoEmitted = true
	}
}

func (t *Transformer) videoHTML(videoURL, thumbURL string) string {
	v := assetproxy.ProxyImageURL(t.settings.ProxyBaseURL, videoURL)
	thumb := ""
	if thumbURL != "" {
		thumb = assetproxy.ProxyImageURL(t.settings.ProxyBaseURL, thumbURL)
	}
	if t.settings.VideoPosterPreview && thumb != "" {
		return fmt.Sprintf("\n<a href=%q target=\"_blank\"><img src=%q alt=\"生成的视频\" /></a>\n", v, thumb)
	}
	if thumb != "" {
		return fmt.Sprintf("\n<video controls src=%q poster=%q></video>\n", v, thumb)
	}
	return fmt.Sprintf("\n<video controls src=%q></video>\n", v)
}

// handleImage processes frames once image mode is active. It returns true
// when the image terminal ended the stream.
func (t *Transformer) handleImage(grok gjson.Result) bool {
	urls := generatedImageURLs(grok)
	if len(urls) == 0 {
		if token := stringField(grok, "token"); token != "" {
			t.emit(token)
		}
		return false
	}

	t.emit(t.drainTail() + t.closeWrappers())
	parts := make([]string, 0, len(urls))
	for _, u := range urls {
		parts = append(parts, "![Generated Image]("+assetproxy.ProxyImageURL(t.settings.ProxyBaseURL, u)+")")
	}
	t.writeChunk(strings.Join(parts, "\n"), "stop")
	t.writeDone()
	t.finish(200)
	return true
}

func (t *Transformer) handleText(grok gjson.Result) {
	isThinking := grok.Get("isThinking").Bool()

	if rid := stringField(grok, "rolloutId"); rid != "" {
		t.lastRolloutID = rid
	} else if cid := stringField(grok, "toolUsageCardId"); cid != "" {
		t.lastRolloutID = cid
	}

	token := stringField(grok, "token")
	if tokenFiltered(token, t.settings.FilteredTags) {
		token = ""
	}
	text, lines := t.parser.Consume(token, t.parserOpts())

	if msg := stringField(grok, "modelResponse.message"); msg != "" {
		t.latestMessage = msg
	}

	transition := t.thinkTransition(isThinking)

	var body strings.Builder
	if len(lines) > 0 {
		body.WriteString(strings.Join(lines, "\n"))
		body.WriteString("\n")
	}
	if stringField(grok, "messageTag") == "header" && text != "" {
		text = "\n\n" + text + "\n\n"
	}
	body.WriteString(text)

	out := body.String()
	if !t.settings.ShowThinking && isThinking {
		out = ""
	}
	t.emit(transition + out)
}

// thinkTransition tracks the thinking flag and returns the wrapper marker to
// emit, if any. State is tracked even when thinking output is hidden.
func (t *Transformer) thinkTransition(isThinking bool) string {
	if !t.settings.ShowThinking {
		t.thinking = isThinking
		return ""
	}
	if isThinking && !t.thinking {
		t.thinking = true
		return "<think>\n"
	}
	if !isThinking && t.thinking {
		t.thinking = false
		return "\n</think>\n"
	}
	return ""
}

func (t *Transformer) parserOpts() toolcard.Options {
	return toolcard.Options{
		EmitLines:         t.settings.ShowThinking && t.settings.ShowSearch,
		FallbackRolloutID: t.lastRolloutID,
	}
}

// drainTail flushes the residual tool-card buffer as text.
func (t *Transformer) drainTail() string {
	text, lines := t.parser.Flush(t.parserOpts(), true)
	var b strings.Builder
	if len(lines) > 0 {
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	b.WriteString(text)
	if !t.settings.ShowThinking && t.thinking {
		return ""
	}
	return b.String()
}

// closeWrappers closes any open think block, including the video-progress
// one, keeping the open/close counts balanced.
func (t *Transformer) closeWrappers() string {
	var b strings.Builder
	if t.thinking && t.settings.ShowThinking {
		b.WriteString("\n</think>\n")
	}
	t.thinking = false
	if t.videoThinkOpen {
		b.WriteString("</think>\n")
		t.videoThinkOpen = false
	}
	return b.String()
}

// terminate handles the graceful endings: EOF, timeout, cancellation.
func (t *Transformer) terminate() {
	t.emit(t.drainTail())
	t.emit(t.closeWrappers())

	if t.videoURL != "" && !t.videoEmitted {
		t.emit(t.videoHTML(t.videoURL, t.videoThumbURL))
		t.videoEmitted = true
	}

	if !t.contentEmitted {
		if t.latestMessage != "" {
			text, lines := toolcard.ReplaceInText(t.latestMessage, t.parserOpts())
			var b strings.Builder
			if len(lines) > 0 {
				b.WriteString(strings.Join(lines, "\n"))
				b.WriteString("\n")
			}
			b.WriteString(text)
			t.emit(b.String())
		}
		if !t.contentEmitted {
			t.emit(emptyUpstreamHint)
		}
	}

	t.writeChunk("", "stop")
	t.writeDone()
	t.finish(200)
}

// failException ends the stream after an internal failure.
func (t *Transformer) failException(msg string) {
	t.emit(t.drainTail() + t.closeWrappers())
	t.writeChunk("处理错误: "+msg, "error")
	t.writeDone()
	t.finish(500)
}

// emit writes a plain content chunk; empty content is skipped.
func (t *Transformer) emit(content string) {
	if content == "" {
		return
	}
	t.writeChunk(content, nil)
	t.contentEmitted = true
}

// writeChunk writes one chat.completion.chunk frame. finish is nil, "stop"
// or "error".
func (t *Transformer) writeChunk(content string, finish any) {
	if t.writeFailed {
		return
	}
	delta := map[string]any{}
	if content != "" {
		delta["role"] = "assistant"
		delta["content"] = content
	}
	chunk := map[string]any{
		"id":      t.id,
		"object":  "chat.completion.chunk",
		"created": t.created,
		"model":   t.model,
		"choices": []map[string]any{
			{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			},
		},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		t.writeFailed = true
		return
	}
	t.writeRaw("data: " + string(data) + "\n\n")
}

func (t *Transformer) writeDone() {
	if t.doneSent {
		return
	}
	t.doneSent = true
	t.writeRaw("data: [DONE]\n\n")
}

func (t *Transformer) writeRaw(s string) {
	if t.writeFailed {
		return
	}
	if _, err := io.WriteString(t.w, s); err != nil {
		// Client gone; keep draining upstream state silently.
		t.writeFailed = true
		return
	}
	if t.flusher != nil {
		t.flusher.Flush()
	}
}

func (t *Transformer) finish(status int) {
	if t.finished {
		return
	}
	t.finished = true
	if t.hooks.OnFinish != nil {
		t.hooks.OnFinish(FinishResult{
			Status:   status,
			Duration: time.Since(t.start),
			Meta:     t.meta,
		})
	}
}
