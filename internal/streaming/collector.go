package streaming

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cjdem/grok2api/internal/assetproxy"
	"github.com/cjdem/grok2api/internal/constants"
	"github.com/cjdem/grok2api/internal/toolcard"
)

// ErrEmptyUpstream is returned when the upstream body produced no usable
// content at all.
var ErrEmptyUpstream = errors.New(emptyUpstreamHint)

// UpstreamError carries an error message delivered inside the NDJSON stream.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return "upstream error: " + e.Message
}

// CollectResult is the outcome of a full non-streaming collection.
type CollectResult struct {
	// Response is a complete OpenAI chat.completion object.
	Response map[string]any
	Meta     Meta
}

// Collector consumes an entire NDJSON body and synthesises one
// chat-completion response.
type Collector struct {
	settings Settings

	model         string
	meta          Meta
	lastRolloutID string

	tokenParts      []string
	latestMessage   string
	latestToolLines []string
	mergedContent   string
	imageMode       bool
	videoURL        string
	videoThumbURL   string
}

// NewCollector prepares a non-streaming collection.
func NewCollector(settings Settings) *Collector {
	return &Collector{settings: settings, model: settings.Model}
}

// Collect reads the body to completion and builds the final response.
func (c *Collector) Collect(ctx context.Context, body io.Reader) (*CollectResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, constants.StreamScannerInitialBufferSize), constants.StreamScannerMaxBufferSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := c.processLine(scanner.Text()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return c.assemble()
}

func (c *Collector) processLine(line string) error {
	f, ok := parseFrame(line)
	if !ok {
		return nil
	}

	if cid := f.conversationID(); cid != "" {
		c.meta.GrokConversationID = cid
	}
	if rid := f.responseID(); rid != "" {
		c.meta.LastResponseID = rid
	}

	if msg := f.errorMessage(); msg != "" {
		return &UpstreamError{Message: msg}
	}

	grok, ok := f.response()
	if !ok {
		return nil
	}

	if m := stringField(grok, "userResponse.model"); m != "" {
		c.model = m
	}
	if rid := stringField(grok, "rolloutId"); rid != "" {
		c.lastRolloutID = rid
	} else if cid := stringField(grok, "toolUsageCardId"); cid != "" {
		c.lastRolloutID = cid
	}

	if v := grok.Get("streamingVideoGenerationResponse"); v.Exists() {
		if u := stringField(v, "videoUrl"); u != "" {
			c.videoURL = u
			c.videoThumbURL = stringField(v, "thumbnailImageUrl")
		}
		return nil
	}

	if grok.Get("imageAttachmentInfo").Exists() {
		c.imageMode = true
	}
	if c.imageMode {
		if urls := generatedImageURLs(grok); len(urls) > 0 {
			parts := make([]string, 0, len(urls))
			for _, u := range urls {
				parts = append(parts, "![Generated Image]("+assetproxy.ProxyImageURL(c.settings.ProxyBaseURL, u)+")")
			}
			c.mergedContent = strings.Join(parts, "\n")
		}
		return nil
	}

	if errMsg := stringField(grok, "modelResponse.error"); errMsg != "" {
		return &UpstreamError{Message: errMsg}
	}

	if token := stringField(grok, "token"); token != "" && !tokenFiltered(token, c.settings.FilteredTags) {
		c.tokenParts = append(c.tokenParts, token)
	}

	if msg := stringField(grok, "modelResponse.message"); msg != "" {
		text, lines := toolcard.ReplaceInText(msg, c.parserOpts())
		c.latestMessage = strings.TrimSpace(text)
		c.latestToolLines = lines
	}
	return nil
}

func (c *Collector) parserOpts() toolcard.Options {
	return toolcard.Options{
		EmitLines:         c.settings.ShowThinking && c.settings.ShowSearch,
		FallbackRolloutID: c.lastRolloutID,
	}
}

func (c *Collector) assemble() (*CollectResult, error) {
	if c.videoURL != "" && c.mergedContent == "" {
		c.mergedContent = strings.TrimSpace(c.videoHTML())
	}

	content := c.mergedContent
	if content == "" {
		content = c.latestMessage
	}
	if content == "" {
		// Token fallback; strip any cards that were streamed raw.
		joined := strings.Join(c.tokenParts, "")
		text, _ := toolcard.ReplaceInText(joined, toolcard.Options{FallbackRolloutID: c.lastRolloutID})
		content = text
	}

	if len(c.latestToolLines) > 0 {
		think := "<think>\n" + strings.Join(c.latestToolLines, "\n") + "\n</think>"
		if content == "" {
			content = think
		} else {
			content = think + "\n" + content
		}
	}

	if content == "" {
		return nil, ErrEmptyUpstream
	}

	response := map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   c.model,
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     0,
			"completion_tokens": 0,
			"total_tokens":      0,
		},
	}
	return &CollectResult{Response: response, Meta: c.meta}, nil
}

func (c *Collector) videoHTML() string {
	v := assetproxy.ProxyImageURL(c.settings.ProxyBaseURL, c.videoURL)
	thumb := ""
	if c.videoThumbURL != "" {
		thumb = assetproxy.ProxyImageURL(c.settings.ProxyBaseURL, c.videoThumbURL)
	}
	if c.settings.VideoPosterPreview && thumb != "" {
		return fmt.Sprintf("<a href=%q target=\"_blank\"><img src=%q alt=\"生成的视频\" /></a>", v, thumb)
	}
	if thumb != "" {
		return fmt.Sprintf("<video controls src=%q poster=%q></video>", v, thumb)
	}
	return fmt.Sprintf("<video controls src=%q></video>", v)
}
