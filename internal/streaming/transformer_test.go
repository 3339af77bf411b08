package streaming

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cjdem/grok2api/internal/assetproxy"
)

type streamOutput struct {
	contents []string
	finishes []string
	doneN    int
	raw      string
}

func decodeSSE(t *testing.T, raw string) streamOutput {
	t.Helper()
	out := streamOutput{raw: raw}
	for _, block := range strings.Split(raw, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if !strings.HasPrefix(block, "data: ") {
			t.Fatalf("frame without data prefix: %q", block)
		}
		payload := strings.TrimPrefix(block, "data: ")
		if payload == "[DONE]" {
			out.doneN++
			continue
		}
		if out.doneN > 0 {
			t.Fatalf("frame after [DONE]: %q", block)
		}
		var chunk struct {
			Object  string `json:"object"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", payload, err)
		}
		if chunk.Object != "chat.completion.chunk" {
			t.Fatalf("object = %q", chunk.Object)
		}
		if len(chunk.Choices) != 1 {
			t.Fatalf("choices = %d", len(chunk.Choices))
		}
		if c := chunk.Choices[0].Delta.Content; c != "" {
			out.contents = append(out.contents, c)
		}
		if fr := chunk.Choices[0].FinishReason; fr != nil {
			out.finishes = append(out.finishes, *fr)
		}
	}
	return out
}

func runStream(t *testing.T, settings Settings, hooks Hooks, frames ...string) streamOutput {
	t.Helper()
	body := strings.NewReader(strings.Join(frames, "\n"))
	var buf bytes.Buffer
	NewTransformer(settings, hooks).Run(context.Background(), body, &buf)
	out := decodeSSE(t, buf.String())
	if out.doneN != 1 {
		t.Fatalf("[DONE] count = %d\n%s", out.doneN, out.raw)
	}
	return out
}

func thinkBalanced(s string) bool {
	return strings.Count(s, "<think>") == strings.Count(s, "</think>")
}

func TestStreamThinkWrap(t *testing.T) {
	settings := Settings{Model: "grok-3", ShowThinking: true}
	out := runStream(t, settings, Hooks{},
		`{"result":{"response":{"isThinking":true,"token":"hi"}}}`,
		`{"result":{"response":{"isThinking":false,"token":" world"}}}`,
	)
	want := []string{"<think>\nhi", "\n</think>\n world"}
	if len(out.contents) != len(want) || out.contents[0] != want[0] || out.contents[1] != want[1] {
		t.Fatalf("contents = %q, want %q", out.contents, want)
	}
	if out.finishes[len(out.finishes)-1] != "stop" {
		t.Fatalf("finishes = %v", out.finishes)
	}
	if !thinkBalanced(strings.Join(out.contents, "")) {
		t.Fatal("unbalanced think wrappers")
	}
}

func TestStreamThinkingHiddenWhenDisabled(t *testing.T) {
	settings := Settings{Model: "grok-3", ShowThinking: false}
	out := runStream(t, settings, Hooks{},
		`{"result":{"response":{"isThinking":true,"token":"secret"}}}`,
		`{"result":{"response":{"isThinking":false,"token":"visible"}}}`,
	)
	joined := strings.Join(out.contents, "")
	if strings.Contains(joined, "secret") || strings.Contains(joined, "think") {
		t.Fatalf("thinking leaked: %q", joined)
	}
	if joined != "visible" {
		t.Fatalf("contents = %q", joined)
	}
}

func TestStreamImageTerminal(t *testing.T) {
	settings := Settings{Model: "grok-3-imageGen", ProxyBaseURL: "https://gw.example"}
	out := runStream(t, settings, Hooks{},
		`{"result":{"response":{"imageAttachmentInfo":{}}}}`,
		`{"result":{"response":{"modelResponse":{"generatedImageUrls":["https://x/y.png"]}}}}`,
	)
	want := "![Generated Image](" + assetproxy.ProxyImageURL("https://gw.example", "https://x/y.png") + ")"
	if len(out.contents) != 1 || out.contents[0] != want {
		t.Fatalf("contents = %q, want [%q]", out.contents, want)
	}
	if len(out.finishes) != 1 || out.finishes[0] != "stop" {
		t.Fatalf("finishes = %v", out.finishes)
	}
}

func TestStreamVideoPosterPreview(t *testing.T) {
	settings := Settings{
		Model:              "grok-4",
		ShowThinking:       true,
		VideoPosterPreview: true,
		ProxyBaseURL:       "https://gw.example",
	}
	frame := `{"result":{"response":{"streamingVideoGenerationResponse":{"progress":%d,"videoUrl":"https://v/a.mp4","thumbnailImageUrl":"https://v/a.jpg"}}}}`
	out := runStream(t, settings, Hooks{},
		strings.Replace(frame, "%d", "50", 1),
		strings.Replace(frame, "%d", "100", 1),
	)
	if len(out.contents) < 3 {
		t.Fatalf("contents = %q", out.contents)
	}
	if out.contents[0] != "<think>视频已生成50%\n" {
		t.Fatalf("open = %q", out.contents[0])
	}
	if out.contents[1] != "视频已生成100%</think>\n" {
		t.Fatalf("close = %q", out.contents[1])
	}
	html := out.contents[2]
	if !strings.Contains(html, "<a href=") || !strings.Contains(html, "<img src=") {
		t.Fatalf("html = %q", html)
	}
	if !thinkBalanced(strings.Join(out.contents, "")) {
		t.Fatal("unbalanced think wrappers")
	}
}

func TestStreamVideoThinkClosedOnEarlyEnd(t *testing.T) {
	settings := Settings{Model: "grok-4", ShowThinking: true, ProxyBaseURL: "https://gw.example"}
	out := runStream(t, settings, Hooks{},
		`{"result":{"response":{"streamingVideoGenerationResponse":{"progress":40}}}}`,
	)
	if !thinkBalanced(strings.Join(out.contents, "")) {
		t.Fatalf("unbalanced think wrappers: %q", out.contents)
	}
}

func TestStreamEmptyUpstreamHint(t *testing.T) {
	out := runStream(t, Settings{Model: "grok-3"}, Hooks{})
	if len(out.contents) != 1 || out.contents[0] != "上游未返回可用内容" {
		t.Fatalf("contents = %q", out.contents)
	}
	if out.finishes[len(out.finishes)-1] != "stop" {
		t.Fatalf("finishes = %v", out.finishes)
	}
}

func TestStreamModelResponseMessageFallback(t *testing.T) {
	out := runStream(t, Settings{Model: "grok-3"}, Hooks{},
		`{"result":{"response":{"modelResponse":{"message":"hello"}}}}`,
	)
	if strings.Join(out.contents, "") != "hello" {
		t.Fatalf("contents = %q", out.contents)
	}
}

func TestStreamErrorFrame(t *testing.T) {
	var finish FinishResult
	finishCalls := 0
	hooks := Hooks{OnFinish: func(r FinishResult) { finish = r; finishCalls++ }}
	out := runStream(t, Settings{Model: "grok-3"}, hooks,
		`{"result":{"response":{"token":"partial"}}}`,
		`{"error":{"message":"quota exhausted"}}`,
	)
	last := out.contents[len(out.contents)-1]
	if last != "Error: quota exhausted" {
		t.Fatalf("last content = %q", last)
	}
	if out.finishes[len(out.finishes)-1] != "stop" {
		t.Fatalf("finishes = %v", out.finishes)
	}
	if finishCalls != 1 || finish.Status != 500 {
		t.Fatalf("finish = %+v calls=%d", finish, finishCalls)
	}
}

func TestStreamMetaHook(t *testing.T) {
	var metas []Meta
	var finish FinishResult
	hooks := Hooks{
		OnMeta:   func(m Meta) { metas = append(metas, m) },
		OnFinish: func(r FinishResult) { finish = r },
	}
	runStream(t, Settings{Model: "grok-3"}, hooks,
		`{"result":{"conversation":{"conversationId":"conv-9"},"response":{"token":"a","responseId":"resp-1"}}}`,
		`{"result":{"response":{"token":"b","responseId":"resp-2"}}}`,
	)
	if len(metas) != 2 {
		t.Fatalf("meta calls = %d", len(metas))
	}
	if metas[0].GrokConversationID != "conv-9" || metas[0].LastResponseID != "resp-1" {
		t.Fatalf("first meta = %+v", metas[0])
	}
	if finish.Meta.LastResponseID != "resp-2" {
		t.Fatalf("finish meta = %+v", finish.Meta)
	}
	if finish.Status != 200 {
		t.Fatalf("finish status = %d", finish.Status)
	}
}

func TestStreamFilteredTokenDropped(t *testing.T) {
	settings := Settings{
		Model:        "grok-3",
		FilteredTags: ParseFilteredTags("xaiartifact,grok:render"),
	}
	out := runStream(t, settings, Hooks{},
		`{"result":{"response":{"token":"<xaiartifact id=\"1\">hidden</xaiartifact>"}}}`,
		`{"result":{"response":{"token":"kept"}}}`,
	)
	if strings.Join(out.contents, "") != "kept" {
		t.Fatalf("contents = %q", out.contents)
	}
}

func TestStreamSearchLinesEmitted(t *testing.T) {
	settings := Settings{Model: "grok-3-search", ShowThinking: true, ShowSearch: true}
	card := `<xai:tool_name>web_search</xai:tool_name><xai:tool_args>{\"rollout_id\":\"r1\",\"query\":\"foo\"}</xai:tool_args>`
	out := runStream(t, settings, Hooks{},
		`{"result":{"response":{"isThinking":true,"token":"`+card+`"}}}`,
		`{"result":{"response":{"isThinking":false,"token":"done"}}}`,
	)
	joined := strings.Join(out.contents, "")
	if !strings.Contains(joined, "[r1][WebSearch] foo") {
		t.Fatalf("missing search line: %q", joined)
	}
	if !strings.Contains(joined, "done") {
		t.Fatalf("missing body text: %q", joined)
	}
	if !thinkBalanced(joined) {
		t.Fatal("unbalanced think wrappers")
	}
}

// Splitting the input bytes across reads must not change the produced
// deltas as long as no timeout fires.
func TestStreamReadChunkingEquivalence(t *testing.T) {
	frames := strings.Join([]string{
		`{"result":{"response":{"isThinking":true,"token":"think part"}}}`,
		`{"result":{"response":{"isThinking":false,"token":"body 视频 text"}}}`,
		`{"result":{"response":{"token":" and more"}}}`,
	}, "\n")

	settings := Settings{Model: "grok-3", ShowThinking: true}
	run := func(r io.Reader) []string {
		var buf bytes.Buffer
		NewTransformer(settings, Hooks{}).Run(context.Background(), r, &buf)
		return decodeSSE(t, buf.String()).contents
	}

	want := run(strings.NewReader(frames))
	for _, size := range []int{1, 2, 5, 17} {
		got := run(&chunkReader{data: []byte(frames), size: size})
		if strings.Join(got, "\x00") != strings.Join(want, "\x00") {
			t.Fatalf("size %d: %q != %q", size, got, want)
		}
	}
}

// chunkReader yields at most size bytes per Read call.
type chunkReader struct {
	data []byte
	size int
	off  int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if r.off+n > len(r.data) {
		n = len(r.data) - r.off
	}
	copy(p, r.data[r.off:r.off+n])
	r.off += n
	return n, nil
}

func TestStreamChunkTimeoutStopsGracefully(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	go func() {
		pw.Write([]byte(`{"result":{"response":{"token":"hi"}}}` + "\n"))
		// Then stall; the chunk timeout must end the stream.
	}()

	settings := Settings{
		Model:        "grok-3",
		ChunkTimeout: 50 * time.Millisecond,
	}
	var finish FinishResult
	var buf bytes.Buffer
	start := time.Now()
	NewTransformer(settings, Hooks{OnFinish: func(r FinishResult) { finish = r }}).
		Run(context.Background(), pr, &buf)

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("stream did not stop promptly: %v", elapsed)
	}
	out := decodeSSE(t, buf.String())
	if out.doneN != 1 {
		t.Fatalf("[DONE] count = %d", out.doneN)
	}
	if strings.Join(out.contents, "") != "hi" {
		t.Fatalf("contents = %q", out.contents)
	}
	if finish.Status != 200 {
		t.Fatalf("timeout must finish with status 200, got %d", finish.Status)
	}
}
