package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/cjdem/grok2api/internal/config"
	"github.com/cjdem/grok2api/internal/conversation"
	"github.com/cjdem/grok2api/internal/upstream/grok"
)

type fixture struct {
	handler *Handler
	store   conversation.Store
	router  *gin.Engine
}

func newFixture(t *testing.T, upstreamURL string) *fixture {
	t.Helper()
	mgr := config.NewStatic(&config.FileConfig{
		GrokBaseURL:   upstreamURL,
		PublicBaseURL: "http://gw.local",
	})
	store, err := conversation.NewSQLite(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := New(mgr, store, grok.New(mgr))
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("api_key", "sk-test") })
	r.POST("/v1/chat/completions", h.ChatCompletions)
	r.GET("/v1/models", h.Models)
	r.GET("/v1/rate-limits", h.RateLimits)
	return &fixture{handler: h, store: store, router: r}
}

func (f *fixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func ndjsonUpstream(t *testing.T, wantPath string, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantPath != "" {
			require.Equal(t, wantPath, r.URL.Path)
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
		}
	}))
}

func TestChatCompletionsStream(t *testing.T) {
	srv := ndjsonUpstream(t, "/rest/app-chat/conversations/new",
		`{"result":{"conversation":{"conversationId":"conv-1"},"response":{"token":"Hel"}}}`,
		`{"result":{"response":{"token":"lo","responseId":"resp-1"}}}`,
	)
	defer srv.Close()
	f := newFixture(t, srv.URL)

	w := f.post(t, `{"model":"grok-3","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	body := w.Body.String()
	require.Contains(t, body, `"content":"Hel"`)
	require.Contains(t, body, `"content":"lo"`)
	require.Contains(t, body, "data: [DONE]\n\n")

	// The cursor must be persisted under the caller scope.
	scope := conversation.Scope("sk-test", "")
	fullHash := conversation.HistoryHash([]conversation.HistoryMessage{{Role: "user", Content: "hi"}}, false)
	rec, err := f.store.FindByHistoryHash(context.Background(), scope, fullHash, time.Now())
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "conv-1", rec.GrokConversationID)
	require.Equal(t, "resp-1", rec.LastResponseID)
	require.Equal(t, "sk-test", rec.Token)
}

func TestChatCompletionsNonStream(t *testing.T) {
	srv := ndjsonUpstream(t, "/rest/app-chat/conversations/new",
		`{"result":{"conversation":{"conversationId":"conv-2"},"response":{"token":"he"}}}`,
		`{"result":{"response":{"token":"y","responseId":"resp-9"}}}`,
	)
	defer srv.Close()
	f := newFixture(t, srv.URL)

	w := f.post(t, `{"model":"grok-3","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	root := gjson.Parse(w.Body.String())
	require.Equal(t, "chat.completion", root.Get("object").String())
	require.Equal(t, "hey", root.Get("choices.0.message.content").String())
	require.Equal(t, "stop", root.Get("choices.0.finish_reason").String())
}

func TestChatCompletionsContinuation(t *testing.T) {
	var continued bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/app-chat/conversations/conv-9/responses", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "u2", gjson.GetBytes(body, "message").String())
		require.Equal(t, "resp-4", gjson.GetBytes(body, "parentResponseId").String())
		continued = true
		w.Write([]byte(`{"result":{"response":{"token":"ok","responseId":"resp-5"}}}` + "\n"))
	}))
	defer srv.Close()
	f := newFixture(t, srv.URL)

	scope := conversation.Scope("sk-test", "")
	prevHash := conversation.HistoryHash([]conversation.HistoryMessage{{Role: "user", Content: "u1"}}, false)
	require.NoError(t, f.store.Upsert(context.Background(), &conversation.Record{
		Scope:                scope,
		OpenAIConversationID: "conv-local",
		GrokConversationID:   "conv-9",
		LastResponseID:       "resp-4",
		Token:                "sk-test",
		HistoryHash:          prevHash,
		CreatedAt:            time.Now().UnixMilli(),
		UpdatedAt:            time.Now().UnixMilli(),
	}))

	w := f.post(t, `{"model":"grok-3","messages":[
		{"role":"user","content":"u1"},
		{"role":"assistant","content":"a1"},
		{"role":"user","content":"u2"}
	]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, continued)
	require.Equal(t, "ok", gjson.Parse(w.Body.String()).Get("choices.0.message.content").String())
}

func TestChatCompletionsUnknownModel(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:0")
	w := f.post(t, `{"model":"gpt-nope","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "model not found")
}

func TestChatCompletionsEmptyMessages(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:0")
	w := f.post(t, `{"model":"grok-3","messages":[]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatCompletionsArrayContent(t *testing.T) {
	srv := ndjsonUpstream(t, "",
		`{"result":{"response":{"token":"fine"}}}`,
	)
	defer srv.Close()
	f := newFixture(t, srv.URL)

	w := f.post(t, `{"model":"grok-3","messages":[
		{"role":"user","content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}
	]}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestChatCompletionsUpstreamRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	f := newFixture(t, srv.URL)

	w := f.post(t, `{"model":"grok-3","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "rate_limit")
}

func TestChatCompletionsUpstreamErrorFrameNonStream(t *testing.T) {
	srv := ndjsonUpstream(t, "",
		`{"error":{"message":"quota exhausted"}}`,
	)
	defer srv.Close()
	f := newFixture(t, srv.URL)

	w := f.post(t, `{"model":"grok-3","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Contains(t, w.Body.String(), "quota exhausted")
}

func TestChatCompletionsAssetLinksUseRequestOrigin(t *testing.T) {
	srv := ndjsonUpstream(t, "",
		`{"result":{"response":{"imageAttachmentInfo":{}}}}`,
		`{"result":{"response":{"modelResponse":{"generatedImageUrls":["https://x/y.png"],"responseId":"resp-img"}}}}`,
	)
	defer srv.Close()

	// No public base URL configured; links must be built from the request host.
	mgr := config.NewStatic(&config.FileConfig{GrokBaseURL: srv.URL})
	store, err := conversation.NewSQLite(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := New(mgr, store, grok.New(mgr))
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/chat/completions", h.ChatCompletions)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"grok-3-imageGen","messages":[{"role":"user","content":"draw"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Host = "gw.example.com"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	content := gjson.Parse(w.Body.String()).Get("choices.0.message.content").String()
	require.Contains(t, content, "![Generated Image](http://gw.example.com/images/")
}

func TestModelsList(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:0")
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	require.Equal(t, "list", root.Get("object").String())
	require.GreaterOrEqual(t, int(root.Get("data.#").Int()), 8)
	require.Equal(t, "grok-3", root.Get("data.0.id").String())
}

func TestRateLimitsSingleModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/rate-limits", r.URL.Path)
		w.Write([]byte(`{"remainingQueries": 3}`))
	}))
	defer srv.Close()
	f := newFixture(t, srv.URL)

	req := httptest.NewRequest(http.MethodGet, "/v1/rate-limits?model=grok-3", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	require.True(t, root.Get("grok-3.known").Bool())
	require.EqualValues(t, 3, root.Get("grok-3.remaining").Int())
}
