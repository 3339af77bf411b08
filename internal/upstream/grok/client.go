// Package grok speaks the upstream web-client protocol: NDJSON chat
// streams, share-link session operations, the gRPC-Web account bootstrap
// flow and the per-model rate-limit surface.
package grok

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cjdem/grok2api/internal/config"
	"github.com/cjdem/grok2api/internal/constants"
	"github.com/cjdem/grok2api/internal/models"
	"github.com/cjdem/grok2api/internal/monitoring/tracing"
)

// Client is a thin HTTP client over the upstream REST surface. It is safe for
// concurrent use; cookies rotate round-robin across requests.
type Client struct {
	cfg       *config.Manager
	cli       *http.Client
	cookieIdx atomic.Uint64
}

// New builds a client using the transport knobs from configuration. The
// http.Client carries no overall timeout; streaming responses are bounded by
// the caller instead.
func New(cfg *config.Manager) *Client {
	tr := &http.Transport{
		Proxy: getProxyFunc(cfg.Get().ProxyURL),
		DialContext: (&net.Dialer{
			Timeout:   constants.DefaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   constants.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: constants.DefaultResponseHeaderTimeout,
		ExpectContinueTimeout: constants.DefaultExpectContinueTimeout,
		MaxIdleConns:          constants.BaseMaxIdleConns,
		MaxIdleConnsPerHost:   constants.BaseMaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{cfg: cfg, cli: &http.Client{Transport: tr, Timeout: 0}}
}

// getProxyFunc returns the proxy function for the configured proxy URL,
// falling back to the environment proxy.
func getProxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsedURL, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsedURL)
		}
	}
	return http.ProxyFromEnvironment
}

// nextCookie rotates through the configured cookie pool.
func (c *Client) nextCookie() string {
	cookies := c.cfg.Get().Cookies
	if len(cookies) == 0 {
		return ""
	}
	idx := c.cookieIdx.Add(1) - 1
	return cookies[idx%uint64(len(cookies))]
}

// StatusError reports a non-200 upstream response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// postJSON sends a POST with JSON body and the dynamic header set.
//
// Caller is responsible for closing resp.Body when err is nil.
func (c *Client) postJSON(ctx context.Context, spanName, url string, body []byte, cookie string) (*http.Response, error) {
	spanCtx, span := tracing.StartSpan(ctx, "upstream/grok", spanName,
		trace.WithAttributes(
			attribute.String("http.method", http.MethodPost),
			attribute.String("http.url", url),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(spanCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.applyDefaultHeaders(req, cookie)

	resp, err := c.cli.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// callJSON is postJSON for non-streaming endpoints: it reads the body to
// completion, enforces the request timeout and turns non-200 into StatusError.
func (c *Client) callJSON(ctx context.Context, spanName, url string, body []byte, cookie string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.UpstreamRequestTimeout)
	defer cancel()

	resp, err := c.postJSON(ctx, spanName, url, body, cookie)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	return io.ReadAll(resp.Body)
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, constants.UpstreamErrorBodyLimit))
	return strings.TrimSpace(string(data))
}

// ChatRequest describes one upstream chat turn.
type ChatRequest struct {
	Model   models.Info
	Message string
}

// StartConversation opens a new upstream conversation and returns the raw
// NDJSON streaming response. Caller owns resp.Body.
func (c *Client) StartConversation(ctx context.Context, req ChatRequest) (*http.Response, error) {
	base := c.cfg.Get().GrokBaseURL
	payload := newConversationPayload(req)
	return c.openStream(ctx, "Grok.NewConversation", base+"/rest/app-chat/conversations/new", payload)
}

// ContinueConversation appends one turn to an existing upstream conversation
// and returns the raw NDJSON streaming response. Caller owns resp.Body.
func (c *Client) ContinueConversation(ctx context.Context, conversationID, parentResponseID string, req ChatRequest) (*http.Response, error) {
	base := c.cfg.Get().GrokBaseURL
	payload := continuationPayload(req, parentResponseID)
	url := base + "/rest/app-chat/conversations/" + conversationID + "/responses"
	return c.openStream(ctx, "Grok.ContinueConversation", url, payload)
}

func (c *Client) openStream(ctx context.Context, spanName, url string, payload []byte) (*http.Response, error) {
	resp, err := c.postJSON(ctx, spanName, url, payload, c.nextCookie())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &StatusError{Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
	return resp, nil
}
