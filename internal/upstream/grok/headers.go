package grok

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cjdem/grok2api/internal/monitoring/tracing"
)

// applyDefaultHeaders sets the browser-shaped header set every upstream call
// carries. The request id is fresh per request.
func (c *Client) applyDefaultHeaders(req *http.Request, cookie string) {
	cfg := c.cfg.Get()
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", cfg.GrokBaseURL)
	req.Header.Set("Referer", cfg.GrokBaseURL+"/")
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("x-xai-request-id", uuid.NewString())
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
}

// FetchAsset retrieves one upstream asset (image or video bytes) with the
// same header set as chat calls. Caller owns resp.Body.
func (c *Client) FetchAsset(ctx context.Context, assetURL string) (*http.Response, error) {
	spanCtx, span := tracing.StartSpan(ctx, "upstream/grok", "Grok.FetchAsset",
		trace.WithAttributes(
			attribute.String("http.method", http.MethodGet),
			attribute.String("http.url", assetURL),
		))
	defer span.End()

	req, err := http.NewRequestWithContext(spanCtx, http.MethodGet, assetURL, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.applyDefaultHeaders(req, c.nextCookie())
	req.Header.Del("Content-Type")

	resp, err := c.cli.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}
