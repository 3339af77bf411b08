package grok

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cjdem/grok2api/internal/constants"
	"github.com/cjdem/grok2api/internal/grpcweb"
	"github.com/cjdem/grok2api/internal/monitoring/tracing"
)

// StepResult records the outcome of one account bootstrap step.
type StepResult struct {
	Step       string `json:"step"`
	OK         bool   `json:"ok"`
	Status     int    `json:"status,omitempty"`
	GRPCStatus *int   `json:"grpc_status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BootstrapResult aggregates the bootstrap flow: the ordered step records and
// the cookie string collected from Set-Cookie headers along the way.
type BootstrapResult struct {
	Steps  []StepResult `json:"steps"`
	Cookie string       `json:"cookie,omitempty"`
}

// OK reports whether every step succeeded.
func (r *BootstrapResult) OK() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return len(r.Steps) > 0
}

type bootstrapStep struct {
	name string
	path string
}

// The anonymous-account flow against the auth origin. Both RPCs take an
// empty request message; identity is carried entirely in cookies.
var bootstrapSteps = []bootstrapStep{
	{name: "create_anonymous_user", path: "/auth.v1.Auth/CreateAnonymousUser"},
	{name: "create_session", path: "/auth.v1.Auth/CreateSession"},
}

// BootstrapAccount runs the gRPC-Web account flow and returns the step
// records plus any session cookies issued. The flow short-circuits on the
// first failed step.
func (c *Client) BootstrapAccount(ctx context.Context) *BootstrapResult {
	authBase := c.cfg.Get().GrokAuthURL
	res := &BootstrapResult{}
	var cookies []string

	for _, step := range bootstrapSteps {
		sr, setCookies := c.runBootstrapStep(ctx, step, authBase, strings.Join(cookies, "; "))
		res.Steps = append(res.Steps, sr)
		cookies = append(cookies, setCookies...)
		if !sr.OK {
			log.WithFields(log.Fields{"step": sr.Step, "status": sr.Status, "error": sr.Error}).Warn("account bootstrap failed")
			break
		}
	}
	res.Cookie = strings.Join(cookies, "; ")
	return res
}

func (c *Client) runBootstrapStep(ctx context.Context, step bootstrapStep, authBase, cookie string) (StepResult, []string) {
	sr := StepResult{Step: step.name}

	ctx, cancel := context.WithTimeout(ctx, constants.UpstreamRequestTimeout)
	defer cancel()

	spanCtx, span := tracing.StartSpan(ctx, "upstream/grok", "Grok.Bootstrap."+step.name,
		trace.WithAttributes(attribute.String("http.url", authBase+step.path)))
	defer span.End()

	frame := grpcweb.EncodeFrame(nil)
	req, err := http.NewRequestWithContext(spanCtx, http.MethodPost, authBase+step.path, bytes.NewReader(frame))
	if err != nil {
		sr.Error = err.Error()
		span.SetStatus(codes.Error, err.Error())
		return sr, nil
	}
	c.applyDefaultHeaders(req, cookie)
	req.Header.Set("Content-Type", "application/grpc-web+proto")
	req.Header.Set("Accept", "application/grpc-web+proto")

	resp, err := c.cli.Do(req)
	if err != nil {
		sr.Error = err.Error()
		span.SetStatus(codes.Error, err.Error())
		return sr, nil
	}
	defer resp.Body.Close()

	sr.Status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		sr.Error = "unexpected http status"
		return sr, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		sr.Error = err.Error()
		return sr, nil
	}
	parsed, err := grpcweb.ParseResponse(body, resp.Header, resp.Header.Get("Content-Type"))
	if err != nil {
		sr.Error = err.Error()
		return sr, nil
	}
	sr.GRPCStatus = parsed.GRPCStatus
	if parsed.GRPCStatus != nil && *parsed.GRPCStatus != 0 {
		sr.Error = parsed.GRPCMessage
		if sr.Error == "" {
			sr.Error = "non-zero grpc status"
		}
		return sr, nil
	}

	sr.OK = true
	var setCookies []string
	for _, ck := range resp.Cookies() {
		if ck.Name != "" && ck.Value != "" {
			setCookies = append(setCookies, ck.Name+"="+ck.Value)
		}
	}
	return sr, setCookies
}
