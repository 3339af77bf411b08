package grok

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/cjdem/grok2api/internal/models"
	"github.com/cjdem/grok2api/internal/ratelimit"
)

// FetchRateLimits queries the upstream rate-limit surface for one model and
// normalises the response. Any transport failure or non-200 yields an
// unknown result rather than an error.
func (c *Client) FetchRateLimits(ctx context.Context, modelID string) ratelimit.Result {
	kind := models.KindDefault
	upstreamModel := modelID
	if info, ok := models.Resolve(modelID); ok {
		kind = info.RequestKind
		upstreamModel = info.UpstreamModel
	}

	payload := []byte(`{}`)
	payload, _ = sjson.SetBytes(payload, "requestKind", kind)
	payload, _ = sjson.SetBytes(payload, "modelName", upstreamModel)

	base := c.cfg.Get().GrokBaseURL
	body, err := c.callJSON(ctx, "Grok.FetchRateLimits", base+"/rest/rate-limits", payload, c.nextCookie())
	if err != nil {
		log.WithError(err).WithField("model", modelID).Debug("rate-limit fetch failed")
		return ratelimit.Unknown()
	}
	return ratelimit.Normalize(modelID, body, time.Now())
}
