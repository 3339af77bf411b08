package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/cjdem/grok2api/internal/constants"
	"github.com/cjdem/grok2api/internal/conversation"
	apperrors "github.com/cjdem/grok2api/internal/errors"
	"github.com/cjdem/grok2api/internal/handlers/common"
	"github.com/cjdem/grok2api/internal/logging"
	"github.com/cjdem/grok2api/internal/models"
	"github.com/cjdem/grok2api/internal/streaming"
	"github.com/cjdem/grok2api/internal/upstream/grok"
)

// ChatCompletions serves POST /v1/chat/completions.
//
// Continuation works by history hash: when the request history minus its last
// user turn matches a stored record in the caller's scope, only the new turn
// is sent upstream against the stored conversation cursor. Otherwise the
// whole history is flattened into a fresh upstream conversation.
func (h *Handler) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithError(c, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
		return
	}
	info, ok := models.Resolve(req.Model)
	if !ok {
		common.AbortWithError(c, http.StatusNotFound, "invalid_request_error", "model not found: "+req.Model)
		return
	}
	if len(req.Messages) == 0 {
		common.AbortWithError(c, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}
	lastUser := req.lastUserText()
	if strings.TrimSpace(lastUser) == "" {
		common.AbortWithError(c, http.StatusBadRequest, "invalid_request_error", "request carries no user message content")
		return
	}
	c.Set("model", info.ID)

	apiKey := contextAPIKey(c)
	scope := conversation.Scope(apiKey, c.ClientIP())
	history := req.history()
	now := time.Now()

	rec := h.findContinuation(c, scope, history, now)

	upstreamCtx := c.Request.Context()
	var cancel context.CancelFunc
	if !req.Stream {
		upstreamCtx, cancel = context.WithTimeout(upstreamCtx, constants.UpstreamRequestTimeout)
		defer cancel()
	}

	resp, continued, err := h.openConversation(upstreamCtx, rec, info, lastUser, req.flattenPrompt())
	if err != nil {
		common.AbortWithAPIError(c, upstreamAPIError(err))
		return
	}
	defer resp.Body.Close()

	settings := h.streamSettings(c, info)
	persist := h.persister(scope, rec, apiKey, c.ClientIP(),
		conversation.HistoryHash(history, false))

	logging.WithReq(c, log.Fields{"model": info.ID, "continued": continued, "stream": req.Stream}).Debug("chat dispatch")

	if req.Stream {
		common.PrepareSSE(c)

		tr := streaming.NewTransformer(settings, streaming.Hooks{
			OnMeta: persist,
			OnFinish: func(fr streaming.FinishResult) {
				logging.WithReq(c, log.Fields{
					"status":      fr.Status,
					"duration_ms": logging.DurationMS(fr.Duration),
					"model":       info.ID,
				}).Info("chat stream finished")
			},
		})
		tr.Run(c.Request.Context(), resp.Body, c.Writer)
		return
	}

	res, err := streaming.NewCollector(settings).Collect(upstreamCtx, resp.Body)
	if err != nil {
		var ue *streaming.UpstreamError
		switch {
		case errors.As(err, &ue):
			common.AbortWithError(c, http.StatusBadGateway, "upstream_error", ue.Message)
		case errors.Is(err, streaming.ErrEmptyUpstream):
			common.AbortWithError(c, http.StatusBadGateway, "upstream_error", err.Error())
		default:
			common.AbortWithError(c, http.StatusBadGateway, "upstream_error", "failed to read upstream response")
		}
		return
	}
	persist(res.Meta)
	c.JSON(http.StatusOK, res.Response)
}

// findContinuation looks up a stored conversation matching the request
// history minus its last user turn. Store failures degrade to a fresh start.
func (h *Handler) findContinuation(c *gin.Context, scope string, history []conversation.HistoryMessage, now time.Time) *conversation.Record {
	hash := conversation.HistoryHash(history, true)
	if hash == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), constants.StoreOpTimeout)
	defer cancel()
	rec, err := h.store.FindByHistoryHash(ctx, scope, hash, now)
	if err != nil {
		logging.WithReq(c, log.Fields{"error": err.Error()}).Warn("history lookup failed")
		return nil
	}
	return rec
}

// openConversation continues the stored upstream conversation when one
// matches, falling back to a fresh conversation on continuation failure.
func (h *Handler) openConversation(ctx context.Context, rec *conversation.Record, info models.Info, lastUser, flattened string) (*http.Response, bool, error) {
	if rec != nil && rec.GrokConversationID != "" {
		resp, err := h.grok.ContinueConversation(ctx, rec.GrokConversationID, rec.LastResponseID,
			grok.ChatRequest{Model: info, Message: lastUser})
		if err == nil {
			return resp, true, nil
		}
		log.WithFields(log.Fields{
			"grok_conversation_id": rec.GrokConversationID,
			"error":                err.Error(),
		}).Warn("continuation failed, starting fresh conversation")
	}
	resp, err := h.grok.StartConversation(ctx, grok.ChatRequest{Model: info, Message: flattened})
	if err != nil {
		return nil, false, err
	}
	return resp, false, nil
}

// persister builds the OnMeta hook that keeps the conversation record in
// sync with the upstream cursor.
func (h *Handler) persister(scope string, prev *conversation.Record, apiKey, clientIP, fullHash string) func(streaming.Meta) {
	openaiID := "conv-" + uuid.NewString()
	createdAt := time.Now().UnixMilli()
	shareLink := ""
	if prev != nil {
		openaiID = prev.OpenAIConversationID
		createdAt = prev.CreatedAt
		shareLink = prev.ShareLinkID
	}
	token := strings.TrimSpace(apiKey)
	if token == "" {
		token = clientIP
	}

	return func(meta streaming.Meta) {
		if meta.GrokConversationID == "" {
			return
		}
		snap := h.cfg.Get()
		now := time.Now()
		rec := &conversation.Record{
			Scope:                scope,
			OpenAIConversationID: openaiID,
			GrokConversationID:   meta.GrokConversationID,
			LastResponseID:       meta.LastResponseID,
			ShareLinkID:          shareLink,
			Token:                token,
			HistoryHash:          fullHash,
			CreatedAt:            createdAt,
			UpdatedAt:            now.UnixMilli(),
			ExpiresAt:            now.Add(time.Duration(snap.ConversationTTLHours) * time.Hour).UnixMilli(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), constants.StoreOpTimeout)
		defer cancel()
		if err := h.store.Upsert(ctx, rec); err != nil {
			log.WithError(err).WithField("scope", scope).Warn("conversation upsert failed")
			return
		}
		// Bound per-credential growth right where new rows appear.
		if keep := snap.ConversationKeepPerToken; keep > 0 {
			if _, err := h.store.TrimForToken(ctx, scope, token, keep); err != nil {
				log.WithError(err).WithField("scope", scope).Debug("conversation trim failed")
			}
		}
	}
}

func (h *Handler) streamSettings(c *gin.Context, info models.Info) streaming.Settings {
	snap := h.cfg.Get()
	base := strings.TrimRight(snap.PublicBaseURL, "/")
	if base == "" {
		base = requestOrigin(c.Request)
	}
	return streaming.Settings{
		Model:              info.ID,
		ShowThinking:       info.ShowThinking || snap.ShowThinking,
		ShowSearch:         info.ShowSearch || snap.ShowSearch,
		FilteredTags:       streaming.ParseFilteredTags(snap.FilteredTags),
		VideoPosterPreview: snap.VideoPosterPreview,
		ProxyBaseURL:       base,
		FirstChunkTimeout:  time.Duration(snap.FirstChunkTimeoutMs) * time.Millisecond,
		ChunkTimeout:       time.Duration(snap.ChunkTimeoutMs) * time.Millisecond,
		TotalTimeout:       time.Duration(snap.TotalTimeoutMs) * time.Millisecond,
	}
}

// requestOrigin rebuilds the caller-visible origin so rewritten asset links
// stay absolute when no public base URL is configured.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func upstreamAPIError(err error) *apperrors.APIError {
	var se *grok.StatusError
	if errors.As(err, &se) {
		msg := se.Body
		if msg == "" {
			msg = "upstream request failed"
		}
		return apperrors.FromUpstreamStatus(se.Status, msg)
	}
	return apperrors.New(http.StatusBadGateway, "upstream_error", "upstream_error", err.Error())
}

func contextAPIKey(c *gin.Context) string {
	if v, ok := c.Get("api_key"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
