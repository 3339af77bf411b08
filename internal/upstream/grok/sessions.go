package grok

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// CloneResult is the outcome of cloning a share link into a fresh
// conversation the caller can continue.
type CloneResult struct {
	ConversationID string
	LastResponseID string
}

// CloneShareLink clones a shared conversation. The continuation cursor
// prefers the last assistant-sender response and falls back to the last
// response of any sender.
func (c *Client) CloneShareLink(ctx context.Context, shareLinkID string) (*CloneResult, error) {
	base := c.cfg.Get().GrokBaseURL
	url := base + "/rest/app-chat/share_links/" + shareLinkID + "/clone"

	body, err := c.callJSON(ctx, "Grok.CloneShareLink", url, []byte(`{}`), c.nextCookie())
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(body)
	res := &CloneResult{}
	for _, path := range []string{"conversation.conversationId", "conversationId"} {
		if v := root.Get(path); v.Type == gjson.String && v.String() != "" {
			res.ConversationID = v.String()
			break
		}
	}
	if res.ConversationID == "" {
		return nil, errors.New("clone response carries no conversation id")
	}

	responses := root.Get("responses")
	if !responses.Exists() {
		responses = root.Get("conversation.responses")
	}
	var lastAny, lastAssistant string
	responses.ForEach(func(_, item gjson.Result) bool {
		rid := item.Get("responseId").String()
		if rid == "" {
			return true
		}
		lastAny = rid
		if strings.EqualFold(item.Get("sender").String(), "assistant") {
			lastAssistant = rid
		}
		return true
	})
	res.LastResponseID = lastAssistant
	if res.LastResponseID == "" {
		res.LastResponseID = lastAny
	}
	return res, nil
}

// ShareConversation publishes a conversation up to the given response and
// returns the new share link id.
func (c *Client) ShareConversation(ctx context.Context, conversationID, responseID string) (string, error) {
	base := c.cfg.Get().GrokBaseURL
	url := base + "/rest/app-chat/conversations/" + conversationID + "/share"

	payload := []byte(`{}`)
	payload, _ = sjson.SetBytes(payload, "responseId", responseID)
	payload, _ = sjson.SetBytes(payload, "allowIndexing", true)

	body, err := c.callJSON(ctx, "Grok.ShareConversation", url, payload, c.nextCookie())
	if err != nil {
		return "", err
	}

	root := gjson.ParseBytes(body)
	for _, path := range []string{"shareLinkId", "shareLink.id", "id"} {
		if v := root.Get(path); v.Type == gjson.String && v.String() != "" {
			return v.String(), nil
		}
	}
	return "", errors.New("share response carries no share link id")
}
