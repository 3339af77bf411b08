package openai

import (
	"encoding/json"
	"strings"

	"github.com/cjdem/grok2api/internal/conversation"
)

// ChatMessage is one incoming message. Content is either a plain string or
// an array of typed parts; only text parts contribute.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ChatCompletionRequest is the accepted subset of the chat-completions body.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Text extracts the textual content of a message.
func (m ChatMessage) Text() string {
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// history converts the request messages for hashing.
func (r *ChatCompletionRequest) history() []conversation.HistoryMessage {
	out := make([]conversation.HistoryMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, conversation.HistoryMessage{Role: m.Role, Content: m.Text()})
	}
	return out
}

// lastUserText returns the text of the last user message.
func (r *ChatCompletionRequest) lastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(r.Messages[i].Role, "user") {
			return r.Messages[i].Text()
		}
	}
	return ""
}

// flattenPrompt folds the whole history into one upstream message, used when
// no stored conversation can be continued.
func (r *ChatCompletionRequest) flattenPrompt() string {
	var lines []string
	for _, m := range r.Messages {
		text := m.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		role := strings.ToLower(strings.TrimSpace(m.Role))
		switch role {
		case "system", "developer":
			lines = append(lines, "System: "+text)
		case "assistant":
			lines = append(lines, "Assistant: "+text)
		default:
			lines = append(lines, "Human: "+text)
		}
	}
	return strings.Join(lines, "\n\n")
}
