package streaming

import "github.com/tidwall/gjson"

// frame is a typed view over one parsed NDJSON line. The upstream shape is
// effectively schemaless, so every accessor is conditional.
type frame struct {
	root gjson.Result
}

func parseFrame(line string) (frame, bool) {
	if !gjson.Valid(line) {
		return frame{}, false
	}
	root := gjson.Parse(line)
	if !root.IsObject() {
		return frame{}, false
	}
	return frame{root: root}, true
}

// errorMessage returns the root-level error message, if any.
func (f frame) errorMessage() string {
	return f.root.Get("error.message").String()
}

// conversationID extracts the upstream conversation id.
func (f frame) conversationID() string {
	return f.root.Get("result.conversation.conversationId").String()
}

// responseID extracts the continuation cursor, trying the known locations in
// order of reliability.
func (f frame) responseID() string {
	for _, path := range []string{
		"result.response.responseId",
		"result.response.modelResponse.responseId",
		"result.modelResponse.responseId",
		"result.userResponse.responseId",
	} {
		if v := f.root.Get(path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// response returns the result.response subtree, the carrier of all content.
func (f frame) response() (gjson.Result, bool) {
	grok := f.root.Get("result.response")
	if !grok.Exists() {
		return gjson.Result{}, false
	}
	return grok, true
}

// stringField returns a string field, or "" when absent or non-string.
func stringField(node gjson.Result, path string) string {
	v := node.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

// generatedImageURLs collects the non-empty entries of
// modelResponse.generatedImageUrls.
func generatedImageURLs(grok gjson.Result) []string {
	var urls []string
	grok.Get("modelResponse.generatedImageUrls").ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String && v.String() != "" {
			urls = append(urls, v.String())
		}
		return true
	})
	return urls
}
