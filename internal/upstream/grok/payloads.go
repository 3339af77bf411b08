package grok

import (
	"github.com/tidwall/sjson"

	"github.com/cjdem/grok2api/internal/models"
)

// newConversationPayload builds the body for conversations/new. Field order
// follows the upstream web client.
func newConversationPayload(req ChatRequest) []byte {
	b := []byte(`{}`)
	b, _ = sjson.SetBytes(b, "temporary", false)
	b, _ = sjson.SetBytes(b, "modelName", req.Model.UpstreamModel)
	b, _ = sjson.SetBytes(b, "message", req.Message)
	b, _ = sjson.SetRawBytes(b, "fileAttachments", []byte(`[]`))
	b, _ = sjson.SetRawBytes(b, "imageAttachments", []byte(`[]`))
	b, _ = sjson.SetBytes(b, "disableSearch", false)
	b, _ = sjson.SetBytes(b, "enableImageGeneration", req.Model.ImageGen)
	b, _ = sjson.SetBytes(b, "returnImageBytes", false)
	b, _ = sjson.SetBytes(b, "enableImageStreaming", true)
	b, _ = sjson.SetBytes(b, "imageGenerationCount", 2)
	b, _ = sjson.SetBytes(b, "forceConcise", false)
	b, _ = sjson.SetRawBytes(b, "toolOverrides", []byte(`{}`))
	b, _ = sjson.SetBytes(b, "enableSideBySide", true)
	b, _ = sjson.SetBytes(b, "sendFinalMetadata", true)
	b, _ = sjson.SetBytes(b, "isReasoning", req.Model.RequestKind == models.KindReasoning)
	b, _ = sjson.SetBytes(b, "deepsearchPreset", deepsearchPreset(req.Model))
	b, _ = sjson.SetBytes(b, "disableTextFollowUps", true)
	return b
}

// continuationPayload builds the body for conversations/<id>/responses.
func continuationPayload(req ChatRequest, parentResponseID string) []byte {
	b := []byte(`{}`)
	b, _ = sjson.SetBytes(b, "message", req.Message)
	b, _ = sjson.SetBytes(b, "modelName", req.Model.UpstreamModel)
	if parentResponseID != "" {
		b, _ = sjson.SetBytes(b, "parentResponseId", parentResponseID)
	}
	b, _ = sjson.SetBytes(b, "disableSearch", false)
	b, _ = sjson.SetBytes(b, "enableImageGeneration", req.Model.ImageGen)
	b, _ = sjson.SetRawBytes(b, "toolOverrides", []byte(`{}`))
	b, _ = sjson.SetBytes(b, "sendFinalMetadata", true)
	b, _ = sjson.SetBytes(b, "isReasoning", req.Model.RequestKind == models.KindReasoning)
	b, _ = sjson.SetBytes(b, "deepsearchPreset", deepsearchPreset(req.Model))
	b, _ = sjson.SetBytes(b, "disableTextFollowUps", true)
	return b
}

func deepsearchPreset(info models.Info) string {
	if info.RequestKind == models.KindDeepSearch {
		return "default"
	}
	return ""
}
