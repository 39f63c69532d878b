package ai

import (
	"encoding/json"
	"net/http"
	"net/url"

	"memochat/internal/models"
)

// geminiCodec streams generateContent over SSE. The stream has no sentinel and ends at EOF.
type geminiCodec struct{}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

func (geminiCodec) endpoint(baseURL, model string) string {
	return baseURL + "/models/" + url.PathEscape(model) + ":streamGenerateContent?alt=sse"
}

func (geminiCodec) headers(h http.Header, apiKey string) {
	h.Set("x-goog-api-key", apiKey)
}

func (geminiCodec) body(_ string, req *ChatRequest) ([]byte, error) {
	out := geminiRequest{Contents: make([]geminiContent, 0, len(req.Messages))}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		role := "user"
		switch m.Role {
		case models.RoleAssistant:
			role = "model"
		case models.RoleSystem:
			// gemini has no system turn inside contents
			if out.SystemInstruction == nil {
				out.SystemInstruction = &geminiContent{}
			}
			out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, geminiPart{Text: m.Content})
			continue
		}
		out.Contents = append(out.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	return json.Marshal(out)
}

func (geminiCodec) extract(payload []byte) string {
	return stringAt(payload, "candidates.0.content.parts.0.text")
}
