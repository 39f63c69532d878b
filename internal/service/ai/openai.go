package ai

import (
	"encoding/json"
	"net/http"

	"memochat/internal/models"
)

// openAICodec covers every vendor speaking the OpenAI chat completions wire format.
type openAICodec struct {
	extra map[string]string
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

func (openAICodec) endpoint(baseURL, _ string) string {
	return baseURL + "/chat/completions"
}

func (c openAICodec) headers(h http.Header, apiKey string) {
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range c.extra {
		h.Set(k, v)
	}
}

func (openAICodec) body(model string, req *ChatRequest) ([]byte, error) {
	msgs := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openAIMessage{Role: string(models.RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(openAIRequest{Model: model, Messages: msgs, Stream: true})
}

func (openAICodec) extract(payload []byte) string {
	return stringAt(payload, "choices.0.delta.content")
}
