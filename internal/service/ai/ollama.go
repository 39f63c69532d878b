package ai

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"memochat/internal/models"
)

// ollamaCodec reads newline-delimited JSON objects from a local ollama server.
type ollamaCodec struct{}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

func (ollamaCodec) endpoint(baseURL, _ string) string {
	return baseURL + "/api/chat"
}

func (ollamaCodec) headers(h http.Header, apiKey string) {
	h.Set("Accept", "application/x-ndjson")
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
}

func (ollamaCodec) body(model string, req *ChatRequest) ([]byte, error) {
	msgs := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openAIMessage{Role: string(models.RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(ollamaRequest{Model: model, Messages: msgs, Stream: true})
}

func (ollamaCodec) decode(body io.Reader, onGrowth GrowthFunc) (string, error) {
	acc := &accumulator{onGrowth: onGrowth}
	err := readLines(body, func(line []byte) (bool, error) {
		if !gjson.ValidBytes(line) {
			return false, nil
		}
		if msg := stringAt(line, "error"); msg != "" {
			return true, &ProviderError{Provider: "ollama", Message: truncate(msg, maxErrorMessage)}
		}
		if err := acc.add(stringAt(line, "message.content")); err != nil {
			return true, err
		}
		return gjson.GetBytes(line, "done").Bool(), nil
	})
	return acc.result(err)
}
