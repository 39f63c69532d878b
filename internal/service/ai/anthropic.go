package ai

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"memochat/internal/models"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 3000
)

// anthropicCodec reads the typed Messages event stream. Only text deltas grow the output.
type anthropicCodec struct{}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

func (anthropicCodec) endpoint(baseURL, _ string) string {
	return baseURL + "/messages"
}

func (anthropicCodec) headers(h http.Header, apiKey string) {
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicVersion)
}

func (anthropicCodec) body(model string, req *ChatRequest) ([]byte, error) {
	out := anthropicRequest{Model: model, System: req.System, MaxTokens: anthropicMaxTokens, Stream: true}
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Content
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(out)
}

func (anthropicCodec) decode(body io.Reader, onGrowth GrowthFunc) (string, error) {
	acc := &accumulator{onGrowth: onGrowth}
	event := ""
	err := readLines(body, func(line []byte) (bool, error) {
		if bytes.HasPrefix(line, eventPrefix) {
			event = string(bytes.TrimSpace(line[len(eventPrefix):]))
			return false, nil
		}
		payload, ok := dataPayload(line)
		if !ok || !gjson.ValidBytes(payload) {
			return false, nil
		}
		kind := event
		if t := stringAt(payload, "type"); t != "" {
			kind = t
		}
		switch kind {
		case "content_block_delta":
			if stringAt(payload, "delta.type") != "text_delta" {
				return false, nil
			}
			return false, acc.add(stringAt(payload, "delta.text"))
		case "message_stop":
			return true, nil
		case "error":
			msg := stringAt(payload, "error.message")
			if msg == "" {
				msg = "stream error"
			}
			return true, &ProviderError{Provider: "anthropic", Message: truncate(msg, maxErrorMessage)}
		}
		return false, nil
	})
	return acc.result(err)
}
