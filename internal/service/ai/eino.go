package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"memochat/internal/models"
)

// EinoProvider adapts an eino chat model to Provider. The SDK owns the wire
// format, so this is a custom-stream variant driven by StreamReader.Recv.
type EinoProvider struct {
	id        string
	model     string
	chatModel model.BaseChatModel
}

func NewEinoProvider(id, modelName string, chatModel model.BaseChatModel) *EinoProvider {
	return &EinoProvider{id: id, model: modelName, chatModel: chatModel}
}

func (p *EinoProvider) ID() string    { return p.id }
func (p *EinoProvider) Model() string { return p.model }

// StreamChat streams the model reply, reporting cumulative text through onGrowth.
func (p *EinoProvider) StreamChat(ctx context.Context, req *ChatRequest, onGrowth GrowthFunc) (string, error) {
	if req == nil {
		return "", fmt.Errorf("%s: chat request required", p.id)
	}
	streamReader, err := p.chatModel.Stream(ctx, convertMessages(req))
	if err != nil {
		return "", fmt.Errorf("%s stream: %w", p.id, err)
	}
	defer streamReader.Close()

	acc := &accumulator{onGrowth: onGrowth}
	for {
		chunk, err := streamReader.Recv()
		if errors.Is(err, io.EOF) {
			// flow finished
			return acc.result(nil)
		}
		if err != nil {
			return acc.result(&StreamError{Err: err})
		}
		if chunk == nil {
			continue
		}
		if err := acc.add(chunk.Content); err != nil {
			return acc.result(err)
		}
	}
}

func convertMessages(req *ChatRequest) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, &schema.Message{Role: schema.System, Content: req.System})
	}
	for _, msg := range req.Messages {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{Role: role, Content: msg.Content})
	}
	return messages
}

func newEinoOpenAI(ctx context.Context, s Settings) (Provider, error) {
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: s.BaseURL,
		Model:   s.Model,
		APIKey:  s.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("init openai chat model: %w", err)
	}
	return NewEinoProvider(s.Provider, s.Model, chatModel), nil
}

func newEinoClaude(ctx context.Context, s Settings) (Provider, error) {
	var baseURLPtr *string
	if s.BaseURL != "" {
		baseURL := s.BaseURL
		baseURLPtr = &baseURL
	}
	chatModel, err := claude.NewChatModel(ctx, &claude.Config{
		APIKey:    s.APIKey,
		Model:     s.Model,
		BaseURL:   baseURLPtr,
		MaxTokens: anthropicMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("init claude chat model: %w", err)
	}
	return NewEinoProvider(s.Provider, s.Model, chatModel), nil
}

func newEinoGemini(ctx context.Context, s Settings) (Provider, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  s.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if s.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: s.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  s.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini chat model: %w", err)
	}
	return NewEinoProvider(s.Provider, s.Model, chatModel), nil
}
