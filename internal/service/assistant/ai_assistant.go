package assistant

import (
	"context"
	"fmt"
	"strings"

	"memochat/internal/models"
	"memochat/internal/service/ai"
)

const DefaultTitle = "New Conversation"

const titlePrompt = "You are a conversation title generator. " +
	"Based on the dialogue between the user and the AI, generate a concise and accurate title for the conversation. " +
	"The title should be within 10 words and summarize the main topic of the conversation. " +
	"Output only the title; do not include any additional content."

const maxTitleRunes = 80

// GenerateTitle asks provider for a short title summarizing messages.
func GenerateTitle(ctx context.Context, provider ai.Provider, messages []*models.Message) (string, error) {
	if len(messages) == 0 || provider == nil {
		return DefaultTitle, nil
	}
	// Get conversation context
	var conversation strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			conversation.WriteString(fmt.Sprintf("User: %s\n", msg.Content))
		case models.RoleAssistant:
			conversation.WriteString(fmt.Sprintf("Assistant: %s\n", msg.Content))
		}
	}

	userPrompt := fmt.Sprintf("Please generate a clean title using following conversation messages:\n\n%s", conversation.String())
	resp, err := ai.Complete(ctx, provider, titlePrompt, ai.Message{Role: models.RoleUser, Content: userPrompt})
	if err != nil {
		return "", fmt.Errorf("generate title failed: %w", err)
	}
	title := strings.Trim(strings.TrimSpace(resp), `"'`)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	if runes := []rune(title); len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	if title == "" {
		return DefaultTitle, nil
	}
	return title, nil
}
