package ai

import (
	"context"

	"memochat/internal/models"
)

// GrowthFunc receives the cumulative text each time a stream grows.
// Returning an error aborts the stream.
type GrowthFunc func(text string) error

// ExtractFunc picks the incremental content out of one structured payload.
// It returns "" when the payload carries no content.
type ExtractFunc func(payload []byte) string

// Message is one chat turn sent to a provider.
type Message struct {
	Role    models.Role
	Content string
}

// ChatRequest is the provider-neutral request shape.
type ChatRequest struct {
	System   string
	Messages []Message
}

// Provider streams a chat completion. Implementations hold only static
// configuration, so one instance may serve concurrent calls.
type Provider interface {
	ID() string
	Model() string
	// StreamChat calls onGrowth once per non-empty fragment with the text so far
	// and returns the final text. onGrowth may be nil.
	StreamChat(ctx context.Context, req *ChatRequest, onGrowth GrowthFunc) (string, error)
}

// Complete runs a chat request without incremental delivery.
func Complete(ctx context.Context, p Provider, system string, messages ...Message) (string, error) {
	return p.StreamChat(ctx, &ChatRequest{System: system, Messages: messages}, nil)
}

// FromHistory converts stored messages into provider turns, skipping empty ones.
func FromHistory(history []*models.Message) []Message {
	out := make([]Message, 0, len(history))
	for _, msg := range history {
		if msg == nil || msg.Content == "" {
			continue
		}
		out = append(out, Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}
