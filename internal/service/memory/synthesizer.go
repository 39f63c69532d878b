package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"memochat/internal/models"
	"memochat/internal/service/ai"
)

const (
	DefaultThreshold = 6

	synthesizedKeyWords = 6
)

const extractionPrompt = "You extract durable facts about the user from a conversation excerpt. " +
	"Return a single flat JSON object mapping short snake_case keys to plain string values, " +
	"for example {\"favorite_drink\": \"green tea\", \"home_city\": \"Lisbon\"}. " +
	"Only include facts the user stated or clearly implied about themselves. " +
	"Return {} when there is nothing new. Output only the JSON object."

// Store is the persistence the synthesizer needs.
type Store interface {
	// SynthesisState reports the session checkpoint and its total message count.
	SynthesisState(ctx context.Context, userID, sessionID int64) (checkpoint, total int, err error)
	// MessagesAfter returns the session messages past the first offset ones, oldest first.
	MessagesAfter(ctx context.Context, userID, sessionID int64, offset int) ([]*models.Message, error)
	// AdvanceCheckpoint moves the checkpoint forward; it never moves it back.
	AdvanceCheckpoint(ctx context.Context, userID, sessionID int64, checkpoint int) error
	UpsertFact(ctx context.Context, userID int64, key, value string) error
}

// Result describes one synthesis step.
type Result struct {
	Triggered  bool
	Checkpoint int
	Facts      map[string]string
}

// Synthesizer runs the rolling fact extraction over a session's unprocessed tail.
type Synthesizer struct {
	Store     Store
	Threshold int
}

func NewSynthesizer(store Store, threshold int) *Synthesizer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Synthesizer{Store: store, Threshold: threshold}
}

// Step extracts facts when at least Threshold messages are past the
// checkpoint. The checkpoint moves only after the output parsed and every
// fact was stored, so a failed step is retried over the same tail.
func (s *Synthesizer) Step(ctx context.Context, userID, sessionID int64, provider ai.Provider) (Result, error) {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	checkpoint, total, err := s.Store.SynthesisState(ctx, userID, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("load synthesis state: %w", err)
	}
	res := Result{Checkpoint: checkpoint}
	if total-checkpoint < threshold {
		return res, nil
	}
	if provider == nil {
		return res, &ai.ConfigError{Reason: "no provider for fact synthesis"}
	}
	tail, err := s.Store.MessagesAfter(ctx, userID, sessionID, checkpoint)
	if err != nil {
		return res, fmt.Errorf("load unprocessed messages: %w", err)
	}
	if len(tail) == 0 {
		return res, nil
	}

	res.Triggered = true
	raw, err := ai.Complete(ctx, provider, extractionPrompt, ai.Message{
		Role:    models.RoleUser,
		Content: transcript(tail),
	})
	if err != nil {
		return res, fmt.Errorf("extract facts: %w", err)
	}
	parsed, err := ParseFacts(raw)
	if err != nil {
		return res, fmt.Errorf("parse extracted facts: %w", err)
	}

	facts := make(map[string]string, len(parsed))
	for k, v := range parsed {
		key := NormalizeKey(k, synthesizedKeyWords)
		if key == "" {
			continue
		}
		if err := s.Store.UpsertFact(ctx, userID, key, v); err != nil {
			return res, fmt.Errorf("store fact %s: %w", key, err)
		}
		facts[key] = v
	}

	next := checkpoint + len(tail)
	if err := s.Store.AdvanceCheckpoint(ctx, userID, sessionID, next); err != nil {
		return res, fmt.Errorf("advance checkpoint: %w", err)
	}
	res.Checkpoint = next
	res.Facts = facts
	slog.Debug("facts synthesized", "component", "memory", "session_id", sessionID, "facts", len(facts), "checkpoint", next)
	return res, nil
}

func transcript(messages []*models.Message) string {
	var conv strings.Builder
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		conv.WriteString(fmt.Sprintf("[%s]: %s\n\n", msg.Role, msg.Content))
	}
	return conv.String()
}
