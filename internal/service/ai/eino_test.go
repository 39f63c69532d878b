package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"memochat/internal/models"
)

type fakeChatModel struct {
	chunks    []string
	streamErr error
	input     []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.input = input
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, &schema.Message{Role: schema.Assistant, Content: c})
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func TestEinoProviderStreamsCumulativeText(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Hel", "", "lo ", "world"}}
	p := NewEinoProvider("eino-openai", "gpt-4o-mini", fake)

	rec := &growthRecorder{}
	text, err := p.StreamChat(context.Background(), &ChatRequest{
		System: "be brief",
		Messages: []Message{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
			{Role: models.RoleUser, Content: "again"},
		},
	}, rec.record)
	require.NoError(t, err)
	require.Equal(t, "Hello world", text)
	require.Equal(t, []string{"Hel", "Hello ", "Hello world"}, rec.calls)

	require.Len(t, fake.input, 4)
	require.Equal(t, schema.System, fake.input[0].Role)
	require.Equal(t, schema.Assistant, fake.input[2].Role)
	require.Equal(t, "again", fake.input[3].Content)
}

func TestEinoProviderOpenFailure(t *testing.T) {
	fake := &fakeChatModel{streamErr: errors.New("error, status code: 401, message: invalid api key")}
	p := NewEinoProvider("eino-openai", "gpt-4o-mini", fake)

	_, err := p.StreamChat(context.Background(), &ChatRequest{Messages: []Message{{Role: models.RoleUser, Content: "hi"}}}, nil)
	require.Error(t, err)
	require.Equal(t, KindUnauthorized, Diagnose(err).Kind)
}

func TestEinoCatalogKindsNeedKeys(t *testing.T) {
	catalog := NewCatalog(nil)
	for _, id := range []string{"eino-openai", "eino-claude", "eino-gemini"} {
		_, err := catalog.Build(context.Background(), Settings{Provider: id})
		require.ErrorIs(t, err, ErrNotConfigured, id)
	}
}
