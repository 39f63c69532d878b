package assistant

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memochat/internal/models"
	"memochat/internal/service/ai"
	"memochat/internal/service/memory"
)

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	t.Setenv(credentialKeyEnv, strings.Repeat("k", 32))
	db := openTestDB(t)
	t.Cleanup(func() { db.Close() })
	svc, err := NewService(db, "sqlite3")
	require.NoError(t, err)
	return svc, db
}

func TestUpsertFactLastWriteWins(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, db, "gina")

	require.NoError(t, svc.UpsertFact(ctx, userID, "k", "a"))
	require.NoError(t, svc.UpsertFact(ctx, userID, "k", "b"))
	require.NoError(t, svc.UpsertFact(ctx, userID, "other", "c"))

	facts, err := svc.ListFacts(ctx, userID)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	require.Equal(t, "k", facts[0].Key)
	require.Equal(t, "b", facts[0].Value)

	require.NoError(t, svc.DeleteFact(ctx, userID, "other"))
	require.ErrorIs(t, svc.DeleteFact(ctx, userID, "other"), sql.ErrNoRows)
	require.Error(t, svc.UpsertFact(ctx, userID, "", "x"))
}

func TestFactsAreScopedPerUser(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := insertTestUser(t, db, "a")
	b := insertTestUser(t, db, "b")

	require.NoError(t, svc.UpsertFact(ctx, a, "city", "Lisbon"))
	require.NoError(t, svc.UpsertFact(ctx, b, "city", "Oslo"))

	facts, err := svc.ListFacts(ctx, a)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, "Lisbon", facts[0].Value)
}

func addMessages(t *testing.T, svc *Service, userID, sessionID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		_, err := svc.AppendMessageToSession(context.Background(), userID, sessionID, role, "msg")
		require.NoError(t, err)
	}
}

func TestCheckpointOnlyMovesForward(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, db, "hank")
	session, err := svc.CreateSession(ctx, userID, "chat")
	require.NoError(t, err)
	addMessages(t, svc, userID, session.ID, 8)

	checkpoint, total, err := svc.SynthesisState(ctx, userID, session.ID)
	require.NoError(t, err)
	require.Equal(t, 0, checkpoint)
	require.Equal(t, 8, total)

	require.NoError(t, svc.AdvanceCheckpoint(ctx, userID, session.ID, 6))
	require.NoError(t, svc.AdvanceCheckpoint(ctx, userID, session.ID, 2))
	checkpoint, _, err = svc.SynthesisState(ctx, userID, session.ID)
	require.NoError(t, err)
	require.Equal(t, 6, checkpoint)

	tail, err := svc.MessagesAfter(ctx, userID, session.ID, checkpoint)
	require.NoError(t, err)
	require.Len(t, tail, 2)

	_, _, err = svc.SynthesisState(ctx, userID+100, session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

type cannedProvider struct {
	reply string
	calls int
}

func (p *cannedProvider) ID() string    { return "canned" }
func (p *cannedProvider) Model() string { return "test" }
func (p *cannedProvider) StreamChat(ctx context.Context, req *ai.ChatRequest, onGrowth ai.GrowthFunc) (string, error) {
	p.calls++
	return p.reply, nil
}

func TestSynthesizerOverSQLStore(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, db, "ivy")
	session, err := svc.CreateSession(ctx, userID, "chat")
	require.NoError(t, err)

	provider := &cannedProvider{reply: `{"favorite_food": "ramen"}`}
	synth := memory.NewSynthesizer(svc, memory.DefaultThreshold)

	addMessages(t, svc, userID, session.ID, 5)
	res, err := synth.Step(ctx, userID, session.ID, provider)
	require.NoError(t, err)
	require.False(t, res.Triggered)
	require.Zero(t, provider.calls)

	addMessages(t, svc, userID, session.ID, 1)
	res, err = synth.Step(ctx, userID, session.ID, provider)
	require.NoError(t, err)
	require.Equal(t, 6, res.Checkpoint)
	require.Equal(t, 1, provider.calls)

	facts, err := svc.ListFacts(ctx, userID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, "ramen", facts[0].Value)

	provider.reply = "nothing to report"
	addMessages(t, svc, userID, session.ID, 6)
	_, err = synth.Step(ctx, userID, session.ID, provider)
	require.Error(t, err)
	checkpoint, _, err := svc.SynthesisState(ctx, userID, session.ID)
	require.NoError(t, err)
	require.Equal(t, 6, checkpoint)
}

func TestReminderLifecycle(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, db, "jo")
	session, err := svc.CreateSession(ctx, userID, "chat")
	require.NoError(t, err)

	past, err := svc.CreateReminder(ctx, userID, session.ID, &models.ReminderDirective{
		Description: "Call mom", Due: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, past.Overdue)

	future, err := svc.CreateReminder(ctx, userID, 0, &models.ReminderDirective{
		Description: "Renew passport", Due: time.Now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	require.False(t, future.Overdue)

	list, err := svc.ListReminders(ctx, userID, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, past.ID, list[0].ID)
	require.True(t, list[0].Overdue)
	require.Equal(t, session.ID, list[0].SessionID)
	require.Zero(t, list[1].SessionID)

	require.NoError(t, svc.CompleteReminder(ctx, userID, past.ID))
	list, err = svc.ListReminders(ctx, userID, false)
	require.NoError(t, err)
	require.Len(t, list, 1)

	all, err := svc.ListReminders(ctx, userID, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.True(t, all[0].Done)
	require.False(t, all[0].Overdue)

	require.NoError(t, svc.DeleteReminder(ctx, userID, future.ID))
	require.ErrorIs(t, svc.DeleteReminder(ctx, userID, future.ID), sql.ErrNoRows)
	require.ErrorIs(t, svc.CompleteReminder(ctx, userID+1, past.ID), sql.ErrNoRows)
}

func TestProviderSettingRoundTrip(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, db, "kim")

	setting, err := svc.ProviderSetting(ctx, userID)
	require.NoError(t, err)
	require.Nil(t, setting)

	_, err = svc.SetProviderSetting(ctx, userID, " OpenAI ", "gpt-4o")
	require.NoError(t, err)
	_, err = svc.SetProviderSetting(ctx, userID, "anthropic", "")
	require.NoError(t, err)

	setting, err = svc.ProviderSetting(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, "anthropic", setting.Provider)
	require.Empty(t, setting.Model)
}

func TestRegistryReadsFromService(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, db, "lee")
	reg := ai.NewRegistry(userID, svc, ai.NewCatalog(nil))

	require.ErrorIs(t, reg.Reload(ctx), ai.ErrNotConfigured)

	_, err := svc.SetProviderSetting(ctx, userID, "anthropic", "")
	require.NoError(t, err)
	require.ErrorIs(t, reg.Reload(ctx), ai.ErrNotConfigured)

	require.NoError(t, svc.SetUserToken(ctx, userID, "anthropic", "sk-ant"))
	require.NoError(t, reg.Reload(ctx))
	require.Equal(t, "anthropic", reg.State().Provider)
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	userID := insertTestUser(t, db, "max")
	session, err := svc.CreateSession(ctx, userID, "chat")
	require.NoError(t, err)
	addMessages(t, svc, userID, session.ID, 2)

	require.NoError(t, svc.DeleteSession(ctx, userID, session.ID))
	require.ErrorIs(t, svc.DeleteSession(ctx, userID, session.ID), sql.ErrNoRows)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, session.ID).Scan(&count))
	require.Zero(t, count)

	_, err = svc.AppendMessageToSession(ctx, userID, session.ID, models.RoleUser, "hi")
	require.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestGenerateTitle(t *testing.T) {
	provider := &cannedProvider{reply: "\"Trip planning\"\nextra"}
	title, err := GenerateTitle(context.Background(), provider, []*models.Message{
		{Role: models.RoleUser, Content: "help me plan a trip"},
		{Role: models.RoleAssistant, Content: "sure"},
	})
	require.NoError(t, err)
	require.Equal(t, "Trip planning", title)

	title, err = GenerateTitle(context.Background(), provider, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultTitle, title)
}
