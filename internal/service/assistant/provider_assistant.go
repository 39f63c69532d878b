package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"memochat/internal/models"
)

// ProviderSetting returns the user's provider selection, nil when none was made.
func (s *Service) ProviderSetting(ctx context.Context, userID int64) (*models.ProviderSetting, error) {
	setting := models.ProviderSetting{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, model, updated_at FROM provider_settings WHERE user_id = ?`, userID,
	).Scan(&setting.Provider, &setting.Model, &setting.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load provider setting: %w", err)
	}
	return &setting, nil
}

// SetProviderSetting stores the user's provider selection. It does not
// change the active provider until the registry is reloaded.
func (s *Service) SetProviderSetting(ctx context.Context, userID int64, provider, model string) (*models.ProviderSetting, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, errors.New("provider is required")
	}
	model = strings.TrimSpace(model)
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_settings (user_id, provider, model, updated_at) VALUES (?, ?, ?, ?) `+
			s.upsertClause("user_id", "provider", "model", "updated_at"),
		userID, provider, model, now,
	)
	if err != nil {
		return nil, fmt.Errorf("store provider setting: %w", err)
	}
	return &models.ProviderSetting{UserID: userID, Provider: provider, Model: model, UpdatedAt: now}, nil
}
