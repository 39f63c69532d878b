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

// UpsertFact writes a fact; a later write to the same key replaces the value.
func (s *Service) UpsertFact(ctx context.Context, userID int64, key, value string) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return errors.New("fact key and value are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (user_id, fact_key, value, updated_at) VALUES (?, ?, ?, ?) `+
			s.upsertClause("user_id, fact_key", "value", "updated_at"),
		userID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}
	return nil
}

// ListFacts returns every fact for the user ordered by key.
func (s *Service) ListFacts(ctx context.Context, userID int64) ([]models.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact_key, value, updated_at FROM facts WHERE user_id = ? ORDER BY fact_key`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	facts := make([]models.Fact, 0)
	for rows.Next() {
		f := models.Fact{UserID: userID}
		if err := rows.Scan(&f.Key, &f.Value, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// DeleteFact removes one fact, sql.ErrNoRows when it does not exist.
func (s *Service) DeleteFact(ctx context.Context, userID int64, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE user_id = ? AND fact_key = ?`, userID, key)
	if err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
