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

// CreateReminder persists a parsed reminder directive.
func (s *Service) CreateReminder(ctx context.Context, userID, sessionID int64, d *models.ReminderDirective) (*models.Reminder, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	if d == nil || strings.TrimSpace(d.Description) == "" {
		return nil, errors.New("reminder description is required")
	}
	var session sql.NullInt64
	if sessionID > 0 {
		session = sql.NullInt64{Int64: sessionID, Valid: true}
	}
	now := time.Now().UTC()
	due := d.Due.UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (user_id, session_id, description, due_at, done, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, session, d.Description, due, false, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reminder id: %w", err)
	}
	r := &models.Reminder{
		ID:          id,
		UserID:      userID,
		SessionID:   sessionID,
		Description: d.Description,
		DueAt:       due,
		CreatedAt:   now,
	}
	r.Overdue = r.IsOverdue(now)
	return r, nil
}

// ListReminders returns the user's reminders by due time; done ones only when includeDone.
func (s *Service) ListReminders(ctx context.Context, userID int64, includeDone bool) ([]models.Reminder, error) {
	query := `SELECT id, user_id, session_id, description, due_at, done, created_at FROM reminders WHERE user_id = ?`
	if !includeDone {
		query += ` AND done = 0`
	}
	query += ` ORDER BY due_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	reminders := make([]models.Reminder, 0)
	for rows.Next() {
		var (
			r       models.Reminder
			session sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &session, &r.Description, &r.DueAt, &r.Done, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.SessionID = session.Int64
		r.Overdue = r.IsOverdue(now)
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// CompleteReminder marks a reminder done.
func (s *Service) CompleteReminder(ctx context.Context, userID, reminderID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET done = ? WHERE id = ? AND user_id = ?`, true, reminderID, userID)
	if err != nil {
		return fmt.Errorf("complete reminder: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) DeleteReminder(ctx context.Context, userID, reminderID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ? AND user_id = ?`, reminderID, userID)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
