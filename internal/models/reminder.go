package models

import "time"

// ReminderDirective is the parsed form of a reminder tag found in assistant output.
type ReminderDirective struct {
	Description string    `json:"description"`
	Due         time.Time `json:"due"`
}

type Reminder struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	SessionID   int64     `json:"session_id"`
	Description string    `json:"description"`
	DueAt       time.Time `json:"due_at"`
	Done        bool      `json:"done"`
	Overdue     bool      `json:"overdue"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsOverdue reports whether an open reminder is past its due time.
func (r *Reminder) IsOverdue(now time.Time) bool {
	return !r.Done && r.DueAt.Before(now)
}
