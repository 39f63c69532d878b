package models

import "time"

// Session is the persisted conversation state. Checkpoint counts the messages
// already scanned by rolling fact synthesis; it only grows.
type Session struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Title      string    `json:"title"`
	Checkpoint int       `json:"synthesis_checkpoint"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
