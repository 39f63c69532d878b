package models

import "time"

// Fact is a learned attribute about a user. Key is unique per user.
type Fact struct {
	UserID    int64     `json:"-"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
