package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIToken describes a stored provider credential. The secret itself never leaves the service layer.
type APIToken struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// ProviderSetting is a user's active provider selection.
type ProviderSetting struct {
	UserID    int64     `json:"-"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	UpdatedAt time.Time `json:"updated_at"`
}
