package model

import "time"

// BotRecord is a generated bot owned by an account.
type BotRecord struct {
	BotID       string    `json:"bot_id"`
	OwnerID     int64     `json:"owner_id"`
	Credential  string    `json:"token"`
	Description string    `json:"prompt"`
	Model       string    `json:"model"`
	CreatedAt   Timestamp `json:"created_at"`
	IsRunning   bool      `json:"is_running"`
}

type CreateBotParams struct {
	OwnerID     int64
	BotID       string
	Credential  string
	Description string
	Model       string
	CreatedAt   time.Time
}
