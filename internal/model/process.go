package model

import "time"

// HandleEntry is the durable trace of a spawned bot process, kept so a
// restarted supervisor can report children it no longer tracks.
type HandleEntry struct {
	BotID     string    `json:"botId"`
	OwnerID   int64     `json:"ownerId"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}
