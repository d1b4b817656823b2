package model

import (
	"strconv"
	"time"
)

// Account is one end user: quota balances per model plus the bots they own.
type Account struct {
	Username      string         `json:"username"`
	ModelBalances map[string]int `json:"model_tokens"`
	TotalRequests int            `json:"total_requests"`
	LastReset     Timestamp      `json:"last_reset"`
	RegisteredAt  Timestamp      `json:"registration_date"`
	SelectedModel string         `json:"selected_model"`
	Bots          []BotRecord    `json:"bots"`

	// RequestsLeft is the single shared balance of the pre-per-model format.
	// It is folded into ModelBalances on first touch and never written back.
	RequestsLeft *int `json:"requests_left,omitempty"`
}

// UserKey is the document key for a user id.
func UserKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// ParseUserKey is the inverse of UserKey.
func ParseUserKey(key string) (int64, error) {
	return strconv.ParseInt(key, 10, 64)
}

func (a *Account) Balance(modelID string) int {
	if a == nil || a.ModelBalances == nil {
		return 0
	}
	return a.ModelBalances[modelID]
}

// HasPositiveBalance reports whether any model still has tokens left.
func (a *Account) HasPositiveBalance() bool {
	for _, v := range a.ModelBalances {
		if v > 0 {
			return true
		}
	}
	return false
}

// NextReset is the moment the current quota window ends.
func (a *Account) NextReset(window time.Duration) time.Time {
	return a.LastReset.Add(window)
}

func (a *Account) FindBot(botID string) (int, *BotRecord) {
	for i := range a.Bots {
		if a.Bots[i].BotID == botID {
			return i, &a.Bots[i]
		}
	}
	return -1, nil
}

// Clone returns a deep copy so callers can hand accounts out of a locked section.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.ModelBalances != nil {
		out.ModelBalances = make(map[string]int, len(a.ModelBalances))
		for k, v := range a.ModelBalances {
			out.ModelBalances[k] = v
		}
	}
	if a.Bots != nil {
		out.Bots = make([]BotRecord, len(a.Bots))
		copy(out.Bots, a.Bots)
	}
	if a.RequestsLeft != nil {
		v := *a.RequestsLeft
		out.RequestsLeft = &v
	}
	return &out
}
