package model

import (
	"encoding/json"
	"fmt"
)

// Document is the single persisted structure holding every account.
type Document struct {
	Users map[string]*Account `json:"users"`
}

func NewDocument() *Document {
	return &Document{Users: make(map[string]*Account)}
}

// UnmarshalJSON also accepts the legacy layout where accounts sat at the top level.
func (d *Document) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	users := make(map[string]*Account)
	if raw, ok := probe["users"]; ok {
		if err := json.Unmarshal(raw, &users); err != nil {
			return fmt.Errorf("decode users: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &users); err != nil {
			return fmt.Errorf("decode legacy users: %w", err)
		}
	}

	for key, acc := range users {
		if acc == nil {
			delete(users, key)
		}
	}
	d.Users = users
	return nil
}

func (d *Document) Account(userID int64) *Account {
	if d.Users == nil {
		return nil
	}
	return d.Users[UserKey(userID)]
}

// Settings is the process-wide configuration document.
type Settings struct {
	BotCreationEnabled *bool          `json:"bot_creation_enabled,omitempty"`
	ModelLimits        map[string]int `json:"model_limits"`
}

func NewSettings() *Settings {
	return &Settings{ModelLimits: make(map[string]int)}
}

func (s *Settings) CreationEnabled() bool {
	return s.BotCreationEnabled == nil || *s.BotCreationEnabled
}

// ChatMessage is one turn of a user's conversation with the upstream model.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HistoryDocument maps user keys to their chat history. It is persisted as
// a flat object keyed by user id.
type HistoryDocument struct {
	Users map[string][]ChatMessage
}

func NewHistoryDocument() *HistoryDocument {
	return &HistoryDocument{Users: make(map[string][]ChatMessage)}
}

func (h HistoryDocument) MarshalJSON() ([]byte, error) {
	if h.Users == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(h.Users)
}

func (h *HistoryDocument) UnmarshalJSON(data []byte) error {
	users := make(map[string][]ChatMessage)
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	h.Users = users
	return nil
}
