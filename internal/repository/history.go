package repository

import (
	"context"
	"time"

	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/store"
)

type HistoryRepository interface {
	Append(ctx context.Context, userID int64, messages ...model.ChatMessage) error
	// Recent returns at most limit of the newest messages, oldest first.
	Recent(ctx context.Context, userID int64, limit int) ([]model.ChatMessage, error)
	Clear(ctx context.Context, userID int64) error
}

type historyRepo struct {
	store store.DocumentStore[model.HistoryDocument]
}

func NewHistoryRepository(s store.DocumentStore[model.HistoryDocument]) HistoryRepository {
	return &historyRepo{store: s}
}

func (r *historyRepo) Append(ctx context.Context, userID int64, messages ...model.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	return r.store.Update(ctx, func(doc *model.HistoryDocument) (bool, error) {
		if doc.Users == nil {
			doc.Users = make(map[string][]model.ChatMessage)
		}
		key := model.UserKey(userID)
		for _, m := range messages {
			if m.Timestamp.IsZero() {
				m.Timestamp = model.NewTimestamp(time.Now())
			}
			doc.Users[key] = append(doc.Users[key], m)
		}
		return true, nil
	})
}

func (r *historyRepo) Recent(ctx context.Context, userID int64, limit int) ([]model.ChatMessage, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	messages := doc.Users[model.UserKey(userID)]
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	out := make([]model.ChatMessage, len(messages))
	copy(out, messages)
	return out, nil
}

func (r *historyRepo) Clear(ctx context.Context, userID int64) error {
	return r.store.Update(ctx, func(doc *model.HistoryDocument) (bool, error) {
		key := model.UserKey(userID)
		if len(doc.Users[key]) == 0 {
			return false, nil
		}
		doc.Users[key] = []model.ChatMessage{}
		return true, nil
	})
}
