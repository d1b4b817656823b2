package repository

import (
	"context"

	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/store"
)

// BotRepository is the registry of generated bots. Records live inside
// their owner's account in the same document as the quota ledger.
type BotRepository interface {
	// Create appends a record; ErrNotFound if the owner is unknown,
	// ErrBotExists if the owner already has a bot with that id.
	Create(ctx context.Context, params model.CreateBotParams) (*model.BotRecord, error)
	// FindAll lists an owner's bots in creation order.
	FindAll(ctx context.Context, ownerID int64) ([]model.BotRecord, error)
	// FindByID returns nil without error when the record does not exist.
	FindByID(ctx context.Context, ownerID int64, botID string) (*model.BotRecord, error)
	// FindRunning lists every record flagged as running, across owners.
	FindRunning(ctx context.Context) ([]model.BotRecord, error)
	// UpdateDescription, SetRunning and Delete report whether the record existed.
	UpdateDescription(ctx context.Context, ownerID int64, botID, description string) (bool, error)
	SetRunning(ctx context.Context, ownerID int64, botID string, running bool) (bool, error)
	Delete(ctx context.Context, ownerID int64, botID string) (bool, error)
}

type botRepo struct {
	store store.DocumentStore[model.Document]
}

func NewBotRepository(s store.DocumentStore[model.Document]) BotRepository {
	return &botRepo{store: s}
}

func (r *botRepo) Create(ctx context.Context, params model.CreateBotParams) (*model.BotRecord, error) {
	var record model.BotRecord
	err := r.store.Update(ctx, func(doc *model.Document) (bool, error) {
		acc := doc.Account(params.OwnerID)
		if acc == nil {
			return false, ErrNotFound
		}
		if _, existing := acc.FindBot(params.BotID); existing != nil {
			return false, ErrBotExists
		}

		record = model.BotRecord{
			BotID:       params.BotID,
			OwnerID:     params.OwnerID,
			Credential:  params.Credential,
			Description: params.Description,
			Model:       params.Model,
			CreatedAt:   model.NewTimestamp(params.CreatedAt),
		}
		acc.Bots = append(acc.Bots, record)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *botRepo) FindAll(ctx context.Context, ownerID int64) ([]model.BotRecord, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	acc := doc.Account(ownerID)
	if acc == nil {
		return []model.BotRecord{}, nil
	}
	fillOwner(ownerID, acc)

	bots := make([]model.BotRecord, len(acc.Bots))
	copy(bots, acc.Bots)
	return bots, nil
}

func (r *botRepo) FindByID(ctx context.Context, ownerID int64, botID string) (*model.BotRecord, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	acc := doc.Account(ownerID)
	if acc == nil {
		return nil, nil
	}
	fillOwner(ownerID, acc)

	_, record := acc.FindBot(botID)
	if record == nil {
		return nil, nil
	}
	out := *record
	return &out, nil
}

func (r *botRepo) FindRunning(ctx context.Context) ([]model.BotRecord, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	var running []model.BotRecord
	for key, acc := range doc.Users {
		ownerID, err := model.ParseUserKey(key)
		if err != nil {
			continue
		}
		fillOwner(ownerID, acc)
		for _, b := range acc.Bots {
			if b.IsRunning {
				running = append(running, b)
			}
		}
	}
	return running, nil
}

func (r *botRepo) UpdateDescription(ctx context.Context, ownerID int64, botID, description string) (bool, error) {
	return r.mutate(ctx, ownerID, botID, func(record *model.BotRecord) bool {
		if record.Description == description {
			return false
		}
		record.Description = description
		return true
	})
}

func (r *botRepo) SetRunning(ctx context.Context, ownerID int64, botID string, running bool) (bool, error) {
	return r.mutate(ctx, ownerID, botID, func(record *model.BotRecord) bool {
		if record.IsRunning == running {
			return false
		}
		record.IsRunning = running
		return true
	})
}

func (r *botRepo) Delete(ctx context.Context, ownerID int64, botID string) (bool, error) {
	found := false
	err := r.store.Update(ctx, func(doc *model.Document) (bool, error) {
		acc := doc.Account(ownerID)
		if acc == nil {
			return false, nil
		}
		i, record := acc.FindBot(botID)
		if record == nil {
			return false, nil
		}
		found = true
		acc.Bots = append(acc.Bots[:i], acc.Bots[i+1:]...)
		return true, nil
	})
	return found, err
}

func (r *botRepo) mutate(ctx context.Context, ownerID int64, botID string, fn func(*model.BotRecord) bool) (bool, error) {
	found := false
	err := r.store.Update(ctx, func(doc *model.Document) (bool, error) {
		acc := doc.Account(ownerID)
		if acc == nil {
			return false, nil
		}
		_, record := acc.FindBot(botID)
		if record == nil {
			return false, nil
		}
		found = true
		return fn(record), nil
	})
	return found, err
}
