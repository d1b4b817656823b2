package repository

import (
	"context"
	"sort"

	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/store"
)

// AccountFunc mutates one account and reports whether it changed.
type AccountFunc func(acc *model.Account) (changed bool, err error)

// UpsertFunc is like AccountFunc but also learns whether the account was
// just created.
type UpsertFunc func(acc *model.Account, created bool) (changed bool, err error)

type AccountEntry struct {
	UserID  int64
	Account *model.Account
}

type AccountRepository interface {
	// FindByID returns nil without error when the account does not exist.
	FindByID(ctx context.Context, userID int64) (*model.Account, error)
	FindAll(ctx context.Context) ([]AccountEntry, error)
	Count(ctx context.Context) (int, error)
	// Update mutates an existing account; ErrNotFound if it is absent.
	Update(ctx context.Context, userID int64, fn AccountFunc) error
	// Upsert mutates the account, creating an empty one first if needed.
	// The account is only persisted when fn reports a change.
	Upsert(ctx context.Context, userID int64, fn UpsertFunc) (*model.Account, error)
	// UpdateAll runs fn against every account in one write and returns how
	// many accounts changed.
	UpdateAll(ctx context.Context, fn func(userID int64, acc *model.Account) bool) (int, error)
}

type accountRepo struct {
	store store.DocumentStore[model.Document]
}

func NewAccountRepository(s store.DocumentStore[model.Document]) AccountRepository {
	return &accountRepo{store: s}
}

func (r *accountRepo) FindByID(ctx context.Context, userID int64) (*model.Account, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	acc := doc.Account(userID)
	if acc == nil {
		return nil, nil
	}
	fillOwner(userID, acc)
	return acc, nil
}

func (r *accountRepo) FindAll(ctx context.Context) ([]AccountEntry, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]AccountEntry, 0, len(doc.Users))
	for key, acc := range doc.Users {
		userID, err := model.ParseUserKey(key)
		if err != nil {
			continue
		}
		fillOwner(userID, acc)
		entries = append(entries, AccountEntry{UserID: userID, Account: acc})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

func (r *accountRepo) Count(ctx context.Context) (int, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(doc.Users), nil
}

func (r *accountRepo) Update(ctx context.Context, userID int64, fn AccountFunc) error {
	return r.store.Update(ctx, func(doc *model.Document) (bool, error) {
		acc := doc.Account(userID)
		if acc == nil {
			return false, ErrNotFound
		}
		fillOwner(userID, acc)
		return fn(acc)
	})
}

func (r *accountRepo) Upsert(ctx context.Context, userID int64, fn UpsertFunc) (*model.Account, error) {
	var result *model.Account
	err := r.store.Update(ctx, func(doc *model.Document) (bool, error) {
		if doc.Users == nil {
			doc.Users = make(map[string]*model.Account)
		}
		acc := doc.Account(userID)
		created := acc == nil
		if created {
			acc = &model.Account{}
		}
		fillOwner(userID, acc)

		changed, err := fn(acc, created)
		if err != nil {
			return false, err
		}
		if created && changed {
			doc.Users[model.UserKey(userID)] = acc
		}
		result = acc.Clone()
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *accountRepo) UpdateAll(ctx context.Context, fn func(userID int64, acc *model.Account) bool) (int, error) {
	count := 0
	err := r.store.Update(ctx, func(doc *model.Document) (bool, error) {
		for key, acc := range doc.Users {
			userID, err := model.ParseUserKey(key)
			if err != nil {
				continue
			}
			if fn(userID, acc) {
				count++
			}
		}
		return count > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// fillOwner sets the back-reference on records written before it existed.
func fillOwner(userID int64, acc *model.Account) {
	for i := range acc.Bots {
		if acc.Bots[i].OwnerID == 0 {
			acc.Bots[i].OwnerID = userID
		}
	}
}
