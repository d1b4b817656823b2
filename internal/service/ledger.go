package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/catalog"
	"github.com/openclaw/botforge-relay/internal/config"
	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/repository"
)

// Ledger meters access to upstream models. Each account holds one balance
// per model; all balances of an account are restored to their limits once
// its own 24 hour window has elapsed. Resets are computed lazily on debit.
type Ledger struct {
	accounts repository.AccountRepository
	catalog  *catalog.Catalog
	window   time.Duration
	now      func() time.Time
}

func NewLedger(accounts repository.AccountRepository, catalog *catalog.Catalog) *Ledger {
	return &Ledger{
		accounts: accounts,
		catalog:  catalog,
		window:   config.QuotaWindow,
		now:      time.Now,
	}
}

// Touch returns the account, creating it with full balances on first sight
// and backfilling balances for models added since its last visit.
func (l *Ledger) Touch(ctx context.Context, userID int64, username string) (*model.Account, error) {
	limits, err := l.catalog.Limits(ctx)
	if err != nil {
		return nil, err
	}
	now := l.now()

	acc, err := l.accounts.Upsert(ctx, userID, func(acc *model.Account, created bool) (bool, error) {
		if created {
			acc.Username = username
			if acc.Username == "" {
				acc.Username = fmt.Sprintf("user_%d", userID)
			}
			acc.ModelBalances = make(map[string]int, len(limits))
			for id, limit := range limits {
				acc.ModelBalances[id] = limit
			}
			acc.LastReset = model.NewTimestamp(now)
			acc.RegisteredAt = model.NewTimestamp(now)
			acc.SelectedModel = l.catalog.Default()
			acc.Bots = []model.BotRecord{}
			return true, nil
		}
		return l.backfill(acc, username, limits, now), nil
	})
	if err != nil {
		return nil, fmt.Errorf("touch account: %w", err)
	}
	return acc, nil
}

func (l *Ledger) backfill(acc *model.Account, username string, limits map[string]int, now time.Time) bool {
	changed := false

	if acc.RequestsLeft != nil {
		if acc.ModelBalances == nil {
			acc.ModelBalances = make(map[string]int, len(limits))
			for id := range limits {
				acc.ModelBalances[id] = *acc.RequestsLeft
			}
		}
		acc.RequestsLeft = nil
		changed = true
	}
	if acc.ModelBalances == nil {
		acc.ModelBalances = make(map[string]int, len(limits))
		changed = true
	}
	for id, limit := range limits {
		if _, ok := acc.ModelBalances[id]; !ok {
			acc.ModelBalances[id] = limit
			changed = true
		}
	}
	if acc.SelectedModel == "" || !l.catalog.Has(acc.SelectedModel) {
		acc.SelectedModel = l.catalog.Default()
		changed = true
	}
	if acc.Bots == nil {
		acc.Bots = []model.BotRecord{}
		changed = true
	}
	if acc.LastReset.IsZero() {
		acc.LastReset = model.NewTimestamp(now)
		changed = true
	}
	if username != "" && acc.Username != username {
		acc.Username = username
		changed = true
	}
	return changed
}

// GetBalance returns 0 when the account or the model entry is absent.
func (l *Ledger) GetBalance(ctx context.Context, userID int64, modelID string) (int, error) {
	acc, err := l.accounts.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acc.Balance(modelID), nil
}

// Credit adds amount to one model, or to every configured model when
// modelID is empty. Entries the account does not have yet start at amount.
// It reports false when the account does not exist.
func (l *Ledger) Credit(ctx context.Context, userID int64, amount int, modelID string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: credit amount must be positive", ErrInvalidInput)
	}
	targets := []string{modelID}
	if modelID == "" {
		targets = l.catalog.IDs()
	}

	err := l.accounts.Update(ctx, userID, func(acc *model.Account) (bool, error) {
		if acc.ModelBalances == nil {
			acc.ModelBalances = make(map[string]int, len(targets))
		}
		for _, id := range targets {
			acc.ModelBalances[id] += amount
		}
		return true, nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("credit: %w", err)
	}

	log.Info().Int64("userId", userID).Int("amount", amount).Str("model", modelID).Msg("ledger: tokens credited")
	return true, nil
}

// Debit takes one token from the model's balance after running a reset
// sweep. It returns false without mutating anything when the balance is
// exhausted or the account does not exist; callers treat false as denial.
func (l *Ledger) Debit(ctx context.Context, userID int64, modelID string) (bool, error) {
	if _, err := l.ResetSweep(ctx); err != nil {
		return false, err
	}

	debited := false
	err := l.accounts.Update(ctx, userID, func(acc *model.Account) (bool, error) {
		id := modelID
		if id == "" {
			id = acc.SelectedModel
		}
		if acc.Balance(id) <= 0 {
			return false, nil
		}
		acc.ModelBalances[id]--
		acc.TotalRequests++
		debited = true
		return true, nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("debit: %w", err)
	}
	return debited, nil
}

// Authorize debits one token and turns a refusal into a QuotaExhaustedError.
func (l *Ledger) Authorize(ctx context.Context, userID int64, modelID string) error {
	ok, err := l.Debit(ctx, userID, modelID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	resetAt, err := l.NextReset(ctx, userID)
	if err != nil {
		return err
	}
	log.Info().Int64("userId", userID).Str("model", modelID).Msg("ledger: debit refused")
	return &QuotaExhaustedError{Model: modelID, ResetAt: resetAt}
}

// ResetSweep restores every balance of each account whose window has
// elapsed and starts a new window for it. Repeating it within the same
// window changes nothing.
func (l *Ledger) ResetSweep(ctx context.Context) (int, error) {
	limits, err := l.catalog.Limits(ctx)
	if err != nil {
		return 0, err
	}
	now := l.now()

	count, err := l.accounts.UpdateAll(ctx, func(userID int64, acc *model.Account) bool {
		if now.Sub(acc.LastReset.Time) < l.window {
			return false
		}
		if acc.ModelBalances == nil {
			acc.ModelBalances = make(map[string]int, len(limits))
		}
		for id, limit := range limits {
			acc.ModelBalances[id] = limit
		}
		acc.LastReset = model.NewTimestamp(now)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("reset sweep: %w", err)
	}
	if count > 0 {
		log.Info().Int("accounts", count).Msg("ledger: quota windows reset")
	}
	return count, nil
}

// SetLimit changes a model's per-window limit for future resets only.
func (l *Ledger) SetLimit(ctx context.Context, modelID string, limit int) error {
	if !l.catalog.Has(modelID) {
		return ErrUnknownModel
	}
	if limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	}
	if err := l.catalog.SetLimit(ctx, modelID, limit); err != nil {
		return fmt.Errorf("set limit: %w", err)
	}
	log.Info().Str("model", modelID).Int("limit", limit).Msg("ledger: model limit changed")
	return nil
}

// NextReset returns when the account's current window ends.
func (l *Ledger) NextReset(ctx context.Context, userID int64) (time.Time, error) {
	acc, err := l.accounts.FindByID(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if acc == nil {
		return l.now().Add(l.window), nil
	}
	return acc.NextReset(l.window), nil
}

func (l *Ledger) Window() time.Duration {
	return l.window
}
