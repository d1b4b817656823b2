package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/botforge-relay/internal/model"
)

func TestLedger_Touch(t *testing.T) {
	ctx := context.Background()

	t.Run("new account starts at full limits", func(t *testing.T) {
		env := newTestEnv(t)

		acc, err := env.ledger.Touch(ctx, 7, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", acc.Username)
		assert.Equal(t, 30, acc.Balance("gpt-4o-mini"))
		assert.Equal(t, 10, acc.Balance("sonar-deep-research"))
		assert.Equal(t, "gpt-4o-mini", acc.SelectedModel)
		assert.Equal(t, env.clock.Now(), acc.LastReset.Time)
		assert.NotNil(t, acc.Bots)
	})

	t.Run("missing username gets placeholder", func(t *testing.T) {
		env := newTestEnv(t)

		acc, err := env.ledger.Touch(ctx, 9, "")
		require.NoError(t, err)
		assert.Equal(t, "user_9", acc.Username)
	})

	t.Run("existing account keeps balances", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 7, "alice")
		require.NoError(t, err)
		ok, err := env.ledger.Debit(ctx, 7, "gpt-4o-mini")
		require.NoError(t, err)
		require.True(t, ok)

		acc, err := env.ledger.Touch(ctx, 7, "alice2")
		require.NoError(t, err)
		assert.Equal(t, 29, acc.Balance("gpt-4o-mini"))
		assert.Equal(t, "alice2", acc.Username)
	})

	t.Run("legacy scalar balance is migrated to every model", func(t *testing.T) {
		env := newTestEnv(t)
		left := 4
		require.NoError(t, env.documents.Save(ctx, &model.Document{Users: map[string]*model.Account{
			"7": {Username: "old", RequestsLeft: &left, LastReset: model.NewTimestamp(env.clock.Now())},
		}}))

		acc, err := env.ledger.Touch(ctx, 7, "old")
		require.NoError(t, err)
		assert.Nil(t, acc.RequestsLeft)
		assert.Equal(t, 4, acc.Balance("gpt-4o-mini"))
		assert.Equal(t, 4, acc.Balance("sonar-deep-research"))
		assert.Equal(t, "gpt-4o-mini", acc.SelectedModel)
	})

	t.Run("new models are backfilled at their limit", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.documents.Save(ctx, &model.Document{Users: map[string]*model.Account{
			"7": {
				Username:      "bob",
				ModelBalances: map[string]int{"gpt-4o-mini": 2},
				SelectedModel: "retired-model",
				LastReset:     model.NewTimestamp(env.clock.Now()),
			},
		}}))

		acc, err := env.ledger.Touch(ctx, 7, "bob")
		require.NoError(t, err)
		assert.Equal(t, 2, acc.Balance("gpt-4o-mini"))
		assert.Equal(t, 10, acc.Balance("sonar-deep-research"))
		assert.Equal(t, "gpt-4o-mini", acc.SelectedModel)
	})
}

func TestLedger_Debit(t *testing.T) {
	ctx := context.Background()

	t.Run("exhausts after limit debits", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)

		for i := 0; i < 30; i++ {
			ok, err := env.ledger.Debit(ctx, 1, "gpt-4o-mini")
			require.NoError(t, err)
			require.True(t, ok, "debit %d should succeed", i+1)
		}

		ok, err := env.ledger.Debit(ctx, 1, "gpt-4o-mini")
		require.NoError(t, err)
		assert.False(t, ok)

		balance, err := env.ledger.GetBalance(ctx, 1, "gpt-4o-mini")
		require.NoError(t, err)
		assert.Equal(t, 0, balance)

		acc, err := env.accounts.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 30, acc.TotalRequests)
	})

	t.Run("refusal leaves state unchanged", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)
		require.NoError(t, env.accounts.Update(ctx, 1, func(acc *model.Account) (bool, error) {
			acc.ModelBalances["sonar-deep-research"] = 0
			return true, nil
		}))

		ok, err := env.ledger.Debit(ctx, 1, "sonar-deep-research")
		require.NoError(t, err)
		assert.False(t, ok)

		acc, err := env.accounts.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 0, acc.Balance("sonar-deep-research"))
		assert.Equal(t, 30, acc.Balance("gpt-4o-mini"))
		assert.Equal(t, 0, acc.TotalRequests)
	})

	t.Run("unknown account is refused", func(t *testing.T) {
		env := newTestEnv(t)

		ok, err := env.ledger.Debit(ctx, 404, "gpt-4o-mini")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown model is refused", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)

		ok, err := env.ledger.Debit(ctx, 1, "no-such-model")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("elapsed window resets before debit", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)
		require.NoError(t, env.accounts.Update(ctx, 1, func(acc *model.Account) (bool, error) {
			acc.ModelBalances["gpt-4o-mini"] = 0
			return true, nil
		}))

		env.clock.Advance(25 * time.Hour)
		ok, err := env.ledger.Debit(ctx, 1, "gpt-4o-mini")
		require.NoError(t, err)
		require.True(t, ok)

		acc, err := env.accounts.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 29, acc.Balance("gpt-4o-mini"))
		assert.Equal(t, 1, acc.TotalRequests)
		assert.Equal(t, env.clock.Now(), acc.LastReset.Time)
	})

	t.Run("concurrent debits never overspend", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := env.ledger.Debit(ctx, 1, "sonar-deep-research")
				if err == nil && ok {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, granted)
		balance, err := env.ledger.GetBalance(ctx, 1, "sonar-deep-research")
		require.NoError(t, err)
		assert.Equal(t, 0, balance)
	})
}

func TestLedger_Authorize(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, err := env.ledger.Touch(ctx, 1, "u")
	require.NoError(t, err)
	require.NoError(t, env.accounts.Update(ctx, 1, func(acc *model.Account) (bool, error) {
		acc.ModelBalances["gpt-4o-mini"] = 0
		return true, nil
	}))

	err = env.ledger.Authorize(ctx, 1, "gpt-4o-mini")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExhausted))

	var quotaErr *QuotaExhaustedError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), quotaErr.ResetAt)
}

func TestLedger_ResetSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("second sweep in the same window is a no-op", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)
		require.NoError(t, env.accounts.Update(ctx, 1, func(acc *model.Account) (bool, error) {
			acc.ModelBalances["gpt-4o-mini"] = 3
			return true, nil
		}))

		env.clock.Advance(24 * time.Hour)
		n, err := env.ledger.ResetSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, env.accounts.Update(ctx, 1, func(acc *model.Account) (bool, error) {
			acc.ModelBalances["gpt-4o-mini"] = 5
			return true, nil
		}))
		env.clock.Advance(time.Hour)
		n, err = env.ledger.ResetSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		balance, err := env.ledger.GetBalance(ctx, 1, "gpt-4o-mini")
		require.NoError(t, err)
		assert.Equal(t, 5, balance)
	})

	t.Run("accounts reset on their own windows", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "early")
		require.NoError(t, err)
		env.clock.Advance(12 * time.Hour)
		_, err = env.ledger.Touch(ctx, 2, "late")
		require.NoError(t, err)

		env.clock.Advance(13 * time.Hour)
		n, err := env.ledger.ResetSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		late, err := env.accounts.FindByID(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, env.clock.Now().Add(-13*time.Hour), late.LastReset.Time)
	})

	t.Run("clock moving backwards does not reset", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)

		env.clock.Advance(-48 * time.Hour)
		n, err := env.ledger.ResetSweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("reset uses current limits", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)
		require.NoError(t, env.ledger.SetLimit(ctx, "gpt-4o-mini", 50))

		balance, err := env.ledger.GetBalance(ctx, 1, "gpt-4o-mini")
		require.NoError(t, err)
		assert.Equal(t, 30, balance, "limit changes apply on the next reset only")

		env.clock.Advance(24 * time.Hour)
		_, err = env.ledger.ResetSweep(ctx)
		require.NoError(t, err)
		balance, err = env.ledger.GetBalance(ctx, 1, "gpt-4o-mini")
		require.NoError(t, err)
		assert.Equal(t, 50, balance)
	})
}

func TestLedger_Credit(t *testing.T) {
	ctx := context.Background()

	t.Run("credits a single model", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)

		ok, err := env.ledger.Credit(ctx, 1, 5, "sonar-deep-research")
		require.NoError(t, err)
		assert.True(t, ok)

		balance, err := env.ledger.GetBalance(ctx, 1, "sonar-deep-research")
		require.NoError(t, err)
		assert.Equal(t, 15, balance)
	})

	t.Run("credits every model and creates missing entries at amount", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.documents.Save(ctx, &model.Document{Users: map[string]*model.Account{
			"1": {Username: "u", ModelBalances: map[string]int{"gpt-4o-mini": 1}, LastReset: model.NewTimestamp(env.clock.Now())},
		}}))

		ok, err := env.ledger.Credit(ctx, 1, 10, "")
		require.NoError(t, err)
		assert.True(t, ok)

		acc, err := env.accounts.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 11, acc.Balance("gpt-4o-mini"))
		assert.Equal(t, 10, acc.Balance("sonar-deep-research"))
	})

	t.Run("unknown account reports false", func(t *testing.T) {
		env := newTestEnv(t)

		ok, err := env.ledger.Credit(ctx, 99, 10, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("non-positive amount is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)

		_, err = env.ledger.Credit(ctx, 1, 0, "")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestLedger_SetLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	assert.ErrorIs(t, env.ledger.SetLimit(ctx, "nope", 10), ErrUnknownModel)
	assert.ErrorIs(t, env.ledger.SetLimit(ctx, "gpt-4o-mini", -1), ErrInvalidInput)
	require.NoError(t, env.ledger.SetLimit(ctx, "gpt-4o-mini", 0))

	limit, err := env.catalog.Limit(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, 0, limit)
}
