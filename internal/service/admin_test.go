package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/repository"
)

func newTestAdminService(env *testEnv) *AdminService {
	return NewAdminService(
		env.accounts,
		repository.NewStatsRepository(env.documents),
		env.ledger,
		env.catalog,
		map[string]Exporter{
			DocumentDatabase: env.documents,
			DocumentSettings: env.settings,
			DocumentHistory:  env.history,
		},
	)
}

func TestAdminService_Grant(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newTestAdminService(env)

		assert.ErrorIs(t, svc.Grant(ctx, 42, 10, ""), ErrAccountNotFound)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newTestAdminService(env)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)

		assert.ErrorIs(t, svc.Grant(ctx, 1, -5, ""), ErrInvalidInput)
	})

	t.Run("unknown model", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newTestAdminService(env)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)

		assert.ErrorIs(t, svc.Grant(ctx, 1, 5, "nope"), ErrUnknownModel)
	})

	t.Run("credits every model", func(t *testing.T) {
		env := newTestEnv(t)
		svc := newTestAdminService(env)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)

		require.NoError(t, svc.Grant(ctx, 1, 5, ""))
		acc, err := env.accounts.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 35, acc.Balance("gpt-4o-mini"))
		assert.Equal(t, 15, acc.Balance("sonar-deep-research"))
	})
}

func TestAdminService_Overview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newTestAdminService(env)

	_, err := env.ledger.Touch(ctx, 1, "a")
	require.NoError(t, err)
	_, err = env.ledger.Touch(ctx, 2, "b")
	require.NoError(t, err)
	require.NoError(t, env.accounts.Update(ctx, 2, func(acc *model.Account) (bool, error) {
		for id := range acc.ModelBalances {
			acc.ModelBalances[id] = 0
		}
		return true, nil
	}))
	ok, err := env.ledger.Debit(ctx, 1, "gpt-4o-mini")
	require.NoError(t, err)
	require.True(t, ok)

	overview, err := svc.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, overview.TotalUsers)
	assert.Equal(t, 1, overview.ActiveUsers)
	assert.Equal(t, 1, overview.TotalRequests)
	assert.True(t, overview.BotCreationEnabled)

	enabled, err := svc.ToggleCreation(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	users, err := svc.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1), users[0].UserID)
	assert.Equal(t, "a", users[0].Username)
}

func TestAdminService_Export(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newTestAdminService(env)
	_, err := env.ledger.Touch(ctx, 1, "a")
	require.NoError(t, err)

	data, err := svc.Export(ctx, DocumentDatabase)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "users")

	data, err = svc.Export(ctx, DocumentHistory)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(data))

	_, err = svc.Export(ctx, "passwords")
	assert.ErrorIs(t, err, ErrUnknownDocument)
}
