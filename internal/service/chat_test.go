package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/botforge-relay/internal/aiclient"
	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/repository"
)

func TestChatService(t *testing.T) {
	ctx := context.Background()

	t.Run("sends history and records the exchange", func(t *testing.T) {
		env := newTestEnv(t)
		history := repository.NewHistoryRepository(env.history)
		completer := &mockCompleter{reply: "hi there"}
		svc := NewChatService(history, env.ledger, completer, 2)

		require.NoError(t, history.Append(ctx, 1,
			model.ChatMessage{Role: model.RoleUser, Content: "one"},
			model.ChatMessage{Role: model.RoleAssistant, Content: "two"},
			model.ChatMessage{Role: model.RoleUser, Content: "three"},
		))

		reply, err := svc.Ask(ctx, 1, "u", "hello")
		require.NoError(t, err)
		assert.Equal(t, "hi there", reply.Reply)
		assert.Equal(t, "gpt-4o-mini", reply.Model)
		assert.Equal(t, 29, reply.Remaining)

		require.Len(t, completer.messages, 3)
		assert.Equal(t, "two", completer.messages[0].Content)
		assert.Equal(t, "three", completer.messages[1].Content)
		assert.Equal(t, "hello", completer.messages[2].Content)

		recent, err := svc.History(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "hello", recent[0].Content)
		assert.Equal(t, "hi there", recent[1].Content)
	})

	t.Run("upstream failure records nothing but keeps the debit", func(t *testing.T) {
		env := newTestEnv(t)
		history := repository.NewHistoryRepository(env.history)
		svc := NewChatService(history, env.ledger, &mockCompleter{err: &aiclient.APIError{Status: 502}}, 20)

		_, err := svc.Ask(ctx, 1, "u", "hello")
		var apiErr *aiclient.APIError
		assert.ErrorAs(t, err, &apiErr)

		recent, err := svc.History(ctx, 1, 0)
		require.NoError(t, err)
		assert.Empty(t, recent)

		balance, err := env.ledger.GetBalance(ctx, 1, "gpt-4o-mini")
		require.NoError(t, err)
		assert.Equal(t, 29, balance)
	})

	t.Run("exhausted quota", func(t *testing.T) {
		env := newTestEnv(t)
		completer := &mockCompleter{reply: "x"}
		svc := NewChatService(repository.NewHistoryRepository(env.history), env.ledger, completer, 20)
		_, err := env.ledger.Touch(ctx, 1, "u")
		require.NoError(t, err)
		require.NoError(t, env.accounts.Update(ctx, 1, func(acc *model.Account) (bool, error) {
			acc.ModelBalances["gpt-4o-mini"] = 0
			return true, nil
		}))

		_, err = svc.Ask(ctx, 1, "u", "hello")
		assert.ErrorIs(t, err, ErrQuotaExhausted)
		assert.Empty(t, completer.model)
	})

	t.Run("clear history", func(t *testing.T) {
		env := newTestEnv(t)
		history := repository.NewHistoryRepository(env.history)
		svc := NewChatService(history, env.ledger, &mockCompleter{reply: "x"}, 20)

		_, err := svc.Ask(ctx, 1, "u", "hello")
		require.NoError(t, err)
		require.NoError(t, svc.ClearHistory(ctx, 1))

		recent, err := svc.History(ctx, 1, 0)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})

	t.Run("empty message is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		svc := NewChatService(repository.NewHistoryRepository(env.history), env.ledger, &mockCompleter{}, 20)

		_, err := svc.Ask(ctx, 1, "u", "   ")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}
