package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/botforge-relay/internal/model"
)

func setupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHandleJournal(t *testing.T) {
	ctx := context.Background()

	t.Run("records and lists entries", func(t *testing.T) {
		journal := NewHandleJournal(setupTestRedis(t))
		started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		require.NoError(t, journal.Record(ctx, model.HandleEntry{BotID: "b1", OwnerID: 7, PID: 1234, StartedAt: started}))
		require.NoError(t, journal.Record(ctx, model.HandleEntry{BotID: "b2", OwnerID: 8, PID: 5678, StartedAt: started}))

		entries, err := journal.Entries(ctx)
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		byID := map[string]model.HandleEntry{}
		for _, e := range entries {
			byID[e.BotID] = e
		}
		assert.Equal(t, 1234, byID["b1"].PID)
		assert.Equal(t, int64(8), byID["b2"].OwnerID)
		assert.True(t, byID["b1"].StartedAt.Equal(started))
	})

	t.Run("remove deletes entry", func(t *testing.T) {
		journal := NewHandleJournal(setupTestRedis(t))

		require.NoError(t, journal.Record(ctx, model.HandleEntry{BotID: "b1", PID: 1}))
		require.NoError(t, journal.Remove(ctx, "b1"))

		entries, err := journal.Entries(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("skips unreadable entries", func(t *testing.T) {
		client := setupTestRedis(t)
		journal := NewHandleJournal(client)

		require.NoError(t, client.HSet(ctx, journalKey, "broken", "not-json").Err())
		require.NoError(t, journal.Record(ctx, model.HandleEntry{BotID: "ok", PID: 2}))

		entries, err := journal.Entries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "ok", entries[0].BotID)
	})
}
