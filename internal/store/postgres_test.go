package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping")
	}
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		t.Skip("Postgres not available for testing")
	}
	for _, stmt := range Schema {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	_, err = db.Exec(`DELETE FROM documents WHERE name LIKE 'test-%'`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresStore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	t.Run("missing row returns empty document", func(t *testing.T) {
		s := NewPostgresStore(db, "test-missing", newTestDoc)
		doc, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, doc.Users)
	})

	t.Run("save keeps a backup row", func(t *testing.T) {
		s := NewPostgresStore(db, "test-backup", newTestDoc)
		require.NoError(t, s.Save(ctx, &testDoc{Users: map[string]int{"1": 1}}))
		require.NoError(t, s.Save(ctx, &testDoc{Users: map[string]int{"1": 2}}))

		backup := NewPostgresStore(db, "test-backup"+backupSuffix, newTestDoc)
		doc, err := backup.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, doc.Users["1"])
	})

	t.Run("export returns the written bytes", func(t *testing.T) {
		s := NewPostgresStore(db, "test-export", newTestDoc)
		saved := &testDoc{Users: map[string]int{"2": 5, "1": 7}, Counter: 3}
		require.NoError(t, s.Save(ctx, saved))

		want, err := encode(saved)
		require.NoError(t, err)
		got, err := s.Export(ctx)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	})

	t.Run("concurrent updates all land", func(t *testing.T) {
		s := NewPostgresStore(db, "test-concurrent", newTestDoc)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Update(ctx, func(doc *testDoc) (bool, error) {
					doc.Counter++
					return true, nil
				}))
			}()
		}
		wg.Wait()

		doc, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, doc.Counter)
	})
}
