package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/botforge-relay/internal/artifact"
	"github.com/openclaw/botforge-relay/internal/catalog"
	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/repository"
	"github.com/openclaw/botforge-relay/internal/store"
)

var testModels = []model.ModelInfo{
	{ID: "gpt-4o-mini", Cost: 1, Limit: 30},
	{ID: "sonar-deep-research", Cost: 1, Limit: 10},
}

type testEnv struct {
	dir       string
	documents *store.FileStore[model.Document]
	settings  *store.FileStore[model.Settings]
	history   *store.FileStore[model.HistoryDocument]
	catalog   *catalog.Catalog
	accounts  repository.AccountRepository
	bots      repository.BotRepository
	artifacts *artifact.Store
	ledger    *Ledger
	clock     *testClock
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	documents, err := store.NewFileStore(filepath.Join(dir, "database.json"), model.NewDocument)
	require.NoError(t, err)
	settings, err := store.NewFileStore(filepath.Join(dir, "bot_settings.json"), model.NewSettings)
	require.NoError(t, err)
	history, err := store.NewFileStore(filepath.Join(dir, "chat_history.json"), model.NewHistoryDocument)
	require.NoError(t, err)

	cat, err := catalog.New(testModels, "gpt-4o-mini", settings)
	require.NoError(t, err)

	artifacts, err := artifact.NewStore(filepath.Join(dir, "user_bots"))
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	accounts := repository.NewAccountRepository(documents)
	ledger := NewLedger(accounts, cat)
	ledger.now = clock.Now

	return &testEnv{
		dir:       dir,
		documents: documents,
		settings:  settings,
		history:   history,
		catalog:   cat,
		accounts:  accounts,
		bots:      repository.NewBotRepository(documents),
		artifacts: artifacts,
		ledger:    ledger,
		clock:     clock,
	}
}
