package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/catalog"
	"github.com/openclaw/botforge-relay/internal/repository"
)

// Names under which the persisted documents can be exported.
const (
	DocumentDatabase = "database"
	DocumentSettings = "settings"
	DocumentHistory  = "history"
)

// Exporter returns a document's persisted bytes.
type Exporter interface {
	Export(ctx context.Context) ([]byte, error)
}

type AdminOverview struct {
	repository.Overview
	BotCreationEnabled bool  `json:"botCreationEnabled"`
	Timestamp          int64 `json:"timestamp"`
}

type UserSummary struct {
	UserID        int64          `json:"userId"`
	Username      string         `json:"username"`
	SelectedModel string         `json:"selectedModel"`
	Balances      map[string]int `json:"balances"`
	TotalRequests int            `json:"totalRequests"`
	Bots          int            `json:"bots"`
	RegisteredAt  time.Time      `json:"registeredAt"`
	LastReset     time.Time      `json:"lastReset"`
}

type AdminService struct {
	accounts  repository.AccountRepository
	stats     repository.StatsRepository
	ledger    *Ledger
	catalog   *catalog.Catalog
	exporters map[string]Exporter
}

func NewAdminService(
	accounts repository.AccountRepository,
	stats repository.StatsRepository,
	ledger *Ledger,
	catalog *catalog.Catalog,
	exporters map[string]Exporter,
) *AdminService {
	return &AdminService{
		accounts:  accounts,
		stats:     stats,
		ledger:    ledger,
		catalog:   catalog,
		exporters: exporters,
	}
}

// Grant credits an existing account. An empty modelID credits every model.
func (s *AdminService) Grant(ctx context.Context, userID int64, amount int, modelID string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if modelID != "" && !s.catalog.Has(modelID) {
		return ErrUnknownModel
	}

	ok, err := s.ledger.Credit(ctx, userID, amount, modelID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	return nil
}

func (s *AdminService) Limits(ctx context.Context) (map[string]int, error) {
	return s.catalog.Limits(ctx)
}

func (s *AdminService) SetLimit(ctx context.Context, modelID string, limit int) error {
	return s.ledger.SetLimit(ctx, modelID, limit)
}

func (s *AdminService) SetCreationEnabled(ctx context.Context, enabled bool) error {
	if err := s.catalog.SetCreationEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("set bot creation: %w", err)
	}
	log.Info().Bool("enabled", enabled).Msg("admin: bot creation switched")
	return nil
}

func (s *AdminService) ToggleCreation(ctx context.Context) (bool, error) {
	enabled, err := s.catalog.ToggleCreation(ctx)
	if err != nil {
		return false, fmt.Errorf("toggle bot creation: %w", err)
	}
	log.Info().Bool("enabled", enabled).Msg("admin: bot creation switched")
	return enabled, nil
}

func (s *AdminService) Overview(ctx context.Context) (*AdminOverview, error) {
	stats, err := s.stats.GetOverview(ctx)
	if err != nil {
		return nil, fmt.Errorf("get overview: %w", err)
	}
	enabled, err := s.catalog.CreationEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return &AdminOverview{
		Overview:           *stats,
		BotCreationEnabled: enabled,
		Timestamp:          time.Now().UnixMilli(),
	}, nil
}

func (s *AdminService) Users(ctx context.Context) ([]UserSummary, error) {
	entries, err := s.accounts.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	users := make([]UserSummary, 0, len(entries))
	for _, e := range entries {
		users = append(users, UserSummary{
			UserID:        e.UserID,
			Username:      e.Account.Username,
			SelectedModel: e.Account.SelectedModel,
			Balances:      e.Account.ModelBalances,
			TotalRequests: e.Account.TotalRequests,
			Bots:          len(e.Account.Bots),
			RegisteredAt:  e.Account.RegisteredAt.Time,
			LastReset:     e.Account.LastReset.Time,
		})
	}
	return users, nil
}

// Export returns the named document as it is persisted.
func (s *AdminService) Export(ctx context.Context, name string) ([]byte, error) {
	exporter, ok := s.exporters[name]
	if !ok {
		return nil, ErrUnknownDocument
	}
	data, err := exporter.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}
	return data, nil
}
