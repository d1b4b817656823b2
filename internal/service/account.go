package service

import (
	"context"
	"fmt"
	"time"

	"github.com/openclaw/botforge-relay/internal/catalog"
	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/repository"
)

type AccountProfile struct {
	UserID        int64          `json:"userId"`
	Username      string         `json:"username"`
	SelectedModel string         `json:"selectedModel"`
	Balances      map[string]int `json:"balances"`
	TotalRequests int            `json:"totalRequests"`
	BotCount      int            `json:"botCount"`
	RegisteredAt  time.Time      `json:"registeredAt"`
	NextReset     time.Time      `json:"nextReset"`
}

type ModelAvailability struct {
	model.ModelInfo
	Balance  int  `json:"balance"`
	Selected bool `json:"selected"`
	Locked   bool `json:"locked"`
}

type AccountService struct {
	accounts repository.AccountRepository
	ledger   *Ledger
	catalog  *catalog.Catalog
}

func NewAccountService(accounts repository.AccountRepository, ledger *Ledger, catalog *catalog.Catalog) *AccountService {
	return &AccountService{
		accounts: accounts,
		ledger:   ledger,
		catalog:  catalog,
	}
}

// Profile registers the user on first contact.
func (s *AccountService) Profile(ctx context.Context, userID int64, username string) (*AccountProfile, error) {
	acc, err := s.ledger.Touch(ctx, userID, username)
	if err != nil {
		return nil, err
	}
	return &AccountProfile{
		UserID:        userID,
		Username:      acc.Username,
		SelectedModel: acc.SelectedModel,
		Balances:      acc.ModelBalances,
		TotalRequests: acc.TotalRequests,
		BotCount:      len(acc.Bots),
		RegisteredAt:  acc.RegisteredAt.Time,
		NextReset:     acc.NextReset(s.ledger.Window()),
	}, nil
}

// Models lists the catalog from the user's point of view. A model whose
// balance is below its cost is locked until the next reset.
func (s *AccountService) Models(ctx context.Context, userID int64, username string) ([]ModelAvailability, error) {
	acc, err := s.ledger.Touch(ctx, userID, username)
	if err != nil {
		return nil, err
	}
	limits, err := s.catalog.Limits(ctx)
	if err != nil {
		return nil, err
	}

	models := s.catalog.Models()
	out := make([]ModelAvailability, 0, len(models))
	for _, m := range models {
		m.Limit = limits[m.ID]
		balance := acc.Balance(m.ID)
		out = append(out, ModelAvailability{
			ModelInfo: m,
			Balance:   balance,
			Selected:  m.ID == acc.SelectedModel,
			Locked:    balance < m.Cost,
		})
	}
	return out, nil
}

func (s *AccountService) SelectModel(ctx context.Context, userID int64, username, modelID string) error {
	if !s.catalog.Has(modelID) {
		return ErrUnknownModel
	}
	if _, err := s.ledger.Touch(ctx, userID, username); err != nil {
		return err
	}

	err := s.accounts.Update(ctx, userID, func(acc *model.Account) (bool, error) {
		if acc.SelectedModel == modelID {
			return false, nil
		}
		acc.SelectedModel = modelID
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("select model: %w", err)
	}
	return nil
}

func (s *AccountService) Balance(ctx context.Context, userID int64, modelID string) (int, error) {
	if !s.catalog.Has(modelID) {
		return 0, ErrUnknownModel
	}
	return s.ledger.GetBalance(ctx, userID, modelID)
}
