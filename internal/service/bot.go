package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/artifact"
	"github.com/openclaw/botforge-relay/internal/catalog"
	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/repository"
)

const editSuffix = "\n\nAdditional changes: "

// ProcessSupervisor runs bot artifacts.
type ProcessSupervisor interface {
	Start(ctx context.Context, botID string, ownerID int64) (bool, error)
	Stop(ctx context.Context, botID string, ownerID int64) (bool, error)
	Reconcile(ctx context.Context, record model.BotRecord) (bool, error)
}

type CreateBotRequest struct {
	OwnerID     int64
	Username    string
	Credential  string
	Description string
}

type BotService struct {
	bots       repository.BotRepository
	ledger     *Ledger
	catalog    *catalog.Catalog
	artifacts  *artifact.Store
	generator  Generator
	supervisor ProcessSupervisor
	now        func() time.Time
}

func NewBotService(
	bots repository.BotRepository,
	ledger *Ledger,
	catalog *catalog.Catalog,
	artifacts *artifact.Store,
	generator Generator,
	supervisor ProcessSupervisor,
) *BotService {
	return &BotService{
		bots:       bots,
		ledger:     ledger,
		catalog:    catalog,
		artifacts:  artifacts,
		generator:  generator,
		supervisor: supervisor,
		now:        time.Now,
	}
}

// Create generates a new bot on the owner's selected model. One token is
// debited before the upstream call and is not refunded if generation fails.
func (s *BotService) Create(ctx context.Context, req CreateBotRequest) (*model.BotRecord, error) {
	req.Credential = strings.TrimSpace(req.Credential)
	req.Description = strings.TrimSpace(req.Description)
	if req.Credential == "" || req.Description == "" {
		return nil, fmt.Errorf("%w: credential and description are required", ErrInvalidInput)
	}

	enabled, err := s.catalog.CreationEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrCreationDisabled
	}

	acc, err := s.ledger.Touch(ctx, req.OwnerID, req.Username)
	if err != nil {
		return nil, err
	}
	modelID := acc.SelectedModel

	if err := s.ledger.Authorize(ctx, req.OwnerID, modelID); err != nil {
		return nil, err
	}

	code, err := s.generator.Generate(ctx, modelID, req.Description, req.Credential)
	if err != nil {
		log.Error().Err(err).Int64("ownerId", req.OwnerID).Str("model", modelID).Msg("bots: generation failed")
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	botID, err := newBotID(req.OwnerID)
	if err != nil {
		return nil, err
	}

	record, err := s.bots.Create(ctx, model.CreateBotParams{
		OwnerID:     req.OwnerID,
		BotID:       botID,
		Credential:  req.Credential,
		Description: req.Description,
		Model:       modelID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("register bot: %w", err)
	}

	if err := s.artifacts.Write(req.OwnerID, botID, code); err != nil {
		if _, delErr := s.bots.Delete(ctx, req.OwnerID, botID); delErr != nil {
			log.Error().Err(delErr).Str("botId", botID).Msg("bots: failed to roll back registration")
		}
		return nil, err
	}

	log.Info().Int64("ownerId", req.OwnerID).Str("botId", botID).Str("model", modelID).Msg("bots: bot created")
	return record, nil
}

// newBotID derives an id that is unique per owner. UUIDv7 keeps ids of one
// owner in creation order.
func newBotID(ownerID int64) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate bot id: %w", err)
	}
	return strconv.FormatInt(ownerID, 10) + "_" + id.String(), nil
}

// Edit regenerates a bot with the requested changes appended to its
// description. The bot keeps the model it was created with; a running bot
// is stopped first and left stopped.
func (s *BotService) Edit(ctx context.Context, ownerID int64, username, botID, changes string) (*model.BotRecord, error) {
	changes = strings.TrimSpace(changes)
	if changes == "" {
		return nil, fmt.Errorf("%w: changes are required", ErrInvalidInput)
	}

	record, err := s.find(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Touch(ctx, ownerID, username); err != nil {
		return nil, err
	}
	if err := s.ledger.Authorize(ctx, ownerID, record.Model); err != nil {
		return nil, err
	}

	if _, err := s.supervisor.Stop(ctx, botID, ownerID); err != nil {
		return nil, fmt.Errorf("stop bot before edit: %w", err)
	}

	description := record.Description + editSuffix + changes
	code, err := s.generator.Generate(ctx, record.Model, description, record.Credential)
	if err != nil {
		log.Error().Err(err).Str("botId", botID).Str("model", record.Model).Msg("bots: regeneration failed")
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	if err := s.artifacts.Write(ownerID, botID, code); err != nil {
		return nil, err
	}
	if _, err := s.bots.UpdateDescription(ctx, ownerID, botID, description); err != nil {
		return nil, fmt.Errorf("update bot description: %w", err)
	}

	log.Info().Int64("ownerId", ownerID).Str("botId", botID).Msg("bots: bot edited")
	return s.find(ctx, ownerID, botID)
}

// Delete stops the bot, then removes its artifact and its record.
func (s *BotService) Delete(ctx context.Context, ownerID int64, botID string) error {
	if _, err := s.find(ctx, ownerID, botID); err != nil {
		return err
	}

	if _, err := s.supervisor.Stop(ctx, botID, ownerID); err != nil {
		return fmt.Errorf("stop bot before delete: %w", err)
	}
	if err := s.artifacts.Remove(ownerID, botID); err != nil {
		return err
	}
	if _, err := s.bots.Delete(ctx, ownerID, botID); err != nil {
		return fmt.Errorf("delete bot record: %w", err)
	}

	log.Info().Int64("ownerId", ownerID).Str("botId", botID).Msg("bots: bot deleted")
	return nil
}

func (s *BotService) Start(ctx context.Context, ownerID int64, botID string) error {
	record, err := s.find(ctx, ownerID, botID)
	if err != nil {
		return err
	}

	running, err := s.supervisor.Reconcile(ctx, *record)
	if err != nil {
		return err
	}
	if running {
		return ErrAlreadyRunning
	}

	ok, err := s.supervisor.Start(ctx, botID, ownerID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStartFailed
	}
	return nil
}

// Stop reports false when the bot had no live process.
func (s *BotService) Stop(ctx context.Context, ownerID int64, botID string) (bool, error) {
	record, err := s.find(ctx, ownerID, botID)
	if err != nil {
		return false, err
	}

	stopped, err := s.supervisor.Stop(ctx, botID, ownerID)
	if err != nil {
		return stopped, err
	}
	if !stopped && record.IsRunning {
		if _, err := s.supervisor.Reconcile(ctx, *record); err != nil {
			return false, err
		}
	}
	return stopped, nil
}

// Get returns the record with its running flag reconciled against the
// supervisor.
func (s *BotService) Get(ctx context.Context, ownerID int64, botID string) (*model.BotRecord, error) {
	record, err := s.find(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	running, err := s.supervisor.Reconcile(ctx, *record)
	if err != nil {
		return nil, err
	}
	record.IsRunning = running
	return record, nil
}

func (s *BotService) List(ctx context.Context, ownerID int64) ([]model.BotRecord, error) {
	records, err := s.bots.FindAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		running, err := s.supervisor.Reconcile(ctx, records[i])
		if err != nil {
			return nil, err
		}
		records[i].IsRunning = running
	}
	return records, nil
}

func (s *BotService) Code(ctx context.Context, ownerID int64, botID string) ([]byte, error) {
	if _, err := s.find(ctx, ownerID, botID); err != nil {
		return nil, err
	}
	code, err := s.artifacts.Read(ownerID, botID)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactMissing
	}
	return code, err
}

func (s *BotService) Dependencies(ctx context.Context, ownerID int64, botID string) (*BotDependencies, error) {
	code, err := s.Code(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	deps := scanDependencies(string(code))
	return &deps, nil
}

// ArtifactName is the file name a bot's code is served under.
func (s *BotService) ArtifactName(ownerID int64, botID string) string {
	return filepath.Base(s.artifacts.Path(ownerID, botID))
}

func (s *BotService) find(ctx context.Context, ownerID int64, botID string) (*model.BotRecord, error) {
	record, err := s.bots.FindByID(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrBotNotFound
	}
	return record, nil
}
