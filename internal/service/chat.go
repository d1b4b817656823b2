package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/aiclient"
	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/repository"
)

type ChatReply struct {
	Reply     string `json:"reply"`
	Model     string `json:"model"`
	Remaining int    `json:"remaining"`
}

// ChatService relays free-form questions to the user's selected model
// with their recent conversation as context.
type ChatService struct {
	history   repository.HistoryRepository
	ledger    *Ledger
	completer Completer
	limit     int
}

func NewChatService(history repository.HistoryRepository, ledger *Ledger, completer Completer, limit int) *ChatService {
	return &ChatService{
		history:   history,
		ledger:    ledger,
		completer: completer,
		limit:     limit,
	}
}

// Ask debits one token on the selected model before calling upstream. The
// exchange is only recorded in history when upstream answered.
func (s *ChatService) Ask(ctx context.Context, userID int64, username, text string) (*ChatReply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	acc, err := s.ledger.Touch(ctx, userID, username)
	if err != nil {
		return nil, err
	}
	modelID := acc.SelectedModel

	if err := s.ledger.Authorize(ctx, userID, modelID); err != nil {
		return nil, err
	}

	recent, err := s.history.Recent(ctx, userID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	messages := make([]aiclient.Message, 0, len(recent)+1)
	for _, m := range recent {
		messages = append(messages, aiclient.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, aiclient.Message{Role: model.RoleUser, Content: text})

	reply, err := s.completer.Complete(ctx, modelID, messages)
	if err != nil {
		log.Error().Err(err).Int64("userId", userID).Str("model", modelID).Msg("chat: upstream call failed")
		return nil, err
	}

	if err := s.history.Append(ctx, userID,
		model.ChatMessage{Role: model.RoleUser, Content: text},
		model.ChatMessage{Role: model.RoleAssistant, Content: reply},
	); err != nil {
		log.Error().Err(err).Int64("userId", userID).Msg("chat: failed to save history")
	}

	remaining, err := s.ledger.GetBalance(ctx, userID, modelID)
	if err != nil {
		return nil, err
	}
	return &ChatReply{Reply: reply, Model: modelID, Remaining: remaining}, nil
}

func (s *ChatService) History(ctx context.Context, userID int64, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	return s.history.Recent(ctx, userID, limit)
}

func (s *ChatService) ClearHistory(ctx context.Context, userID int64) error {
	if err := s.history.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
