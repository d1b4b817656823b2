package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/model"
)

const journalKey = "botforge:handles"

// HandleJournal stores one hash field per running bot process.
type HandleJournal struct {
	client *goredis.Client
}

func NewHandleJournal(client *goredis.Client) *HandleJournal {
	return &HandleJournal{client: client}
}

func (j *HandleJournal) Record(ctx context.Context, entry model.HandleEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode handle entry: %w", err)
	}
	if err := j.client.HSet(ctx, journalKey, entry.BotID, data).Err(); err != nil {
		return fmt.Errorf("record handle: %w", err)
	}
	return nil
}

func (j *HandleJournal) Remove(ctx context.Context, botID string) error {
	if err := j.client.HDel(ctx, journalKey, botID).Err(); err != nil {
		return fmt.Errorf("remove handle: %w", err)
	}
	return nil
}

func (j *HandleJournal) Entries(ctx context.Context) ([]model.HandleEntry, error) {
	raw, err := j.client.HGetAll(ctx, journalKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list handles: %w", err)
	}

	entries := make([]model.HandleEntry, 0, len(raw))
	for botID, value := range raw {
		var entry model.HandleEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			log.Warn().Err(err).Str("botId", botID).Msg("journal: dropping unreadable handle entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
