package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

const maxUpdateAttempts = 5

// Schema creates the documents table. Bodies are TEXT so Export returns the
// bytes that were written; older JSONB tables are converted in place.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		name       TEXT PRIMARY KEY,
		body       TEXT NOT NULL,
		version    BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE documents ALTER COLUMN body TYPE TEXT USING body::text`,
}

// PostgresStore keeps one document per row of the documents table. Each row
// carries a version stamp. Update is an optimistic compare-and-swap on that
// stamp, retried a few times, so several relay instances can share one
// database. Save overwrites unconditionally.
type PostgresStore[T any] struct {
	db     *sqlx.DB
	name   string
	newDoc func() *T
}

type documentRow struct {
	Body    []byte `db:"body"`
	Version int64  `db:"version"`
}

func NewPostgresStore[T any](db *sqlx.DB, name string, newDoc func() *T) *PostgresStore[T] {
	return &PostgresStore[T]{db: db, name: name, newDoc: newDoc}
}

func (s *PostgresStore[T]) Load(ctx context.Context) (*T, error) {
	doc, _, err := s.load(ctx)
	return doc, err
}

func (s *PostgresStore[T]) Save(ctx context.Context, doc *T) error {
	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.backup(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (name, body, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (name) DO UPDATE SET
			body = EXCLUDED.body,
			version = documents.version + 1,
			updated_at = NOW()
	`, s.name, string(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

func (s *PostgresStore[T]) Update(ctx context.Context, fn UpdateFunc[T]) error {
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		doc, version, err := s.load(ctx)
		if err != nil {
			return err
		}
		changed, err := fn(doc)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		swapped, err := s.compareAndSwap(ctx, doc, version)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
		log.Debug().Str("document", s.name).Int("attempt", attempt).Msg("store: version conflict, retrying")
	}
	return fmt.Errorf("%w: %s", ErrConflict, s.name)
}

func (s *PostgresStore[T]) Export(ctx context.Context) ([]byte, error) {
	var body []byte
	err := s.db.GetContext(ctx, &body, `SELECT body FROM documents WHERE name = $1`, s.name)
	if errors.Is(err, sql.ErrNoRows) {
		return encode(s.newDoc())
	}
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", s.name, err)
	}
	return body, nil
}

// load returns the document and its version; version 0 means no row yet.
func (s *PostgresStore[T]) load(ctx context.Context) (*T, int64, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT body, version FROM documents WHERE name = $1
	`, s.name)
	if errors.Is(err, sql.ErrNoRows) {
		return s.newDoc(), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load %s: %w", s.name, err)
	}

	doc := s.newDoc()
	if err := json.Unmarshal(row.Body, doc); err != nil {
		log.Error().Err(err).Str("document", s.name).Msg("store: document is corrupt, starting from an empty document")
		return s.newDoc(), row.Version, nil
	}
	return doc, row.Version, nil
}

func (s *PostgresStore[T]) compareAndSwap(ctx context.Context, doc *T, version int64) (bool, error) {
	data, err := encode(doc)
	if err != nil {
		return false, fmt.Errorf("encode document: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if version == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO documents (name, body, version, updated_at)
			VALUES ($1, $2, 1, NOW())
			ON CONFLICT (name) DO NOTHING
		`, s.name, string(data))
	} else {
		if err := s.backup(ctx, tx); err != nil {
			return false, err
		}
		res, err = tx.ExecContext(ctx, `
			UPDATE documents SET
				body = $2,
				version = version + 1,
				updated_at = NOW()
			WHERE name = $1 AND version = $3
		`, s.name, string(data), version)
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if affected == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return true, nil
}

func (s *PostgresStore[T]) backup(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (name, body, version, updated_at)
		SELECT name || $2, body, version, NOW() FROM documents WHERE name = $1
		ON CONFLICT (name) DO UPDATE SET
			body = EXCLUDED.body,
			version = EXCLUDED.version,
			updated_at = NOW()
	`, s.name, backupSuffix)
	if err != nil {
		return fmt.Errorf("backup %s: %w", s.name, err)
	}
	return nil
}
