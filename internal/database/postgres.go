package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/openclaw/botforge-relay/internal/store"
)

type DB struct {
	DB *sqlx.DB
}

func Connect(databaseURL string) (*DB, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &DB{DB: db}, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.DB.Close()
}

// Migrate creates the documents table used by the Postgres document store.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range store.Schema {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate documents table: %w", err)
		}
	}
	return nil
}
