// Package store persists whole JSON documents. Every mutation is a
// read-modify-write of the full document, serialized per store so that
// concurrent request handlers cannot drop each other's changes.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrWriteFailed is returned when new content could not be persisted.
	// The previous document content is left readable.
	ErrWriteFailed = errors.New("store: write failed")

	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = errors.New("store: concurrent update conflict")
)

// UpdateFunc mutates doc in place and reports whether anything changed.
// Returning an error aborts the update without writing.
type UpdateFunc[T any] func(doc *T) (changed bool, err error)

type DocumentStore[T any] interface {
	// Load returns the current document. Missing, empty or corrupt content
	// yields a fresh default document.
	Load(ctx context.Context) (*T, error)
	// Save replaces the document.
	Save(ctx context.Context, doc *T) error
	// Update runs fn against the current document and persists the result
	// when fn reports a change.
	Update(ctx context.Context, fn UpdateFunc[T]) error
	// Export returns the persisted bytes verbatim.
	Export(ctx context.Context) ([]byte, error)
}

func encode(doc any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
