package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	backupSuffix = ".backup"
	tmpSuffix    = ".tmp"
)

// FileStore keeps one document in a JSON file next to a backup copy that
// mirrors the previous content. New content is written to a temporary file
// and renamed over the primary; a write that cannot be backed up is refused.
type FileStore[T any] struct {
	path       string
	backupPath string
	newDoc     func() *T

	mu        sync.Mutex
	writeFile func(path string, data []byte) error
}

func NewFileStore[T any](path string, newDoc func() *T) (*FileStore[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore[T]{
		path:       path,
		backupPath: path + backupSuffix,
		newDoc:     newDoc,
		writeFile:  syncWriteFile,
	}, nil
}

func (s *FileStore[T]) Path() string {
	return s.path
}

func (s *FileStore[T]) Load(ctx context.Context) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore[T]) Save(ctx context.Context, doc *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

func (s *FileStore[T]) Update(ctx context.Context, fn UpdateFunc[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
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
	return s.save(doc)
}

func (s *FileStore[T]) Export(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return encode(s.newDoc())
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return data, nil
}

func (s *FileStore[T]) load() (*T, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.newDoc(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s.newDoc(), nil
	}

	doc := s.newDoc()
	if err := json.Unmarshal(data, doc); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("store: document is corrupt, starting from an empty document")
		s.quarantine(data)
		return s.newDoc(), nil
	}
	return doc, nil
}

// quarantine keeps unreadable content aside so the next save does not
// overwrite the last good backup with it.
func (s *FileStore[T]) quarantine(data []byte) {
	target := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.WriteFile(target, data, 0o600); err != nil {
		log.Warn().Err(err).Str("path", target).Msg("store: failed to keep corrupt copy")
		return
	}
	if err := os.Remove(s.path); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("store: failed to remove corrupt document")
	}
}

func (s *FileStore[T]) save(doc *T) error {
	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath); err != nil {
			log.Error().Err(err).Str("path", s.backupPath).Msg("store: failed to create backup, document left unchanged")
			return fmt.Errorf("%w: backup: %v", ErrWriteFailed, err)
		}
	}

	// The primary is only ever replaced by rename, so it is never partial.
	tmpPath := s.path + tmpSuffix
	if err := s.writeFile(tmpPath, data); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("store: failed to write document")
		s.discard(tmpPath)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("store: failed to replace document")
		s.discard(tmpPath)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	syncDir(filepath.Dir(s.path))
	return nil
}

func (s *FileStore[T]) discard(tmpPath string) {
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", tmpPath).Msg("store: failed to remove partial write")
	}
}

func syncWriteFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return syncWriteFile(dst, data)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.Debug().Err(err).Str("path", dir).Msg("store: directory sync failed")
	}
}
