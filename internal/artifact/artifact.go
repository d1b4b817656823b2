// Package artifact stores the generated source file of each bot, addressed
// by owner and bot id.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bots directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Path returns the artifact location for a bot. Path separators in the bot
// id are replaced so an id can never escape the bots directory.
func (s *Store) Path(ownerID int64, botID string) string {
	safe := strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(botID)
	return filepath.Join(s.dir, "bot_"+strconv.FormatInt(ownerID, 10)+"_"+safe+".py")
}

func (s *Store) Exists(ownerID int64, botID string) bool {
	info, err := os.Stat(s.Path(ownerID, botID))
	return err == nil && info.Mode().IsRegular()
}

func (s *Store) Write(ownerID int64, botID string, code []byte) error {
	if err := os.WriteFile(s.Path(ownerID, botID), code, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func (s *Store) Read(ownerID int64, botID string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(ownerID, botID))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Remove deletes the artifact; a missing file is not an error.
func (s *Store) Remove(ownerID int64, botID string) error {
	err := os.Remove(s.Path(ownerID, botID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}
