package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrQuotaExhausted   = errors.New("quota exhausted")
	ErrCreationDisabled = errors.New("bot creation is disabled")
	ErrUnknownModel     = errors.New("unknown model")
	ErrAccountNotFound  = errors.New("account not found")
	ErrBotNotFound      = errors.New("bot not found")
	ErrAlreadyRunning   = errors.New("bot is already running")
	ErrStartFailed      = errors.New("bot could not be started")
	ErrArtifactMissing  = errors.New("bot code not found")
	ErrGenerationFailed = errors.New("code generation failed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnknownDocument  = errors.New("unknown document")
)

// QuotaExhaustedError is returned when a debit was refused. It carries the
// moment the account's window resets so callers can show the wait time.
type QuotaExhaustedError struct {
	Model   string
	ResetAt time.Time
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("quota exhausted for model %s until %s", e.Model, e.ResetAt.Format(time.RFC3339))
}

func (e *QuotaExhaustedError) Is(target error) bool {
	return target == ErrQuotaExhausted
}
