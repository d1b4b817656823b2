package repository

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrBotExists = errors.New("bot id already exists for this owner")
)
