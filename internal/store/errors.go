package store

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateMessage is returned when a message insert collides with
	// an existing (tenant, transport id) pair.
	ErrDuplicateMessage = errors.New("store: duplicate message")
)
