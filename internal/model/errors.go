package model

import (
	"errors"
	"fmt"
)

// Error categories. The protocol dispatcher maps errors to client
// behavior with errors.Is against these.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// Entity-specific errors, each wrapping its category
var (
	ErrUserNotFound      = fmt.Errorf("user %w", ErrNotFound)
	ErrCharacterNotFound = fmt.Errorf("character %w", ErrNotFound)
	ErrPlaceNotFound     = fmt.Errorf("place %w", ErrNotFound)
	ErrPassageNotFound   = fmt.Errorf("passage %w", ErrNotFound)

	ErrUsernameTaken = fmt.Errorf("username %w", ErrConflict)
	ErrPlaceExists   = fmt.Errorf("place %w", ErrConflict)

	ErrInvalidAddress = fmt.Errorf("invalid place address: %w", ErrValidation)
	ErrEmptyName      = fmt.Errorf("empty name: %w", ErrValidation)
)
