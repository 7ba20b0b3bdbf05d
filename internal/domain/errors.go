package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	ErrOutOfOrder       = fmt.Errorf("%w: out-of-order timestamp", ErrInvalidInput)
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrLockHeld         = errors.New("lock held")
)
