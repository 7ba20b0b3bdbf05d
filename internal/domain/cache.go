package domain

import (
	"context"
	"time"
)

// AssessmentCache keeps the last-known assessment per symbol.
type AssessmentCache interface {
	SetLatest(ctx context.Context, a Assessment) error
	GetLatest(ctx context.Context, symbol string) (Assessment, error)
	Symbols(ctx context.Context) ([]string, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// LockManager provides short-lived distributed locks.
type LockManager interface {
	// Acquire returns an unlock func, or ErrLockHeld when the key is taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
