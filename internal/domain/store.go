package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AssessmentStore persists emitted assessments.
type AssessmentStore interface {
	Insert(ctx context.Context, a Assessment) error
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]Assessment, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Assessment, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single entry in the append-only audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
