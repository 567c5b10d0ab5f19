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

// RecordStore persists one MarketRecord per external market.
//
// Insert must be atomic and fail with ErrAlreadyExists when a record with the
// same ID is present. Get returns ErrNotFound for unknown IDs. MarkRevealed is
// idempotent and never touches the encrypted material.
type RecordStore interface {
	Insert(ctx context.Context, rec MarketRecord) error
	Get(ctx context.Context, id string) (MarketRecord, error)
	MarkRevealed(ctx context.Context, id string, at time.Time) error
	ListUnrevealed(ctx context.Context, opts ListOpts) ([]MarketRecord, error)
	Count(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
