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

// ArmStore persists per-chain bandit state. ReadAll returns rows only for the
// requested chains that exist; missing chains are simply absent. Upsert must
// be a single atomic insert-or-update keyed by chain.
type ArmStore interface {
	ReadAll(ctx context.Context, chains []string) ([]ArmRecord, error)
	Upsert(ctx context.Context, arm Arm, updatedAt time.Time) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
