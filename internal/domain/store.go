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

// MatchFilter narrows a match listing.
type MatchFilter struct {
	Status *MatchStatus
	// CreatedBefore keeps only records whose CreatedAt is strictly earlier.
	CreatedBefore *time.Time
	ListOpts
}

// Matches reports whether m passes the filter's predicates. Pagination is
// applied by the caller.
func (f MatchFilter) Matches(m MatchRecord) bool {
	if f.Status != nil && m.Status != *f.Status {
		return false
	}
	if f.CreatedBefore != nil && m.CreatedAt >= f.CreatedBefore.Unix() {
		return false
	}
	return true
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
