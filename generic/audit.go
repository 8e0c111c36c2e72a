package generic

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Separate from the tree, tracks every reconcile attempt
// =============================================================================

// AuditEntry records one reconcile attempt and how it ended.
type AuditEntry struct {
	ID         string
	At         time.Time
	UserID     string
	Mode       string
	Outcome    string // empty when Error is set
	Error      string
	SessionKey string
	Location   string
	Attempts   int
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows a query. Zero values match everything.
type AuditFilter struct {
	UserID string
	From   time.Time
	To     time.Time
	Limit  int
}

// Matches reports whether e passes the filter (ignoring Limit).
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if !f.From.IsZero() && e.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.At.After(f.To) {
		return false
	}
	return true
}
