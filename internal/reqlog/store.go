package reqlog

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
)

// Store persists request-log entries. Implementations: memory ring,
// PostgreSQL, MongoDB.
type Store interface {
	// Insert appends one entry.
	Insert(ctx context.Context, entry Entry) error

	// List returns entries newest-first matching the query, plus the
	// total match count before paging.
	List(ctx context.Context, q Query) ([]Entry, int64, error)

	// Stats aggregates across both kinds.
	Stats(ctx context.Context) (Stats, error)

	// Clear removes entries of the given kind; empty kind clears both.
	// Returns the number of entries removed.
	Clear(ctx context.Context, kind Kind) (int64, error)

	// Close releases backing resources.
	Close() error
}

// NewEntryID returns a collision-resistant log entry id.
func NewEntryID() string {
	u := uuid.New()
	return "log-" + hex.EncodeToString(u[:8])
}
