package store

import (
	"context"
	"database/sql"

	"github.com/phrazzld/improvements-api/internal/domain"
)

// TaskEntryFilter holds equality filters for a scan. Empty fields do not
// constrain the scan.
type TaskEntryFilter struct {
	EntityType domain.EntityType
	EntityID   string
	Status     domain.TaskStatus
}

// ScanRequest describes one bounded, ordered read over task entries.
//
// Entries are ordered newest first by (last_updated DESC, id ASC) when
// NewestFirst is set, and in exactly the reverse order otherwise. When After is
// non-nil only entries on the far side of the cursor's gap, in the scan
// direction, are returned.
type ScanRequest struct {
	Filter         TaskEntryFilter
	IncludeDeleted bool
	After          *Cursor
	NewestFirst    bool
	Limit          int
}

// TaskEntryStore defines the entity store primitives for task entries.
// Implementations apply no lifecycle rules: timestamps are stored as given and
// soft-deleted entries are returned by key lookups. Those rules belong to the
// service layer.
type TaskEntryStore interface {
	// Get retrieves an entry by ID, including soft-deleted ones.
	// Returns ErrTaskEntryNotFound if no entry has that ID.
	Get(ctx context.Context, id string) (*domain.TaskEntry, error)

	// GetMulti retrieves entries by ID. The result has the same length as ids
	// and is aligned with it; missing entries and empty IDs map to nil.
	GetMulti(ctx context.Context, ids []string) ([]*domain.TaskEntry, error)

	// Insert stores a new entry. It fails with ErrDuplicate when a live entry
	// already has the ID; a soft-deleted entry with the ID is replaced.
	Insert(ctx context.Context, entry *domain.TaskEntry) error

	// Put inserts the entry or replaces the stored entry with the same ID.
	Put(ctx context.Context, entry *domain.TaskEntry) error

	// PutMulti upserts several entries. The write is not atomic as a unit:
	// a failure after some entries were written returns a *BatchError.
	PutMulti(ctx context.Context, entries []*domain.TaskEntry) error

	// Delete removes an entry permanently. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteMulti removes several entries permanently. Partial failures are
	// reported with a *BatchError.
	DeleteMulti(ctx context.Context, ids []string) error

	// Scan returns at most req.Limit entries matching req, in scan order.
	Scan(ctx context.Context, req ScanRequest) ([]*domain.TaskEntry, error)

	// WithTx returns a store that runs its statements in tx.
	WithTx(tx *sql.Tx) TaskEntryStore
}
