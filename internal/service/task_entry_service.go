package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/generation"
	"github.com/phrazzld/improvements-api/internal/platform/logger"
	"github.com/phrazzld/improvements-api/internal/redact"
	"github.com/phrazzld/improvements-api/internal/store"
)

// getAllBatchSize is the number of entries GetAll reads per store scan.
const getAllBatchSize = 100

// Clock returns the current time.
type Clock func() time.Time

// Option configures the task services.
type Option func(*options)

type options struct {
	db        *sql.DB
	describer generation.Describer
	clock     Clock
}

// WithDB lets read-modify-write operations run in a database transaction.
func WithDB(db *sql.DB) Option {
	return func(o *options) { o.db = db }
}

// WithDescriber sets the describer used by Create. The default is
// generation.TemplateDescriber.
func WithDescriber(d generation.Describer) Option {
	return func(o *options) { o.describer = d }
}

// WithClock replaces time.Now as the source of persisted timestamps.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{describer: generation.TemplateDescriber{}, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TaskEntryService implements the task record operations: keyed reads that
// hide soft-deleted entries, writes that maintain timestamps, hard deletes
// and lifecycle transitions.
type TaskEntryService struct {
	store     store.TaskEntryStore
	db        *sql.DB
	describer generation.Describer
	clock     Clock
	logger    *slog.Logger
}

// NewTaskEntryService creates a TaskEntryService. It returns an error if st
// is nil. If logger is nil, slog.Default() is used.
func NewTaskEntryService(st store.TaskEntryStore, logger *slog.Logger, opts ...Option) (*TaskEntryService, error) {
	if st == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "store cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	return &TaskEntryService{
		store:     st,
		db:        o.db,
		describer: o.describer,
		clock:     o.clock,
		logger:    logger.With(slog.String("component", "task_entry_service")),
	}, nil
}

// now returns the clock reading in UTC at the precision timestamps are stored with.
func (s *TaskEntryService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// Get returns the live entry with the given ID. When strict is set, a missing
// or soft-deleted entry yields a *TaskEntryNotFoundError; otherwise it yields
// (nil, nil).
func (s *TaskEntryService) Get(ctx context.Context, id string, strict bool) (*domain.TaskEntry, error) {
	return s.get(ctx, s.store, id, strict)
}

func (s *TaskEntryService) get(
	ctx context.Context,
	st store.TaskEntryStore,
	id string,
	strict bool,
) (*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	entry, err := st.Get(ctx, id)
	if err != nil && !store.IsNotFoundError(err) {
		log.Error("failed to get task entry",
			slog.String("error", err.Error()),
			slog.String("task_entry_id", id))
		return nil, NewTaskServiceError("get", "failed to retrieve task entry", err)
	}

	if entry == nil || entry.Deleted {
		if strict {
			return nil, &TaskEntryNotFoundError{ID: id}
		}
		return nil, nil
	}
	return entry, nil
}

// GetMulti returns one slot per id, in order. Empty ids, missing entries and,
// unless includeDeleted is set, soft-deleted entries leave their slot nil.
func (s *TaskEntryService) GetMulti(ctx context.Context, ids []string, includeDeleted bool) ([]*domain.TaskEntry, error) {
	entries, err := s.store.GetMulti(ctx, ids)
	if err != nil {
		return nil, NewTaskServiceError("get_multi", "failed to retrieve task entries", err)
	}
	if len(entries) != len(ids) {
		return nil, &TaskServiceError{
			Operation: "get_multi",
			Message:   fmt.Sprintf("store returned %d results for %d ids", len(entries), len(ids)),
		}
	}

	for i, e := range entries {
		if ids[i] == "" || (e != nil && e.Deleted && !includeDeleted) {
			entries[i] = nil
		}
	}
	return entries, nil
}

// Put validates and persists entry. created_on is set when unset; last_updated
// is set when updateTimestamp is true or when it is unset. The stored entry is
// returned and the argument is left unmodified.
func (s *TaskEntryService) Put(ctx context.Context, entry *domain.TaskEntry, updateTimestamp bool) (*domain.TaskEntry, error) {
	return s.put(ctx, s.store, entry, updateTimestamp)
}

func (s *TaskEntryService) put(
	ctx context.Context,
	st store.TaskEntryStore,
	entry *domain.TaskEntry,
	updateTimestamp bool,
) (*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := entry.Validate(); err != nil {
		log.Warn("task entry validation failed",
			slog.String("error", err.Error()),
			slog.String("task_entry_id", entry.ID))
		return nil, err
	}

	stamped := stampTimestamps(entry, s.now(), updateTimestamp)
	if err := st.Put(ctx, stamped); err != nil {
		log.Error("failed to put task entry",
			slog.String("error", err.Error()),
			slog.String("task_entry_id", entry.ID))
		return nil, NewTaskServiceError("put", "failed to store task entry", err)
	}
	return stamped, nil
}

// PutMulti applies the Put timestamp rules to every entry and writes them in
// one batched call. Every entry is validated before anything is written. A
// write that fails part way returns a *store.BatchError.
func (s *TaskEntryService) PutMulti(
	ctx context.Context,
	entries []*domain.TaskEntry,
	updateTimestamp bool,
) ([]*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	for i, e := range entries {
		if e == nil {
			return nil, domain.NewValidationError("entries["+strconv.Itoa(i)+"]", "must not be nil", nil)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}
	}
	if len(entries) == 0 {
		return []*domain.TaskEntry{}, nil
	}

	now := s.now()
	stamped := make([]*domain.TaskEntry, len(entries))
	for i, e := range entries {
		stamped[i] = stampTimestamps(e, now, updateTimestamp)
	}

	if err := s.store.PutMulti(ctx, stamped); err != nil {
		log.Error("failed to put task entries",
			slog.String("error", err.Error()),
			slog.Int("count", len(entries)))
		return nil, NewTaskServiceError("put_multi", "failed to store task entries", err)
	}

	log.Debug("task entries stored", slog.Int("count", len(stamped)))
	return stamped, nil
}

func stampTimestamps(entry *domain.TaskEntry, now time.Time, updateTimestamp bool) *domain.TaskEntry {
	e := entry.Clone()
	if !e.IsPersisted() {
		e.CreatedOn = now
	} else {
		e.CreatedOn = e.CreatedOn.UTC().Truncate(time.Microsecond)
	}
	if updateTimestamp || e.LastUpdated.IsZero() {
		e.LastUpdated = now
	} else {
		e.LastUpdated = e.LastUpdated.UTC().Truncate(time.Microsecond)
	}
	return e
}

// DeleteMulti permanently removes the given entries. Nil entries are skipped.
func (s *TaskEntryService) DeleteMulti(ctx context.Context, entries []*domain.TaskEntry) error {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.store.DeleteMulti(ctx, ids); err != nil {
		return NewTaskServiceError("delete_multi", "failed to delete task entries", err)
	}
	return nil
}

// DeleteByID permanently removes the entry with the given ID. Deleting a
// missing entry is not an error.
func (s *TaskEntryService) DeleteByID(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return NewTaskServiceError("delete", "failed to delete task entry", err)
	}
	return nil
}

// GetAll lazily yields every live entry, or every entry when includeDeleted is
// set, newest first. Entries are read from the store in batches as the
// sequence is consumed. A store failure is yielded once as a final
// (nil, err) pair. Intended for administrative use, not client pagination.
func (s *TaskEntryService) GetAll(ctx context.Context, includeDeleted bool) iter.Seq2[*domain.TaskEntry, error] {
	return func(yield func(*domain.TaskEntry, error) bool) {
		var after *store.Cursor
		for {
			batch, err := s.store.Scan(ctx, store.ScanRequest{
				IncludeDeleted: includeDeleted,
				After:          after,
				NewestFirst:    true,
				Limit:          getAllBatchSize,
			})
			if err != nil {
				yield(nil, NewTaskServiceError("get_all", "failed to scan task entries", err))
				return
			}

			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
			if len(batch) < getAllBatchSize {
				return
			}

			c := store.CursorPast(batch[len(batch)-1], true, store.TaskEntryFilter{})
			after = &c
		}
	}
}

// Create builds an open task entry from params and stores it. When params
// carries no issue description, one is produced by the configured describer,
// falling back to the template describer if that fails. Creating an entry
// whose ID already belongs to a live entry fails with store.ErrDuplicate,
// also when a concurrent Create stores it first.
func (s *TaskEntryService) Create(ctx context.Context, params domain.NewTaskEntryParams) (*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	entry, err := domain.NewTaskEntry(params)
	if err != nil {
		return nil, err
	}

	// Insert below re-checks atomically.
	existing, err := s.Get(ctx, entry.ID, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: task entry %q", store.ErrDuplicate, entry.ID)
	}

	if entry.IssueDescription == "" {
		entry.IssueDescription = s.describe(ctx, entry)
	}

	stored := stampTimestamps(entry, s.now(), true)
	if err := s.store.Insert(ctx, stored); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			log.Debug("task entry created concurrently", slog.String("task_entry_id", stored.ID))
			return nil, err
		}
		log.Error("failed to insert task entry",
			slog.String("error", err.Error()),
			slog.String("task_entry_id", stored.ID))
		return nil, NewTaskServiceError("create", "failed to store task entry", err)
	}

	log.Info("task entry created",
		slog.String("task_entry_id", stored.ID),
		slog.String("task_type", string(stored.TaskType)))
	return stored, nil
}

func (s *TaskEntryService) describe(ctx context.Context, entry *domain.TaskEntry) string {
	log := logger.FromContextOrDefault(ctx, s.logger)

	desc, err := s.describer.Describe(ctx, entry)
	if err == nil && desc != "" {
		return generation.Truncate(desc)
	}
	if err != nil {
		log.Warn("describer failed, using template description",
			redact.ErrorAttr(err),
			slog.String("task_entry_id", entry.ID))
	}

	desc, err = generation.TemplateDescriber{}.Describe(ctx, entry)
	if err != nil {
		return ""
	}
	return desc
}

// Close moves the live open entry with the given ID to status (resolved or
// deprecated), recording closedBy and the close time.
func (s *TaskEntryService) Close(
	ctx context.Context,
	id string,
	status domain.TaskStatus,
	closedBy string,
) (*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if closedBy == "" {
		return nil, domain.NewValidationError("closed_by", "is required", nil)
	}

	closed, err := s.transition(ctx, "close", id, func(entry *domain.TaskEntry) error {
		return entry.Close(status, closedBy, s.now())
	})
	if err != nil {
		return nil, err
	}

	log.Info("task entry closed",
		slog.String("task_entry_id", id),
		slog.String("status", string(status)),
		slog.String("closed_by", closedBy))
	return closed, nil
}

// Reopen returns the live closed entry with the given ID to open, clearing
// its closure fields.
func (s *TaskEntryService) Reopen(ctx context.Context, id string) (*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	reopened, err := s.transition(ctx, "reopen", id, func(entry *domain.TaskEntry) error {
		return entry.Reopen()
	})
	if err != nil {
		return nil, err
	}

	log.Info("task entry reopened", slog.String("task_entry_id", id))
	return reopened, nil
}

// transition applies change to the live entry with the given ID and stores
// it with a fresh last_updated. With a database configured, the read and
// write run in one transaction.
func (s *TaskEntryService) transition(
	ctx context.Context,
	operation string,
	id string,
	change func(*domain.TaskEntry) error,
) (*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var updated *domain.TaskEntry
	apply := func(ctx context.Context, st store.TaskEntryStore) error {
		entry, err := s.get(ctx, st, id, true)
		if err != nil {
			return err
		}
		if err := change(entry); err != nil {
			return err
		}
		updated, err = s.put(ctx, st, entry, true)
		return err
	}

	var err error
	if s.db != nil {
		err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			return apply(ctx, s.store.WithTx(tx))
		})
	} else {
		err = apply(ctx, s.store)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) && !domain.IsValidationError(err) {
			log.Error("failed to "+operation+" task entry",
				slog.String("error", err.Error()),
				slog.String("task_entry_id", id))
		}
		return nil, NewTaskServiceError(operation, "failed to "+operation+" task entry", err)
	}
	return updated, nil
}
