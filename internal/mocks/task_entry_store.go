package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"

	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/store"
)

// TaskEntryStore is an in-memory store.TaskEntryStore. Entries are copied on
// the way in and out, so callers never share memory with the store.
type TaskEntryStore struct {
	mu      sync.Mutex
	entries map[string]*domain.TaskEntry

	// Errors returned by the corresponding method when set.
	GetErr    error
	PutErr    error
	DeleteErr error
	ScanErr   error

	// FailPutMultiAfter makes PutMulti fail with PutErr once this many entries
	// have been written. Zero disables the partial failure.
	FailPutMultiAfter int

	// ScanCalls records every scan request.
	ScanCalls []store.ScanRequest
}

var _ store.TaskEntryStore = (*TaskEntryStore)(nil)

// NewTaskEntryStore returns an empty store.
func NewTaskEntryStore() *TaskEntryStore {
	return &TaskEntryStore{entries: make(map[string]*domain.TaskEntry)}
}

// Seed stores entries as given, bypassing error injection.
func (m *TaskEntryStore) Seed(entries ...*domain.TaskEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = e.Clone()
	}
}

// Len returns the number of stored entries, including soft-deleted ones.
func (m *TaskEntryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Get implements store.TaskEntryStore.
func (m *TaskEntryStore) Get(_ context.Context, id string) (*domain.TaskEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, store.ErrTaskEntryNotFound
	}
	return e.Clone(), nil
}

// GetMulti implements store.TaskEntryStore.
func (m *TaskEntryStore) GetMulti(_ context.Context, ids []string) ([]*domain.TaskEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	out := make([]*domain.TaskEntry, len(ids))
	for i, id := range ids {
		if e, ok := m.entries[id]; ok {
			out[i] = e.Clone()
		}
	}
	return out, nil
}

// Put implements store.TaskEntryStore.
func (m *TaskEntryStore) Put(_ context.Context, entry *domain.TaskEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.entries[entry.ID] = entry.Clone()
	return nil
}

// Insert implements store.TaskEntryStore.
func (m *TaskEntryStore) Insert(_ context.Context, entry *domain.TaskEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	if existing, ok := m.entries[entry.ID]; ok && !existing.Deleted {
		return fmt.Errorf("%w: task entry %q", store.ErrDuplicate, entry.ID)
	}
	m.entries[entry.ID] = entry.Clone()
	return nil
}

// PutMulti implements store.TaskEntryStore.
func (m *TaskEntryStore) PutMulti(_ context.Context, entries []*domain.TaskEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil && m.FailPutMultiAfter == 0 {
		return m.PutErr
	}
	for i, e := range entries {
		if m.PutErr != nil && i == m.FailPutMultiAfter {
			return &store.BatchError{Operation: "put_multi", Applied: i, Total: len(entries), Err: m.PutErr}
		}
		m.entries[e.ID] = e.Clone()
	}
	return nil
}

// Delete implements store.TaskEntryStore.
func (m *TaskEntryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.entries, id)
	return nil
}

// DeleteMulti implements store.TaskEntryStore.
func (m *TaskEntryStore) DeleteMulti(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// Scan implements store.TaskEntryStore with the same ordering and keyset
// rules as the SQL implementation.
func (m *TaskEntryStore) Scan(_ context.Context, req store.ScanRequest) ([]*domain.TaskEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScanCalls = append(m.ScanCalls, req)
	if m.ScanErr != nil {
		return nil, m.ScanErr
	}

	var matched []*domain.TaskEntry
	for _, e := range m.entries {
		if !matches(e, req) {
			continue
		}
		matched = append(matched, e)
	}

	slices.SortFunc(matched, func(a, b *domain.TaskEntry) int {
		cmp := store.CompareNewestFirst(a.LastUpdated, a.ID, b.LastUpdated, b.ID)
		if req.NewestFirst {
			return cmp
		}
		return -cmp
	})

	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}

	out := make([]*domain.TaskEntry, len(matched))
	for i, e := range matched {
		out[i] = e.Clone()
	}
	return out, nil
}

// WithTx implements store.TaskEntryStore. The in-memory store has no
// transactions, so it returns itself.
func (m *TaskEntryStore) WithTx(*sql.Tx) store.TaskEntryStore {
	return m
}

func matches(e *domain.TaskEntry, req store.ScanRequest) bool {
	f := req.Filter
	switch {
	case e.Deleted && !req.IncludeDeleted:
		return false
	case f.EntityType != "" && e.EntityType != f.EntityType:
		return false
	case f.EntityID != "" && e.EntityID != f.EntityID:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case req.After != nil && !req.After.Admits(e, req.NewestFirst):
		return false
	}
	return true
}
