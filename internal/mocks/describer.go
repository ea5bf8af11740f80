package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/improvements-api/internal/domain"
)

// MockDescriber implements generation.Describer for testing.
type MockDescriber struct {
	DescribeFn func(ctx context.Context, entry *domain.TaskEntry) (string, error)

	// Default response values
	Description string
	Err         error

	mu    sync.Mutex
	calls []string
}

// Describe implements generation.Describer.
func (m *MockDescriber) Describe(ctx context.Context, entry *domain.TaskEntry) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, entry.ID)
	m.mu.Unlock()

	if m.DescribeFn != nil {
		return m.DescribeFn(ctx, entry)
	}
	return m.Description, m.Err
}

// Calls returns the IDs of the entries described so far.
func (m *MockDescriber) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
