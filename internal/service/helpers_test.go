package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

// steppingClock returns baseTime and advances by one second per call.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: baseTime}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

func newTask(t *testing.T, entityID string, version int, targetID string) *domain.TaskEntry {
	t.Helper()
	params := domain.NewTaskEntryParams{
		EntityType:    domain.EntityTypeExploration,
		EntityID:      entityID,
		EntityVersion: version,
		TaskType:      domain.TaskTypeHighBounceRate,
	}
	if targetID != "" {
		params.TargetType = domain.TargetTypeState
		params.TargetID = targetID
	}
	e, err := domain.NewTaskEntry(params)
	require.NoError(t, err)
	return e
}

// persisted returns a copy of e that looks stored at the given time.
func persisted(e *domain.TaskEntry, at time.Time) *domain.TaskEntry {
	c := e.Clone()
	c.CreatedOn = at
	c.LastUpdated = at
	return c
}

func ids(entries []*domain.TaskEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
