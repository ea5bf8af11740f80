package taskfaker_test

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/taskfaker"
)

var refTime = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func seededFaker(seed uint64) *taskfaker.Faker {
	n := 0
	return taskfaker.New(
		taskfaker.WithRand(rand.New(rand.NewPCG(seed, seed))),
		taskfaker.WithIDSource(func() string {
			n++
			return fmt.Sprintf("id%04d", n)
		}),
		taskfaker.WithClock(func() time.Time { return refTime }),
	)
}

func TestTask_IsValid(t *testing.T) {
	f := seededFaker(1)

	for i := 0; i < 200; i++ {
		task := f.Task("exp1")
		require.NoError(t, task.Validate(), "task %d: %+v", i, task)

		assert.Equal(t, domain.EntityTypeExploration, task.EntityType)
		assert.Equal(t, "exp1", task.EntityID)
		assert.Equal(t, 1, task.EntityVersion)
		assert.Equal(t, domain.TargetTypeState, task.TargetType)
		assert.NotEmpty(t, task.TargetID)
		assert.NotEmpty(t, task.IssueDescription)

		assert.False(t, task.CreatedOn.After(task.LastUpdated))
		assert.False(t, task.LastUpdated.After(refTime))
		assert.False(t, task.CreatedOn.Before(refTime.Add(-taskfaker.MaxAge)))
		assert.Equal(t, task.LastUpdated, task.LastUpdated.Truncate(time.Microsecond))

		if task.Status == domain.TaskStatusOpen {
			assert.Empty(t, task.ClosedBy)
			assert.Nil(t, task.ClosedOn)
		} else {
			assert.NotEmpty(t, task.ClosedBy)
			require.NotNil(t, task.ClosedOn)
			assert.Equal(t, task.LastUpdated, *task.ClosedOn)
		}
	}
}

func TestTask_CoversEveryTypeAndStatus(t *testing.T) {
	f := seededFaker(7)

	types := map[domain.TaskType]bool{}
	statuses := map[domain.TaskStatus]bool{}
	for _, task := range f.Tasks("exp1", 300) {
		types[task.TaskType] = true
		statuses[task.Status] = true
	}

	assert.Len(t, types, len(domain.TaskTypes))
	assert.Len(t, statuses, len(domain.TaskStatuses))
}

func TestTask_EmptyEntityIDUsesIDSource(t *testing.T) {
	f := seededFaker(3)

	task := f.Task("")

	assert.Equal(t, "id0001", task.EntityID)
	assert.Equal(t, "id0002", task.TargetID)
}

func TestTasks_ShareOneEntityAndHaveDistinctIDs(t *testing.T) {
	f := seededFaker(5)

	tasks := f.Tasks("", 50)

	require.Len(t, tasks, 50)
	seen := map[string]bool{}
	for _, task := range tasks {
		assert.Equal(t, tasks[0].EntityID, task.EntityID)
		assert.False(t, seen[task.ID], "duplicate id %s", task.ID)
		seen[task.ID] = true
	}
}

func TestTasks_NonPositiveCount(t *testing.T) {
	f := seededFaker(5)

	assert.Empty(t, f.Tasks("exp1", 0))
	assert.Empty(t, f.Tasks("exp1", -3))
}

func TestFaker_SameSeedSameOutput(t *testing.T) {
	a := seededFaker(42).Tasks("exp1", 20)
	b := seededFaker(42).Tasks("exp1", 20)

	assert.Equal(t, a, b)
}
