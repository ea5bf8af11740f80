// Package taskfaker generates synthetic task entries for load testing and
// local development.
package taskfaker

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/generation"
)

// MaxAge bounds how far in the past generated timestamps fall.
const MaxAge = 30 * 24 * time.Hour

// Faker produces random, valid task entries.
type Faker struct {
	rng   *rand.Rand
	newID func() string
	now   func() time.Time
}

// Option configures a Faker.
type Option func(*Faker)

// WithRand sets the random source, which makes output reproducible.
func WithRand(r *rand.Rand) Option {
	return func(f *Faker) { f.rng = r }
}

// WithIDSource sets the generator for entity, target and user ids.
func WithIDSource(fn func() string) Option {
	return func(f *Faker) { f.newID = fn }
}

// WithClock sets the reference time generated timestamps precede.
func WithClock(fn func() time.Time) Option {
	return func(f *Faker) { f.now = fn }
}

// New creates a Faker. By default it draws from a randomly seeded source,
// uses dashless UUIDs as ids and time.Now as the clock.
func New(opts ...Option) *Faker {
	f := &Faker{
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		newID: hexID,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Task returns one random exploration task. An empty entityID picks a fresh
// exploration. The task targets a random state, has a random task type and
// status, and closed tasks carry closure metadata. Timestamps are set so the
// entry can be stored without restamping.
func (f *Faker) Task(entityID string) *domain.TaskEntry {
	if entityID == "" {
		entityID = f.newID()
	}

	entry := &domain.TaskEntry{
		EntityType:    domain.EntityTypeExploration,
		EntityID:      entityID,
		EntityVersion: 1,
		TaskType:      pick(f.rng, domain.TaskTypes),
		TargetType:    domain.TargetTypeState,
		TargetID:      f.newID(),
		Status:        pick(f.rng, domain.TaskStatuses),
	}
	entry.ID = domain.TaskEntryID(entry.EntityType, entry.EntityID, entry.EntityVersion,
		entry.TaskType, entry.TargetType, entry.TargetID)

	// TemplateDescriber cannot fail for a known task type.
	entry.IssueDescription, _ = generation.TemplateDescriber{}.Describe(context.Background(), entry)

	now := f.now().UTC().Truncate(time.Microsecond)
	entry.CreatedOn = now.Add(-f.duration(MaxAge))
	entry.LastUpdated = entry.CreatedOn.Add(f.duration(now.Sub(entry.CreatedOn)))

	if entry.Status != domain.TaskStatusOpen {
		closedOn := entry.LastUpdated
		entry.ClosedBy = f.newID()
		entry.ClosedOn = &closedOn
	}
	return entry
}

// Tasks returns n random tasks for the same exploration.
func (f *Faker) Tasks(entityID string, n int) []*domain.TaskEntry {
	if entityID == "" {
		entityID = f.newID()
	}
	tasks := make([]*domain.TaskEntry, 0, max(n, 0))
	for range n {
		tasks = append(tasks, f.Task(entityID))
	}
	return tasks
}

// duration returns a random duration in [0, d], truncated to microseconds.
func (f *Faker) duration(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(f.rng.Int64N(int64(d) + 1)).Truncate(time.Microsecond)
}

func pick[T any](rng *rand.Rand, values []T) T {
	return values[rng.IntN(len(values))]
}
