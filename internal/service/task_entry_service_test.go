package service_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/generation"
	"github.com/phrazzld/improvements-api/internal/mocks"
	"github.com/phrazzld/improvements-api/internal/service"
	"github.com/phrazzld/improvements-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newEntryService(t *testing.T, st store.TaskEntryStore, opts ...service.Option) *service.TaskEntryService {
	t.Helper()
	opts = append([]service.Option{service.WithClock(newSteppingClock().Now)}, opts...)
	svc, err := service.NewTaskEntryService(st, nil, opts...)
	require.NoError(t, err)
	return svc
}

func TestNewTaskEntryService_NilStore(t *testing.T) {
	t.Parallel()
	_, err := service.NewTaskEntryService(nil, nil)
	assert.Error(t, err)
}

func TestTaskEntryService_Get(t *testing.T) {
	t.Parallel()

	live := persisted(newTask(t, "exp1", 1, ""), baseTime)
	deleted := persisted(newTask(t, "exp1", 2, ""), baseTime)
	deleted.Deleted = true

	st := mocks.NewTaskEntryStore()
	st.Seed(live, deleted)
	svc := newEntryService(t, st)
	ctx := context.Background()

	got, err := svc.Get(ctx, live.ID, true)
	require.NoError(t, err)
	assert.Equal(t, live, got)

	t.Run("missing strict", func(t *testing.T) {
		_, err := svc.Get(ctx, "missing-id", true)
		var notFound *service.TaskEntryNotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "missing-id", notFound.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("missing not strict", func(t *testing.T) {
		got, err := svc.Get(ctx, "missing-id", false)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("soft-deleted is absent", func(t *testing.T) {
		_, err := svc.Get(ctx, deleted.ID, true)
		assert.ErrorIs(t, err, store.ErrTaskEntryNotFound)

		got, err := svc.Get(ctx, deleted.ID, false)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestTaskEntryService_Get_StoreUnavailable(t *testing.T) {
	t.Parallel()

	st := mocks.NewTaskEntryStore()
	st.GetErr = store.ErrStoreUnavailable
	svc := newEntryService(t, st)

	_, err := svc.Get(context.Background(), "x", false)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestTaskEntryService_GetMulti(t *testing.T) {
	t.Parallel()

	a := persisted(newTask(t, "exp1", 1, ""), baseTime)
	b := persisted(newTask(t, "exp1", 2, ""), baseTime)
	b.Deleted = true

	st := mocks.NewTaskEntryStore()
	st.Seed(a, b)
	svc := newEntryService(t, st)

	got, err := svc.GetMulti(context.Background(), []string{a.ID, "", b.ID}, false)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Nil(t, got[1])
	assert.Nil(t, got[2])

	got, err = svc.GetMulti(context.Background(), []string{"missing", b.ID}, true)
	require.NoError(t, err)
	assert.Nil(t, got[0])
	require.NotNil(t, got[1])
	assert.True(t, got[1].Deleted)
}

func TestTaskEntryService_Put_TimestampRules(t *testing.T) {
	t.Parallel()

	st := mocks.NewTaskEntryStore()
	svc := newEntryService(t, st)
	ctx := context.Background()
	entry := newTask(t, "exp1", 1, "")

	first, err := svc.Put(ctx, entry, false)
	require.NoError(t, err)
	assert.Equal(t, baseTime, first.CreatedOn)
	assert.Equal(t, baseTime, first.LastUpdated, "unset last_updated is always set")
	assert.True(t, entry.CreatedOn.IsZero(), "argument is not modified")

	second, err := svc.Put(ctx, first, false)
	require.NoError(t, err)
	assert.Equal(t, first.LastUpdated, second.LastUpdated)
	assert.Equal(t, first.CreatedOn, second.CreatedOn)

	third, err := svc.Put(ctx, second, true)
	require.NoError(t, err)
	assert.True(t, third.LastUpdated.After(second.LastUpdated))
	assert.Equal(t, first.CreatedOn, third.CreatedOn, "created_on is immutable")

	stored, err := st.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, third, stored)
}

func TestTaskEntryService_Put_TruncatesToMicroseconds(t *testing.T) {
	t.Parallel()

	st := mocks.NewTaskEntryStore()
	clock := func() time.Time { return baseTime.Add(123456789 * time.Nanosecond) }
	svc := newEntryService(t, st, service.WithClock(clock))

	got, err := svc.Put(context.Background(), newTask(t, "exp1", 1, ""), true)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(123456*time.Microsecond), got.LastUpdated)
}

func TestTaskEntryService_Put_ValidationBeforeWrite(t *testing.T) {
	t.Parallel()

	st := mocks.NewTaskEntryStore()
	svc := newEntryService(t, st)

	bad := newTask(t, "exp1", 1, "")
	bad.Status = "pending"

	_, err := svc.Put(context.Background(), bad, true)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, st.Len())
}

func TestTaskEntryService_PutMulti(t *testing.T) {
	t.Parallel()

	t.Run("stamps every entry", func(t *testing.T) {
		t.Parallel()
		st := mocks.NewTaskEntryStore()
		svc := newEntryService(t, st)

		existing := persisted(newTask(t, "exp1", 1, ""), baseTime.Add(-time.Hour))
		fresh := newTask(t, "exp1", 2, "")

		got, err := svc.PutMulti(context.Background(), []*domain.TaskEntry{existing, fresh}, false)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, existing.LastUpdated, got[0].LastUpdated)
		assert.Equal(t, baseTime, got[1].CreatedOn)
		assert.Equal(t, baseTime, got[1].LastUpdated)
		assert.Equal(t, 2, st.Len())
	})

	t.Run("validates all before writing", func(t *testing.T) {
		t.Parallel()
		st := mocks.NewTaskEntryStore()
		svc := newEntryService(t, st)

		bad := newTask(t, "exp1", 2, "")
		bad.EntityVersion = 0

		_, err := svc.PutMulti(context.Background(), []*domain.TaskEntry{newTask(t, "exp1", 1, ""), bad}, true)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "entries[1]")
		assert.Zero(t, st.Len())
	})

	t.Run("reports partial application", func(t *testing.T) {
		t.Parallel()
		st := mocks.NewTaskEntryStore()
		st.PutErr = store.ErrStoreUnavailable
		st.FailPutMultiAfter = 2
		svc := newEntryService(t, st)

		entries := []*domain.TaskEntry{
			newTask(t, "exp1", 1, ""), newTask(t, "exp1", 2, ""), newTask(t, "exp1", 3, ""),
		}
		_, err := svc.PutMulti(context.Background(), entries, true)

		var batchErr *store.BatchError
		require.True(t, errors.As(err, &batchErr))
		assert.Equal(t, 2, batchErr.Applied)
		assert.Equal(t, 3, batchErr.Total)
		assert.ErrorIs(t, err, store.ErrStoreUnavailable)
		assert.Equal(t, 2, st.Len())
	})
}

func TestTaskEntryService_Deletes(t *testing.T) {
	t.Parallel()

	a := persisted(newTask(t, "exp1", 1, ""), baseTime)
	b := persisted(newTask(t, "exp1", 2, ""), baseTime)
	c := persisted(newTask(t, "exp1", 3, ""), baseTime)

	st := mocks.NewTaskEntryStore()
	st.Seed(a, b, c)
	svc := newEntryService(t, st)
	ctx := context.Background()

	require.NoError(t, svc.DeleteMulti(ctx, []*domain.TaskEntry{a, nil, b}))
	require.NoError(t, svc.DeleteByID(ctx, c.ID))
	require.NoError(t, svc.DeleteByID(ctx, c.ID), "deleting twice is not an error")
	assert.Zero(t, st.Len())

	st.DeleteErr = store.ErrStoreUnavailable
	assert.ErrorIs(t, svc.DeleteByID(ctx, "x"), store.ErrStoreUnavailable)
}

func TestTaskEntryService_GetAll(t *testing.T) {
	t.Parallel()

	st := mocks.NewTaskEntryStore()
	total, deleted := 250, 0
	for i := 0; i < total; i++ {
		e := persisted(newTask(t, "exp"+strconv.Itoa(i%7), i+1, ""), baseTime.Add(time.Duration(i%40)*time.Minute))
		if i%10 == 0 {
			e.Deleted = true
			deleted++
		}
		st.Seed(e)
	}
	svc := newEntryService(t, st)
	ctx := context.Background()

	count := func(includeDeleted bool) (int, map[string]bool) {
		seen := make(map[string]bool)
		n := 0
		for e, err := range svc.GetAll(ctx, includeDeleted) {
			require.NoError(t, err)
			if !includeDeleted {
				assert.False(t, e.Deleted)
			}
			seen[e.ID] = true
			n++
		}
		return n, seen
	}

	n, seen := count(false)
	assert.Equal(t, total-deleted, n)
	assert.Len(t, seen, n, "no entry is yielded twice")

	n, _ = count(true)
	assert.Equal(t, total, n)
	assert.Greater(t, len(st.ScanCalls), 2, "entries are read in batches")
}

func TestTaskEntryService_GetAll_StopsEarlyAndReportsErrors(t *testing.T) {
	t.Parallel()

	st := mocks.NewTaskEntryStore()
	st.Seed(persisted(newTask(t, "exp1", 1, ""), baseTime), persisted(newTask(t, "exp1", 2, ""), baseTime))
	svc := newEntryService(t, st)

	n := 0
	for range svc.GetAll(context.Background(), false) {
		n++
		break
	}
	assert.Equal(t, 1, n)

	st.ScanErr = store.ErrStoreUnavailable
	var errs []error
	for e, err := range svc.GetAll(context.Background(), false) {
		assert.Nil(t, e)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], store.ErrStoreUnavailable)
}

type describerMock struct {
	mock.Mock
}

func (m *describerMock) Describe(ctx context.Context, entry *domain.TaskEntry) (string, error) {
	args := m.Called(ctx, entry)
	return args.String(0), args.Error(1)
}

func TestTaskEntryService_Create(t *testing.T) {
	t.Parallel()

	params := domain.NewTaskEntryParams{
		EntityType:    domain.EntityTypeExploration,
		EntityID:      "exp1",
		EntityVersion: 4,
		TaskType:      domain.TaskTypeNeedsGuidingResponses,
		TargetType:    domain.TargetTypeState,
		TargetID:      "Introduction",
	}

	t.Run("uses describer", func(t *testing.T) {
		t.Parallel()
		d := &describerMock{}
		d.On("Describe", mock.Anything, mock.AnythingOfType("*domain.TaskEntry")).
			Return("Learners are stuck at Introduction.", nil).Once()

		st := mocks.NewTaskEntryStore()
		svc := newEntryService(t, st, service.WithDescriber(d))

		got, err := svc.Create(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusOpen, got.Status)
		assert.Equal(t, "Learners are stuck at Introduction.", got.IssueDescription)
		assert.Equal(t, baseTime, got.CreatedOn)
		assert.Equal(t, 1, st.Len())
		d.AssertExpectations(t)
	})

	t.Run("falls back to template", func(t *testing.T) {
		t.Parallel()
		d := &mocks.MockDescriber{Err: generation.ErrTransientFailure}
		svc := newEntryService(t, mocks.NewTaskEntryStore(), service.WithDescriber(d))

		got, err := svc.Create(context.Background(), params)
		require.NoError(t, err)
		assert.Contains(t, got.IssueDescription, `state "Introduction"`)
		assert.Len(t, d.Calls(), 1)
	})

	t.Run("keeps caller description", func(t *testing.T) {
		t.Parallel()
		d := &mocks.MockDescriber{Description: "unused"}
		svc := newEntryService(t, mocks.NewTaskEntryStore(), service.WithDescriber(d))

		p := params
		p.IssueDescription = "given"
		got, err := svc.Create(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, "given", got.IssueDescription)
		assert.Empty(t, d.Calls())
	})

	t.Run("rejects duplicate", func(t *testing.T) {
		t.Parallel()
		svc := newEntryService(t, mocks.NewTaskEntryStore())

		_, err := svc.Create(context.Background(), params)
		require.NoError(t, err)
		_, err = svc.Create(context.Background(), params)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("rejects entry stored after the existence check", func(t *testing.T) {
		t.Parallel()
		st := &staleGetStore{TaskEntryStore: mocks.NewTaskEntryStore()}
		svc := newEntryService(t, st)

		first, err := svc.Create(context.Background(), params)
		require.NoError(t, err)
		_, err = svc.Create(context.Background(), params)
		assert.ErrorIs(t, err, store.ErrDuplicate)

		got, err := st.TaskEntryStore.Get(context.Background(), first.ID)
		require.NoError(t, err)
		assert.Equal(t, first.CreatedOn, got.CreatedOn, "first entry is not overwritten")
	})

	t.Run("replaces soft-deleted entry", func(t *testing.T) {
		t.Parallel()
		entry, err := domain.NewTaskEntry(params)
		require.NoError(t, err)
		tombstone := persisted(entry, baseTime.Add(-time.Hour))
		tombstone.Deleted = true

		st := mocks.NewTaskEntryStore()
		st.Seed(tombstone)
		svc := newEntryService(t, st)

		got, err := svc.Create(context.Background(), params)
		require.NoError(t, err)
		assert.False(t, got.Deleted)
		assert.Equal(t, baseTime, got.CreatedOn)
	})

	t.Run("rejects invalid params", func(t *testing.T) {
		t.Parallel()
		svc := newEntryService(t, mocks.NewTaskEntryStore())

		p := params
		p.TaskType = "made-up"
		_, err := svc.Create(context.Background(), p)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestTaskEntryService_Close(t *testing.T) {
	t.Parallel()

	open := persisted(newTask(t, "exp1", 1, "Introduction"), baseTime.Add(-time.Hour))

	t.Run("resolves open entry", func(t *testing.T) {
		t.Parallel()
		st := mocks.NewTaskEntryStore()
		st.Seed(open)
		svc := newEntryService(t, st)

		got, err := svc.Close(context.Background(), open.ID, domain.TaskStatusResolved, "curator")
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusResolved, got.Status)
		assert.Equal(t, "curator", got.ClosedBy)
		require.NotNil(t, got.ClosedOn)
		assert.True(t, got.LastUpdated.After(open.LastUpdated))
	})

	t.Run("rejects closing twice", func(t *testing.T) {
		t.Parallel()
		st := mocks.NewTaskEntryStore()
		st.Seed(open)
		svc := newEntryService(t, st)

		_, err := svc.Close(context.Background(), open.ID, domain.TaskStatusDeprecated, "curator")
		require.NoError(t, err)
		_, err = svc.Close(context.Background(), open.ID, domain.TaskStatusResolved, "curator")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("requires closed_by", func(t *testing.T) {
		t.Parallel()
		svc := newEntryService(t, mocks.NewTaskEntryStore())
		_, err := svc.Close(context.Background(), open.ID, domain.TaskStatusResolved, "")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("missing entry", func(t *testing.T) {
		t.Parallel()
		svc := newEntryService(t, mocks.NewTaskEntryStore())
		_, err := svc.Close(context.Background(), "missing", domain.TaskStatusResolved, "curator")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("runs in a transaction", func(t *testing.T) {
		t.Parallel()
		db, sqlMock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		sqlMock.ExpectBegin()
		sqlMock.ExpectCommit()

		st := mocks.NewTaskEntryStore()
		st.Seed(open)
		svc := newEntryService(t, st, service.WithDB(db))

		_, err = svc.Close(context.Background(), open.ID, domain.TaskStatusResolved, "curator")
		require.NoError(t, err)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		t.Parallel()
		db, sqlMock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()
		sqlMock.ExpectBegin()
		sqlMock.ExpectRollback()

		st := mocks.NewTaskEntryStore()
		st.Seed(open)
		st.PutErr = store.ErrStoreUnavailable
		svc := newEntryService(t, st, service.WithDB(db))

		_, err = svc.Close(context.Background(), open.ID, domain.TaskStatusResolved, "curator")
		assert.ErrorIs(t, err, store.ErrStoreUnavailable)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})
}

func TestTaskEntryService_Reopen(t *testing.T) {
	t.Parallel()

	closedOn := baseTime.Add(-30 * time.Minute)
	resolved := persisted(newTask(t, "exp1", 1, "Introduction"), baseTime.Add(-time.Hour))
	resolved.Status, resolved.ClosedBy, resolved.ClosedOn = domain.TaskStatusResolved, "curator", &closedOn

	t.Run("reopens closed entry", func(t *testing.T) {
		t.Parallel()
		st := mocks.NewTaskEntryStore()
		st.Seed(resolved)
		svc := newEntryService(t, st)

		got, err := svc.Reopen(context.Background(), resolved.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusOpen, got.Status)
		assert.Empty(t, got.ClosedBy)
		assert.Nil(t, got.ClosedOn)
		assert.Equal(t, baseTime, got.LastUpdated)

		stored, err := svc.Get(context.Background(), resolved.ID, true)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusOpen, stored.Status)
	})

	t.Run("rejects open entry", func(t *testing.T) {
		t.Parallel()
		st := mocks.NewTaskEntryStore()
		st.Seed(persisted(newTask(t, "exp1", 2, ""), baseTime))
		svc := newEntryService(t, st)

		_, err := svc.Reopen(context.Background(), newTask(t, "exp1", 2, "").ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("missing entry", func(t *testing.T) {
		t.Parallel()
		svc := newEntryService(t, mocks.NewTaskEntryStore())
		_, err := svc.Reopen(context.Background(), resolved.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

// staleGetStore never finds an entry by ID, as if a concurrent writer stored
// it between the lookup and the insert.
type staleGetStore struct {
	*mocks.TaskEntryStore
}

func (staleGetStore) Get(context.Context, string) (*domain.TaskEntry, error) {
	return nil, store.ErrTaskEntryNotFound
}
