package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/platform/logger"
	"github.com/phrazzld/improvements-api/internal/store"
)

// DefaultPageSize is the page size callers use when none is requested.
const DefaultPageSize = 10

// PageRequest selects one page of task entries.
type PageRequest struct {
	EntityType domain.EntityType
	EntityID   string
	// Status restricts the page to one status. Empty matches every status.
	Status domain.TaskStatus
	// Cursor is empty for the start of the range, or a token previously
	// returned in Page.NextCursor for the same filter.
	Cursor   string
	PageSize int
	// NewToOld orders the page by last_updated descending. Ties are broken
	// by id ascending, and the opposite direction is the exact reverse.
	NewToOld bool
}

// Page is one page of task entries.
type Page struct {
	Entries []*domain.TaskEntry
	// NextCursor resumes the scan after the last entry, in the same
	// direction. It is empty unless HasMore is set.
	NextCursor string
	HasMore    bool
}

// TaskQueryService serves paginated, filtered reads over live task entries.
//
// A cursor names a position between two entries rather than an entry, so the
// same cursor can be fetched in both directions: fetching it with NewToOld
// flipped returns the entries on the other side of that position, which is
// how callers render "previous" links.
type TaskQueryService struct {
	store  store.TaskEntryStore
	logger *slog.Logger
}

// NewTaskQueryService creates a TaskQueryService. It returns an error if st
// is nil. If logger is nil, slog.Default() is used.
func NewTaskQueryService(st store.TaskEntryStore, logger *slog.Logger) (*TaskQueryService, error) {
	if st == nil {
		return nil, &TaskServiceError{Operation: "create_service", Message: "store cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueryService{
		store:  st,
		logger: logger.With(slog.String("component", "task_query_service")),
	}, nil
}

// FetchPage returns at most req.PageSize live entries matching the filter,
// in the requested order, starting after req.Cursor.
//
// It fails with a validation error for a non-positive page size or a
// malformed filter, and with store.ErrInvalidCursor for a token that cannot
// be decoded or was issued for a different filter.
func (s *TaskQueryService) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if req.PageSize <= 0 {
		return nil, domain.NewValidationError("page_size", "must be positive", nil)
	}
	filter, err := buildFilter(req.EntityType, req.EntityID, req.Status)
	if err != nil {
		return nil, err
	}

	var after *store.Cursor
	if req.Cursor != "" {
		c, err := store.DecodeCursor(req.Cursor)
		if err != nil {
			log.Debug("rejected pagination cursor", slog.String("error", err.Error()))
			return nil, err
		}
		if c.Filter != filter.Fingerprint() {
			return nil, fmt.Errorf("%w: issued for a different query", store.ErrInvalidCursor)
		}
		after = &c
	}

	entries, err := s.store.Scan(ctx, store.ScanRequest{
		Filter:      filter,
		After:       after,
		NewestFirst: req.NewToOld,
		Limit:       req.PageSize + 1,
	})
	if err != nil {
		log.Error("failed to fetch task page",
			slog.String("error", err.Error()),
			slog.String("entity_type", string(req.EntityType)),
			slog.String("entity_id", req.EntityID))
		return nil, NewTaskServiceError("fetch_page", "failed to scan task entries", err)
	}

	page := &Page{Entries: entries}
	if len(entries) > req.PageSize {
		page.Entries = entries[:req.PageSize]
		page.HasMore = true
		page.NextCursor = store.CursorPast(page.Entries[req.PageSize-1], req.NewToOld, filter).Encode()
	}
	if page.Entries == nil {
		page.Entries = []*domain.TaskEntry{}
	}

	log.Debug("fetched task page",
		slog.String("entity_type", string(req.EntityType)),
		slog.String("entity_id", req.EntityID),
		slog.Int("count", len(page.Entries)),
		slog.Bool("has_more", page.HasMore))
	return page, nil
}

// ListOpen returns every live open entry for the entity, newest first.
// It is NOT paginated: the result is unbounded and meant for entities whose
// open-task volume is known to be small.
func (s *TaskQueryService) ListOpen(
	ctx context.Context,
	entityType domain.EntityType,
	entityID string,
) ([]*domain.TaskEntry, error) {
	filter, err := buildFilter(entityType, entityID, domain.TaskStatusOpen)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.Scan(ctx, store.ScanRequest{Filter: filter, NewestFirst: true})
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list open tasks",
			slog.String("error", err.Error()),
			slog.String("entity_type", string(entityType)),
			slog.String("entity_id", entityID))
		return nil, NewTaskServiceError("list_open", "failed to scan task entries", err)
	}
	if entries == nil {
		entries = []*domain.TaskEntry{}
	}
	return entries, nil
}

func buildFilter(entityType domain.EntityType, entityID string, status domain.TaskStatus) (store.TaskEntryFilter, error) {
	if !entityType.Valid() {
		return store.TaskEntryFilter{}, domain.NewValidationError("entity_type", "is not a supported entity type", nil)
	}
	if entityID == "" {
		return store.TaskEntryFilter{}, domain.NewValidationError("entity_id", "is required", nil)
	}
	if status != "" && !status.Valid() {
		return store.TaskEntryFilter{}, domain.NewValidationError("status", "is not a supported status", nil)
	}
	return store.TaskEntryFilter{EntityType: entityType, EntityID: entityID, Status: status}, nil
}
