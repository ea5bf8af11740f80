package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/improvements-api/internal/api/shared"
	"github.com/phrazzld/improvements-api/internal/config"
	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/platform/logger"
	"github.com/phrazzld/improvements-api/internal/redact"
	"github.com/phrazzld/improvements-api/internal/service"
)

// TaskEntryService is the part of service.TaskEntryService the handler uses.
type TaskEntryService interface {
	Get(ctx context.Context, id string, strict bool) (*domain.TaskEntry, error)
	Create(ctx context.Context, params domain.NewTaskEntryParams) (*domain.TaskEntry, error)
	Close(ctx context.Context, id string, status domain.TaskStatus, closedBy string) (*domain.TaskEntry, error)
	Reopen(ctx context.Context, id string) (*domain.TaskEntry, error)
}

// TaskQueryService is the part of service.TaskQueryService the handler uses.
type TaskQueryService interface {
	FetchPage(ctx context.Context, req service.PageRequest) (*service.Page, error)
	ListOpen(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.TaskEntry, error)
}

// TaskHandler serves the task entry endpoints.
type TaskHandler struct {
	entries    TaskEntryService
	queries    TaskQueryService
	pagination config.PaginationConfig
	logger     *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(
	entries TaskEntryService,
	queries TaskQueryService,
	pagination config.PaginationConfig,
	logger *slog.Logger,
) *TaskHandler {
	if entries == nil || queries == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("task services cannot be nil for TaskHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		entries:    entries,
		queries:    queries,
		pagination: pagination,
		logger:     logger.With(slog.String("component", "task_handler")),
	}
}

// ListTasks handles GET /api/tasks/{entity_type}/{entity_id}.
//
// The page is fetched in the requested direction and the same cursor is then
// fetched in the opposite direction to decide whether a previous page exists
// and where it starts.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	req, err := parsePageRequest(r, h.pagination)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	page, err := h.queries.FetchPage(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	reverse := req
	reverse.NewToOld = !req.NewToOld
	prev, err := h.queries.FetchPage(r.Context(), reverse)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	resp := TaskPageResponse{
		Tasks:      tasksToResponse(page.Entries),
		NextCursor: page.NextCursor,
		HasNext:    page.HasMore,
		HasPrev:    req.Cursor != "" && len(prev.Entries) > 0,
	}
	// Without a cursor the reverse fetch starts at the far end of the list.
	if resp.HasPrev {
		resp.PrevCursor = prev.NextCursor
	}

	log.Debug("listed tasks",
		slog.String("entity_type", string(req.EntityType)),
		slog.String("entity_id", req.EntityID),
		slog.Int("count", len(resp.Tasks)),
		slog.Bool("has_next", resp.HasNext),
		slog.Bool("has_prev", resp.HasPrev))
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// ListOpenTasks handles GET /api/tasks/{entity_type}/{entity_id}/open.
func (h *TaskHandler) ListOpenTasks(w http.ResponseWriter, r *http.Request) {
	entityType, err := getPathParam(r, "entity_type")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	entityID, err := getPathParam(r, "entity_id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, err := h.queries.ListOpen(r.Context(), domain.EntityType(entityType), entityID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list open tasks")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{Tasks: tasksToResponse(tasks)})
}

// GetTask handles GET /api/task-entries/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getTaskEntryID(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.entries.Get(r.Context(), id, true)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task entry")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// CreateTask handles POST /api/task-entries.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		log.Debug("invalid request format", slog.String("error", redact.Error(err)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	task, err := h.entries.Create(r.Context(), req.params())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task entry")
		return
	}

	w.Header().Set("Location", "/api/task-entries/"+task.ID)
	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(task))
}

// CloseTask handles POST /api/task-entries/{id}/close.
func (h *TaskHandler) CloseTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getTaskEntryID(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	var req CloseTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		log.Debug("invalid request format", slog.String("error", redact.Error(err)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	task, err := h.entries.Close(r.Context(), id, domain.TaskStatus(req.Status), req.ClosedBy)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to close task entry")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// ReopenTask handles POST /api/task-entries/{id}/reopen.
func (h *TaskHandler) ReopenTask(w http.ResponseWriter, r *http.Request) {
	id, err := getTaskEntryID(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.entries.Reopen(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to reopen task entry")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
}
