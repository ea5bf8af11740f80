package api

import (
	"time"

	"github.com/phrazzld/improvements-api/internal/domain"
)

// TaskEntryResponse is the JSON form of a task entry.
type TaskEntryResponse struct {
	ID               string     `json:"id"`
	EntityType       string     `json:"entity_type"`
	EntityID         string     `json:"entity_id"`
	EntityVersion    int        `json:"entity_version"`
	TaskType         string     `json:"task_type"`
	TargetType       string     `json:"target_type,omitempty"`
	TargetID         string     `json:"target_id,omitempty"`
	Status           string     `json:"status"`
	IssueDescription string     `json:"issue_description,omitempty"`
	ClosedBy         string     `json:"closed_by,omitempty"`
	ClosedOn         *time.Time `json:"closed_on,omitempty"`
	CreatedOn        time.Time  `json:"created_on"`
	LastUpdated      time.Time  `json:"last_updated"`
}

// TaskPageResponse is one page of a task listing. PrevCursor and NextCursor
// are passed back as the cursor query parameter with the same new_to_old
// value. HasPrev with an empty PrevCursor means the previous page is the
// first one.
type TaskPageResponse struct {
	Tasks      []TaskEntryResponse `json:"tasks"`
	NextCursor string              `json:"next_cursor,omitempty"`
	HasNext    bool                `json:"has_next"`
	PrevCursor string              `json:"prev_cursor,omitempty"`
	HasPrev    bool                `json:"has_prev"`
}

// TaskListResponse is an unpaginated list of task entries.
type TaskListResponse struct {
	Tasks []TaskEntryResponse `json:"tasks"`
}

// CreateTaskRequest is the payload for POST /api/task-entries.
type CreateTaskRequest struct {
	EntityType       string `json:"entity_type"       validate:"required,max=64"`
	EntityID         string `json:"entity_id"         validate:"required,max=255"`
	EntityVersion    int    `json:"entity_version"    validate:"required,gt=0"`
	TaskType         string `json:"task_type"         validate:"required,max=64"`
	TargetType       string `json:"target_type"       validate:"max=64"`
	TargetID         string `json:"target_id"         validate:"max=255"`
	IssueDescription string `json:"issue_description" validate:"max=1000"`
}

// CloseTaskRequest is the payload for POST /api/task-entries/{id}/close.
type CloseTaskRequest struct {
	Status   string `json:"status"    validate:"required,oneof=resolved deprecated"`
	ClosedBy string `json:"closed_by" validate:"required,max=255"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func taskToResponse(t *domain.TaskEntry) TaskEntryResponse {
	return TaskEntryResponse{
		ID:               t.ID,
		EntityType:       string(t.EntityType),
		EntityID:         t.EntityID,
		EntityVersion:    t.EntityVersion,
		TaskType:         string(t.TaskType),
		TargetType:       string(t.TargetType),
		TargetID:         t.TargetID,
		Status:           string(t.Status),
		IssueDescription: t.IssueDescription,
		ClosedBy:         t.ClosedBy,
		ClosedOn:         t.ClosedOn,
		CreatedOn:        t.CreatedOn,
		LastUpdated:      t.LastUpdated,
	}
}

func tasksToResponse(tasks []*domain.TaskEntry) []TaskEntryResponse {
	out := make([]TaskEntryResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	return out
}

func (req CreateTaskRequest) params() domain.NewTaskEntryParams {
	return domain.NewTaskEntryParams{
		EntityType:       domain.EntityType(req.EntityType),
		EntityID:         req.EntityID,
		EntityVersion:    req.EntityVersion,
		TaskType:         domain.TaskType(req.TaskType),
		TargetType:       domain.TargetType(req.TargetType),
		TargetID:         req.TargetID,
		IssueDescription: req.IssueDescription,
	}
}
