package domain

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// EntityType identifies the kind of versioned content a task is attached to.
type EntityType string

// Supported entity types
const (
	EntityTypeExploration EntityType = "exploration"
	EntityTypeTestOnly    EntityType = "TEST_ONLY_ENTITY_TYPE"
)

// TargetType identifies the kind of sub-entity a task focuses on.
type TargetType string

// Supported target types. TargetTypeNone means the task targets the whole entity.
const (
	TargetTypeNone     TargetType = ""
	TargetTypeState    TargetType = "state"
	TargetTypeTestOnly TargetType = "TEST_ONLY_TARGET_TYPE"
)

// TaskType is the kind of improvement a task entry tracks.
type TaskType string

// Supported task types
const (
	TaskTypeNeedsGuidingResponses      TaskType = "needs-guiding-responses"
	TaskTypeSuccessiveIncorrectAnswers TaskType = "successive-incorrect-answers"
	TaskTypeHighBounceRate             TaskType = "high-bounce-rate"
	TaskTypeIneffectiveFeedbackLoop    TaskType = "ineffective-feedback-loop"
)

// TaskStatus tracks the lifecycle stage of a task entry.
type TaskStatus string

// Possible task statuses
const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusDeprecated TaskStatus = "deprecated"
	TaskStatusResolved   TaskStatus = "resolved"
)

// EntityTypes, TaskTypes, TargetTypes and TaskStatuses list every valid value
// in a stable order.
var (
	EntityTypes  = []EntityType{EntityTypeTestOnly, EntityTypeExploration}
	TaskTypes    = []TaskType{TaskTypeNeedsGuidingResponses, TaskTypeSuccessiveIncorrectAnswers, TaskTypeHighBounceRate, TaskTypeIneffectiveFeedbackLoop}
	TargetTypes  = []TargetType{TargetTypeTestOnly, TargetTypeState}
	TaskStatuses = []TaskStatus{TaskStatusOpen, TaskStatusDeprecated, TaskStatusResolved}
)

// entityTypeTargets restricts which sub-entities an entity type may target.
// Entity types missing from the map accept any target type.
var entityTypeTargets = map[EntityType][]TargetType{
	EntityTypeExploration: {TargetTypeState},
}

// Valid reports whether t is a supported entity type.
func (t EntityType) Valid() bool {
	return slices.Contains(EntityTypes, t)
}

// Valid reports whether t is a supported target type. TargetTypeNone is valid.
func (t TargetType) Valid() bool {
	return t == TargetTypeNone || slices.Contains(TargetTypes, t)
}

// Valid reports whether t is a supported task type.
func (t TaskType) Valid() bool {
	return slices.Contains(TaskTypes, t)
}

// Valid reports whether s is a supported status.
func (s TaskStatus) Valid() bool {
	return slices.Contains(TaskStatuses, s)
}

// TaskEntry is an actionable improvement task attached to a specific version
// of a content entity, optionally focused on one of its sub-entities.
//
// A zero CreatedOn or LastUpdated means the entry has never been persisted.
type TaskEntry struct {
	ID          string    `json:"id"`
	CreatedOn   time.Time `json:"created_on"`
	LastUpdated time.Time `json:"last_updated"`
	Deleted     bool      `json:"deleted"`

	EntityType    EntityType `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	EntityVersion int        `json:"entity_version"`
	TaskType      TaskType   `json:"task_type"`
	TargetType    TargetType `json:"target_type,omitempty"`
	TargetID      string     `json:"target_id,omitempty"`

	Status           TaskStatus `json:"status"`
	ClosedBy         string     `json:"closed_by,omitempty"`
	ClosedOn         *time.Time `json:"closed_on,omitempty"`
	IssueDescription string     `json:"issue_description,omitempty"`
}

// NewTaskEntryParams holds the identity and payload of a new task entry.
type NewTaskEntryParams struct {
	EntityType       EntityType
	EntityID         string
	EntityVersion    int
	TaskType         TaskType
	TargetType       TargetType
	TargetID         string
	Status           TaskStatus
	IssueDescription string
}

// NewTaskEntry builds a task entry and derives its ID. Status defaults to open.
// Timestamps are left unset; they are assigned when the entry is first persisted.
func NewTaskEntry(p NewTaskEntryParams) (*TaskEntry, error) {
	status := p.Status
	if status == "" {
		status = TaskStatusOpen
	}

	entry := &TaskEntry{
		EntityType:       p.EntityType,
		EntityID:         p.EntityID,
		EntityVersion:    p.EntityVersion,
		TaskType:         p.TaskType,
		TargetType:       p.TargetType,
		TargetID:         p.TargetID,
		Status:           status,
		IssueDescription: p.IssueDescription,
	}
	entry.ID = TaskEntryID(entry.EntityType, entry.EntityID, entry.EntityVersion,
		entry.TaskType, entry.TargetType, entry.TargetID)

	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

// TaskEntryID derives the identifier of a task entry from its identity tuple:
//
//	entity_type.entity_id.entity_version.task_type.target_type.target_id
//
// Each component is escaped so that '.' only ever appears as a separator,
// which keeps distinct tuples from producing the same ID.
func TaskEntryID(
	entityType EntityType,
	entityID string,
	entityVersion int,
	taskType TaskType,
	targetType TargetType,
	targetID string,
) string {
	parts := []string{
		escapeIDPart(string(entityType)),
		escapeIDPart(entityID),
		strconv.Itoa(entityVersion),
		escapeIDPart(string(taskType)),
		escapeIDPart(string(targetType)),
		escapeIDPart(targetID),
	}
	return strings.Join(parts, ".")
}

// TaskEntryIdentity is the decoded form of a task entry ID.
type TaskEntryIdentity struct {
	EntityType    EntityType
	EntityID      string
	EntityVersion int
	TaskType      TaskType
	TargetType    TargetType
	TargetID      string
}

// ParseTaskEntryID decodes an ID produced by TaskEntryID.
func ParseTaskEntryID(id string) (TaskEntryIdentity, error) {
	parts := strings.Split(id, ".")
	if len(parts) != 6 {
		return TaskEntryIdentity{}, NewValidationError("id", "must have six dot-separated parts", ErrInvalidID)
	}

	version, err := strconv.Atoi(parts[2])
	if err != nil {
		return TaskEntryIdentity{}, NewValidationError("id", "has a non-numeric entity version", ErrInvalidID)
	}

	unescaped := make([]string, len(parts))
	for i, p := range parts {
		if i == 2 {
			continue
		}
		u, err := unescapeIDPart(p)
		if err != nil {
			return TaskEntryIdentity{}, NewValidationError("id", "has a malformed escape sequence", ErrInvalidID)
		}
		unescaped[i] = u
	}

	return TaskEntryIdentity{
		EntityType:    EntityType(unescaped[0]),
		EntityID:      unescaped[1],
		EntityVersion: version,
		TaskType:      TaskType(unescaped[3]),
		TargetType:    TargetType(unescaped[4]),
		TargetID:      unescaped[5],
	}, nil
}

var (
	idEscaper   = strings.NewReplacer("%", "%25", ".", "%2E")
	idUnescaper = strings.NewReplacer("%2E", ".", "%25", "%")
)

func escapeIDPart(s string) string {
	return idEscaper.Replace(s)
}

func unescapeIDPart(s string) (string, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		if i+2 >= len(s) || (s[i+1:i+3] != "25" && s[i+1:i+3] != "2E") {
			return "", ErrInvalidID
		}
		i += 2
	}
	return idUnescaper.Replace(s), nil
}

// Validate checks that the entry is well-formed. It returns a *ValidationError
// naming the first offending field.
func (t *TaskEntry) Validate() error {
	if !t.EntityType.Valid() {
		return NewValidationError("entity_type", "is not a supported entity type", nil)
	}
	if t.EntityID == "" {
		return NewValidationError("entity_id", "is required", nil)
	}
	if t.EntityVersion <= 0 {
		return NewValidationError("entity_version", "must be positive", nil)
	}
	if !t.TaskType.Valid() {
		return NewValidationError("task_type", "is not a supported task type", nil)
	}
	if !t.TargetType.Valid() {
		return NewValidationError("target_type", "is not a supported target type", nil)
	}
	if (t.TargetType == TargetTypeNone) != (t.TargetID == "") {
		return NewValidationError("target_id", "must be set together with target_type", nil)
	}
	if t.TargetType != TargetTypeNone && !entityAcceptsTarget(t.EntityType, t.TargetType) {
		return NewValidationError("target_type", "is not allowed for entity type "+string(t.EntityType), nil)
	}
	if !t.Status.Valid() {
		return NewValidationError("status", "is not a supported status", nil)
	}
	if t.Status == TaskStatusOpen && (t.ClosedBy != "" || t.ClosedOn != nil) {
		return NewValidationError("closed_on", "must be empty while the task is open", nil)
	}

	expected := TaskEntryID(t.EntityType, t.EntityID, t.EntityVersion, t.TaskType, t.TargetType, t.TargetID)
	if t.ID != expected {
		return NewValidationError("id", "does not match the task identity", ErrInvalidID)
	}
	return nil
}

func entityAcceptsTarget(entityType EntityType, targetType TargetType) bool {
	allowed, restricted := entityTypeTargets[entityType]
	return !restricted || slices.Contains(allowed, targetType)
}

// Close moves an open task to resolved or deprecated and records who closed it.
func (t *TaskEntry) Close(status TaskStatus, closedBy string, at time.Time) error {
	if status != TaskStatusResolved && status != TaskStatusDeprecated {
		return NewValidationError("status", "must be resolved or deprecated", nil)
	}
	if t.Status != TaskStatusOpen {
		return ErrInvalidTransition
	}

	closedOn := at.UTC()
	t.Status = status
	t.ClosedBy = closedBy
	t.ClosedOn = &closedOn
	return nil
}

// Reopen returns a closed task to open, clearing its closure fields.
func (t *TaskEntry) Reopen() error {
	if t.Status == TaskStatusOpen {
		return ErrInvalidTransition
	}
	t.Status = TaskStatusOpen
	t.ClosedBy = ""
	t.ClosedOn = nil
	return nil
}

// IsPersisted reports whether the entry has been stored at least once.
func (t *TaskEntry) IsPersisted() bool {
	return !t.CreatedOn.IsZero()
}

// Clone returns a deep copy of the entry.
func (t *TaskEntry) Clone() *TaskEntry {
	if t == nil {
		return nil
	}
	c := *t
	if t.ClosedOn != nil {
		closedOn := *t.ClosedOn
		c.ClosedOn = &closedOn
	}
	return &c
}
