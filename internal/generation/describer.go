package generation

import (
	"context"
	"fmt"

	"github.com/phrazzld/improvements-api/internal/domain"
)

// MaxDescriptionLength caps generated descriptions; they are rendered as a
// single line in task lists.
const MaxDescriptionLength = 280

// Describer produces a one-line issue description for a task entry.
type Describer interface {
	Describe(ctx context.Context, entry *domain.TaskEntry) (string, error)
}

// TemplateDescriber builds descriptions from fixed per-task-type templates.
// It never fails for a valid entry and performs no I/O.
type TemplateDescriber struct{}

var _ Describer = TemplateDescriber{}

var descriptionTemplates = map[domain.TaskType]string{
	domain.TaskTypeNeedsGuidingResponses:      "Learners give answers in %s that no response handles; add guiding responses.",
	domain.TaskTypeSuccessiveIncorrectAnswers: "Learners answer %s incorrectly several times in a row.",
	domain.TaskTypeHighBounceRate:             "Many learners leave the exploration at %s.",
	domain.TaskTypeIneffectiveFeedbackLoop:    "Learners keep returning to %s without making progress.",
}

// Describe implements Describer.
func (TemplateDescriber) Describe(_ context.Context, entry *domain.TaskEntry) (string, error) {
	tmpl, ok := descriptionTemplates[entry.TaskType]
	if !ok {
		return "", fmt.Errorf("%w: no template for task type %q", ErrGenerationFailed, entry.TaskType)
	}
	return Truncate(fmt.Sprintf(tmpl, Subject(entry))), nil
}

// Subject names the part of the entity a task is about, e.g. the state
// "Introduction" or the exploration itself.
func Subject(entry *domain.TaskEntry) string {
	if entry.TargetType == domain.TargetTypeNone {
		return fmt.Sprintf("%s %s (version %d)", entry.EntityType, entry.EntityID, entry.EntityVersion)
	}
	return fmt.Sprintf("%s %q", entry.TargetType, entry.TargetID)
}

// Truncate shortens s to MaxDescriptionLength runes.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxDescriptionLength {
		return s
	}
	return string(r[:MaxDescriptionLength-1]) + "…"
}
