package gemini

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/generation"
)

const promptText = `You are helping curriculum authors improve an interactive lesson.
Write ONE sentence, at most {{.MaxLength}} characters, describing the problem below
so an author knows what to fix. Do not use markdown, quotes or a preamble.

Entity: {{.EntityType}} {{.EntityID}} (version {{.EntityVersion}})
Problem type: {{.TaskType}}
{{- if .Target}}
Affected part: {{.Target}}
{{- end}}
`

var promptTemplate = template.Must(template.New("describe").Parse(promptText))

type promptData struct {
	EntityType    domain.EntityType
	EntityID      string
	EntityVersion int
	TaskType      domain.TaskType
	Target        string
	MaxLength     int
}

func buildPrompt(entry *domain.TaskEntry) (string, error) {
	data := promptData{
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		EntityVersion: entry.EntityVersion,
		TaskType:      entry.TaskType,
		MaxLength:     generation.MaxDescriptionLength,
	}
	if entry.TargetType != domain.TargetTypeNone {
		data.Target = generation.Subject(entry)
	}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: failed to render prompt: %w", generation.ErrGenerationFailed, err)
	}
	return buf.String(), nil
}

// cleanDescription reduces a model answer to its first non-empty line,
// stripped of surrounding quotes and list markers.
func cleanDescription(text string) (string, error) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		line = strings.Trim(line, "\"'`")
		line = strings.TrimSpace(line)
		if line != "" {
			return generation.Truncate(line), nil
		}
	}
	return "", fmt.Errorf("%w: empty description", generation.ErrInvalidResponse)
}
