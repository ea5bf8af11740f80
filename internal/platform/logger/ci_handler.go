package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// ciEnvVars maps CI provider variables to the attribute names they are
// logged under.
var ciEnvVars = map[string]string{
	"GITHUB_RUN_ID":      "ci_run_id",
	"GITHUB_SHA":         "ci_commit",
	"GITHUB_REF_NAME":    "ci_ref",
	"GITHUB_WORKFLOW":    "ci_workflow",
	"CI_PIPELINE_ID":     "ci_run_id",
	"CI_COMMIT_SHA":      "ci_commit",
	"CI_COMMIT_REF_NAME": "ci_ref",
}

// CIHandler is a slog.Handler that adds CI run metadata to every record
// before passing it to a JSON handler.
type CIHandler struct {
	handler  slog.Handler
	metadata []slog.Attr
}

// NewCIHandler creates a CIHandler writing JSON to out.
func NewCIHandler(out io.Writer, opts *slog.HandlerOptions) *CIHandler {
	return &CIHandler{
		handler:  slog.NewJSONHandler(out, opts),
		metadata: ciMetadata(os.Getenv),
	}
}

// Enabled implements slog.Handler.
func (h *CIHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs implements slog.Handler.
func (h *CIHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CIHandler{handler: h.handler.WithAttrs(attrs), metadata: h.metadata}
}

// WithGroup implements slog.Handler.
func (h *CIHandler) WithGroup(name string) slog.Handler {
	return &CIHandler{handler: h.handler.WithGroup(name), metadata: h.metadata}
}

// Handle implements slog.Handler.
func (h *CIHandler) Handle(ctx context.Context, record slog.Record) error {
	enhanced := record.Clone()
	enhanced.AddAttrs(h.metadata...)
	return h.handler.Handle(ctx, enhanced)
}

func ciMetadata(getenv func(string) string) []slog.Attr {
	seen := make(map[string]bool)
	attrs := []slog.Attr{slog.Bool("ci", true)}
	for env, name := range ciEnvVars {
		v := getenv(env)
		if v == "" || seen[name] {
			continue
		}
		seen[name] = true
		attrs = append(attrs, slog.String(name, v))
	}
	return attrs
}

func isInCIEnvironment() bool {
	return os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != ""
}
