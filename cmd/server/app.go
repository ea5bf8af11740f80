package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/improvements-api/internal/config"
	"github.com/phrazzld/improvements-api/internal/generation"
	"github.com/phrazzld/improvements-api/internal/platform/gemini"
	"github.com/phrazzld/improvements-api/internal/platform/postgres"
	"github.com/phrazzld/improvements-api/internal/service"
	"github.com/phrazzld/improvements-api/internal/store"
)

// application holds the wired dependencies of the server.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	db      *sql.DB
	entries *service.TaskEntryService
	queries *service.TaskQueryService
}

// newApplication connects to the database and wires the task services.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	db, err := postgres.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	app, err := newApplicationWithStore(ctx, cfg, log, db, postgres.NewPostgresTaskEntryStore(db, log))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

// newApplicationWithStore wires the services over st. db may be nil, in
// which case lifecycle changes run without a transaction.
func newApplicationWithStore(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	db *sql.DB,
	st store.TaskEntryStore,
) (*application, error) {
	describer, err := newDescriber(ctx, cfg.LLM, log)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{service.WithDescriber(describer)}
	if db != nil {
		opts = append(opts, service.WithDB(db))
	}

	entries, err := service.NewTaskEntryService(st, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create task entry service: %w", err)
	}
	queries, err := service.NewTaskQueryService(st, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create task query service: %w", err)
	}

	return &application{
		config:  cfg,
		logger:  log,
		db:      db,
		entries: entries,
		queries: queries,
	}, nil
}

// newDescriber returns the Gemini describer when an API key is configured
// and the template describer otherwise.
func newDescriber(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (generation.Describer, error) {
	if !cfg.Enabled() {
		log.Info("no Gemini API key configured, using template issue descriptions")
		return generation.TemplateDescriber{}, nil
	}

	d, err := gemini.NewDescriber(ctx, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini describer: %w", err)
	}
	log.Info("using Gemini issue descriptions", slog.String("model", cfg.ModelName))
	return d, nil
}

// cleanup releases the application's resources.
func (app *application) cleanup() {
	if app.db == nil {
		return
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database connection", slog.String("error", err.Error()))
		return
	}
	app.logger.Info("database connection closed")
}
