package main

import (
	"context"
	"log/slog"

	"github.com/phrazzld/improvements-api/internal/config"
	"github.com/phrazzld/improvements-api/internal/platform/postgres"
)

// runMigrations applies a goose command to the configured database.
func runMigrations(ctx context.Context, cfg *config.Config, command string, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("failed to close database connection", slog.String("error", err.Error()))
		}
	}()

	log.Info("executing migrations", slog.String("command", command))
	return postgres.Migrate(ctx, db, command, log)
}
