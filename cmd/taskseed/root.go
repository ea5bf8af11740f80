package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/improvements-api/internal/config"
	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/platform/logger"
	"github.com/phrazzld/improvements-api/internal/platform/postgres"
	"github.com/phrazzld/improvements-api/internal/service"
	"github.com/phrazzld/improvements-api/internal/store"
	"github.com/phrazzld/improvements-api/internal/taskfaker"
)

type seedOptions struct {
	entityID  string
	count     int
	batchSize int
	seed      uint64
	dryRun    bool
	configDir string
}

func newRootCmd() *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "taskseed",
		Short: "Seed synthetic improvement tasks",
		Long: `Generates random task entries for one exploration and stores them through the
task service. Entries keep their generated timestamps so listings have a
realistic spread. Database settings come from the usual IMPROVEMENTS_* config.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.entityID, "entity-id", "", "exploration id to attach tasks to (random when empty)")
	flags.IntVarP(&opts.count, "count", "n", 100, "number of tasks to generate")
	flags.IntVar(&opts.batchSize, "batch-size", 200, "tasks written per PutMulti call")
	flags.Uint64Var(&opts.seed, "seed", 0, "random seed for reproducible output (0 picks one)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "print the generated tasks as JSON lines instead of storing them")
	flags.StringVar(&opts.configDir, "config-dir", ".", "directory searched for config.yaml")

	return cmd
}

func (o *seedOptions) validate() error {
	if o.count <= 0 {
		return fmt.Errorf("--count must be positive, got %d", o.count)
	}
	if o.batchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive, got %d", o.batchSize)
	}
	return nil
}

func (o *seedOptions) faker() *taskfaker.Faker {
	if o.seed == 0 {
		return taskfaker.New()
	}
	return taskfaker.New(taskfaker.WithRand(rand.New(rand.NewPCG(o.seed, o.seed))))
}

func runSeed(cmd *cobra.Command, opts *seedOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	tasks := opts.faker().Tasks(opts.entityID, opts.count)

	if opts.dryRun {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, t := range tasks {
			if err := enc.Encode(t); err != nil {
				return fmt.Errorf("failed to encode task: %w", err)
			}
		}
		return nil
	}

	cfg, err := config.LoadFrom(opts.configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(logger.Config{Level: cfg.Server.LogLevel, Output: cmd.ErrOrStderr()})
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := postgres.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	svc, err := service.NewTaskEntryService(postgres.NewPostgresTaskEntryStore(db, log), log)
	if err != nil {
		return err
	}

	start := time.Now()
	written, err := seed(ctx, svc, tasks, opts.batchSize)
	if err != nil {
		return fmt.Errorf("seeded %d of %d tasks: %w", written, len(tasks), err)
	}

	log.Info("seeded tasks",
		slog.String("entity_id", tasks[0].EntityID),
		slog.Int("count", written),
		slog.Duration("elapsed", time.Since(start)))
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tasks for exploration %s\n", written, tasks[0].EntityID)
	return nil
}

// taskWriter is the part of service.TaskEntryService used for seeding.
type taskWriter interface {
	PutMulti(ctx context.Context, entries []*domain.TaskEntry, updateTimestamp bool) ([]*domain.TaskEntry, error)
}

// seed writes tasks in batches and returns how many were stored, including
// the part of a failed batch that was applied.
func seed(ctx context.Context, w taskWriter, tasks []*domain.TaskEntry, batchSize int) (int, error) {
	written := 0
	for start := 0; start < len(tasks); start += batchSize {
		end := min(start+batchSize, len(tasks))
		stored, err := w.PutMulti(ctx, tasks[start:end], false)
		if err != nil {
			var batchErr *store.BatchError
			if errors.As(err, &batchErr) {
				written += batchErr.Applied
			}
			return written, err
		}
		written += len(stored)
	}
	return written, nil
}
