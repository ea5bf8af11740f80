package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/phrazzld/improvements-api/internal/domain"
	"github.com/phrazzld/improvements-api/internal/platform/logger"
	"github.com/phrazzld/improvements-api/internal/store"
)

// batchSize bounds the rows or keys sent in one statement. Each row
// binds taskEntryColumnCount parameters, well under PostgreSQL's 65535 limit.
const batchSize = 200

const taskEntryColumnCount = 14

const taskEntryColumns = `id, created_on, last_updated, deleted, entity_type, entity_id,
	entity_version, task_type, target_type, target_id, status, closed_by, closed_on,
	issue_description`

const upsertConflictClause = `
	ON CONFLICT (id) DO UPDATE SET
		created_on = EXCLUDED.created_on,
		last_updated = EXCLUDED.last_updated,
		deleted = EXCLUDED.deleted,
		entity_type = EXCLUDED.entity_type,
		entity_id = EXCLUDED.entity_id,
		entity_version = EXCLUDED.entity_version,
		task_type = EXCLUDED.task_type,
		target_type = EXCLUDED.target_type,
		target_id = EXCLUDED.target_id,
		status = EXCLUDED.status,
		closed_by = EXCLUDED.closed_by,
		closed_on = EXCLUDED.closed_on,
		issue_description = EXCLUDED.issue_description`

// PostgresTaskEntryStore implements store.TaskEntryStore on PostgreSQL.
type PostgresTaskEntryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskEntryStore creates a task entry store over db, which may be a
// *sql.DB or a *sql.Tx. If logger is nil, slog.Default() is used.
func NewPostgresTaskEntryStore(db store.DBTX, logger *slog.Logger) *PostgresTaskEntryStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskEntryStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_entry_store")),
	}
}

var _ store.TaskEntryStore = (*PostgresTaskEntryStore)(nil)

// WithTx implements store.TaskEntryStore.
func (s *PostgresTaskEntryStore) WithTx(tx *sql.Tx) store.TaskEntryStore {
	return &PostgresTaskEntryStore{db: tx, logger: s.logger}
}

// Get implements store.TaskEntryStore.
func (s *PostgresTaskEntryStore) Get(ctx context.Context, id string) (*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskEntryColumns + ` FROM task_entries WHERE id = $1`
	entry, err := scanTaskEntry(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task entry not found", slog.String("task_entry_id", id))
			return nil, store.ErrTaskEntryNotFound
		}
		log.Error("failed to get task entry",
			slog.String("error", err.Error()),
			slog.String("task_entry_id", id))
		return nil, store.NewStoreError("task_entry", "get", "failed to read task entry", MapError(err))
	}
	return entry, nil
}

// GetMulti implements store.TaskEntryStore.
func (s *PostgresTaskEntryStore) GetMulti(ctx context.Context, ids []string) ([]*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result := make([]*domain.TaskEntry, len(ids))

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			keys = append(keys, id)
		}
	}
	if len(keys) == 0 {
		return result, nil
	}

	found := make(map[string]*domain.TaskEntry, len(keys))
	for start := 0; start < len(keys); start += batchSize {
		chunk := keys[start:min(start+batchSize, len(keys))]
		query := `SELECT ` + taskEntryColumns + ` FROM task_entries WHERE id IN (` +
			placeholders(1, len(chunk)) + `)`

		if err := s.queryEntries(ctx, query, stringArgs(chunk), func(e *domain.TaskEntry) {
			found[e.ID] = e
		}); err != nil {
			log.Error("failed to get task entries",
				slog.String("error", err.Error()),
				slog.Int("id_count", len(keys)))
			return nil, err
		}
	}

	for i, id := range ids {
		if e, ok := found[id]; ok {
			// Each slot gets its own copy so that repeated ids stay independent.
			result[i] = e.Clone()
		}
	}
	return result, nil
}

// Insert implements store.TaskEntryStore. The conflict clause only fires for
// a soft-deleted row, so a live row leaves nothing affected.
func (s *PostgresTaskEntryStore) Insert(ctx context.Context, entry *domain.TaskEntry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `INSERT INTO task_entries (` + taskEntryColumns + `) VALUES (` +
		placeholders(1, taskEntryColumnCount) + `)` + upsertConflictClause +
		` WHERE task_entries.deleted`

	res, err := s.db.ExecContext(ctx, query, taskEntryArgs(entry)...)
	if err != nil {
		log.Error("failed to insert task entry",
			slog.String("error", err.Error()),
			slog.String("task_entry_id", entry.ID))
		return MapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.NewStoreError("task_entry", "insert", "failed to read affected rows", MapError(err))
	}
	if affected == 0 {
		log.Debug("task entry already exists", slog.String("task_entry_id", entry.ID))
		return fmt.Errorf("%w: task entry %q", store.ErrDuplicate, entry.ID)
	}

	log.Debug("task entry inserted", slog.String("task_entry_id", entry.ID))
	return nil
}

// Put implements store.TaskEntryStore.
func (s *PostgresTaskEntryStore) Put(ctx context.Context, entry *domain.TaskEntry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `INSERT INTO task_entries (` + taskEntryColumns + `) VALUES (` +
		placeholders(1, taskEntryColumnCount) + `)` + upsertConflictClause

	if _, err := s.db.ExecContext(ctx, query, taskEntryArgs(entry)...); err != nil {
		log.Error("failed to put task entry",
			slog.String("error", err.Error()),
			slog.String("task_entry_id", entry.ID))
		return MapError(err)
	}

	log.Debug("task entry stored",
		slog.String("task_entry_id", entry.ID),
		slog.String("status", string(entry.Status)))
	return nil
}

// PutMulti implements store.TaskEntryStore. When the same ID appears more
// than once, the last occurrence wins.
func (s *PostgresTaskEntryStore) PutMulti(ctx context.Context, entries []*domain.TaskEntry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	unique := lastByID(entries)
	applied := 0
	for start := 0; start < len(unique); start += batchSize {
		chunk := unique[start:min(start+batchSize, len(unique))]

		rows := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*taskEntryColumnCount)
		for i, e := range chunk {
			rows[i] = "(" + placeholders(i*taskEntryColumnCount+1, taskEntryColumnCount) + ")"
			args = append(args, taskEntryArgs(e)...)
		}
		query := `INSERT INTO task_entries (` + taskEntryColumns + `) VALUES ` +
			strings.Join(rows, ", ") + upsertConflictClause

		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			log.Error("failed to put task entries",
				slog.String("error", err.Error()),
				slog.Int("applied", applied),
				slog.Int("total", len(unique)))
			return batchFailure("put_multi", applied, len(unique), MapError(err))
		}
		applied += len(chunk)
	}

	log.Debug("task entries stored", slog.Int("count", applied))
	return nil
}

// Delete implements store.TaskEntryStore.
func (s *PostgresTaskEntryStore) Delete(ctx context.Context, id string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_entries WHERE id = $1`, id); err != nil {
		log.Error("failed to delete task entry",
			slog.String("error", err.Error()),
			slog.String("task_entry_id", id))
		return MapError(err)
	}

	log.Debug("task entry deleted", slog.String("task_entry_id", id))
	return nil
}

// DeleteMulti implements store.TaskEntryStore.
func (s *PostgresTaskEntryStore) DeleteMulti(ctx context.Context, ids []string) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	applied := 0
	for start := 0; start < len(ids); start += batchSize {
		chunk := ids[start:min(start+batchSize, len(ids))]
		query := `DELETE FROM task_entries WHERE id IN (` + placeholders(1, len(chunk)) + `)`

		if _, err := s.db.ExecContext(ctx, query, stringArgs(chunk)...); err != nil {
			log.Error("failed to delete task entries",
				slog.String("error", err.Error()),
				slog.Int("applied", applied),
				slog.Int("total", len(ids)))
			return batchFailure("delete_multi", applied, len(ids), MapError(err))
		}
		applied += len(chunk)
	}

	log.Debug("task entries deleted", slog.Int("count", applied))
	return nil
}

// Scan implements store.TaskEntryStore. A non-positive Limit returns every
// matching entry.
func (s *PostgresTaskEntryStore) Scan(ctx context.Context, req store.ScanRequest) ([]*domain.TaskEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query, args := buildScanQuery(req)

	var entries []*domain.TaskEntry
	if err := s.queryEntries(ctx, query, args, func(e *domain.TaskEntry) {
		entries = append(entries, e)
	}); err != nil {
		log.Error("failed to scan task entries",
			slog.String("error", err.Error()),
			slog.String("entity_type", string(req.Filter.EntityType)),
			slog.String("entity_id", req.Filter.EntityID),
			slog.Bool("newest_first", req.NewestFirst))
		return nil, err
	}

	log.Debug("task entries scanned",
		slog.Int("count", len(entries)),
		slog.Int("limit", req.Limit),
		slog.Bool("resumed", req.After != nil))
	return entries, nil
}

// buildScanQuery renders the keyset query for req. The newest-first order is
// (last_updated DESC, id ASC); the other direction is its exact reverse.
func buildScanQuery(req store.ScanRequest) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !req.IncludeDeleted {
		conds = append(conds, "NOT deleted")
	}
	if req.Filter.EntityType != "" {
		conds = append(conds, "entity_type = "+arg(string(req.Filter.EntityType)))
	}
	if req.Filter.EntityID != "" {
		conds = append(conds, "entity_id = "+arg(req.Filter.EntityID))
	}
	if req.Filter.Status != "" {
		conds = append(conds, "status = "+arg(string(req.Filter.Status)))
	}

	if c := req.After; c != nil {
		timeOp, idOp := keysetOperators(req.NewestFirst, c.After)
		ts, id := arg(c.LastUpdated), arg(c.ID)
		conds = append(conds, fmt.Sprintf("(last_updated %s %s OR (last_updated = %s AND id %s %s))",
			timeOp, ts, ts, idOp, id))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(taskEntryColumns)
	b.WriteString(" FROM task_entries")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if req.NewestFirst {
		b.WriteString(" ORDER BY last_updated DESC, id ASC")
	} else {
		b.WriteString(" ORDER BY last_updated ASC, id DESC")
	}
	if req.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(arg(req.Limit))
	}
	return b.String(), args
}

// keysetOperators returns the comparison operators selecting entries beyond a
// cursor gap, mirroring store.Cursor.Admits.
func keysetOperators(newestFirst, after bool) (timeOp, idOp string) {
	switch {
	case newestFirst && after:
		return "<", ">"
	case newestFirst:
		return "<", ">="
	case after:
		return ">", "<="
	default:
		return ">", "<"
	}
}

func (s *PostgresTaskEntryStore) queryEntries(
	ctx context.Context,
	query string,
	args []any,
	yield func(*domain.TaskEntry),
) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return MapError(err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error("failed to close rows", slog.String("error", closeErr.Error()))
		}
	}()

	for rows.Next() {
		entry, err := scanTaskEntry(rows)
		if err != nil {
			return store.NewStoreError("task_entry", "scan", "failed to decode row", MapError(err))
		}
		yield(entry)
	}
	return MapError(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskEntry(row rowScanner) (*domain.TaskEntry, error) {
	var (
		e        domain.TaskEntry
		closedOn sql.NullTime
	)
	err := row.Scan(
		&e.ID,
		&e.CreatedOn,
		&e.LastUpdated,
		&e.Deleted,
		&e.EntityType,
		&e.EntityID,
		&e.EntityVersion,
		&e.TaskType,
		&e.TargetType,
		&e.TargetID,
		&e.Status,
		&e.ClosedBy,
		&closedOn,
		&e.IssueDescription,
	)
	if err != nil {
		return nil, err
	}

	e.CreatedOn = e.CreatedOn.UTC()
	e.LastUpdated = e.LastUpdated.UTC()
	if closedOn.Valid {
		t := closedOn.Time.UTC()
		e.ClosedOn = &t
	}
	return &e, nil
}

func taskEntryArgs(e *domain.TaskEntry) []any {
	var closedOn sql.NullTime
	if e.ClosedOn != nil {
		closedOn = sql.NullTime{Time: *e.ClosedOn, Valid: true}
	}
	return []any{
		e.ID,
		e.CreatedOn,
		e.LastUpdated,
		e.Deleted,
		string(e.EntityType),
		e.EntityID,
		e.EntityVersion,
		string(e.TaskType),
		string(e.TargetType),
		e.TargetID,
		string(e.Status),
		e.ClosedBy,
		closedOn,
		e.IssueDescription,
	}
}

// placeholders renders n positional parameters starting at $first.
func placeholders(first, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(first+i)
	}
	return strings.Join(parts, ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// lastByID drops all but the last occurrence of each ID, keeping the order of
// the survivors. PostgreSQL rejects an upsert that touches one row twice.
func lastByID(entries []*domain.TaskEntry) []*domain.TaskEntry {
	last := make(map[string]int, len(entries))
	for i, e := range entries {
		last[e.ID] = i
	}
	if len(last) == len(entries) {
		return entries
	}
	out := make([]*domain.TaskEntry, 0, len(last))
	for i, e := range entries {
		if last[e.ID] == i {
			out = append(out, e)
		}
	}
	return out
}

func batchFailure(op string, applied, total int, err error) error {
	if applied == 0 {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return &store.BatchError{Operation: op, Applied: applied, Total: total, Err: err}
}
