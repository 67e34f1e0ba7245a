package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/store"
)

const taskEntity = "pipeline_task"

const taskColumns = `id, task_type, status, payload, related_task_id, parent_task_id, priority,
	error_message, created_at, updated_at, completed_at`

// TaskStore implements store.TaskStore on PostgreSQL.
type TaskStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore over db, which may be a *sql.DB or a *sql.Tx.
func NewTaskStore(db store.DBTX, logger *slog.Logger) *TaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
		now:    time.Now,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.PipelineTask, error) {
	var (
		t           domain.PipelineTask
		taskType    string
		status      string
		payload     []byte
		related     sql.NullInt64
		parent      sql.NullInt64
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &taskType, &status, &payload, &related, &parent, &t.Priority,
		&errMsg, &t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}

	t.Type = domain.TaskType(taskType)
	t.Status = domain.TaskStatus(status)
	p, err := domain.DecodePayload(t.Type, payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload of task %d: %w", t.ID, err)
	}
	t.Payload = p
	t.ApplyProjection()
	if related.Valid {
		t.RelatedTaskID = domain.Int64Ptr(related.Int64)
	}
	if parent.Valid {
		t.ParentTaskID = domain.Int64Ptr(parent.Int64)
	}
	t.ErrorMessage = errMsg.String
	if completedAt.Valid {
		c := completedAt.Time.UTC()
		t.CompletedAt = &c
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*domain.PipelineTask, error) {
	defer rows.Close()
	var out []*domain.PipelineTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// encodeProjection returns the JSON payload and the denormalized columns.
func encodeProjection(p domain.Payload) (payload string, proj domain.Projection, keywords string, err error) {
	raw, err := domain.EncodePayload(p)
	if err != nil {
		return "", proj, "", err
	}
	proj = p.Projection()
	kw := proj.Keywords
	if kw == nil {
		kw = []string{}
	}
	kwRaw, err := json.Marshal(kw)
	if err != nil {
		return "", proj, "", err
	}
	return string(raw), proj, string(kwRaw), nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// CreateTask implements store.TaskStore. A second create for the same
// (type, related task) returns the task created first.
func (s *TaskStore) CreateTask(ctx context.Context, spec domain.NewTaskSpec) (*domain.PipelineTask, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	payload, proj, keywords, err := encodeProjection(spec.Payload)
	if err != nil {
		return nil, storeError(taskEntity, "create", "encode payload", err)
	}

	now := s.now().UTC()
	query := `
		INSERT INTO pipeline_tasks (task_type, status, payload, related_task_id, parent_task_id, priority,
			target_audience, title, summary, keywords, created_at, updated_at)
		VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (task_type, related_task_id) WHERE related_task_id IS NOT NULL DO NOTHING
		RETURNING ` + taskColumns

	row := s.db.QueryRowContext(ctx, query,
		string(spec.Type), payload, nullableID(spec.RelatedTaskID), nullableID(spec.ParentTaskID), spec.Priority,
		proj.Audience, proj.Title, proj.Summary, keywords, now)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) && spec.RelatedTaskID != nil {
		s.logger.DebugContext(ctx, "downstream task already exists",
			slog.String("task_type", string(spec.Type)),
			slog.Int64("related_task_id", *spec.RelatedTaskID))
		existing := s.db.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM pipeline_tasks WHERE task_type = $1 AND related_task_id = $2`,
			string(spec.Type), *spec.RelatedTaskID)
		task, err = scanTask(existing)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create task",
			slog.String("task_type", string(spec.Type)),
			slog.String("error", err.Error()))
		return nil, storeError(taskEntity, "create", "insert task", err)
	}
	return task, nil
}

// LeaseNextBatch implements store.TaskStore.
func (s *TaskStore) LeaseNextBatch(ctx context.Context, taskType domain.TaskType, limit int) ([]*domain.PipelineTask, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		WITH next AS (
			SELECT id FROM pipeline_tasks
			WHERE task_type = $1 AND status = 'pending'
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE pipeline_tasks AS t
		SET status = 'in_progress', updated_at = $3
		FROM next
		WHERE t.id = next.id
		RETURNING ` + qualify("t", taskColumns)

	rows, err := s.db.QueryContext(ctx, query, string(taskType), limit, s.now().UTC())
	if err != nil {
		return nil, storeError(taskEntity, "lease", string(taskType), err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, storeError(taskEntity, "lease", string(taskType), err)
	}
	sortLeaseOrder(tasks)
	return tasks, nil
}

// qualify prefixes every column in a comma separated list with alias.
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

// UPDATE ... RETURNING does not preserve the CTE order.
func sortLeaseOrder(tasks []*domain.PipelineTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Complete implements store.TaskStore.
func (s *TaskStore) Complete(ctx context.Context, id int64, result domain.Payload) error {
	now := s.now().UTC()
	if result == nil {
		res, err := s.db.ExecContext(ctx, `
			UPDATE pipeline_tasks
			SET status = 'completed', error_message = NULL, updated_at = $2, completed_at = $2
			WHERE id = $1 AND status = 'in_progress'`, id, now)
		return s.checkTransition(ctx, res, err, "complete", id, automatic(domain.TaskStatusCompleted))
	}

	current, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := domain.ValidatePayloadFor(current.Type, result); err != nil {
		return err
	}
	payload, proj, keywords, err := encodeProjection(result)
	if err != nil {
		return storeError(taskEntity, "complete", "encode payload", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_tasks
		SET status = 'completed', error_message = NULL, updated_at = $2, completed_at = $2,
			payload = $3, target_audience = $4, title = $5, summary = $6, keywords = $7
		WHERE id = $1 AND status = 'in_progress'`,
		id, now, payload, proj.Audience, proj.Title, proj.Summary, keywords)
	return s.checkTransition(ctx, res, err, "complete", id, automatic(domain.TaskStatusCompleted))
}

// Fail implements store.TaskStore.
func (s *TaskStore) Fail(ctx context.Context, id int64, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_tasks
		SET status = 'failed', error_message = $2, updated_at = $3
		WHERE id = $1 AND status = 'in_progress'`,
		id, store.FailureMessage(errorMessage), s.now().UTC())
	return s.checkTransition(ctx, res, err, "fail", id, automatic(domain.TaskStatusFailed))
}

// Requeue implements store.TaskStore.
func (s *TaskStore) Requeue(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_tasks
		SET status = 'pending', error_message = NULL, updated_at = $2
		WHERE id = $1 AND status = 'failed'`,
		id, s.now().UTC())
	return s.checkTransition(ctx, res, err, "requeue", id, func(from domain.TaskStatus) error {
		_, err := domain.CheckOperatorAction(domain.OperatorRequeue, from)
		return err
	})
}

// automatic checks a pipeline transition into to.
func automatic(to domain.TaskStatus) func(domain.TaskStatus) error {
	return func(from domain.TaskStatus) error {
		return domain.CheckTransition(from, to)
	}
}

// checkTransition turns a guarded UPDATE that touched no row into
// ErrTaskNotFound or the state machine's rejection of the current status.
// If the state machine allows the current status, the row changed between
// the UPDATE and the read.
func (s *TaskStore) checkTransition(ctx context.Context, res sql.Result, err error, op string, id int64, allowed func(from domain.TaskStatus) error) error {
	if err != nil {
		s.logger.ErrorContext(ctx, "task transition failed",
			slog.String("operation", op),
			slog.Int64("task_id", id),
			slog.String("error", err.Error()))
		return storeError(taskEntity, op, fmt.Sprintf("task %d", id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(taskEntity, op, "rows affected", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM pipeline_tasks WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NewStoreError(taskEntity, op, fmt.Sprintf("task %d", id), store.ErrTaskNotFound)
	}
	if err != nil {
		return storeError(taskEntity, op, fmt.Sprintf("task %d", id), err)
	}
	if err := allowed(domain.TaskStatus(status)); err != nil {
		return store.NewStoreError(taskEntity, op, fmt.Sprintf("task %d is %s", id, status), err)
	}
	return store.NewStoreError(taskEntity, op,
		fmt.Sprintf("task %d changed concurrently", id), store.ErrInvalidTransition)
}

// FindByID implements store.TaskStore.
func (s *TaskStore) FindByID(ctx context.Context, id int64) (*domain.PipelineTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM pipeline_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, storeError(taskEntity, "find", fmt.Sprintf("task %d", id), err)
	}
	return t, nil
}

// ListByTypeAndStatus implements store.TaskStore. A non-positive limit lists all.
func (s *TaskStore) ListByTypeAndStatus(ctx context.Context, taskType domain.TaskType, status domain.TaskStatus, limit int) ([]*domain.PipelineTask, error) {
	query := `SELECT ` + taskColumns + ` FROM pipeline_tasks
		WHERE task_type = $1 AND status = $2
		ORDER BY priority DESC, created_at ASC, id ASC`
	args := []any{string(taskType), string(status)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(taskEntity, "list", string(taskType), err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, storeError(taskEntity, "list", string(taskType), err)
	}
	return tasks, nil
}

// RecentTitles implements store.TaskStore. A negative limit lists all.
func (s *TaskStore) RecentTitles(ctx context.Context, taskType domain.TaskType, limit int) ([]string, error) {
	query := `SELECT title FROM pipeline_tasks
		WHERE task_type = $1 AND title <> ''
		ORDER BY created_at DESC, id DESC`
	args := []any{string(taskType)}
	if limit >= 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(taskEntity, "recent_titles", string(taskType), err)
	}
	defer rows.Close()

	titles := []string{}
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, storeError(taskEntity, "recent_titles", "scan", err)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(taskEntity, "recent_titles", "rows", err)
	}
	return titles, nil
}

// CountByStatus implements store.TaskStore.
func (s *TaskStore) CountByStatus(ctx context.Context, taskType domain.TaskType) (map[domain.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pipeline_tasks WHERE task_type = $1 GROUP BY status`, string(taskType))
	if err != nil {
		return nil, storeError(taskEntity, "count", string(taskType), err)
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storeError(taskEntity, "count", "scan", err)
		}
		counts[domain.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(taskEntity, "count", "rows", err)
	}
	return counts, nil
}

// ReclaimStale implements store.TaskStore.
func (s *TaskStore) ReclaimStale(ctx context.Context, taskType domain.TaskType, olderThan time.Duration) ([]int64, error) {
	now := s.now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE pipeline_tasks
		SET status = 'pending', updated_at = $3
		WHERE task_type = $1 AND status = 'in_progress' AND updated_at < $2
		RETURNING id`,
		string(taskType), now.Add(-olderThan), now)
	if err != nil {
		return nil, storeError(taskEntity, "reclaim", string(taskType), err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeError(taskEntity, "reclaim", "scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(taskEntity, "reclaim", "rows", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > 0 {
		s.logger.WarnContext(ctx, "reclaimed stale in-progress tasks",
			slog.String("task_type", string(taskType)),
			slog.Int("count", len(ids)))
	}
	return ids, nil
}
