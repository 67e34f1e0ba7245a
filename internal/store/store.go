package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/phrazzld/quill/internal/domain"
)

// DBTX is an interface that abstracts the database access layer.
// It is implemented by both *sql.DB and *sql.Tx, allowing store code
// to work with either a database connection or a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TaskStore persists PipelineTasks and enforces their status state machine.
//
// Every mutating method is individually atomic. Implementations wrap
// persistence failures in *StoreError.
type TaskStore interface {
	// CreateTask inserts a pending task. The payload is validated for spec.Type
	// before anything is written. When spec.RelatedTaskID is set, creation is
	// idempotent per (type, related task): the existing task is returned.
	CreateTask(ctx context.Context, spec domain.NewTaskSpec) (*domain.PipelineTask, error)

	// LeaseNextBatch atomically moves up to limit pending tasks of taskType to
	// in_progress, ordered by priority desc then created_at asc, and returns them.
	// No task is ever returned to two callers.
	LeaseNextBatch(ctx context.Context, taskType domain.TaskType, limit int) ([]*domain.PipelineTask, error)

	// Complete moves an in_progress task to completed. A non-nil result
	// replaces the payload; nil keeps it.
	Complete(ctx context.Context, id int64, result domain.Payload) error

	// Fail moves an in_progress task to failed with the given message.
	Fail(ctx context.Context, id int64, errorMessage string) error

	// FindByID returns one task or ErrTaskNotFound.
	FindByID(ctx context.Context, id int64) (*domain.PipelineTask, error)

	// ListByTypeAndStatus returns up to limit tasks in lease order.
	ListByTypeAndStatus(ctx context.Context, taskType domain.TaskType, status domain.TaskStatus, limit int) ([]*domain.PipelineTask, error)

	// RecentTitles returns the titles of the most recently created tasks of taskType.
	RecentTitles(ctx context.Context, taskType domain.TaskType, limit int) ([]string, error)

	// CountByStatus returns task counts per status for taskType.
	CountByStatus(ctx context.Context, taskType domain.TaskType) (map[domain.TaskStatus]int, error)

	// Requeue is an operator action moving a failed task back to pending.
	Requeue(ctx context.Context, id int64) error

	// ReclaimStale is an operator action moving in_progress tasks of taskType
	// whose lease is older than olderThan back to pending. It returns the ids reclaimed.
	ReclaimStale(ctx context.Context, taskType domain.TaskType, olderThan time.Duration) ([]int64, error)
}

// EmbeddingStore persists EmbeddingRecords for the duplicate gate.
type EmbeddingStore interface {
	// Insert stores a new record and fills in its ID and CreatedAt.
	Insert(ctx context.Context, record *domain.EmbeddingRecord) error

	// ListByScope returns every record in scope.
	ListByScope(ctx context.Context, scope string) ([]*domain.EmbeddingRecord, error)

	// Replace atomically removes any record of record's (scope, source id)
	// and inserts record in its place.
	Replace(ctx context.Context, record *domain.EmbeddingRecord) error

	// DeleteBySource removes the records of one source, returning how many were deleted.
	DeleteBySource(ctx context.Context, scope, sourceID string) (int, error)
}

// RejectionLog records gate rejections for observability.
type RejectionLog interface {
	Record(ctx context.Context, rejection *domain.Rejection) error
	List(ctx context.Context, scope string, limit int) ([]*domain.Rejection, error)
}

// FailureMessage normalizes the message recorded on a failed task.
func FailureMessage(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	const maxLen = 4000
	if len(msg) > maxLen {
		return strings.ToValidUTF8(msg[:maxLen], "")
	}
	return msg
}
