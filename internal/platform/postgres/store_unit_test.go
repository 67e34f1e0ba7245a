package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/store"
)

var taskColumnNames = []string{
	"id", "task_type", "status", "payload", "related_task_id", "parent_task_id", "priority",
	"error_message", "created_at", "updated_at", "completed_at",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func ideaRow(rows *sqlmock.Rows, id int64, title string, priority int, created time.Time) *sqlmock.Rows {
	payload := []byte(`{"title":"` + title + `","audience":"Chemists"}`)
	return rows.AddRow(id, "idea", "in_progress", payload, nil, nil, priority, nil, created, created, nil)
}

func TestTaskStore_LeaseNextBatchSortsReturnedRows(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	s := NewTaskStore(db, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(taskColumnNames)
	ideaRow(rows, 1, "Older low", 0, base)
	ideaRow(rows, 3, "Urgent", 5, base.Add(time.Hour))
	ideaRow(rows, 2, "Newer low", 0, base.Add(time.Minute))

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs("idea", 3, sqlmock.AnyArg()).
		WillReturnRows(rows)

	tasks, err := s.LeaseNextBatch(context.Background(), domain.TaskTypeIdea, 3)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{tasks[0].ID, tasks[1].ID, tasks[2].ID})
	assert.Equal(t, domain.TaskStatusInProgress, tasks[0].Status)
	assert.Equal(t, "Urgent", tasks[0].Title, "projection is rebuilt from the payload")
	assert.Equal(t, "Chemists", tasks[0].TargetAudience)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_LeaseNextBatchZeroLimit(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	tasks, err := NewTaskStore(db, nil).LeaseNextBatch(context.Background(), domain.TaskTypeIdea, 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_CreateTaskReturnsExistingDownstreamTask(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	s := NewTaskStore(db, nil)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (task_type, related_task_id)")).
		WillReturnRows(sqlmock.NewRows(taskColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE task_type = $1 AND related_task_id = $2")).
		WithArgs("outline", int64(7)).
		WillReturnRows(sqlmock.NewRows(taskColumnNames).AddRow(
			int64(11), "outline", "pending",
			[]byte(`{"title":"Foo","hook":"h","sections":[{"heading":"a","points":["b"]}],"seo":{"primary_keyword":"k","meta_description":"d"}}`),
			int64(7), nil, 0, nil, created, created, nil))

	task, err := s.CreateTask(context.Background(), domain.NewTaskSpec{
		Type: domain.TaskTypeOutline,
		Payload: domain.OutlinePayload{
			Title:    "Foo",
			Hook:     "h",
			Sections: []domain.OutlineSection{{Heading: "a", Points: []string{"b"}}},
			SEO:      domain.SEOMetadata{PrimaryKeyword: "k", MetaDescription: "d"},
		},
		RelatedTaskID: domain.Int64Ptr(7),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), task.ID)
	require.NotNil(t, task.RelatedTaskID)
	assert.Equal(t, int64(7), *task.RelatedTaskID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_CreateTaskValidatesBeforeWriting(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	_, err := NewTaskStore(db, nil).CreateTask(context.Background(), domain.NewTaskSpec{
		Type:    domain.TaskTypeIdea,
		Payload: domain.IdeaPayload{Title: "No audience"},
	})
	assert.True(t, domain.IsValidationError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_TransitionErrors(t *testing.T) {
	t.Parallel()

	t.Run("completing a pending task", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'completed'")).
			WithArgs(int64(4), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM pipeline_tasks")).
			WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))

		err := NewTaskStore(db, nil).Complete(context.Background(), 4, nil)
		require.ErrorIs(t, err, store.ErrInvalidTransition)
		assert.True(t, store.IsStoreError(err))
		assert.Contains(t, err.Error(), "task 4 is pending")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failing a missing task", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed'")).
			WithArgs(int64(9), "boom", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM pipeline_tasks")).
			WithArgs(int64(9)).
			WillReturnError(sql.ErrNoRows)

		err := NewTaskStore(db, nil).Fail(context.Background(), 9, "boom")
		require.ErrorIs(t, err, store.ErrTaskNotFound)
		assert.True(t, store.IsNotFoundError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requeue succeeds on a failed task", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'failed'")).
			WithArgs(int64(2), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewTaskStore(db, nil).Requeue(context.Background(), 2))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requeue refuses an in-progress task", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'failed'")).
			WithArgs(int64(5), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM pipeline_tasks")).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("in_progress"))

		err := NewTaskStore(db, nil).Requeue(context.Background(), 5)
		require.ErrorIs(t, err, store.ErrInvalidTransition)
		assert.Contains(t, err.Error(), "cannot requeue a in_progress task")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row changed between update and read", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed'")).
			WithArgs(int64(6), "boom", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM pipeline_tasks")).
			WithArgs(int64(6)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("in_progress"))

		err := NewTaskStore(db, nil).Fail(context.Background(), 6, "boom")
		require.ErrorIs(t, err, store.ErrInvalidTransition)
		assert.Contains(t, err.Error(), "changed concurrently")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("connection errors become store errors", func(t *testing.T) {
		t.Parallel()
		db, mock := newMock(t)
		mock.ExpectExec(regexp.QuoteMeta("SET status = 'failed'")).
			WillReturnError(errors.New("connection reset by peer"))

		err := NewTaskStore(db, nil).Fail(context.Background(), 1, "x")
		require.Error(t, err)
		assert.True(t, store.IsStoreError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskStore_FindByIDNotFound(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM pipeline_tasks WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(taskColumnNames))

	_, err := NewTaskStore(db, nil).FindByID(context.Background(), 5)
	require.ErrorIs(t, err, store.ErrTaskNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_CountAndTitles(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	s := NewTaskStore(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WithArgs("idea").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("completed", 2))
	counts, err := s.CountByStatus(context.Background(), domain.TaskTypeIdea)
	require.NoError(t, err)
	assert.Equal(t, map[domain.TaskStatus]int{domain.TaskStatusPending: 3, domain.TaskStatusCompleted: 2}, counts)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT title FROM pipeline_tasks")).
		WithArgs("idea", 2).
		WillReturnRows(sqlmock.NewRows([]string{"title"}).AddRow("B").AddRow("A"))
	titles, err := s.RecentTitles(context.Background(), domain.TaskTypeIdea, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, titles)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingStore_InsertDuplicate(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO embeddings")).
		WithArgs("idea_title", "foo", "Foo", "[1,0.5]").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "embeddings_scope_source_key"})

	err := NewEmbeddingStore(db, nil).Insert(context.Background(), &domain.EmbeddingRecord{
		Scope: "idea_title", SourceID: "foo", Text: "Foo", Vector: []float32{1, 0.5},
	})
	require.ErrorIs(t, err, store.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingStore_ListDecodesVectors(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM embeddings WHERE scope = $1")).
		WithArgs("idea_title").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scope", "source_id", "text", "vector", "created_at"}).
			AddRow(int64(1), "idea_title", "foo", "Foo", []byte("[0.25,-1]"), now))

	records, err := NewEmbeddingStore(db, nil).ListByScope(context.Background(), "idea_title")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []float32{0.25, -1}, records[0].Vector)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingStore_InsertRejectsEmptyVector(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	err := NewEmbeddingStore(db, nil).Insert(context.Background(), &domain.EmbeddingRecord{Scope: "s", SourceID: "x"})
	require.ErrorIs(t, err, store.ErrInvalidEntity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingStore_ReplaceRunsInTransaction(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM embeddings")).
		WithArgs("idea_title", "foo").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO embeddings")).
		WithArgs("idea_title", "foo", "Foo v2", "[0,1]").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(9), now))
	mock.ExpectCommit()

	rec := &domain.EmbeddingRecord{Scope: "idea_title", SourceID: "foo", Text: "Foo v2", Vector: []float32{0, 1}}
	require.NoError(t, NewEmbeddingStore(db, nil).Replace(context.Background(), rec))
	assert.Equal(t, int64(9), rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingStore_ReplaceRollsBackOnInsertError(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM embeddings")).
		WithArgs("idea_title", "foo").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO embeddings")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := NewEmbeddingStore(db, nil).Replace(context.Background(), &domain.EmbeddingRecord{
		Scope: "idea_title", SourceID: "foo", Text: "Foo v2", Vector: []float32{0, 1},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectionLog_ListAllScopes(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM gate_rejections")).
		WithArgs("").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scope", "candidate_text", "nearest_source_id", "similarity", "threshold", "created_at"}).
			AddRow(int64(2), "idea_title", "Foo", "foo", 0.97, 0.9, now))

	entries, err := NewRejectionLog(db, nil).List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.97, entries[0].Similarity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: sql.ErrNoRows, want: store.ErrNotFound},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, want: store.ErrDuplicate},
		{name: "foreign key", err: &pgconn.PgError{Code: "23503"}, want: store.ErrInvalidEntity},
		{name: "check", err: &pgconn.PgError{Code: "23514"}, want: store.ErrInvalidEntity},
		{name: "not null", err: &pgconn.PgError{Code: "23502"}, want: store.ErrInvalidEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mapped := MapError(tt.err)
			assert.ErrorIs(t, mapped, tt.want)
			assert.ErrorIs(t, mapped, tt.err, "the original error stays in the chain")
		})
	}

	assert.Nil(t, MapError(nil))
	other := errors.New("other")
	assert.Equal(t, other, MapError(other))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(other))
}

func TestMigrateRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	db, _ := newMock(t)
	err := Migrate(context.Background(), db, "sideways", nil)
	assert.ErrorContains(t, err, "unknown migration command")
}
