//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/store"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	ctr, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("quill"),
		tcPostgres.WithUsername("quill"),
		tcPostgres.WithPassword("quill"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("postgres connection string: %v", err)
	}
	testDB, err = Open(ctx, config.DatabaseConfig{
		Driver:          "postgres",
		URL:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := Migrate(ctx, testDB, "up", nil); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	code := m.Run()

	_ = testDB.Close()
	_ = ctr.Terminate(ctx)
	os.Exit(code)
}

// withTx runs fn in a transaction that is always rolled back.
func withTx(t *testing.T, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := testDB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	fn(tx)
}

func idea(title string) domain.NewTaskSpec {
	return domain.NewTaskSpec{
		Type:    domain.TaskTypeIdea,
		Payload: domain.IdeaPayload{Title: title, Audience: "Chemists", Keywords: []string{"k"}},
	}
}

func TestIntegration_TaskLifecycle(t *testing.T) {
	withTx(t, func(tx *sql.Tx) {
		ctx := context.Background()
		s := NewTaskStore(tx, nil)

		created, err := s.CreateTask(ctx, idea("Foo"))
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, created.Status)

		found, err := s.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Payload, found.Payload)
		assert.Equal(t, "Foo", found.Title)
		assert.Equal(t, []string{"k"}, found.Keywords)

		require.ErrorIs(t, s.Complete(ctx, created.ID, nil), store.ErrInvalidTransition)

		leased, err := s.LeaseNextBatch(ctx, domain.TaskTypeIdea, 5)
		require.NoError(t, err)
		require.Len(t, leased, 1)

		outline, err := s.CreateTask(ctx, domain.NewTaskSpec{
			Type: domain.TaskTypeOutline,
			Payload: domain.OutlinePayload{
				Title:    "Foo",
				Hook:     "h",
				Sections: []domain.OutlineSection{{Heading: "a", Points: []string{"b"}}},
				SEO:      domain.SEOMetadata{PrimaryKeyword: "k", MetaDescription: "d"},
			},
			RelatedTaskID: domain.Int64Ptr(created.ID),
		})
		require.NoError(t, err)
		again, err := s.CreateTask(ctx, domain.NewTaskSpec{
			Type:          domain.TaskTypeOutline,
			Payload:       outline.Payload,
			RelatedTaskID: domain.Int64Ptr(created.ID),
		})
		require.NoError(t, err)
		assert.Equal(t, outline.ID, again.ID)

		require.NoError(t, s.Complete(ctx, created.ID, nil))
		done, err := s.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, done.Status)
		assert.NotNil(t, done.CompletedAt)

		_, err = s.LeaseNextBatch(ctx, domain.TaskTypeOutline, 1)
		require.NoError(t, err)
		require.NoError(t, s.Fail(ctx, outline.ID, "model unavailable"))
		failed, err := s.FindByID(ctx, outline.ID)
		require.NoError(t, err)
		assert.Equal(t, "model unavailable", failed.ErrorMessage)

		require.NoError(t, s.Requeue(ctx, outline.ID))
		requeued, err := s.FindByID(ctx, outline.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, requeued.Status)
		assert.Empty(t, requeued.ErrorMessage)

		_, err = s.LeaseNextBatch(ctx, domain.TaskTypeOutline, 1)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
		ids, err := s.ReclaimStale(ctx, domain.TaskTypeOutline, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{outline.ID}, ids)

		titles, err := s.RecentTitles(ctx, domain.TaskTypeIdea, 10)
		require.NoError(t, err)
		assert.Contains(t, titles, "Foo")
	})
}

func TestIntegration_ConcurrentLeasesAreDisjoint(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore(testDB, nil)
	t.Cleanup(func() {
		_, _ = testDB.ExecContext(ctx, `DELETE FROM pipeline_tasks WHERE task_type = 'draft'`)
	})

	outline := domain.OutlinePayload{
		Title:    "T",
		Hook:     "h",
		Sections: []domain.OutlineSection{{Heading: "a", Points: []string{"b"}}},
		SEO:      domain.SEOMetadata{PrimaryKeyword: "k", MetaDescription: "d"},
	}
	for i := 0; i < 20; i++ {
		_, err := s.CreateTask(ctx, domain.NewTaskSpec{
			Type: domain.TaskTypeDraft,
			Payload: domain.DraftPayload{
				OutlineTaskID:  int64(1000 + i),
				Outline:        outline,
				Title:          fmt.Sprintf("Draft %d", i),
				Content:        "body",
				WordCount:      1,
				PrimaryKeyword: "k",
			},
		})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				leased, err := s.LeaseNextBatch(ctx, domain.TaskTypeDraft, 3)
				if !assert.NoError(t, err) || len(leased) == 0 {
					return
				}
				mu.Lock()
				for _, task := range leased {
					seen[task.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %d leased %d times", id, n)
	}
}

func TestIntegration_EmbeddingsAndRejections(t *testing.T) {
	withTx(t, func(tx *sql.Tx) {
		ctx := context.Background()
		emb := NewEmbeddingStore(tx, nil)

		rec := &domain.EmbeddingRecord{Scope: "idea_title", SourceID: "foo", Text: "Foo", Vector: []float32{0.5, -0.25}}
		require.NoError(t, emb.Insert(ctx, rec))
		assert.NotZero(t, rec.ID)

		listed, err := emb.ListByScope(ctx, "idea_title")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, []float32{0.5, -0.25}, listed[0].Vector)

		n, err := emb.DeleteBySource(ctx, "idea_title", "foo")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		rej := NewRejectionLog(tx, nil)
		require.NoError(t, rej.Record(ctx, &domain.Rejection{
			Scope: "idea_title", CandidateText: "FOO", NearestSourceID: "foo", Similarity: 1, Threshold: 0.9,
		}))
		entries, err := rej.List(ctx, "idea_title", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "FOO", entries[0].CandidateText)
	})
}

func TestIntegration_DuplicateEmbedding(t *testing.T) {
	// A unique violation aborts the enclosing transaction, so run outside withTx.
	ctx := context.Background()
	emb := NewEmbeddingStore(testDB, nil)
	t.Cleanup(func() {
		_, _ = emb.DeleteBySource(ctx, "dup_scope", "a")
	})

	require.NoError(t, emb.Insert(ctx, &domain.EmbeddingRecord{Scope: "dup_scope", SourceID: "a", Text: "A", Vector: []float32{1}}))
	err := emb.Insert(ctx, &domain.EmbeddingRecord{Scope: "dup_scope", SourceID: "a", Text: "A", Vector: []float32{1}})
	require.ErrorIs(t, err, store.ErrDuplicate)
}

func TestIntegration_ReplaceEmbedding(t *testing.T) {
	ctx := context.Background()
	emb := NewEmbeddingStore(testDB, nil)
	t.Cleanup(func() {
		_, _ = emb.DeleteBySource(ctx, "replace_scope", "a")
	})

	first := &domain.EmbeddingRecord{Scope: "replace_scope", SourceID: "a", Text: "old", Vector: []float32{1, 0}}
	require.NoError(t, emb.Insert(ctx, first))

	second := &domain.EmbeddingRecord{Scope: "replace_scope", SourceID: "a", Text: "new", Vector: []float32{0, 1}}
	require.NoError(t, emb.Replace(ctx, second))
	assert.NotEqual(t, first.ID, second.ID)

	list, err := emb.ListByScope(ctx, "replace_scope")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Text)
	assert.Equal(t, []float32{0, 1}, list[0].Vector)
}
