package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/store"
)

const embeddingEntity = "embedding"

// EmbeddingStore implements store.EmbeddingStore on PostgreSQL. Vectors are
// stored as JSONB arrays; similarity is computed by the caller.
type EmbeddingStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.EmbeddingStore = (*EmbeddingStore)(nil)

// NewEmbeddingStore creates an EmbeddingStore over db.
func NewEmbeddingStore(db store.DBTX, logger *slog.Logger) *EmbeddingStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingStore{db: db, logger: logger.With(slog.String("component", "embedding_store"))}
}

// Insert implements store.EmbeddingStore.
func (s *EmbeddingStore) Insert(ctx context.Context, record *domain.EmbeddingRecord) error {
	if record == nil || record.Scope == "" || record.SourceID == "" || len(record.Vector) == 0 {
		return store.NewStoreError(embeddingEntity, "insert", "scope, source id and vector are required", store.ErrInvalidEntity)
	}
	vec, err := json.Marshal(record.Vector)
	if err != nil {
		return storeError(embeddingEntity, "insert", "encode vector", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO embeddings (scope, source_id, text, vector)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		record.Scope, record.SourceID, record.Text, string(vec),
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		if !IsUniqueViolation(err) {
			s.logger.ErrorContext(ctx, "failed to insert embedding",
				slog.String("scope", record.Scope),
				slog.String("source_id", record.SourceID),
				slog.String("error", err.Error()))
		}
		return storeError(embeddingEntity, "insert",
			fmt.Sprintf("source %q in scope %q", record.SourceID, record.Scope), err)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return nil
}

// ListByScope implements store.EmbeddingStore.
func (s *EmbeddingStore) ListByScope(ctx context.Context, scope string) ([]*domain.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, source_id, text, vector, created_at
		FROM embeddings WHERE scope = $1 ORDER BY id`, scope)
	if err != nil {
		return nil, storeError(embeddingEntity, "list", scope, err)
	}
	defer rows.Close()

	var out []*domain.EmbeddingRecord
	for rows.Next() {
		var (
			r   domain.EmbeddingRecord
			raw []byte
		)
		if err := rows.Scan(&r.ID, &r.Scope, &r.SourceID, &r.Text, &raw, &r.CreatedAt); err != nil {
			return nil, storeError(embeddingEntity, "list", "scan", err)
		}
		if err := json.Unmarshal(raw, &r.Vector); err != nil {
			return nil, storeError(embeddingEntity, "list", fmt.Sprintf("decode vector of record %d", r.ID), err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(embeddingEntity, "list", "rows", err)
	}
	return out, nil
}

// Replace implements store.EmbeddingStore. When the store was built on a
// *sql.DB the delete and insert share one transaction; on a *sql.Tx they
// join the caller's.
func (s *EmbeddingStore) Replace(ctx context.Context, record *domain.EmbeddingRecord) error {
	if record == nil || record.Scope == "" || record.SourceID == "" || len(record.Vector) == 0 {
		return store.NewStoreError(embeddingEntity, "replace", "scope, source id and vector are required", store.ErrInvalidEntity)
	}
	replace := func(ctx context.Context, db store.DBTX) error {
		txStore := &EmbeddingStore{db: db, logger: s.logger}
		if _, err := txStore.DeleteBySource(ctx, record.Scope, record.SourceID); err != nil {
			return err
		}
		return txStore.Insert(ctx, record)
	}

	beginner, ok := s.db.(store.TxBeginner)
	if !ok {
		return replace(ctx, s.db)
	}
	return store.RunInTransaction(ctx, beginner, func(ctx context.Context, tx *sql.Tx) error {
		return replace(ctx, tx)
	})
}

// DeleteBySource implements store.EmbeddingStore.
func (s *EmbeddingStore) DeleteBySource(ctx context.Context, scope, sourceID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE scope = $1 AND source_id = $2`, scope, sourceID)
	if err != nil {
		return 0, storeError(embeddingEntity, "delete", sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeError(embeddingEntity, "delete", "rows affected", err)
	}
	return int(n), nil
}
