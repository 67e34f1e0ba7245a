package postgres

import (
	"context"
	"log/slog"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/store"
)

const rejectionEntity = "gate_rejection"

// RejectionLog implements store.RejectionLog on PostgreSQL.
type RejectionLog struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.RejectionLog = (*RejectionLog)(nil)

// NewRejectionLog creates a RejectionLog over db.
func NewRejectionLog(db store.DBTX, logger *slog.Logger) *RejectionLog {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RejectionLog{db: db, logger: logger.With(slog.String("component", "rejection_log"))}
}

// Record implements store.RejectionLog.
func (l *RejectionLog) Record(ctx context.Context, r *domain.Rejection) error {
	if r == nil {
		return store.NewStoreError(rejectionEntity, "record", "rejection is nil", store.ErrInvalidEntity)
	}
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO gate_rejections (scope, candidate_text, nearest_source_id, similarity, threshold)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		r.Scope, r.CandidateText, r.NearestSourceID, r.Similarity, r.Threshold,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return storeError(rejectionEntity, "record", r.CandidateText, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return nil
}

// List implements store.RejectionLog. Newest entries come first; an empty
// scope matches every scope and a non-positive limit lists all.
func (l *RejectionLog) List(ctx context.Context, scope string, limit int) ([]*domain.Rejection, error) {
	query := `
		SELECT id, scope, candidate_text, nearest_source_id, similarity, threshold, created_at
		FROM gate_rejections
		WHERE ($1 = '' OR scope = $1)
		ORDER BY created_at DESC, id DESC`
	args := []any{scope}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(rejectionEntity, "list", scope, err)
	}
	defer rows.Close()

	var out []*domain.Rejection
	for rows.Next() {
		var r domain.Rejection
		if err := rows.Scan(&r.ID, &r.Scope, &r.CandidateText, &r.NearestSourceID,
			&r.Similarity, &r.Threshold, &r.CreatedAt); err != nil {
			return nil, storeError(rejectionEntity, "list", "scan", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(rejectionEntity, "list", "rows", err)
	}
	return out, nil
}
