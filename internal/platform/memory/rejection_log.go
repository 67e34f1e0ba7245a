package memory

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/store"
)

// RejectionLog implements store.RejectionLog in memory.
type RejectionLog struct {
	mu      sync.Mutex
	entries []domain.Rejection
}

var _ store.RejectionLog = (*RejectionLog)(nil)

// NewRejectionLog returns an empty RejectionLog.
func NewRejectionLog() *RejectionLog {
	return &RejectionLog{}
}

// Record implements store.RejectionLog.
func (l *RejectionLog) Record(ctx context.Context, rejection *domain.Rejection) error {
	if rejection == nil {
		return store.NewStoreError("rejection", "record", "rejection is nil", store.ErrInvalidEntity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rejection.ID = int64(len(l.entries) + 1)
	if rejection.CreatedAt.IsZero() {
		rejection.CreatedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, *rejection)
	return nil
}

// List implements store.RejectionLog. Newest entries come first; an empty
// scope matches every scope.
func (l *RejectionLog) List(ctx context.Context, scope string, limit int) ([]*domain.Rejection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*domain.Rejection
	for i := len(l.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if scope == "" || l.entries[i].Scope == scope {
			entry := l.entries[i]
			out = append(out, &entry)
		}
	}
	return out, nil
}
