package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/store"
)

// EmbeddingStore implements store.EmbeddingStore in memory.
type EmbeddingStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*domain.EmbeddingRecord
}

var _ store.EmbeddingStore = (*EmbeddingStore)(nil)

// NewEmbeddingStore returns an empty EmbeddingStore.
func NewEmbeddingStore() *EmbeddingStore {
	return &EmbeddingStore{records: make(map[int64]*domain.EmbeddingRecord)}
}

func cloneRecord(r *domain.EmbeddingRecord) *domain.EmbeddingRecord {
	c := *r
	c.Vector = append([]float32(nil), r.Vector...)
	return &c
}

// Insert implements store.EmbeddingStore.
func (s *EmbeddingStore) Insert(ctx context.Context, record *domain.EmbeddingRecord) error {
	if record == nil || record.Scope == "" || record.SourceID == "" || len(record.Vector) == 0 {
		return store.NewStoreError("embedding", "insert", "scope, source id and vector are required", store.ErrInvalidEntity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.Scope == record.Scope && existing.SourceID == record.SourceID {
			return store.NewStoreError("embedding", "insert",
				fmt.Sprintf("source %q already embedded in scope %q", record.SourceID, record.Scope), store.ErrDuplicate)
		}
	}

	s.nextID++
	record.ID = s.nextID
	record.CreatedAt = time.Now().UTC()
	s.records[record.ID] = cloneRecord(record)
	return nil
}

// ListByScope implements store.EmbeddingStore.
func (s *EmbeddingStore) ListByScope(ctx context.Context, scope string) ([]*domain.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.EmbeddingRecord
	for _, r := range s.records {
		if r.Scope == scope {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Replace implements store.EmbeddingStore.
func (s *EmbeddingStore) Replace(ctx context.Context, record *domain.EmbeddingRecord) error {
	if record == nil || record.Scope == "" || record.SourceID == "" || len(record.Vector) == 0 {
		return store.NewStoreError("embedding", "replace", "scope, source id and vector are required", store.ErrInvalidEntity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.records {
		if r.Scope == record.Scope && r.SourceID == record.SourceID {
			delete(s.records, id)
		}
	}
	s.nextID++
	record.ID = s.nextID
	record.CreatedAt = time.Now().UTC()
	s.records[record.ID] = cloneRecord(record)
	return nil
}

// DeleteBySource implements store.EmbeddingStore.
func (s *EmbeddingStore) DeleteBySource(ctx context.Context, scope, sourceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, r := range s.records {
		if r.Scope == scope && r.SourceID == sourceID {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored records.
func (s *EmbeddingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
