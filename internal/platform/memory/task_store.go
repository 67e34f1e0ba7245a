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

const taskEntity = "pipeline_task"

type relatedKey struct {
	taskType domain.TaskType
	related  int64
}

// TaskStore implements store.TaskStore in memory.
type TaskStore struct {
	mu        sync.Mutex
	nextID    int64
	tasks     map[int64]*domain.PipelineTask
	byRelated map[relatedKey]int64
	now       func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// Option configures a TaskStore.
type Option func(*TaskStore)

// WithClock replaces time.Now, for tests that age leases.
func WithClock(now func() time.Time) Option {
	return func(s *TaskStore) { s.now = now }
}

// NewTaskStore returns an empty TaskStore.
func NewTaskStore(opts ...Option) *TaskStore {
	s := &TaskStore{
		tasks:     make(map[int64]*domain.PipelineTask),
		byRelated: make(map[relatedKey]int64),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cloneTask(t *domain.PipelineTask) *domain.PipelineTask {
	c := *t
	if t.RelatedTaskID != nil {
		c.RelatedTaskID = domain.Int64Ptr(*t.RelatedTaskID)
	}
	if t.ParentTaskID != nil {
		c.ParentTaskID = domain.Int64Ptr(*t.ParentTaskID)
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	if t.Keywords != nil {
		c.Keywords = append([]string(nil), t.Keywords...)
	}
	return &c
}

// CreateTask implements store.TaskStore.
func (s *TaskStore) CreateTask(ctx context.Context, spec domain.NewTaskSpec) (*domain.PipelineTask, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if spec.RelatedTaskID != nil {
		key := relatedKey{taskType: spec.Type, related: *spec.RelatedTaskID}
		if id, ok := s.byRelated[key]; ok {
			return cloneTask(s.tasks[id]), nil
		}
	}

	now := s.now().UTC()
	s.nextID++
	task := &domain.PipelineTask{
		ID:        s.nextID,
		Type:      spec.Type,
		Status:    domain.TaskStatusPending,
		Payload:   spec.Payload,
		Priority:  spec.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if spec.RelatedTaskID != nil {
		task.RelatedTaskID = domain.Int64Ptr(*spec.RelatedTaskID)
		s.byRelated[relatedKey{taskType: spec.Type, related: *spec.RelatedTaskID}] = task.ID
	}
	if spec.ParentTaskID != nil {
		task.ParentTaskID = domain.Int64Ptr(*spec.ParentTaskID)
	}
	task.ApplyProjection()

	s.tasks[task.ID] = task
	return cloneTask(task), nil
}

// sortedLocked returns tasks matching keep in lease order. Callers hold mu.
func (s *TaskStore) sortedLocked(keep func(*domain.PipelineTask) bool) []*domain.PipelineTask {
	var out []*domain.PipelineTask
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// LeaseNextBatch implements store.TaskStore.
func (s *TaskStore) LeaseNextBatch(ctx context.Context, taskType domain.TaskType, limit int) ([]*domain.PipelineTask, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.sortedLocked(func(t *domain.PipelineTask) bool {
		return t.Type == taskType && t.Status == domain.TaskStatusPending
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := s.now().UTC()
	leased := make([]*domain.PipelineTask, 0, len(pending))
	for _, t := range pending {
		if err := domain.CheckTransition(t.Status, domain.TaskStatusInProgress); err != nil {
			return nil, store.NewStoreError(taskEntity, "lease", fmt.Sprintf("task %d", t.ID), err)
		}
		t.Status = domain.TaskStatusInProgress
		t.UpdatedAt = now
		leased = append(leased, cloneTask(t))
	}
	return leased, nil
}

// transitionLocked returns task id if the pipeline may move it to `to`.
// Callers hold mu.
func (s *TaskStore) transitionLocked(op string, id int64, to domain.TaskStatus) (*domain.PipelineTask, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.NewStoreError(taskEntity, op, fmt.Sprintf("task %d", id), store.ErrTaskNotFound)
	}
	if err := domain.CheckTransition(t.Status, to); err != nil {
		return nil, store.NewStoreError(taskEntity, op, fmt.Sprintf("task %d is %s", id, t.Status), err)
	}
	return t, nil
}

// Complete implements store.TaskStore.
func (s *TaskStore) Complete(ctx context.Context, id int64, result domain.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transitionLocked("complete", id, domain.TaskStatusCompleted)
	if err != nil {
		return err
	}
	if result != nil {
		if err := domain.ValidatePayloadFor(t.Type, result); err != nil {
			return err
		}
		t.Payload = result
		t.ApplyProjection()
	}

	now := s.now().UTC()
	t.Status = domain.TaskStatusCompleted
	t.ErrorMessage = ""
	t.UpdatedAt = now
	t.CompletedAt = &now
	return nil
}

// Fail implements store.TaskStore.
func (s *TaskStore) Fail(ctx context.Context, id int64, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transitionLocked("fail", id, domain.TaskStatusFailed)
	if err != nil {
		return err
	}
	t.Status = domain.TaskStatusFailed
	t.ErrorMessage = store.FailureMessage(errorMessage)
	t.UpdatedAt = s.now().UTC()
	return nil
}

// FindByID implements store.TaskStore.
func (s *TaskStore) FindByID(ctx context.Context, id int64) (*domain.PipelineTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// ListByTypeAndStatus implements store.TaskStore.
func (s *TaskStore) ListByTypeAndStatus(ctx context.Context, taskType domain.TaskType, status domain.TaskStatus, limit int) ([]*domain.PipelineTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.sortedLocked(func(t *domain.PipelineTask) bool {
		return t.Type == taskType && t.Status == status
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*domain.PipelineTask, 0, len(matched))
	for _, t := range matched {
		out = append(out, cloneTask(t))
	}
	return out, nil
}

// RecentTitles implements store.TaskStore.
func (s *TaskStore) RecentTitles(ctx context.Context, taskType domain.TaskType, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.PipelineTask
	for _, t := range s.tasks {
		if t.Type == taskType && t.Title != "" {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	titles := make([]string, 0, len(matched))
	for _, t := range matched {
		titles = append(titles, t.Title)
	}
	return titles, nil
}

// CountByStatus implements store.TaskStore.
func (s *TaskStore) CountByStatus(ctx context.Context, taskType domain.TaskType) (map[domain.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range s.tasks {
		if t.Type == taskType {
			counts[t.Status]++
		}
	}
	return counts, nil
}

// Requeue implements store.TaskStore.
func (s *TaskStore) Requeue(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.NewStoreError(taskEntity, "requeue", fmt.Sprintf("task %d", id), store.ErrTaskNotFound)
	}
	to, err := domain.CheckOperatorAction(domain.OperatorRequeue, t.Status)
	if err != nil {
		return store.NewStoreError(taskEntity, "requeue", fmt.Sprintf("task %d is %s", id, t.Status), err)
	}
	t.Status = to
	t.ErrorMessage = ""
	t.UpdatedAt = s.now().UTC()
	return nil
}

// ReclaimStale implements store.TaskStore.
func (s *TaskStore) ReclaimStale(ctx context.Context, taskType domain.TaskType, olderThan time.Duration) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cutoff := now.Add(-olderThan)
	stale := s.sortedLocked(func(t *domain.PipelineTask) bool {
		return t.Type == taskType && t.UpdatedAt.Before(cutoff)
	})

	ids := make([]int64, 0, len(stale))
	for _, t := range stale {
		to, err := domain.CheckOperatorAction(domain.OperatorReclaim, t.Status)
		if err != nil {
			continue
		}
		t.Status = to
		t.UpdatedAt = now
		ids = append(ids, t.ID)
	}
	return ids, nil
}
