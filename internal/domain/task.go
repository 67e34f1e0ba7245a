package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskType is one stage of the ordered content pipeline.
type TaskType string

// Pipeline stages, in order.
const (
	TaskTypeIdea      TaskType = "idea"
	TaskTypeOutline   TaskType = "outline"
	TaskTypeDraft     TaskType = "draft"
	TaskTypePublished TaskType = "published"
)

// stageOrder is the canonical ordering of task types. Index n+1 is produced
// from a task at index n.
var stageOrder = []TaskType{
	TaskTypeIdea,
	TaskTypeOutline,
	TaskTypeDraft,
	TaskTypePublished,
}

// ParseTaskType converts a string into a TaskType.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskType, s)
	}
	return t, nil
}

// Valid reports whether t is part of the pipeline.
func (t TaskType) Valid() bool {
	return t.Index() >= 0
}

// Index returns the position of t in the pipeline, or -1.
func (t TaskType) Index() int {
	for i, s := range stageOrder {
		if s == t {
			return i
		}
	}
	return -1
}

// Next returns the stage a completed task of type t produces.
func (t TaskType) Next() (TaskType, bool) {
	i := t.Index()
	if i < 0 || i+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[i+1], true
}

// Produces reports whether a task of type t may create a task of type next.
func (t TaskType) Produces(next TaskType) bool {
	n, ok := t.Next()
	return ok && n == next
}

// TaskStatus is the processing state of a PipelineTask.
type TaskStatus string

// Task status values.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// ParseTaskStatus converts a string into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTaskStatus, s)
}

// automatic edges are taken by the scheduler and stage processors.
var automaticTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed},
}

// OperatorAction is a manual recovery step; the pipeline never takes one.
type OperatorAction string

// Operator actions.
const (
	// OperatorRequeue moves a failed task back to pending.
	OperatorRequeue OperatorAction = "requeue"
	// OperatorReclaim moves a lease abandoned by a crashed run back to pending.
	OperatorReclaim OperatorAction = "reclaim"
)

type edge struct {
	from, to TaskStatus
}

var operatorActions = map[OperatorAction]edge{
	OperatorRequeue: {TaskStatusFailed, TaskStatusPending},
	OperatorReclaim: {TaskStatusInProgress, TaskStatusPending},
}

// CanTransition reports whether the pipeline itself may move a task from -> to.
func CanTransition(from, to TaskStatus) bool {
	return hasEdge(automaticTransitions, from, to)
}

// CheckOperatorAction returns the status action moves a task in status from
// to, or ErrInvalidTransition when action does not apply to from.
func CheckOperatorAction(action OperatorAction, from TaskStatus) (TaskStatus, error) {
	e, ok := operatorActions[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown operator action %q", ErrInvalidTransition, action)
	}
	if e.from != from {
		return "", fmt.Errorf("%w: cannot %s a %s task", ErrInvalidTransition, action, from)
	}
	return e.to, nil
}

func hasEdge(edges map[TaskStatus][]TaskStatus, from, to TaskStatus) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition unless from -> to is an automatic edge.
func CheckTransition(from, to TaskStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// CheckAdvance returns ErrInvalidLineage unless task may create a task of
// type next: task must be in progress and next must be the following stage.
func CheckAdvance(task *PipelineTask, next TaskType) error {
	if task.Status != TaskStatusInProgress {
		return fmt.Errorf("%w: %s task %d is %s, not in_progress", ErrInvalidLineage, task.Type, task.ID, task.Status)
	}
	if !task.Type.Produces(next) {
		return fmt.Errorf("%w: %s task cannot produce %s", ErrInvalidLineage, task.Type, next)
	}
	return nil
}

// PipelineTask is the persisted unit of pipeline work.
//
// TargetAudience, Title, Summary and Keywords are projections of Payload kept
// for listing without decoding the payload. ErrorMessage is set only while
// Status is failed.
type PipelineTask struct {
	ID             int64      `json:"id"`
	Type           TaskType   `json:"task_type"`
	Status         TaskStatus `json:"status"`
	Payload        Payload    `json:"payload"`
	RelatedTaskID  *int64     `json:"related_task_id,omitempty"`
	ParentTaskID   *int64     `json:"parent_task_id,omitempty"`
	Priority       int        `json:"priority"`
	TargetAudience string     `json:"target_audience,omitempty"`
	Title          string     `json:"title,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	Keywords       []string   `json:"keywords,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// NewTaskSpec describes a task to insert. The store assigns ID, status and timestamps.
type NewTaskSpec struct {
	Type          TaskType
	Payload       Payload
	RelatedTaskID *int64
	ParentTaskID  *int64
	Priority      int
}

// Validate checks the spec before it reaches the store.
func (s NewTaskSpec) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskType, s.Type)
	}
	return ValidatePayloadFor(s.Type, s.Payload)
}

// ApplyProjection copies the payload's denormalized fields onto the task.
func (t *PipelineTask) ApplyProjection() {
	if t.Payload == nil {
		return
	}
	p := t.Payload.Projection()
	t.TargetAudience = p.Audience
	t.Title = p.Title
	t.Summary = p.Summary
	t.Keywords = p.Keywords
}

// Idea returns the task's payload as an IdeaPayload.
func (t *PipelineTask) Idea() (IdeaPayload, error) {
	p, ok := t.Payload.(IdeaPayload)
	if !ok {
		return IdeaPayload{}, fmt.Errorf("%w: task %d is %s", ErrPayloadTypeMismatch, t.ID, t.Type)
	}
	return p, nil
}

// Outline returns the task's payload as an OutlinePayload.
func (t *PipelineTask) Outline() (OutlinePayload, error) {
	p, ok := t.Payload.(OutlinePayload)
	if !ok {
		return OutlinePayload{}, fmt.Errorf("%w: task %d is %s", ErrPayloadTypeMismatch, t.ID, t.Type)
	}
	return p, nil
}

// Draft returns the task's payload as a DraftPayload.
func (t *PipelineTask) Draft() (DraftPayload, error) {
	p, ok := t.Payload.(DraftPayload)
	if !ok {
		return DraftPayload{}, fmt.Errorf("%w: task %d is %s", ErrPayloadTypeMismatch, t.ID, t.Type)
	}
	return p, nil
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
