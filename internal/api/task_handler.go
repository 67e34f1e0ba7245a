package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/store"
)

// TaskHandler serves task inspection and operator recovery actions.
type TaskHandler struct {
	tasks store.TaskStore
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(tasks store.TaskStore) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	task, err := h.tasks.FindByID(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// ListTasks handles GET /api/tasks?type=&status=&limit=. Status defaults to pending.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	taskType, err := getTaskType(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	status := domain.TaskStatusPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		if status, err = domain.ParseTaskStatus(raw); err != nil {
			HandleAPIError(w, r, invalidParam("status", err.Error()))
			return
		}
	}
	limit, err := getLimit(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	tasks, err := h.tasks.ListByTypeAndStatus(r.Context(), taskType, status, limit)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.PipelineTask{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{Tasks: tasks, Count: len(tasks)})
}

// CountTasks handles GET /api/tasks/counts?type=.
func (h *TaskHandler) CountTasks(w http.ResponseWriter, r *http.Request) {
	taskType, err := getTaskType(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	counts, err := h.tasks.CountByStatus(r.Context(), taskType)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskCountsResponse{TaskType: taskType, Counts: counts})
}

// RequeueTask handles POST /api/tasks/{id}/requeue, moving a failed task back to pending.
func (h *TaskHandler) RequeueTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	if err := h.tasks.Requeue(ctx, id); err != nil {
		HandleAPIError(w, r, err)
		return
	}
	logger.FromContextOrDefault(ctx).InfoContext(ctx, "task requeued by operator",
		slog.Int64("task_id", id))

	task, err := h.tasks.FindByID(ctx, id)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// ReclaimTasks handles POST /api/tasks/reclaim, re-queuing in_progress tasks
// whose lease is older than the given duration.
func (h *TaskHandler) ReclaimTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ReclaimRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}
	olderThan, err := time.ParseDuration(req.OlderThan)
	if err != nil || olderThan <= 0 {
		HandleAPIError(w, r, invalidParam("older_than", "must be a positive duration such as 30m"))
		return
	}

	ids, err := h.tasks.ReclaimStale(ctx, domain.TaskType(req.TaskType), olderThan)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	logger.FromContextOrDefault(ctx).InfoContext(ctx, "stale tasks reclaimed by operator",
		slog.String("task_type", req.TaskType),
		slog.Duration("older_than", olderThan),
		slog.Int("count", len(ids)))
	shared.RespondWithJSON(w, r, http.StatusOK, ReclaimResponse{Reclaimed: ids})
}
