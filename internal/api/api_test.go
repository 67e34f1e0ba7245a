package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/quill/internal/auth"
	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/pipeline"
	"github.com/phrazzld/quill/internal/platform/memory"
	"github.com/phrazzld/quill/internal/scheduler"
	"github.com/phrazzld/quill/internal/similarity"
)

type fakeIdeas struct {
	GenerateFn  func(ctx context.Context, req pipeline.IdeaRequest) (*pipeline.IdeaResult, error)
	AddIdeaFn   func(ctx context.Context, payload domain.IdeaPayload, priority int) (*domain.PipelineTask, error)
	CheckIdeaFn func(ctx context.Context, title string) (similarity.Verdict, error)
}

func (f *fakeIdeas) Generate(ctx context.Context, req pipeline.IdeaRequest) (*pipeline.IdeaResult, error) {
	return f.GenerateFn(ctx, req)
}

func (f *fakeIdeas) AddIdea(ctx context.Context, payload domain.IdeaPayload, priority int) (*domain.PipelineTask, error) {
	return f.AddIdeaFn(ctx, payload, priority)
}

func (f *fakeIdeas) CheckIdea(ctx context.Context, title string) (similarity.Verdict, error) {
	return f.CheckIdeaFn(ctx, title)
}

type fakeRunner struct {
	RunOnceFn func(ctx context.Context) (*scheduler.Report, error)
}

func (f *fakeRunner) RunOnce(ctx context.Context) (*scheduler.Report, error) {
	return f.RunOnceFn(ctx)
}

type harness struct {
	tasks      *memory.TaskStore
	rejections *memory.RejectionLog
	ideas      *fakeIdeas
	runner     *fakeRunner
	server     *httptest.Server
	token      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tokens, err := auth.NewTokenService(config.APIConfig{
		Addr:      ":0",
		JWTSecret: "api-test-secret-that-is-long-enough-42",
		TokenTTL:  time.Hour,
	})
	require.NoError(t, err)
	token, _, err := tokens.IssueToken(context.Background(), "ops")
	require.NoError(t, err)

	h := &harness{
		tasks:      memory.NewTaskStore(),
		rejections: memory.NewRejectionLog(),
		ideas:      &fakeIdeas{},
		runner:     &fakeRunner{},
		token:      token,
	}
	router, err := NewRouter(Dependencies{
		Tasks:      h.tasks,
		Rejections: h.rejections,
		Ideas:      h.ideas,
		Runner:     h.runner,
		Tokens:     tokens,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Version:    "test",
	})
	require.NoError(t, err)
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+h.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (h *harness) createIdea(t *testing.T, title string) *domain.PipelineTask {
	t.Helper()
	task, err := h.tasks.CreateTask(context.Background(), domain.NewTaskSpec{
		Type:    domain.TaskTypeIdea,
		Payload: domain.IdeaPayload{Title: title, Audience: "Chemists"},
	})
	require.NoError(t, err)
	return task
}

func (h *harness) failIdea(t *testing.T, title string) *domain.PipelineTask {
	t.Helper()
	task := h.createIdea(t, title)
	leased, err := h.tasks.LeaseNextBatch(context.Background(), domain.TaskTypeIdea, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.NoError(t, h.tasks.Fail(context.Background(), task.ID, "model unavailable"))
	return task
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewRouter(Dependencies{})
	assert.ErrorContains(t, err, "task store")
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, err := h.server.Client().Get(h.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, HealthResponse{Status: "ok", Version: "test"}, decode[HealthResponse](t, data))
}

func TestAPIRequiresToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, err := h.server.Client().Get(h.server.URL + "/api/tasks?type=idea")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	idea := h.createIdea(t, "Foo")

	resp, data := h.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", idea.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	body := decode[map[string]any](t, data)
	assert.Equal(t, float64(idea.ID), body["id"])
	assert.Equal(t, "idea", body["task_type"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "Foo", body["title"])

	resp, data = h.do(t, http.MethodGet, "/api/tasks/9999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(data), "Task not found")

	resp, data = h.do(t, http.MethodGet, "/api/tasks/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "Invalid id")
}

func TestListTasks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.createIdea(t, "Foo")
	h.createIdea(t, "Bar")
	h.failIdea(t, "Baz")

	resp, data := h.do(t, http.MethodGet, "/api/tasks?type=idea", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	list := decode[struct {
		Tasks []map[string]any `json:"tasks"`
		Count int              `json:"count"`
	}](t, data)
	assert.Equal(t, 2, list.Count)
	assert.Len(t, list.Tasks, 2)

	resp, data = h.do(t, http.MethodGet, "/api/tasks?type=idea&status=failed&limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Contains(t, string(data), "model unavailable")

	resp, data = h.do(t, http.MethodGet, "/api/tasks?type=outline", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"tasks":[]`)

	for _, path := range []string{
		"/api/tasks",
		"/api/tasks?type=published-post",
		"/api/tasks?type=idea&status=done",
		"/api/tasks?type=idea&limit=0",
		"/api/tasks?type=idea&limit=501",
	} {
		resp, _ := h.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestCountTasks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.createIdea(t, "Foo")
	h.failIdea(t, "Bar")

	resp, data := h.do(t, http.MethodGet, "/api/tasks/counts?type=idea", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	counts := decode[TaskCountsResponse](t, data)
	assert.Equal(t, domain.TaskTypeIdea, counts.TaskType)
	assert.Equal(t, 1, counts.Counts[domain.TaskStatusPending])
	assert.Equal(t, 1, counts.Counts[domain.TaskStatusFailed])
}

func TestRequeueTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	failed := h.failIdea(t, "Foo")
	pending := h.createIdea(t, "Bar")

	resp, data := h.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/requeue", failed.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	body := decode[map[string]any](t, data)
	assert.Equal(t, "pending", body["status"])
	assert.NotContains(t, body, "error_message")

	resp, data = h.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/requeue", pending.ID), "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(data), "does not allow")

	resp, _ = h.do(t, http.MethodPost, "/api/tasks/9999/requeue", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReclaimTasks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.createIdea(t, "Foo")
	leased, err := h.tasks.LeaseNextBatch(context.Background(), domain.TaskTypeIdea, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	resp, data := h.do(t, http.MethodPost, "/api/tasks/reclaim", `{"task_type":"idea","older_than":"1h"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, ReclaimResponse{Reclaimed: []int64{}}, decode[ReclaimResponse](t, data))

	time.Sleep(5 * time.Millisecond)
	resp, data = h.do(t, http.MethodPost, "/api/tasks/reclaim", `{"task_type":"idea","older_than":"1ms"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, []int64{leased[0].ID}, decode[ReclaimResponse](t, data).Reclaimed)

	for _, body := range []string{
		`{"task_type":"idea","older_than":"soon"}`,
		`{"task_type":"idea","older_than":"-5m"}`,
		`{"task_type":"published","older_than":"5m"}`,
		`{"task_type":"idea"}`,
		`not json`,
	} {
		resp, _ := h.do(t, http.MethodPost, "/api/tasks/reclaim", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestRunOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var ctxErr error
	h.runner.RunOnceFn = func(ctx context.Context) (*scheduler.Report, error) {
		ctxErr = ctx.Err()
		return &scheduler.Report{
			RunID:     "run-1",
			Processed: map[domain.TaskType]int{domain.TaskTypeIdea: 2},
			Succeeded: map[domain.TaskType]int{domain.TaskTypeIdea: 1},
			Failed:    map[domain.TaskType]int{domain.TaskTypeIdea: 1},
			Errors:    []string{"outline task 3: boom"},
		}, nil
	}

	resp, data := h.do(t, http.MethodPost, "/api/run-once", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.NoError(t, ctxErr)
	report := decode[scheduler.Report](t, data)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 2, report.Processed[domain.TaskTypeIdea])
	assert.Equal(t, []string{"outline task 3: boom"}, report.Errors)

	h.runner.RunOnceFn = func(context.Context) (*scheduler.Report, error) {
		return nil, scheduler.ErrRunInProgress
	}
	resp, data = h.do(t, http.MethodPost, "/api/run-once", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(data), "already in progress")
}

func TestAddIdea(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var got domain.IdeaPayload
	h.ideas.AddIdeaFn = func(ctx context.Context, payload domain.IdeaPayload, priority int) (*domain.PipelineTask, error) {
		got = payload
		if payload.Title == "Dup" {
			return nil, fmt.Errorf("add idea: %w", pipeline.ErrDuplicateIdea)
		}
		return &domain.PipelineTask{ID: 7, Type: domain.TaskTypeIdea, Status: domain.TaskStatusPending, Payload: payload, Priority: priority}, nil
	}

	resp, data := h.do(t, http.MethodPost, "/api/ideas",
		`{"title":"Foo","audience":"Chemists","keywords":["a","b"],"priority":3}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	assert.Equal(t, domain.IdeaPayload{Title: "Foo", Audience: "Chemists", Keywords: []string{"a", "b"}}, got)
	body := decode[map[string]any](t, data)
	assert.Equal(t, float64(7), body["id"])
	assert.Equal(t, float64(3), body["priority"])

	resp, data = h.do(t, http.MethodPost, "/api/ideas", `{"title":"Dup","audience":"Chemists"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(data), "duplicates an existing idea")

	resp, data = h.do(t, http.MethodPost, "/api/ideas", `{"audience":"Chemists"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "Invalid Title: required field")
}

func TestGenerateIdeas(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var got pipeline.IdeaRequest
	h.ideas.GenerateFn = func(ctx context.Context, req pipeline.IdeaRequest) (*pipeline.IdeaResult, error) {
		got = req
		if req.Focus == "down" {
			return nil, fmt.Errorf("idea generation failed after 3 attempt(s): %w", generation.ErrTransientFailure)
		}
		return &pipeline.IdeaResult{
			Created:  []*domain.PipelineTask{{ID: 1, Type: domain.TaskTypeIdea, Status: domain.TaskStatusPending}},
			Rejected: []pipeline.Rejected{{Title: "Old", Reason: "near-duplicate", NearestID: "old", Similarity: 0.97}},
		}, nil
	}

	resp, data := h.do(t, http.MethodPost, "/api/ideas/generate", `{"focus":"catalysis","audience":"Chemists","count":2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, pipeline.IdeaRequest{Focus: "catalysis", Audience: "Chemists", Count: 2}, got)
	out := decode[GenerateIdeasResponse](t, data)
	require.Len(t, out.Created, 1)
	assert.Equal(t, []RejectedIdea{{Title: "Old", Reason: "near-duplicate", NearestID: "old", Similarity: 0.97}}, out.Rejected)

	resp, data = h.do(t, http.MethodPost, "/api/ideas/generate", `{"focus":"down","audience":"Chemists"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(data), "Model service unavailable")

	resp, _ = h.do(t, http.MethodPost, "/api/ideas/generate", `{"focus":"x","audience":"y","count":99}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckIdea(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.ideas.CheckIdeaFn = func(ctx context.Context, title string) (similarity.Verdict, error) {
		if title == "broken" {
			return similarity.Verdict{}, errors.New("embedding store: connection reset")
		}
		return similarity.Verdict{
			Duplicate: true,
			Nearest:   &similarity.Match{RecordID: 4, SourceID: "foo", Text: "Foo", Similarity: 0.88},
		}, nil
	}

	resp, data := h.do(t, http.MethodPost, "/api/ideas/check", `{"title":"Foo!"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, CheckIdeaResponse{
		Duplicate: true,
		Nearest:   &NearestIdea{SourceID: "foo", Text: "Foo", Similarity: 0.88},
	}, decode[CheckIdeaResponse](t, data))

	resp, data = h.do(t, http.MethodPost, "/api/ideas/check", `{"title":"broken"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, string(data), "connection reset")
}

func TestListRejections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.rejections.Record(ctx, &domain.Rejection{
		Scope: pipeline.IdeaTitleScope, CandidateText: "FOO", NearestSourceID: "foo", Similarity: 1, Threshold: 0.9,
	}))
	require.NoError(t, h.rejections.Record(ctx, &domain.Rejection{
		Scope: "other", CandidateText: "x", NearestSourceID: "y", Similarity: 0.95, Threshold: 0.9,
	}))

	resp, data := h.do(t, http.MethodGet, "/api/rejections?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	out := decode[RejectionListResponse](t, data)
	require.Len(t, out.Rejections, 1)
	assert.Equal(t, "FOO", out.Rejections[0].CandidateText)
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp, data := h.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(data), "Route not found")
}
