package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apiMiddleware "github.com/phrazzld/quill/internal/api/middleware"
	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/auth"
	"github.com/phrazzld/quill/internal/store"
)

// Dependencies are the services the router wires into handlers.
type Dependencies struct {
	Tasks      store.TaskStore
	Rejections store.RejectionLog
	Ideas      IdeaService
	Runner     Runner
	Tokens     auth.TokenService
	Logger     *slog.Logger
	Version    string
}

// NewRouter builds the operator API router.
func NewRouter(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Tasks == nil:
		return nil, errors.New("api: task store is required")
	case deps.Ideas == nil:
		return nil, errors.New("api: idea service is required")
	case deps.Runner == nil:
		return nil, errors.New("api: runner is required")
	case deps.Tokens == nil:
		return nil, errors.New("api: token service is required")
	}

	tasks := NewTaskHandler(deps.Tasks)
	ideas := NewIdeaHandler(deps.Ideas, deps.Rejections)
	runs := NewRunHandler(deps.Runner)
	authMiddleware := apiMiddleware.NewAuthMiddleware(deps.Tokens)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(apiMiddleware.NewTraceMiddleware(deps.Logger))
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Version: deps.Version})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Get("/tasks", tasks.ListTasks)
		r.Get("/tasks/counts", tasks.CountTasks)
		r.Get("/tasks/{id}", tasks.GetTask)
		r.Post("/tasks/{id}/requeue", tasks.RequeueTask)
		r.Post("/tasks/reclaim", tasks.ReclaimTasks)

		r.Post("/run-once", runs.RunOnce)

		r.Post("/ideas", ideas.AddIdea)
		r.Post("/ideas/generate", ideas.GenerateIdeas)
		r.Post("/ideas/check", ideas.CheckIdea)
		r.Get("/rejections", ideas.ListRejections)
	})

	return r, nil
}
