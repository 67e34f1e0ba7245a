package api

import (
	"context"
	"net/http"

	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/scheduler"
)

// Runner runs one scheduler pass.
type Runner interface {
	RunOnce(ctx context.Context) (*scheduler.Report, error)
}

// RunHandler triggers scheduler runs on demand.
type RunHandler struct {
	runner Runner
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(runner Runner) *RunHandler {
	return &RunHandler{runner: runner}
}

// RunOnce handles POST /api/run-once. The run is detached from the request
// context so a client disconnect does not abandon leased tasks.
func (h *RunHandler) RunOnce(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, report)
}
