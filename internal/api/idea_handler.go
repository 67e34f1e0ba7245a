package api

import (
	"context"
	"net/http"

	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/pipeline"
	"github.com/phrazzld/quill/internal/similarity"
	"github.com/phrazzld/quill/internal/store"
)

// IdeaService is the idea stage as used by the API.
type IdeaService interface {
	Generate(ctx context.Context, req pipeline.IdeaRequest) (*pipeline.IdeaResult, error)
	AddIdea(ctx context.Context, payload domain.IdeaPayload, priority int) (*domain.PipelineTask, error)
	CheckIdea(ctx context.Context, title string) (similarity.Verdict, error)
}

// IdeaHandler serves idea submission, generation and gate inspection.
type IdeaHandler struct {
	ideas      IdeaService
	rejections store.RejectionLog
}

// NewIdeaHandler creates an IdeaHandler. rejections may be nil, in which
// case the rejection listing is empty.
func NewIdeaHandler(ideas IdeaService, rejections store.RejectionLog) *IdeaHandler {
	return &IdeaHandler{ideas: ideas, rejections: rejections}
}

// AddIdea handles POST /api/ideas.
func (h *IdeaHandler) AddIdea(w http.ResponseWriter, r *http.Request) {
	var req AddIdeaRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	task, err := h.ideas.AddIdea(r.Context(), req.payload(), req.Priority)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusCreated, task)
}

// GenerateIdeas handles POST /api/ideas/generate.
func (h *IdeaHandler) GenerateIdeas(w http.ResponseWriter, r *http.Request) {
	var req GenerateIdeasRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	res, err := h.ideas.Generate(r.Context(), pipeline.IdeaRequest{
		Focus:    req.Focus,
		Audience: req.Audience,
		Count:    req.Count,
		Priority: req.Priority,
	})
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NewGenerateIdeasResponse(res))
}

// CheckIdea handles POST /api/ideas/check. Nothing is persisted.
func (h *IdeaHandler) CheckIdea(w http.ResponseWriter, r *http.Request) {
	var req CheckIdeaRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	verdict, err := h.ideas.CheckIdea(r.Context(), req.Title)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NewCheckIdeaResponse(verdict))
}

// ListRejections handles GET /api/rejections?limit=.
func (h *IdeaHandler) ListRejections(w http.ResponseWriter, r *http.Request) {
	limit, err := getLimit(r)
	if err != nil {
		HandleAPIError(w, r, err)
		return
	}

	out := []*domain.Rejection{}
	if h.rejections != nil {
		rejections, err := h.rejections.List(r.Context(), pipeline.IdeaTitleScope, limit)
		if err != nil {
			HandleAPIError(w, r, err)
			return
		}
		out = append(out, rejections...)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, RejectionListResponse{Rejections: out})
}
