package api

import (
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/pipeline"
	"github.com/phrazzld/quill/internal/similarity"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// TaskListResponse wraps a page of tasks.
type TaskListResponse struct {
	Tasks []*domain.PipelineTask `json:"tasks"`
	Count int                    `json:"count"`
}

// TaskCountsResponse is returned by GET /api/tasks/counts.
type TaskCountsResponse struct {
	TaskType domain.TaskType           `json:"task_type"`
	Counts   map[domain.TaskStatus]int `json:"counts"`
}

// ReclaimRequest asks for stale in-progress tasks of one type to be re-queued.
type ReclaimRequest struct {
	TaskType  string `json:"task_type"  validate:"required,oneof=idea outline draft"`
	OlderThan string `json:"older_than" validate:"required"`
}

// ReclaimResponse lists the re-queued task ids.
type ReclaimResponse struct {
	Reclaimed []int64 `json:"reclaimed"`
}

// AddIdeaRequest submits a hand-written idea.
type AddIdeaRequest struct {
	Title    string   `json:"title"    validate:"required,max=300"`
	Audience string   `json:"audience" validate:"required,max=200"`
	Angle    string   `json:"angle,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty" validate:"omitempty,dive,required"`
	Focus    string   `json:"focus,omitempty"`
	Priority int      `json:"priority"`
}

func (r AddIdeaRequest) payload() domain.IdeaPayload {
	return domain.IdeaPayload{
		Title:    r.Title,
		Audience: r.Audience,
		Angle:    r.Angle,
		Summary:  r.Summary,
		Keywords: r.Keywords,
		Focus:    r.Focus,
	}
}

// GenerateIdeasRequest triggers the idea stage.
type GenerateIdeasRequest struct {
	Focus    string `json:"focus"    validate:"required"`
	Audience string `json:"audience" validate:"required"`
	Count    int    `json:"count"    validate:"gte=0,lte=20"`
	Priority int    `json:"priority"`
}

// RejectedIdea is one candidate the idea stage skipped.
type RejectedIdea struct {
	Title      string  `json:"title"`
	Reason     string  `json:"reason"`
	NearestID  string  `json:"nearest_id,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// GenerateIdeasResponse summarizes an idea generation request.
type GenerateIdeasResponse struct {
	Created  []*domain.PipelineTask `json:"created"`
	Rejected []RejectedIdea         `json:"rejected"`
}

// NewGenerateIdeasResponse converts a pipeline result, never emitting null lists.
func NewGenerateIdeasResponse(res *pipeline.IdeaResult) GenerateIdeasResponse {
	out := GenerateIdeasResponse{
		Created:  res.Created,
		Rejected: make([]RejectedIdea, 0, len(res.Rejected)),
	}
	if out.Created == nil {
		out.Created = []*domain.PipelineTask{}
	}
	for _, r := range res.Rejected {
		out.Rejected = append(out.Rejected, RejectedIdea(r))
	}
	return out
}

// CheckIdeaRequest asks whether a title would be flagged as a near-duplicate.
type CheckIdeaRequest struct {
	Title string `json:"title" validate:"required,max=300"`
}

// NearestIdea is the closest stored title.
type NearestIdea struct {
	SourceID   string  `json:"source_id"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// CheckIdeaResponse is the soft duplicate check result.
type CheckIdeaResponse struct {
	Duplicate bool         `json:"duplicate"`
	Degraded  bool         `json:"degraded"`
	Nearest   *NearestIdea `json:"nearest,omitempty"`
}

// NewCheckIdeaResponse converts a gate verdict.
func NewCheckIdeaResponse(v similarity.Verdict) CheckIdeaResponse {
	out := CheckIdeaResponse{Duplicate: v.Duplicate, Degraded: v.Degraded}
	if v.Nearest != nil {
		out.Nearest = &NearestIdea{
			SourceID:   v.Nearest.SourceID,
			Text:       v.Nearest.Text,
			Similarity: v.Nearest.Similarity,
		}
	}
	return out
}

// RejectionListResponse wraps gate rejections.
type RejectionListResponse struct {
	Rejections []*domain.Rejection `json:"rejections"`
}
