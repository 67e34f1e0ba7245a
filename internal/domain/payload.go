package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Payload is the tagged union of per-type task payloads. The tag is the owning
// task's Type; a payload is only trusted once Validate has passed.
type Payload interface {
	TaskType() TaskType
	Validate() error
	Projection() Projection
}

// Projection holds the payload fields denormalized onto PipelineTask.
type Projection struct {
	Title    string
	Summary  string
	Audience string
	Keywords []string
}

// IdeaPayload is a candidate topic produced by the idea stage or added by an editor.
type IdeaPayload struct {
	Title    string   `json:"title" validate:"required,max=300"`
	Audience string   `json:"audience" validate:"required,max=200"`
	Angle    string   `json:"angle,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty" validate:"omitempty,dive,required"`
	Focus    string   `json:"focus,omitempty"`
	Source   string   `json:"source,omitempty" validate:"omitempty,oneof=model manual"`
}

// TaskType implements Payload.
func (IdeaPayload) TaskType() TaskType { return TaskTypeIdea }

// Validate implements Payload.
func (p IdeaPayload) Validate() error { return validateStruct(TaskTypeIdea, p) }

// Projection implements Payload.
func (p IdeaPayload) Projection() Projection {
	return Projection{Title: p.Title, Summary: p.Summary, Audience: p.Audience, Keywords: p.Keywords}
}

// OutlineSection is one section of an outline with point-level guidance.
type OutlineSection struct {
	Heading string   `json:"heading" validate:"required"`
	Points  []string `json:"points" validate:"required,min=1,dive,required"`
}

// SEOMetadata carries search metadata planned at outline time.
type SEOMetadata struct {
	PrimaryKeyword    string   `json:"primary_keyword" validate:"required"`
	SecondaryKeywords []string `json:"secondary_keywords,omitempty"`
	MetaDescription   string   `json:"meta_description" validate:"required,max=320"`
	Slug              string   `json:"slug,omitempty"`
}

// OutlinePayload is the structured plan for one piece of content.
type OutlinePayload struct {
	Title    string           `json:"title" validate:"required,max=300"`
	Hook     string           `json:"hook" validate:"required"`
	Audience string           `json:"audience,omitempty"`
	Sections []OutlineSection `json:"sections" validate:"required,min=1,dive"`
	SEO      SEOMetadata      `json:"seo" validate:"required"`
}

// TaskType implements Payload.
func (OutlinePayload) TaskType() TaskType { return TaskTypeOutline }

// Validate implements Payload.
func (p OutlinePayload) Validate() error { return validateStruct(TaskTypeOutline, p) }

// Projection implements Payload.
func (p OutlinePayload) Projection() Projection {
	keywords := make([]string, 0, 1+len(p.SEO.SecondaryKeywords))
	keywords = append(keywords, p.SEO.PrimaryKeyword)
	keywords = append(keywords, p.SEO.SecondaryKeywords...)
	return Projection{Title: p.Title, Summary: p.Hook, Audience: p.Audience, Keywords: keywords}
}

// DraftPayload is rendered prose. Outline is the exact upstream outline payload
// the draft was expanded from, kept for audit traceability.
type DraftPayload struct {
	OutlineTaskID   int64          `json:"outline_task_id" validate:"required,gt=0"`
	Outline         OutlinePayload `json:"outline" validate:"required"`
	Title           string         `json:"title" validate:"required"`
	Content         string         `json:"content" validate:"required"`
	WordCount       int            `json:"word_count" validate:"gt=0"`
	PrimaryKeyword  string         `json:"primary_keyword" validate:"required"`
	MetaDescription string         `json:"meta_description,omitempty" validate:"max=320"`
	Audience        string         `json:"audience,omitempty"`
}

// TaskType implements Payload.
func (DraftPayload) TaskType() TaskType { return TaskTypeDraft }

// Validate implements Payload.
func (p DraftPayload) Validate() error { return validateStruct(TaskTypeDraft, p) }

// Projection implements Payload.
func (p DraftPayload) Projection() Projection {
	return Projection{
		Title:    p.Title,
		Summary:  p.MetaDescription,
		Audience: p.Audience,
		Keywords: []string{p.PrimaryKeyword},
	}
}

// PublishedPayload records where an external publisher placed a draft.
type PublishedPayload struct {
	DraftTaskID int64     `json:"draft_task_id" validate:"required,gt=0"`
	Title       string    `json:"title" validate:"required"`
	URL         string    `json:"url" validate:"required,url"`
	ExternalID  string    `json:"external_id,omitempty"`
	PublishedAt time.Time `json:"published_at" validate:"required"`
}

// TaskType implements Payload.
func (PublishedPayload) TaskType() TaskType { return TaskTypePublished }

// Validate implements Payload.
func (p PublishedPayload) Validate() error { return validateStruct(TaskTypePublished, p) }

// Projection implements Payload.
func (p PublishedPayload) Projection() Projection {
	return Projection{Title: p.Title}
}

// ValidatePayloadFor checks that p belongs to taskType and matches its shape.
func ValidatePayloadFor(taskType TaskType, p Payload) error {
	if p == nil {
		return NewValidationError(taskType, "", "payload is required")
	}
	if p.TaskType() != taskType {
		return NewValidationError(taskType, "", fmt.Sprintf("got %s payload", p.TaskType()))
	}
	return p.Validate()
}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("cannot encode nil payload")
	}
	return json.Marshal(p)
}

// DecodePayload parses raw JSON into the payload type for taskType and validates it.
func DecodePayload(taskType TaskType, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch taskType {
	case TaskTypeIdea:
		var v IdeaPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TaskTypeOutline:
		var v OutlinePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TaskTypeDraft:
		var v DraftPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TaskTypePublished:
		var v PublishedPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaskType, taskType)
	}
	if err != nil {
		return nil, NewValidationError(taskType, "", "malformed JSON: "+err.Error())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func validateStruct(taskType TaskType, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return NewValidationError(taskType, fieldPath(fe.Namespace()), describeTag(fe))
	}
	return NewValidationError(taskType, "", err.Error())
}

// fieldPath drops the struct name prefix from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "exceeds maximum length " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a URL"
	}
	return "failed " + fe.Tag() + " check"
}
