package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/pipeline"
	"github.com/phrazzld/quill/internal/scheduler"
	"github.com/phrazzld/quill/internal/store"
)

// MapErrorToStatusCode maps domain, store and pipeline errors to HTTP status codes.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, pipeline.ErrDuplicateIdea),
		errors.Is(err, scheduler.ErrRunInProgress):
		return http.StatusConflict

	case errors.Is(err, generation.ErrContentBlocked):
		return http.StatusUnprocessableEntity

	case errors.Is(err, generation.ErrTransientFailure):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err that never
// includes driver, SDK or connection details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var (
		verr *domain.ValidationError
		rerr *requestError
	)
	switch {
	case errors.As(err, &rerr):
		return rerr.Error()
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, domain.ErrValidation):
		return "Validation error"
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return "Task status does not allow this action"
	case errors.Is(err, pipeline.ErrDuplicateIdea):
		return "Idea duplicates an existing idea"
	case errors.Is(err, store.ErrDuplicate):
		return "Already exists"
	case errors.Is(err, scheduler.ErrRunInProgress):
		return "A pipeline run is already in progress"
	case errors.Is(err, generation.ErrContentBlocked):
		return "Content blocked by model safety filters"
	case errors.Is(err, generation.ErrTransientFailure):
		return "Model service unavailable, try again later"
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status and safe message for err and logs
// the redacted detail.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}

// validationMessage turns a request validation failure into a short
// client-facing message naming the first offending field.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}
	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), validationTagMessage(fe.Tag()))
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "max":
		return "too long"
	case "min", "gte":
		return "too small"
	case "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
