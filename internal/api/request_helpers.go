package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/quill/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// requestError is a malformed path or query parameter.
type requestError struct {
	field  string
	reason string
}

func invalidParam(field, reason string) error {
	return &requestError{field: field, reason: reason}
}

func (e *requestError) Error() string { return fmt.Sprintf("Invalid %s: %s", e.field, e.reason) }

// Unwrap lets the error map to 400 alongside payload validation errors.
func (e *requestError) Unwrap() error { return domain.ErrValidation }

// getPathID parses a positive int64 task id from the named URL parameter.
func getPathID(r *http.Request, paramName string) (int64, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return 0, invalidParam(paramName, "is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidParam(paramName, "must be a positive integer")
	}
	return id, nil
}

// getLimit parses the optional limit query parameter.
func getLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxListLimit {
		return 0, invalidParam("limit", fmt.Sprintf("must be between 1 and %d", maxListLimit))
	}
	return limit, nil
}

// getTaskType parses the required type query parameter.
func getTaskType(r *http.Request) (domain.TaskType, error) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return "", invalidParam("type", "is required")
	}
	t, err := domain.ParseTaskType(raw)
	if err != nil {
		return "", invalidParam("type", err.Error())
	}
	return t, nil
}
