package shared

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey namespaces request-scoped values set by the API middleware.
type ContextKey string

const (
	// SubjectContextKey holds the authenticated operator's token subject.
	SubjectContextKey ContextKey = "subject"

	// TraceIDKey holds the per-request trace id echoed in error responses.
	TraceIDKey ContextKey = "traceID"
)

// SetTraceID returns ctx carrying a fresh trace id.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, uuid.NewString())
}

// GetTraceID returns the trace id in ctx, or "".
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// WithSubject returns ctx carrying the authenticated subject.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectContextKey, subject)
}

// GetSubject returns the authenticated subject in ctx.
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectContextKey).(string)
	return subject, ok && subject != ""
}
