package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/quill/internal/platform/logger"
)

func TestTraceID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	traced := SetTraceID(ctx)
	assert.Len(t, GetTraceID(traced), 36)
	assert.NotEqual(t, GetTraceID(traced), GetTraceID(SetTraceID(ctx)))
	assert.Empty(t, GetTraceID(ctx))
}

func TestSubject(t *testing.T) {
	t.Parallel()

	_, ok := GetSubject(context.Background())
	assert.False(t, ok)

	_, ok = GetSubject(WithSubject(context.Background(), ""))
	assert.False(t, ok)

	subject, ok := GetSubject(WithSubject(context.Background(), "ops"))
	assert.True(t, ok)
	assert.Equal(t, "ops", subject)
}

type sampleRequest struct {
	Title string `json:"title" validate:"required"`
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"title":"Foo"}`},
		{name: "empty", body: ``, wantErr: "empty"},
		{name: "unknown field", body: `{"title":"Foo","extra":1}`, wantErr: "unknown field"},
		{name: "trailing object", body: `{"title":"Foo"}{"title":"Bar"}`, wantErr: "single JSON object"},
		{name: "malformed", body: `{"title":`, wantErr: "decode request body"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var req sampleRequest
			err := DecodeJSON(httptest.NewRecorder(), r, &req)
			if tc.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "Foo", req.Title)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

type selfValidating struct{ ok bool }

func (s selfValidating) Validate() error {
	if !s.ok {
		return errors.New("not ok")
	}
	return nil
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateRequest(sampleRequest{Title: "Foo"}))
	assert.Error(t, ValidateRequest(sampleRequest{}))
	assert.NoError(t, ValidateRequest(selfValidating{ok: true}))
	assert.EqualError(t, ValidateRequest(selfValidating{}), "not ok")
}

func TestRespondWithError(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/tasks/1", nil)
	r = r.WithContext(SetTraceID(r.Context()))
	w := httptest.NewRecorder()

	RespondWithError(w, r, http.StatusNotFound, "Task not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Task not found", body.Error)
	assert.Equal(t, GetTraceID(r.Context()), body.TraceID)
}

func TestRespondWithJSONNilBody(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	RespondWithJSON(w, httptest.NewRequest(http.MethodPost, "/", nil), http.StatusNoContent, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestRespondWithErrorAndLogRedacts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := httptest.NewRequest(http.MethodPost, "/run-once", nil)
	r = r.WithContext(logger.WithLogger(SetTraceID(r.Context()), log))
	w := httptest.NewRecorder()

	RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Run failed",
		errors.New("dial postgres://quill:hunter2@db/quill: refused"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "postgres")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "API error response", entry["msg"])
	assert.NotContains(t, entry["error"], "hunter2")
	assert.Contains(t, entry["error"], "[REDACTED_CREDENTIAL]")
	assert.Equal(t, float64(http.StatusInternalServerError), entry["status_code"])
}
