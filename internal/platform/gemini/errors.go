package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/phrazzld/quill/internal/generation"
	"google.golang.org/genai"
)

// classifyError maps a genai call failure onto the generation error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", generation.ErrTransientFailure, err)
	}

	var code int
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		// Transport-level failures never reached the API.
		return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	switch {
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return fmt.Errorf("%w: gemini returned %d: %v", generation.ErrTransientFailure, code, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: gemini rejected credentials (%d): %v", generation.ErrInvalidConfig, code, err)
	default:
		return fmt.Errorf("%w: gemini returned %d: %v", generation.ErrGenerationFailed, code, err)
	}
}
