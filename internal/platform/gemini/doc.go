// Package gemini implements the generation.Generator and generation.Embedder
// contracts on top of Google's Gemini API (google.golang.org/genai).
//
// It is an infrastructure adapter: prompts arrive fully rendered, and results
// leave as plain text or float vectors. Failures are translated into the
// generation error taxonomy so callers can decide what to retry:
//
//   - 429 and 5xx responses, timeouts and transport errors wrap generation.ErrTransientFailure
//   - safety blocks wrap generation.ErrContentBlocked
//   - empty or malformed responses wrap generation.ErrInvalidResponse
//
// Retrying is not done here; callers wrap calls in internal/retry.
package gemini
