// Package generation defines the boundary between the pipeline and external
// model services: the Generator contract for text generation, the Embedder
// contract for embeddings, the shared error taxonomy, and helpers for pulling
// structured JSON out of free-form model output.
//
// Concrete implementations live in internal/platform/gemini.
package generation
