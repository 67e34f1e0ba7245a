// Package domain contains the pipeline's core entities: the PipelineTask record,
// its ordered task types and status state machine, the per-type payload union,
// and the EmbeddingRecord used for duplicate detection. It is independent of any
// storage, transport, or model provider.
package domain
