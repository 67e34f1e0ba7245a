// Package pipeline contains the stage processors that move content through
// the idea, outline and draft stages.
//
// IdeaGenerator is trigger-driven: it turns a focus and audience into pending
// idea tasks, passing each candidate through the duplicate gate. The other
// processors each consume one leased (in_progress) task of their stage and
// leave it completed, having created the next stage's task, or failed with
// the reason recorded:
//
//	idea    -> OutlineProcessor -> outline
//	outline -> DraftProcessor   -> draft
//	draft   -> ReviewProcessor  (terminal; publishing is external)
//
// Every model call goes through internal/retry. Validation failures are never
// retried.
package pipeline
