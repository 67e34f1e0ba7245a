// Package store defines the persistence contracts of the pipeline: the task
// store with its atomic lease, the embedding store behind the duplicate gate,
// and the rejection log. Implementations live under internal/platform.
package store
