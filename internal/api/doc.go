// Package api exposes the operator HTTP API: task inspection, requeue and
// reclaim, on-demand scheduler runs and idea submission.
//
// Every route except /health requires a bearer token issued by `quill token`.
package api
