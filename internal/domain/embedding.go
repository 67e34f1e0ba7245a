package domain

import "time"

// EmbeddingRecord stores the embedding of one source text. It is created once
// per unique candidate, never mutated, and deleted only with its source.
type EmbeddingRecord struct {
	ID        int64     `json:"id"`
	Scope     string    `json:"scope"`
	SourceID  string    `json:"source_id"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// Rejection is an audit entry for a candidate the duplicate gate refused.
type Rejection struct {
	ID              int64     `json:"id"`
	Scope           string    `json:"scope"`
	CandidateText   string    `json:"candidate_text"`
	NearestSourceID string    `json:"nearest_source_id"`
	Similarity      float64   `json:"similarity"`
	Threshold       float64   `json:"threshold"`
	CreatedAt       time.Time `json:"created_at"`
}
