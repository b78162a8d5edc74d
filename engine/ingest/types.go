package ingest

import (
	"github.com/WessleyAI/wessley-health/engine/domain"
)

// BuildRequest asks for an explanation record for one user. Features is the
// single-row table the classifier was trained on; a "target" column is
// ignored.
type BuildRequest struct {
	UserID   domain.UserID      `json:"user_id"`
	Features map[string]float64 `json:"features"`
}

// BuiltEvent is published after a record has been persisted.
type BuiltEvent struct {
	UserID  string `json:"user_id"`
	Disease string `json:"disease"`
}

// ScoredRow is a request after classification.
type ScoredRow struct {
	UserID      string
	Row         []float64
	Class       int
	Label       string
	Probability float64
}
