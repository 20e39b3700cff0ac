package pipeline

import (
	"time"

	"salesetl/internal/quality"
)

// Run outcome values for Summary.Status.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Summary is the outcome of one run. It is what the CLI prints and what the
// report sinks publish.
type Summary struct {
	RunID  string `json:"run_id"`
	Job    string `json:"job"`
	Status string `json:"status"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`

	// Set only for failed runs.
	FailedStage  State  `json:"failed_stage,omitempty"`
	FailedSource string `json:"failed_source,omitempty"`
	Error        string `json:"error,omitempty"`

	// Extracted counts raw rows per entity; Validated counts rows per entity
	// after cleaning.
	Extracted map[string]int `json:"extracted"`
	Validated map[string]int `json:"validated"`

	Quality *quality.Report `json:"quality,omitempty"`

	// Final row counts per warehouse table.
	Loaded map[string]int64 `json:"loaded,omitempty"`
	Chunks int              `json:"fact_chunks,omitempty"`

	UnresolvedDrops int            `json:"unresolved_drops"`
	DropsByKey      map[string]int `json:"drops_by_key,omitempty"`

	// Fingerprints are order-independent content digests of the star tables
	// built by the run. Identical input yields identical fingerprints.
	Fingerprints map[string]string `json:"fingerprints,omitempty"`
}

// OK reports whether the run completed.
func (s Summary) OK() bool { return s.Status == StatusDone }
