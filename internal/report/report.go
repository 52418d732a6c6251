// Package report assembles and persists per-stage and per-run reports.
package report

import (
	"time"

	"inferload/internal/loadgen"
	"inferload/internal/metrics"
	"inferload/internal/stats"
)

// StageReport is the full output for one completed stage.
type StageReport struct {
	Stage       int                      `json:"stage"`
	Rate        float64                  `json:"rate"`
	LoadType    loadgen.LoadType         `json:"load_type"`
	Duration    float64                  `json:"duration"` // seconds
	Start       time.Time                `json:"start"`
	End         time.Time                `json:"end"`
	Load        loadgen.LoadSummary      `json:"load_summary"`
	Metrics     metrics.Report           `json:"metrics"`
	Server      map[string]stats.Summary `json:"server_metrics,omitempty"`
	SweepSource bool                     `json:"sweep_source,omitempty"`
}

// RunReport wraps a whole run: config echo, every stage and the
// recomputed run-level summary.
type RunReport struct {
	RunID   string         `json:"run_id"`
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
	Config  any            `json:"config"`
	Stages  []StageReport  `json:"stages"`
	Summary metrics.Report `json:"summary"`
}

// Sink receives reports as they become available. Implementations must
// not block stage execution; persistence failures are logged by the
// caller and never abort the run.
type Sink interface {
	SaveStage(rep StageReport) error
	SaveRun(rep RunReport) error
}
