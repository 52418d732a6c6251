package loadgen

import (
	"sync"
	"time"

	"inferload/internal/stats"
)

// LoadSummary is the per-stage scheduling fidelity report: did the pool
// keep up with the plan. Field names are part of the output contract.
type LoadSummary struct {
	Count         int           `json:"count"`
	RequestedRate float64       `json:"requested_rate"`
	AchievedRate  float64       `json:"achieved_rate"`
	SendDuration  float64       `json:"send_duration"` // seconds, first to last actual send
	ScheduleDelay stats.Summary `json:"schedule_delay"`
}

// DelayTracker records planned-vs-actual send deltas for one stage.
// Raw samples feed the report summary (delays can be negative); the
// histogram feeds live snapshots.
type DelayTracker struct {
	mu      sync.Mutex
	samples []float64 // seconds
	first   time.Time
	last    time.Time

	Hist *stats.SafeHistogram
}

func NewDelayTracker() *DelayTracker {
	return &DelayTracker{Hist: stats.NewSafeHistogram()}
}

// Record notes one dispatch. delay = sent - scheduled; negative when the
// request went out early due to scheduling jitter.
func (t *DelayTracker) Record(scheduled, sent time.Time) {
	delay := sent.Sub(scheduled)
	t.Hist.RecordDuration(delay)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, delay.Seconds())
	if t.first.IsZero() || sent.Before(t.first) {
		t.first = sent
	}
	if sent.After(t.last) {
		t.last = sent
	}
}

func (t *DelayTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// Summary folds the tracker into the stage's load summary.
func (t *DelayTracker) Summary(requestedRate float64) LoadSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	span := 0.0
	if !t.first.IsZero() {
		span = t.last.Sub(t.first).Seconds()
	}
	achieved := 0.0
	if span > 0 {
		achieved = float64(len(t.samples)) / span
	}
	return LoadSummary{
		Count:         len(t.samples),
		RequestedRate: requestedRate,
		AchievedRate:  achieved,
		SendDuration:  span,
		ScheduleDelay: stats.Summarize(t.samples),
	}
}
