// Package collector owns the per-stage ledger of request timing records.
// Workers complete out of dispatch order; the ledger is an unordered
// multiset for every downstream consumer.
package collector

import (
	"time"
)

// Status is the terminal state of one dispatched request.
type Status string

const (
	StatusOK      Status = "ok"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// TimingRecord is the outcome of one dispatched request. Immutable once
// appended to a ledger.
type TimingRecord struct {
	Seq       int
	Stage     int
	RequestID string

	Scheduled  time.Time
	Sent       time.Time
	FirstToken time.Time // zero when no token arrived (non-streaming or failure)
	Done       time.Time // zero on failure

	InputTokens  int
	OutputTokens int
	TokenGaps    []time.Duration // inter-token gaps, per request

	Status Status
	Err    string
}

// Latency returns completion - actual send. Only meaningful for ok records.
func (r TimingRecord) Latency() time.Duration {
	if r.Done.IsZero() {
		return 0
	}
	return r.Done.Sub(r.Sent)
}

// TTFT returns first token - actual send, and whether a first token exists.
func (r TimingRecord) TTFT() (time.Duration, bool) {
	if r.FirstToken.IsZero() {
		return 0, false
	}
	return r.FirstToken.Sub(r.Sent), true
}

// StageLedger is the append-only record sequence for one stage. It has a
// single writer (the collector goroutine); readers take snapshots after
// Close.
type StageLedger struct {
	Stage   int
	records []TimingRecord
	closed  bool
}

func NewStageLedger(stage int) *StageLedger {
	return &StageLedger{Stage: stage}
}

func (l *StageLedger) Append(rec TimingRecord) {
	if l.closed {
		return
	}
	l.records = append(l.records, rec)
}

// Close marks the ledger read-only.
func (l *StageLedger) Close() {
	l.closed = true
}

func (l *StageLedger) Closed() bool {
	return l.closed
}

func (l *StageLedger) Len() int {
	return len(l.records)
}

// Records returns the ledger contents. Callers must not mutate entries.
func (l *StageLedger) Records() []TimingRecord {
	return l.records
}

// OK returns only the records with status ok.
func (l *StageLedger) OK() []TimingRecord {
	var ok []TimingRecord
	for _, r := range l.records {
		if r.Status == StatusOK {
			ok = append(ok, r)
		}
	}
	return ok
}

// Drain appends every record from in to a fresh ledger for the given
// stage, returning the closed ledger once in is exhausted. This is the
// single-writer aggregation point: workers fan in over the channel and
// only this goroutine touches the slice.
func Drain(stage int, in <-chan TimingRecord) *StageLedger {
	ledger := NewStageLedger(stage)
	for rec := range in {
		rec.Stage = stage
		ledger.Append(rec)
	}
	ledger.Close()
	return ledger
}
