// Package metrics converts stage ledgers into distribution statistics.
package metrics

import (
	"time"

	"inferload/internal/collector"
	"inferload/internal/stats"
)

// LatencyMetrics groups the per-request latency summaries. JSON names
// are part of the output contract relied on by downstream tooling.
type LatencyMetrics struct {
	RequestLatency stats.Summary `json:"request_latency"`
	TTFT           stats.Summary `json:"ttft"`
	TPOT           stats.Summary `json:"tpot"`
	NormalizedTPOT stats.Summary `json:"normalized_tpot"`
	ITL            stats.Summary `json:"itl"`
}

// ThroughputMetrics are computed over the span from the earliest actual
// send to the latest completion among ok records.
type ThroughputMetrics struct {
	InputTokensPerSec  float64 `json:"input_tokens_per_sec"`
	OutputTokensPerSec float64 `json:"output_tokens_per_sec"`
	TotalTokensPerSec  float64 `json:"total_tokens_per_sec"`
	RequestsPerSec     float64 `json:"requests_per_sec"`
}

// RequestCounts folds per-request terminal statuses. Failures are
// visible here and excluded from every other metric.
type RequestCounts struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Timeout int `json:"timeout"`
	Errored int `json:"error"`
}

// Report is the metrics object for one stage or for a whole run.
type Report struct {
	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	PromptLen  stats.Summary     `json:"prompt_len"`
	OutputLen  stats.Summary     `json:"output_len"`
	Requests   RequestCounts     `json:"requests"`
	// Errors folds failed requests by error message.
	Errors map[string]int `json:"errors,omitempty"`
}

// Aggregate computes a Report over a record multiset. Completion order
// is irrelevant; only records with status ok contribute to latency and
// throughput. Latencies are reported in seconds.
func Aggregate(records []collector.TimingRecord) Report {
	var rep Report
	rep.Requests.Total = len(records)

	var (
		latency, ttft, tpot, normTPOT, itl []float64
		promptLen, outputLen               []float64
		inputTokens, outputTokens          int
		minSent, maxDone                   time.Time
	)

	for _, r := range records {
		switch r.Status {
		case collector.StatusOK:
			rep.Requests.OK++
		case collector.StatusTimeout:
			rep.Requests.Timeout++
			rep.countError(r.Err)
			continue
		default:
			rep.Requests.Errored++
			rep.countError(r.Err)
			continue
		}

		lat := r.Latency()
		latency = append(latency, lat.Seconds())
		promptLen = append(promptLen, float64(r.InputTokens))
		outputLen = append(outputLen, float64(r.OutputTokens))
		inputTokens += r.InputTokens
		outputTokens += r.OutputTokens

		if first, ok := r.TTFT(); ok {
			ttft = append(ttft, first.Seconds())
			if r.OutputTokens > 1 {
				tpot = append(tpot, (lat-first).Seconds()/float64(r.OutputTokens-1))
			}
		}
		if r.OutputTokens > 0 {
			normTPOT = append(normTPOT, lat.Seconds()/float64(r.OutputTokens))
		}
		for _, gap := range r.TokenGaps {
			itl = append(itl, gap.Seconds())
		}

		if minSent.IsZero() || r.Sent.Before(minSent) {
			minSent = r.Sent
		}
		if r.Done.After(maxDone) {
			maxDone = r.Done
		}
	}

	rep.Latency = LatencyMetrics{
		RequestLatency: stats.Summarize(latency),
		TTFT:           stats.Summarize(ttft),
		TPOT:           stats.Summarize(tpot),
		NormalizedTPOT: stats.Summarize(normTPOT),
		ITL:            stats.Summarize(itl),
	}
	rep.PromptLen = stats.Summarize(promptLen)
	rep.OutputLen = stats.Summarize(outputLen)

	if span := maxDone.Sub(minSent).Seconds(); span > 0 {
		rep.Throughput = ThroughputMetrics{
			InputTokensPerSec:  float64(inputTokens) / span,
			OutputTokensPerSec: float64(outputTokens) / span,
			TotalTokensPerSec:  float64(inputTokens+outputTokens) / span,
			RequestsPerSec:     float64(rep.Requests.OK) / span,
		}
	}
	return rep
}

func (r *Report) countError(msg string) {
	if msg == "" {
		msg = "unknown"
	}
	if r.Errors == nil {
		r.Errors = make(map[string]int)
	}
	r.Errors[msg]++
}

// AggregateRun recomputes statistics over the concatenation of all
// stages' ok records, per the run-level summary contract.
func AggregateRun(ledgers []*collector.StageLedger) Report {
	var all []collector.TimingRecord
	for _, l := range ledgers {
		all = append(all, l.Records()...)
	}
	return Aggregate(all)
}
