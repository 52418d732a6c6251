// Package cli renders headless benchmark progress and the final
// summary to stdout.
package cli

import (
	"fmt"
	"strings"
	"time"

	"inferload/internal/config"
	"inferload/internal/orchestrator"
	"inferload/internal/report"
)

func PrintHeader(cfg *config.Config) {
	fmt.Printf("\n🚀 STARTING INFERLOAD BENCHMARK\n")
	fmt.Printf("======================================================================\n")
	fmt.Printf("Server     : %s (%s)\n", cfg.Server.BaseURL, cfg.Server.Type)
	fmt.Printf("Model      : %s\n", cfg.Server.Model)
	fmt.Printf("Stages     : %d (%s)\n", len(cfg.Load.Stages), cfg.Load.Type)
	fmt.Printf("Data       : %s, %d in / %d out tokens\n", cfg.Data.Type, cfg.Data.InputTokens, cfg.Data.OutputTokens)
	fmt.Printf("Timeout    : %s\n", cfg.Server.Timeout)
	fmt.Printf("======================================================================\n\n")
}

// Watch consumes orchestrator snapshots until the channel closes,
// redrawing a single progress line per frame.
func Watch(updates orchestrator.SnapshotChan) {
	for s := range updates {
		switch s.State {
		case orchestrator.StatePlanning:
			fmt.Printf("\r🔍 Stage %d/%d: probing saturation rate...                              ",
				s.Stage+1, s.TotalStages)
			continue
		case orchestrator.StateFinalized:
			fmt.Printf("\r%s 100%% | stage %d/%d done | OK: %d | Err: %d                \n",
				progressBar(1.0, 20), s.Stage+1, s.TotalStages, s.OK, s.Failed)
			continue
		}

		pct := 0.0
		if s.Duration > 0 {
			pct = s.Elapsed.Seconds() / s.Duration.Seconds()
		}
		if pct > 1.0 {
			pct = 1.0
		}

		if s.State == orchestrator.StateDraining {
			fmt.Printf("\r%s 100%% | stage %d/%d @ %.1f rps | Draining: %d in flight...        ",
				progressBar(1.0, 20), s.Stage+1, s.TotalStages, s.Rate, s.Inflight)
			continue
		}

		fmt.Printf("\r%s %3.0f%% | stage %d/%d @ %.1f rps | Inf: %3d | OK: %d | Err: %d | P50: %.0fms",
			progressBar(pct, 20), pct*100,
			s.Stage+1, s.TotalStages, s.Rate,
			s.Inflight, s.OK, s.Failed, s.P50LatencyMs)
	}
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

// PrintSummary renders the final run report.
func PrintSummary(run *report.RunReport) {
	fmt.Printf("\n\n📊 BENCHMARK RESULTS\n")
	fmt.Printf("======================================================================\n")
	fmt.Printf("Run ID         : %s\n", run.RunID)
	fmt.Printf("Total Duration : %s\n", run.End.Sub(run.Start).Round(time.Second))
	fmt.Printf("Stages         : %d\n", len(run.Stages))
	fmt.Printf("Requests       : %d (ok %d, timeout %d, error %d)\n",
		run.Summary.Requests.Total, run.Summary.Requests.OK,
		run.Summary.Requests.Timeout, run.Summary.Requests.Errored)

	fmt.Printf("\n📈 PER-STAGE RATES\n")
	for _, st := range run.Stages {
		fmt.Printf("   stage %d: requested %.1f rps, achieved %.2f rps, delay p50 %.1fms\n",
			st.Stage, st.Rate, st.Load.AchievedRate, st.Load.ScheduleDelay.Median*1000)
	}

	lat := run.Summary.Latency
	fmt.Printf("\n⏱️  LATENCY (s) [Success Only]\n")
	fmt.Printf("   Request : mean %.3f | p50 %.3f | p90 %.3f | p99 %.3f\n",
		lat.RequestLatency.Mean, lat.RequestLatency.Median, lat.RequestLatency.P90, lat.RequestLatency.P99)
	if lat.TTFT.Count > 0 {
		fmt.Printf("   TTFT    : mean %.3f | p50 %.3f | p90 %.3f | p99 %.3f\n",
			lat.TTFT.Mean, lat.TTFT.Median, lat.TTFT.P90, lat.TTFT.P99)
	}
	if lat.TPOT.Count > 0 {
		fmt.Printf("   TPOT    : mean %.4f | p50 %.4f | p90 %.4f | p99 %.4f\n",
			lat.TPOT.Mean, lat.TPOT.Median, lat.TPOT.P90, lat.TPOT.P99)
	}
	if lat.ITL.Count > 0 {
		fmt.Printf("   ITL     : mean %.4f | p50 %.4f | p90 %.4f | p99 %.4f\n",
			lat.ITL.Mean, lat.ITL.Median, lat.ITL.P90, lat.ITL.P99)
	}

	if len(run.Summary.Errors) > 0 {
		fmt.Printf("\n❌ FAILURE SUMMARY\n")
		for msg, count := range run.Summary.Errors {
			fmt.Printf("   %d x %s\n", count, msg)
		}
	}

	tp := run.Summary.Throughput
	fmt.Printf("\n🔥 THROUGHPUT\n")
	fmt.Printf("   Output tokens/s : %.1f\n", tp.OutputTokensPerSec)
	fmt.Printf("   Total tokens/s  : %.1f\n", tp.TotalTokensPerSec)
	fmt.Printf("   Requests/s      : %.2f\n", tp.RequestsPerSec)
	fmt.Printf("======================================================================\n")
}
