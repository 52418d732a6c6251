// Package orchestrator drives a benchmark run stage by stage: resolve
// sweep rates, generate each stage's schedule, feed the dispatch pool,
// drain timing records and assemble reports.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"inferload/internal/adapter"
	"inferload/internal/collector"
	"inferload/internal/config"
	"inferload/internal/datagen"
	"inferload/internal/loadgen"
	"inferload/internal/metrics"
	"inferload/internal/report"
	"inferload/internal/stats"
)

// StageState is the lifecycle of the stage currently executing.
type StageState string

const (
	StateIdle      StageState = "idle"
	StatePlanning  StageState = "planning"
	StateRunning   StageState = "running"
	StateDraining  StageState = "draining"
	StateFinalized StageState = "finalized"
)

// Snapshot is a point-in-time view of the running stage, pushed to the
// Updates channel for the CLI and TUI. Sends never block; a slow
// consumer just misses frames.
type Snapshot struct {
	Stage       int
	TotalStages int
	State       StageState
	Rate        float64
	Elapsed     time.Duration
	Duration    time.Duration

	Dispatched int64
	Completed  int64
	OK         int64
	Failed     int64
	Inflight   int64

	P50LatencyMs float64
	P99LatencyMs float64
	AvgDelayMs   float64
}

// SnapshotChan carries live progress updates.
type SnapshotChan chan Snapshot

// Orchestrator owns one run. Construct with New, call Run once.
type Orchestrator struct {
	cfg    *config.Config
	client adapter.Client
	gen    datagen.Generator
	prom   *metrics.PromClient
	sink   report.Sink
	logger *slog.Logger

	Updates SnapshotChan

	// live counters for the current stage
	dispatched atomic.Int64
	completed  atomic.Int64
	okCount    atomic.Int64
	failed     atomic.Int64
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPromClient enables server-side metric collection per stage.
func WithPromClient(c *metrics.PromClient) Option {
	return func(o *Orchestrator) { o.prom = c }
}

// WithSink persists stage and run reports as they complete.
func WithSink(s report.Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithUpdates installs the live progress channel.
func WithUpdates(ch SnapshotChan) Option {
	return func(o *Orchestrator) { o.Updates = ch }
}

func New(cfg *config.Config, client adapter.Client, gen datagen.Generator, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:     cfg,
		client:  client,
		gen:     gen,
		logger:  logger,
		Updates: make(SnapshotChan, 10),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes every configured stage in order and returns the run
// report. A failed saturation probe or a cancelled context aborts the
// run; individual request failures never do.
func (o *Orchestrator) Run(ctx context.Context) (*report.RunReport, error) {
	run := &report.RunReport{
		RunID:  uuid.New().String(),
		Start:  time.Now(),
		Config: o.cfg,
	}
	o.logger.Info("run starting", "run_id", run.RunID, "stages", len(o.cfg.Load.Stages))

	base := o.cfg.DefaultedStages()
	total := totalStages(base, o.cfg.Load.Sweep.Steps)

	var ledgers []*collector.StageLedger
	idx := 0
	for i, stage := range base {
		batch := []resolvedStage{{RateStage: stage}}
		if stage.Sweep {
			// A placeholder is probed only when it becomes the current
			// stage, so the burst never pollutes earlier measurements.
			var err error
			batch, err = o.probeSweep(ctx, idx, total, stage)
			if err != nil {
				return nil, fmt.Errorf("sweep stage %d: %w", i, err)
			}
		}

		for _, rs := range batch {
			if idx > 0 && o.cfg.Load.StageInterval > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(o.cfg.Load.StageInterval):
				}
			}

			stageRep, ledger, err := o.runStage(ctx, idx, total, rs)
			if err != nil {
				return nil, fmt.Errorf("stage %d: %w", idx, err)
			}
			ledgers = append(ledgers, ledger)
			run.Stages = append(run.Stages, *stageRep)

			if o.sink != nil {
				if err := o.sink.SaveStage(*stageRep); err != nil {
					o.logger.Warn("failed to persist stage report", "stage", idx, "error", err)
				}
			}
			idx++
		}
	}

	run.End = time.Now()
	run.Summary = metrics.AggregateRun(ledgers)
	if o.sink != nil {
		if err := o.sink.SaveRun(*run); err != nil {
			o.logger.Warn("failed to persist run report", "error", err)
		}
	}
	o.logger.Info("run complete", "run_id", run.RunID,
		"requests", run.Summary.Requests.Total, "ok", run.Summary.Requests.OK)
	return run, nil
}

// resolvedStage is a concrete, runnable stage plus whether a sweep
// probe produced it.
type resolvedStage struct {
	loadgen.RateStage
	fromSweep bool
}

// totalStages counts the stages a run will execute: each sweep
// placeholder expands to a fixed number of ladder steps, so the count
// is known before any probe runs.
func totalStages(base []loadgen.RateStage, sweepSteps int) int {
	total := 0
	for _, s := range base {
		if s.Sweep {
			total += sweepSteps
		} else {
			total++
		}
	}
	return total
}

// probeSweep resolves one sweep placeholder into its concrete rate
// ladder. Runs at the placeholder's own planning step, strictly after
// every earlier stage has finalized.
func (o *Orchestrator) probeSweep(ctx context.Context, idx, total int, stage loadgen.RateStage) ([]resolvedStage, error) {
	o.publish(Snapshot{Stage: idx, TotalStages: total, State: StatePlanning})
	o.logger.Info("probing saturation rate for sweep stage", "stage", idx,
		"concurrency", o.cfg.Load.Sweep.ProbeConcurrency, "window", o.cfg.Load.Sweep.ProbeWindow)

	prober := &loadgen.Prober{
		Client:      o.client,
		Gen:         o.gen,
		Concurrency: o.cfg.Load.Sweep.ProbeConcurrency,
		Window:      o.cfg.Load.Sweep.ProbeWindow,
		Logger:      o.logger,
	}
	bound, err := prober.Measure(ctx)
	if err != nil {
		return nil, err
	}

	steps := loadgen.ExpandSweep(stage, bound,
		o.cfg.Load.Sweep.Steps, loadgen.Progression(o.cfg.Load.Sweep.Progression))
	o.logger.Info("sweep resolved", "stage", idx, "bound", bound, "steps", len(steps))

	out := make([]resolvedStage, 0, len(steps))
	for _, s := range steps {
		out = append(out, resolvedStage{RateStage: s, fromSweep: true})
	}
	return out, nil
}

func (o *Orchestrator) runStage(ctx context.Context, idx, total int, resolved resolvedStage) (*report.StageReport, *collector.StageLedger, error) {
	o.resetCounters()
	stage := resolved.RateStage

	start := time.Now()
	seed := o.cfg.Load.Seed
	if seed != 0 {
		// Distinct arrival pattern per stage while staying reproducible.
		seed += int64(idx)
	}
	schedule, err := loadgen.NewSchedule(stage, start, seed)
	if err != nil {
		return nil, nil, err
	}

	o.logger.Info("stage starting", "stage", idx, "rate", stage.Rate,
		"type", stage.Type, "duration", stage.Duration)

	stageCtx, cancel := context.WithDeadline(ctx, start.Add(stage.Duration))
	defer cancel()

	tracker := loadgen.NewDelayTracker()
	pool := loadgen.NewPool(loadgen.PoolConfig{
		Workers:              o.cfg.Load.NumWorkers,
		WorkerMaxConcurrency: o.cfg.Load.WorkerMaxConcurrency,
		DrainGrace:           o.cfg.Load.DrainGrace,
	}, o.client, tracker, o.logger)
	latency := stats.NewSafeHistogram()

	intake := make(chan loadgen.ScheduledDispatch, 1024)
	go func() {
		defer close(intake)
		for {
			seq, at, ok := schedule.Next()
			if !ok {
				return
			}
			d := loadgen.ScheduledDispatch{Seq: seq, At: at, Request: o.gen.Next()}
			select {
			case <-stageCtx.Done():
				return
			case intake <- d:
				o.dispatched.Add(1)
			}
		}
	}()

	records := pool.Submit(stageCtx, intake)

	// Tap the record stream for live counters before the ledger sees it.
	tapped := make(chan collector.TimingRecord, 256)
	go func() {
		defer close(tapped)
		for rec := range records {
			o.completed.Add(1)
			if rec.Status == collector.StatusOK {
				o.okCount.Add(1)
				latency.RecordDuration(rec.Latency())
			} else {
				o.failed.Add(1)
			}
			tapped <- rec
		}
	}()

	tickCtx, stopTicks := context.WithCancel(ctx)
	go o.tickLoop(tickCtx, idx, total, stage, start, pool, tracker, latency)

	ledger := collector.Drain(idx, tapped)
	stopTicks()
	end := time.Now()

	o.publish(o.snapshot(idx, total, stage, start, StateFinalized, pool, tracker, latency))

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	rep := &report.StageReport{
		Stage:       idx,
		Rate:        stage.Rate,
		LoadType:    stage.Type,
		Duration:    stage.Duration.Seconds(),
		Start:       start,
		End:         end,
		Load:        tracker.Summary(stage.Rate),
		Metrics:     metrics.Aggregate(ledger.Records()),
		SweepSource: resolved.fromSweep,
	}
	if o.prom != nil {
		server, err := o.prom.Collect(ctx, start, end)
		if err != nil {
			o.logger.Warn("server metrics collection failed", "stage", idx, "error", err)
		} else {
			rep.Server = server
		}
	}

	o.logger.Info("stage complete", "stage", idx,
		"dispatched", o.dispatched.Load(), "ok", o.okCount.Load(), "failed", o.failed.Load(),
		"achieved_rate", rep.Load.AchievedRate)
	return rep, ledger, nil
}

func (o *Orchestrator) tickLoop(ctx context.Context, idx, total int, stage loadgen.RateStage, start time.Time, pool *loadgen.Pool, tracker *loadgen.DelayTracker, latency *stats.SafeHistogram) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := StateRunning
			if time.Since(start) > stage.Duration {
				state = StateDraining
			}
			o.publish(o.snapshot(idx, total, stage, start, state, pool, tracker, latency))
		}
	}
}

func (o *Orchestrator) snapshot(idx, total int, stage loadgen.RateStage, start time.Time, state StageState, pool *loadgen.Pool, tracker *loadgen.DelayTracker, latency *stats.SafeHistogram) Snapshot {
	s := Snapshot{
		Stage:       idx,
		TotalStages: total,
		State:       state,
		Rate:        stage.Rate,
		Elapsed:     time.Since(start),
		Duration:    stage.Duration,
		Dispatched:  o.dispatched.Load(),
		Completed:   o.completed.Load(),
		OK:          o.okCount.Load(),
		Failed:      o.failed.Load(),
		Inflight:    pool.Inflight(),
	}
	if latency.TotalCount() > 0 {
		s.P50LatencyMs = float64(latency.ValueAtQuantile(50)) / 1000
		s.P99LatencyMs = float64(latency.ValueAtQuantile(99)) / 1000
	}
	if tracker.Hist.TotalCount() > 0 {
		s.AvgDelayMs = tracker.Hist.Mean() / 1000
	}
	return s
}

func (o *Orchestrator) publish(s Snapshot) {
	select {
	case o.Updates <- s:
	default:
		// Drop the frame, the consumer acts as backpressure.
	}
}

func (o *Orchestrator) resetCounters() {
	o.dispatched.Store(0)
	o.completed.Store(0)
	o.okCount.Store(0)
	o.failed.Store(0)
}
