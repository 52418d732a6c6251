package loadgen

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"inferload/internal/adapter"
	"inferload/internal/collector"
)

// PoolConfig sizes the dispatch pool. Workers defaults to the available
// CPU parallelism. Maximum achievable concurrency is
// Workers * WorkerMaxConcurrency; size it above rate * expected latency
// (Little's Law) or schedule delay will grow.
type PoolConfig struct {
	Workers              int
	WorkerMaxConcurrency int
	// DrainGrace bounds how long in-flight requests may run on after
	// the stage ends before being cut off and recorded as timeouts.
	DrainGrace time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.WorkerMaxConcurrency <= 0 {
		c.WorkerMaxConcurrency = 100
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 30 * time.Second
	}
	return c
}

// Pool realizes a schedule as actual requests while respecting the
// global worker count and the per-worker concurrency window. Workers
// pull from a shared intake, so a saturated worker never stalls
// dispatches headed to its siblings.
type Pool struct {
	cfg     PoolConfig
	client  adapter.Client
	tracker *DelayTracker
	logger  *slog.Logger

	inflight atomic.Int64
}

func NewPool(cfg PoolConfig, client adapter.Client, tracker *DelayTracker, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:     cfg.withDefaults(),
		client:  client,
		tracker: tracker,
		logger:  logger,
	}
}

// Inflight reports the number of requests currently in flight.
func (p *Pool) Inflight() int64 {
	return p.inflight.Load()
}

// Submit consumes scheduled dispatches and emits one timing record per
// dispatch accepted. Cancelling ctx stops intake immediately; requests
// already in flight get the drain grace period, then are recorded as
// timeouts. The result channel closes once everything accepted has been
// accounted for.
func (p *Pool) Submit(ctx context.Context, in <-chan ScheduledDispatch) <-chan collector.TimingRecord {
	out := make(chan collector.TimingRecord, 256)

	// Requests outlive stage cancellation by the grace period.
	reqCtx, cancelReqs := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-reqCtx.Done():
			// All work drained without the stage being cancelled.
			return
		case <-ctx.Done():
		}
		timer := time.NewTimer(p.cfg.DrainGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			p.logger.Warn("drain grace elapsed, abandoning in-flight requests",
				"inflight", p.inflight.Load())
		case <-reqCtx.Done():
		}
		cancelReqs()
	}()

	go func() {
		defer close(out)
		defer cancelReqs()

		var wg sync.WaitGroup
		for w := 0; w < p.cfg.Workers; w++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				p.worker(ctx, reqCtx, id, in, out)
			}(w)
		}
		wg.Wait()
	}()
	return out
}

// worker pulls dispatches while its concurrency window has room, sleeps
// until each planned send time, then fires the request without blocking
// the window's other slots.
func (p *Pool) worker(ctx, reqCtx context.Context, id int, in <-chan ScheduledDispatch, out chan<- collector.TimingRecord) {
	window := make(chan struct{}, p.cfg.WorkerMaxConcurrency)
	var reqs sync.WaitGroup
	defer reqs.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case window <- struct{}{}:
		}

		var d ScheduledDispatch
		var ok bool
		select {
		case <-ctx.Done():
			<-window
			return
		case d, ok = <-in:
			if !ok {
				<-window
				return
			}
		}

		if wait := time.Until(d.At); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				<-window
				// Not yet sent: the stage is over, drop it.
				return
			case <-timer.C:
			}
		}

		reqs.Add(1)
		go func(d ScheduledDispatch) {
			defer reqs.Done()
			defer func() { <-window }()
			p.execute(reqCtx, d, out)
		}(d)
	}
}

func (p *Pool) execute(ctx context.Context, d ScheduledDispatch, out chan<- collector.TimingRecord) {
	p.inflight.Add(1)
	defer p.inflight.Add(-1)

	sent := time.Now()
	p.tracker.Record(d.At, sent)

	rec := collector.TimingRecord{
		Seq:       d.Seq,
		RequestID: d.Request.ID,
		Scheduled: d.At,
		Sent:      sent,
	}

	var prevToken time.Time
	for ev := range p.client.Stream(ctx, d.Request) {
		switch ev.Kind {
		case adapter.EventToken:
			if rec.FirstToken.IsZero() {
				rec.FirstToken = ev.At
			} else {
				rec.TokenGaps = append(rec.TokenGaps, ev.At.Sub(prevToken))
			}
			prevToken = ev.At
		case adapter.EventDone:
			rec.Done = ev.At
			rec.InputTokens = ev.InputTokens
			rec.OutputTokens = ev.OutputTokens
			rec.Status = collector.StatusOK
		case adapter.EventError:
			if adapter.IsTimeout(ev.Err) {
				rec.Status = collector.StatusTimeout
			} else {
				rec.Status = collector.StatusError
			}
			rec.Err = ev.Err.Error()
		}
	}
	if rec.Status == "" {
		rec.Status = collector.StatusError
		rec.Err = "stream ended without a terminal event"
	}

	out <- rec
}
