package loadgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"inferload/internal/adapter"
	"inferload/internal/datagen"
)

// ErrProbeFailed is returned when the saturation probe cannot establish
// a usable upper bound. Fatal to a sweep run.
var ErrProbeFailed = errors.New("saturation probe failed")

// Prober estimates the target's maximum sustainable request rate by
// driving a short burst at a fixed high concurrency, uncoupled from the
// normal rate plan, and measuring realized throughput (the burn rate).
type Prober struct {
	Client adapter.Client
	Gen    datagen.Generator
	// Concurrency is the number of simultaneously in-flight probe
	// requests. Defaults to 1000.
	Concurrency int
	// Window is the probe burst duration. Defaults to 10s.
	Window time.Duration
	Logger *slog.Logger
}

// Measure runs the burst and returns completed requests per second.
// Partial failures only lower the measured rate; zero completions over
// the whole window yield ErrProbeFailed.
func (p *Prober) Measure(ctx context.Context) (float64, error) {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1000
	}
	window := p.Window
	if window <= 0 {
		window = 10 * time.Second
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("probing saturation", "concurrency", concurrency, "window", window)

	burstCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	var completed, failed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for burstCtx.Err() == nil {
				ok := false
				for ev := range p.Client.Stream(burstCtx, p.Gen.Next()) {
					if ev.Kind == adapter.EventDone {
						ok = true
					}
				}
				if ok {
					completed.Add(1)
				} else {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	done := completed.Load()
	if done == 0 {
		return 0, fmt.Errorf("%w: no completions in %s at concurrency %d (%d failures)",
			ErrProbeFailed, window, concurrency, failed.Load())
	}

	rate := float64(done) / window.Seconds()
	logger.Info("probe complete", "burn_rate", rate,
		"completed", done, "failed", failed.Load())
	return rate, nil
}
