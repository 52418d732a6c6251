package adapter

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"inferload/internal/datagen"
)

// MockClient simulates a model server in-process. Used for dry runs and
// throughout the tests.
type MockClient struct {
	// TTFT is the simulated time to first token.
	TTFT time.Duration
	// Gap is the simulated inter-token latency after the first token.
	Gap time.Duration
	// Tokens overrides the request's output length hint when > 0.
	Tokens int
	// FailAbove makes requests fail with a timeout once more than this
	// many are in flight. Zero disables failure injection.
	FailAbove int64

	inflight atomic.Int64
	peak     atomic.Int64
}

// Peak reports the highest observed in-flight count.
func (m *MockClient) Peak() int64 {
	return m.peak.Load()
}

func (m *MockClient) Stream(ctx context.Context, req datagen.Request) <-chan Event {
	events := make(chan Event, 64)
	go func() {
		defer close(events)

		cur := m.inflight.Add(1)
		defer m.inflight.Add(-1)
		for {
			p := m.peak.Load()
			if cur <= p || m.peak.CompareAndSwap(p, cur) {
				break
			}
		}

		if m.FailAbove > 0 && cur > m.FailAbove {
			events <- Event{Kind: EventError, At: time.Now(), Err: context.DeadlineExceeded}
			return
		}

		tokens := req.OutputTokens
		if m.Tokens > 0 {
			tokens = m.Tokens
		}
		if tokens < 1 {
			tokens = 1
		}

		if !m.sleep(ctx, m.TTFT, events) {
			return
		}
		events <- Event{Kind: EventToken, At: time.Now()}
		for i := 1; i < tokens; i++ {
			if !m.sleep(ctx, m.Gap, events) {
				return
			}
			events <- Event{Kind: EventToken, At: time.Now()}
		}
		events <- Event{Kind: EventDone, At: time.Now(), InputTokens: req.InputTokens, OutputTokens: tokens}
	}()
	return events
}

// sleep waits for d or until ctx is cancelled, emitting the error event
// on cancellation. Returns false when the stream should stop.
func (m *MockClient) sleep(ctx context.Context, d time.Duration, events chan<- Event) bool {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			events <- Event{Kind: EventError, At: time.Now(), Err: err}
			return false
		}
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		events <- Event{Kind: EventError, At: time.Now(), Err: ctx.Err()}
		return false
	case <-timer.C:
		return true
	}
}

// IsTimeout reports whether an adapter error should be recorded as a
// timeout rather than a generic error.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
