package loadgen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferload/internal/adapter"
	"inferload/internal/datagen"
)

type alwaysFailClient struct{}

func (alwaysFailClient) Stream(ctx context.Context, req datagen.Request) <-chan adapter.Event {
	events := make(chan adapter.Event, 1)
	events <- adapter.Event{Kind: adapter.EventError, At: time.Now(), Err: context.DeadlineExceeded}
	close(events)
	return events
}

func TestProberMeasuresBurnRate(t *testing.T) {
	prober := &Prober{
		Client:      &adapter.MockClient{TTFT: 5 * time.Millisecond, Tokens: 1},
		Gen:         &datagen.FixedGenerator{Prompt: "probe", OutputTokens: 1},
		Concurrency: 20,
		Window:      300 * time.Millisecond,
	}

	rate, err := prober.Measure(context.Background())
	require.NoError(t, err)
	assert.Greater(t, rate, 100.0, "20 workers at ~5ms per request should far exceed 100/s")
}

func TestProberCapsAtServerSustainedRate(t *testing.T) {
	// Server melts down above 50 concurrent requests: the measured bound
	// reflects only what actually completed.
	mock := &adapter.MockClient{TTFT: 5 * time.Millisecond, Tokens: 1, FailAbove: 50}
	prober := &Prober{
		Client:      mock,
		Gen:         &datagen.FixedGenerator{Prompt: "probe", OutputTokens: 1},
		Concurrency: 1000,
		Window:      300 * time.Millisecond,
	}

	rate, err := prober.Measure(context.Background())
	require.NoError(t, err)
	assert.Greater(t, rate, 0.0)
}

func TestProberFailsOnTotalFailure(t *testing.T) {
	prober := &Prober{
		Client:      alwaysFailClient{},
		Gen:         &datagen.FixedGenerator{Prompt: "probe", OutputTokens: 1},
		Concurrency: 10,
		Window:      100 * time.Millisecond,
	}

	_, err := prober.Measure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProbeFailed))
}

func TestProberPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prober := &Prober{
		Client:      &adapter.MockClient{Tokens: 1},
		Gen:         &datagen.FixedGenerator{Prompt: "probe", OutputTokens: 1},
		Concurrency: 2,
		Window:      time.Second,
	}

	_, err := prober.Measure(ctx)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrProbeFailed))
}
