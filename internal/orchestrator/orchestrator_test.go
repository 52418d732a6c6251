package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferload/internal/adapter"
	"inferload/internal/config"
	"inferload/internal/datagen"
	"inferload/internal/loadgen"
	"inferload/internal/report"
)

func testConfig(stages []loadgen.RateStage) *config.Config {
	cfg := &config.Config{}
	cfg.Server.Type = "mock"
	cfg.Load.Type = loadgen.LoadConstant
	cfg.Load.Seed = 1
	cfg.Load.NumWorkers = 1
	cfg.Load.WorkerMaxConcurrency = 10
	cfg.Load.DrainGrace = time.Second
	cfg.Load.Stages = stages
	cfg.Load.Sweep.Steps = 2
	cfg.Load.Sweep.Progression = string(loadgen.ProgressionLinear)
	cfg.Load.Sweep.ProbeConcurrency = 4
	cfg.Load.Sweep.ProbeWindow = 200 * time.Millisecond
	return cfg
}

type memorySink struct {
	stages []report.StageReport
	runs   []report.RunReport
}

func (m *memorySink) SaveStage(rep report.StageReport) error {
	m.stages = append(m.stages, rep)
	return nil
}

func (m *memorySink) SaveRun(rep report.RunReport) error {
	m.runs = append(m.runs, rep)
	return nil
}

func TestRunSingleConstantStage(t *testing.T) {
	cfg := testConfig([]loadgen.RateStage{{Rate: 5, Duration: 4 * time.Second}})
	mock := &adapter.MockClient{Tokens: 3}
	gen := datagen.NewSyntheticGenerator(16, 3, 1)
	sink := &memorySink{}

	orch := New(cfg, mock, gen, nil, WithSink(sink))
	run, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Stages, 1)
	stage := run.Stages[0]

	// 5 rps over 4s dispatches exactly 20 requests against an instant
	// server, all of which should complete cleanly.
	assert.Equal(t, 20, stage.Metrics.Requests.Total)
	assert.Equal(t, 20, stage.Metrics.Requests.OK)
	assert.Equal(t, 20, stage.Load.Count)
	// Sends run 0s..3.8s, so the first-to-last span slightly inflates
	// the achieved rate relative to the requested 5 rps.
	assert.InDelta(t, 20.0/3.8, stage.Load.AchievedRate, 0.3)
	assert.Less(t, stage.Load.ScheduleDelay.Median, 0.05)

	assert.Equal(t, 20, run.Summary.Requests.OK)
	require.Len(t, sink.stages, 1)
	require.Len(t, sink.runs, 1)
	assert.Equal(t, run.RunID, sink.runs[0].RunID)
}

func TestRunMultipleStagesInOrder(t *testing.T) {
	cfg := testConfig([]loadgen.RateStage{
		{Rate: 10, Duration: time.Second},
		{Rate: 20, Duration: time.Second},
	})
	mock := &adapter.MockClient{Tokens: 1}
	gen := datagen.NewSyntheticGenerator(8, 1, 1)

	orch := New(cfg, mock, gen, nil)
	run, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Stages, 2)
	assert.Equal(t, 0, run.Stages[0].Stage)
	assert.Equal(t, 1, run.Stages[1].Stage)
	assert.Equal(t, 10, run.Stages[0].Metrics.Requests.Total)
	assert.Equal(t, 20, run.Stages[1].Metrics.Requests.Total)
	assert.False(t, run.Stages[1].Start.Before(run.Stages[0].End))
	assert.Equal(t, 30, run.Summary.Requests.Total)
}

func TestRunResolvesSweepStage(t *testing.T) {
	cfg := testConfig([]loadgen.RateStage{
		{Sweep: true, Duration: 500 * time.Millisecond},
	})
	mock := &adapter.MockClient{TTFT: time.Millisecond, Tokens: 1}
	gen := datagen.NewSyntheticGenerator(8, 1, 1)

	orch := New(cfg, mock, gen, nil)
	run, err := orch.Run(context.Background())
	require.NoError(t, err)

	// One sweep placeholder expands to sweep.steps concrete stages with
	// increasing rates.
	require.Len(t, run.Stages, 2)
	assert.True(t, run.Stages[0].SweepSource)
	assert.Greater(t, run.Stages[0].Rate, 0.0)
	assert.Greater(t, run.Stages[1].Rate, run.Stages[0].Rate)
}

// recordingClient timestamps every request it forwards.
type recordingClient struct {
	inner adapter.Client

	mu    sync.Mutex
	calls []time.Time
}

func (c *recordingClient) Stream(ctx context.Context, req datagen.Request) <-chan adapter.Event {
	c.mu.Lock()
	c.calls = append(c.calls, time.Now())
	c.mu.Unlock()
	return c.inner.Stream(ctx, req)
}

func (c *recordingClient) callsBefore(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, at := range c.calls {
		if at.Before(cutoff) {
			n++
		}
	}
	return n
}

func TestSweepProbeWaitsForEarlierStages(t *testing.T) {
	cfg := testConfig([]loadgen.RateStage{
		{Rate: 1, Duration: time.Second},
		{Sweep: true, Duration: 300 * time.Millisecond},
	})
	client := &recordingClient{inner: &adapter.MockClient{TTFT: 50 * time.Millisecond, Tokens: 1}}
	gen := datagen.NewSyntheticGenerator(8, 1, 1)

	orch := New(cfg, client, gen, nil)
	run, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Stages, 3)
	assert.False(t, run.Stages[0].SweepSource)
	assert.True(t, run.Stages[1].SweepSource)

	// Stage 0 dispatches exactly one request; the probe burst and the
	// resulting ladder must not reach the target until it finalizes.
	assert.Equal(t, 1, client.callsBefore(run.Stages[0].End),
		"only stage 0 traffic may hit the target before stage 0 ends")
	assert.False(t, run.Stages[1].Start.Before(run.Stages[0].End))
}

type deadClient struct{}

func (deadClient) Stream(ctx context.Context, req datagen.Request) <-chan adapter.Event {
	events := make(chan adapter.Event, 1)
	events <- adapter.Event{Kind: adapter.EventError, At: time.Now(), Err: errors.New("connection refused")}
	close(events)
	return events
}

func TestRunFailsWhenProbeFails(t *testing.T) {
	cfg := testConfig([]loadgen.RateStage{{Sweep: true, Duration: time.Second}})
	gen := datagen.NewSyntheticGenerator(8, 1, 1)

	orch := New(cfg, deadClient{}, gen, nil)
	_, err := orch.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, loadgen.ErrProbeFailed))
}

func TestRunRequestFailuresDoNotAbort(t *testing.T) {
	cfg := testConfig([]loadgen.RateStage{{Rate: 10, Duration: time.Second}})
	gen := datagen.NewSyntheticGenerator(8, 1, 1)

	orch := New(cfg, deadClient{}, gen, nil)
	run, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, run.Stages, 1)
	assert.Equal(t, 10, run.Stages[0].Metrics.Requests.Total)
	assert.Equal(t, 0, run.Stages[0].Metrics.Requests.OK)
	assert.Equal(t, 10, run.Stages[0].Metrics.Requests.Errored)
}

func TestRunHonorsCancellation(t *testing.T) {
	cfg := testConfig([]loadgen.RateStage{{Rate: 2, Duration: time.Minute}})
	mock := &adapter.MockClient{Tokens: 1}
	gen := datagen.NewSyntheticGenerator(8, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	orch := New(cfg, mock, gen, nil)

	done := make(chan error, 1)
	go func() {
		_, err := orch.Run(ctx)
		done <- err
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestSnapshotsArePublished(t *testing.T) {
	cfg := testConfig([]loadgen.RateStage{{Rate: 20, Duration: time.Second}})
	mock := &adapter.MockClient{Tokens: 1}
	gen := datagen.NewSyntheticGenerator(8, 1, 1)

	updates := make(SnapshotChan, 64)
	orch := New(cfg, mock, gen, nil, WithUpdates(updates))

	_, err := orch.Run(context.Background())
	require.NoError(t, err)
	close(updates)

	var sawRunning, sawFinalized bool
	for s := range updates {
		assert.Equal(t, 1, s.TotalStages)
		switch s.State {
		case StateRunning, StateDraining:
			sawRunning = true
		case StateFinalized:
			sawFinalized = true
			assert.Equal(t, int64(20), s.Completed)
		}
	}
	assert.True(t, sawRunning, "expected at least one running snapshot")
	assert.True(t, sawFinalized, "expected a finalized snapshot")
}
