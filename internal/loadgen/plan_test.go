package loadgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainSchedule(t *testing.T, s *Schedule) []time.Time {
	t.Helper()
	var times []time.Time
	for {
		_, at, ok := s.Next()
		if !ok {
			return times
		}
		times = append(times, at)
	}
}

func TestConstantScheduleExactTimes(t *testing.T) {
	start := time.Unix(1000, 0)
	s, err := NewSchedule(RateStage{Rate: 2, Duration: 10 * time.Second, Type: LoadConstant}, start, 0)
	require.NoError(t, err)

	times := drainSchedule(t, s)
	require.Len(t, times, 20)
	for k, at := range times {
		want := start.Add(time.Duration(k) * 500 * time.Millisecond)
		assert.Equal(t, want, at, "dispatch %d", k)
	}
}

func TestConstantScheduleCount(t *testing.T) {
	start := time.Now()
	s, err := NewSchedule(RateStage{Rate: 7, Duration: 3 * time.Second}, start, 0)
	require.NoError(t, err)
	assert.Len(t, drainSchedule(t, s), 21) // floor(7 * 3)
}

func TestPoissonScheduleReproducible(t *testing.T) {
	start := time.Unix(2000, 0)
	stage := RateStage{Rate: 50, Duration: 5 * time.Second, Type: LoadPoisson}

	a, err := NewSchedule(stage, start, 42)
	require.NoError(t, err)
	b, err := NewSchedule(stage, start, 42)
	require.NoError(t, err)

	assert.Equal(t, drainSchedule(t, a), drainSchedule(t, b))

	c, err := NewSchedule(stage, start, 43)
	require.NoError(t, err)
	assert.NotEqual(t, drainSchedule(t, a), drainSchedule(t, c))
}

func TestPoissonMeanGapConverges(t *testing.T) {
	const rate = 100.0
	start := time.Unix(0, 0)
	s, err := NewSchedule(RateStage{Rate: rate, Duration: 200 * time.Second, Type: LoadPoisson}, start, 7)
	require.NoError(t, err)

	times := drainSchedule(t, s)
	require.Greater(t, len(times), 1000)

	var total time.Duration
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, time.Duration(0), "planned times must be non-decreasing")
		total += gap
	}
	meanGap := total.Seconds() / float64(len(times)-1)
	assert.InDelta(t, 1.0/rate, meanGap, 0.05/rate)
}

func TestPoissonFirstDispatchFollowsDrawnGap(t *testing.T) {
	const rate = 10.0
	start := time.Unix(3000, 0)
	stage := RateStage{Rate: rate, Duration: 100 * time.Second, Type: LoadPoisson}

	// The first planned time is the first exponential gap, not the
	// stage start itself; its mean over many draws is 1/rate.
	var total float64
	const runs = 2000
	for seed := int64(1); seed <= runs; seed++ {
		s, err := NewSchedule(stage, start, seed)
		require.NoError(t, err)

		_, first, ok := s.Next()
		require.True(t, ok)
		gap := first.Sub(start)
		assert.Greater(t, gap, time.Duration(0))
		total += gap.Seconds()
	}
	assert.InDelta(t, 1.0/rate, total/runs, 0.1/rate)
}

func TestScheduleRejectsBadConfig(t *testing.T) {
	start := time.Now()

	_, err := NewSchedule(RateStage{Rate: 0, Duration: time.Second}, start, 0)
	assert.Error(t, err)

	_, err = NewSchedule(RateStage{Rate: -3, Duration: time.Second}, start, 0)
	assert.Error(t, err)

	_, err = NewSchedule(RateStage{Rate: 1, Duration: time.Second, Type: "burst"}, start, 0)
	assert.Error(t, err)

	_, err = NewSchedule(RateStage{Rate: 1, Duration: time.Second, Sweep: true}, start, 0)
	assert.Error(t, err)
}

func TestScheduleEmptyForZeroDuration(t *testing.T) {
	s, err := NewSchedule(RateStage{Rate: 10, Duration: 0}, time.Now(), 0)
	require.NoError(t, err)
	assert.Empty(t, drainSchedule(t, s))
}

func TestExpandSweepLinear(t *testing.T) {
	stage := RateStage{Duration: 30 * time.Second, Type: LoadPoisson, Sweep: true}
	stages := ExpandSweep(stage, 100, 4, ProgressionLinear)

	require.Len(t, stages, 4)
	assert.Equal(t, []float64{25, 50, 75, 100}, []float64{
		stages[0].Rate, stages[1].Rate, stages[2].Rate, stages[3].Rate,
	})
	for _, st := range stages {
		assert.Equal(t, 30*time.Second, st.Duration)
		assert.Equal(t, LoadPoisson, st.Type)
		assert.False(t, st.Sweep)
	}
}

func TestExpandSweepGeometric(t *testing.T) {
	stage := RateStage{Duration: 10 * time.Second}
	stages := ExpandSweep(stage, 80, 4, ProgressionGeometric)

	require.Len(t, stages, 4)
	assert.Equal(t, []float64{10, 20, 40, 80}, []float64{
		stages[0].Rate, stages[1].Rate, stages[2].Rate, stages[3].Rate,
	})
}
