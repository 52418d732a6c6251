// Package loadgen turns a multi-stage load description into scheduled
// dispatch times and realizes them through a bounded worker pool.
package loadgen

import (
	"fmt"
	"math/rand"
	"time"

	"inferload/internal/datagen"
)

// LoadType selects the inter-arrival distribution of a stage.
type LoadType string

const (
	LoadConstant LoadType = "constant"
	LoadPoisson  LoadType = "poisson"
)

// RateStage is one configured segment of a run. Immutable once loaded.
// A sweep placeholder has no concrete rate; the saturation prober fills
// it in before planning.
type RateStage struct {
	Rate     float64       `json:"rate" mapstructure:"rate"`
	Duration time.Duration `json:"duration" mapstructure:"duration"`
	Type     LoadType      `json:"type" mapstructure:"type"`
	Sweep    bool          `json:"sweep,omitempty" mapstructure:"sweep"`
}

// ScheduledDispatch is one planned unit of work. Produced in
// non-decreasing time order, consumed exactly once by the pool.
type ScheduledDispatch struct {
	Seq     int
	At      time.Time
	Request datagen.Request
}

// Schedule lazily yields the planned send times for one stage. Finite,
// bounded by the stage duration, restartable by building a new one.
type Schedule struct {
	stage RateStage
	start time.Time
	rng   *rand.Rand

	seq    int
	offset time.Duration // poisson running sum
	done   bool
}

// NewSchedule validates the stage and prepares its dispatch timer. The
// seed makes poisson schedules reproducible; pass 0 to randomize.
func NewSchedule(stage RateStage, start time.Time, seed int64) (*Schedule, error) {
	if stage.Sweep {
		return nil, fmt.Errorf("sweep stage must be resolved to a concrete rate before planning")
	}
	if stage.Rate <= 0 {
		return nil, fmt.Errorf("stage rate must be positive, got %g", stage.Rate)
	}
	switch stage.Type {
	case LoadConstant, LoadPoisson:
	case "":
		stage.Type = LoadConstant
	default:
		return nil, fmt.Errorf("unknown load type %q", stage.Type)
	}

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Schedule{
		stage: stage,
		start: start,
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

// Next returns the next planned send time. ok is false once the stage
// duration is exhausted.
func (s *Schedule) Next() (seq int, at time.Time, ok bool) {
	if s.done || s.stage.Duration <= 0 {
		s.done = true
		return 0, time.Time{}, false
	}

	var offset time.Duration
	switch s.stage.Type {
	case LoadPoisson:
		// Every dispatch, the first included, follows a drawn gap: the
		// planned times are the running sum of the gaps.
		gap := s.rng.ExpFloat64() / s.stage.Rate
		s.offset += time.Duration(gap * float64(time.Second))
		offset = s.offset
	default: // constant
		offset = time.Duration(float64(s.seq) / s.stage.Rate * float64(time.Second))
	}

	if offset >= s.stage.Duration {
		s.done = true
		return 0, time.Time{}, false
	}

	seq = s.seq
	s.seq++
	return seq, s.start.Add(offset), true
}

// Progression shapes a sweep's generated rate ladder.
type Progression string

const (
	ProgressionLinear    Progression = "linear"
	ProgressionGeometric Progression = "geometric"
)

// ExpandSweep replaces a sweep placeholder with concrete stages whose
// rates climb to the probed upper bound. Each generated stage inherits
// the placeholder's duration and distribution.
func ExpandSweep(stage RateStage, bound float64, steps int, prog Progression) []RateStage {
	if steps < 1 {
		steps = 1
	}
	out := make([]RateStage, 0, steps)
	for i := 1; i <= steps; i++ {
		var rate float64
		switch prog {
		case ProgressionGeometric:
			// bound / 2^(steps-i): doubles each step, ends at the bound.
			rate = bound / float64(int64(1)<<uint(steps-i))
		default:
			rate = bound * float64(i) / float64(steps)
		}
		out = append(out, RateStage{
			Rate:     rate,
			Duration: stage.Duration,
			Type:     stage.Type,
		})
	}
	return out
}
