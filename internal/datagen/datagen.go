// Package datagen produces request payload descriptors for the load
// generator. The core treats payloads as opaque beyond their identity
// and output-length hint.
package datagen

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Request is one payload descriptor. ID correlates the payload with its
// timing record.
type Request struct {
	ID           string
	Prompt       string
	InputTokens  int // approximate prompt length hint
	OutputTokens int // target output length hint
}

// Generator yields payload descriptors on demand.
type Generator interface {
	Next() Request
}

var promptWords = []string{
	"the", "quick", "brown", "fox", "jumps", "over", "a", "lazy", "dog",
	"while", "seven", "wizards", "toast", "bright", "vexed", "nymphs",
	"under", "pale", "morning", "light", "beyond", "distant", "hills",
}

// SyntheticGenerator builds prompts of an approximate token length from
// a word bank, with fixed input/output length hints. Seedable for
// reproducible payloads.
type SyntheticGenerator struct {
	inputTokens  int
	outputTokens int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSyntheticGenerator(inputTokens, outputTokens int, seed int64) *SyntheticGenerator {
	if inputTokens <= 0 {
		inputTokens = 128
	}
	if outputTokens <= 0 {
		outputTokens = 128
	}
	return &SyntheticGenerator{
		inputTokens:  inputTokens,
		outputTokens: outputTokens,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

func (g *SyntheticGenerator) Next() Request {
	g.mu.Lock()
	var sb strings.Builder
	// Rough approximation: one word per token.
	for i := 0; i < g.inputTokens; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(promptWords[g.rng.Intn(len(promptWords))])
	}
	g.mu.Unlock()

	return Request{
		ID:           uuid.New().String(),
		Prompt:       sb.String(),
		InputTokens:  g.inputTokens,
		OutputTokens: g.outputTokens,
	}
}

// FixedGenerator returns the same prompt every time. Used by the
// saturation prober and in tests, where payload variety is noise.
type FixedGenerator struct {
	Prompt       string
	InputTokens  int
	OutputTokens int
}

func (g *FixedGenerator) Next() Request {
	return Request{
		ID:           uuid.New().String(),
		Prompt:       g.Prompt,
		InputTokens:  g.InputTokens,
		OutputTokens: g.OutputTokens,
	}
}
