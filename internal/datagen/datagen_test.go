package datagen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticGeneratorShape(t *testing.T) {
	gen := NewSyntheticGenerator(32, 8, 7)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		req := gen.Next()
		require.NotEmpty(t, req.ID)
		assert.False(t, seen[req.ID], "request IDs must be unique")
		seen[req.ID] = true

		assert.Equal(t, 32, req.InputTokens)
		assert.Equal(t, 8, req.OutputTokens)
		assert.Len(t, strings.Fields(req.Prompt), 32)
	}
}

func TestSyntheticGeneratorSeededPrompts(t *testing.T) {
	a := NewSyntheticGenerator(16, 4, 42)
	b := NewSyntheticGenerator(16, 4, 42)

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Next().Prompt, b.Next().Prompt)
	}
}

func TestFixedGenerator(t *testing.T) {
	gen := &FixedGenerator{Prompt: "hello world", InputTokens: 2, OutputTokens: 5}

	first := gen.Next()
	second := gen.Next()
	assert.Equal(t, "hello world", first.Prompt)
	assert.Equal(t, first.Prompt, second.Prompt)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 5, first.OutputTokens)
}
