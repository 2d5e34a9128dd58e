package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSparklineEmptyRendersBaseline(t *testing.T) {
	s := NewSparkline(10)

	out := s.Render()
	assert.Equal(t, 10, len([]rune(out)))
	assert.Equal(t, strings.Repeat("▁", 10), out)
}

func TestSparklineRendersSamples(t *testing.T) {
	s := NewSparkline(8)
	s.Add(1)
	s.Add(4)
	s.Add(8)

	out := s.Render()
	assert.Equal(t, 8, len([]rune(out)))
	// The largest sample maps to the tallest bar.
	assert.Contains(t, out, "█")
	// Unfilled cells are padded with spaces.
	assert.Contains(t, out, " ")
}

func TestSparklineWrapsAndRescalesMax(t *testing.T) {
	s := NewSparkline(4)
	s.Add(100)
	for i := 0; i < 7; i++ {
		s.Add(1)
	}

	// The 100 sample was overwritten and a full lap has passed, so 1
	// is now the ceiling.
	assert.InDelta(t, 1.0, s.Max(), 0.001)
	assert.Equal(t, 8, s.Count())
}

func TestSparklineRenderWidthNarrow(t *testing.T) {
	s := NewSparkline(10)
	for i := 1; i <= 10; i++ {
		s.Add(float64(i))
	}

	out := s.RenderWidth(5)
	assert.Equal(t, 5, len([]rune(out)))
	// Only the newest samples survive, ending with the tallest.
	assert.Equal(t, "█", string([]rune(out)[4]))
}

func TestSparklineClear(t *testing.T) {
	s := NewSparkline(6)
	s.Add(3)
	s.Clear()

	assert.Equal(t, 0, s.Count())
	assert.Equal(t, strings.Repeat("▁", 6), s.Render())
}
