package ui

import "strings"

// Sparkline is a ring buffer of throughput samples rendered with
// Unicode block characters.
type Sparkline struct {
	samples []float64
	width   int
	head    int
	count   int
	max     float64
}

var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// NewSparkline creates a sparkline holding width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width), width: width}
}

// Add appends a sample, overwriting the oldest once full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % s.width
	s.count++

	if value > s.max {
		s.max = value
	}
	// Overwritten samples may have held the max; rescan once per lap.
	if s.count%s.width == 0 {
		s.rescanMax()
	}
}

func (s *Sparkline) rescanMax() {
	s.max = 0
	for _, v := range s.samples {
		if v > s.max {
			s.max = v
		}
	}
	if s.max < 1 {
		s.max = 1
	}
}

// Render returns the full-width sparkline, oldest sample first.
func (s *Sparkline) Render() string { return s.RenderWidth(s.width) }

// RenderWidth renders the most recent samples into width cells, padding
// with spaces while the buffer is still filling.
func (s *Sparkline) RenderWidth(width int) string {
	if width <= 0 || width > s.width {
		width = s.width
	}
	if s.count == 0 {
		return strings.Repeat(string(sparkChars[0]), width)
	}
	if s.max <= 0 {
		s.rescanMax()
	}

	filled := s.count
	if filled > s.width {
		filled = s.width
	}
	// Oldest retained sample sits at head once the ring has wrapped.
	start := 0
	if s.count >= s.width {
		start = s.head
	}
	skip := 0
	if filled > width {
		skip = filled - width
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	rendered := 0
	for i := skip; i < filled && rendered < width; i++ {
		v := s.samples[(start+i)%s.width]
		idx := int(v / s.max * float64(len(sparkChars)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkChars) {
			idx = len(sparkChars) - 1
		}
		sb.WriteRune(sparkChars[idx])
		rendered++
	}
	for rendered < width {
		sb.WriteRune(' ')
		rendered++
	}
	return sb.String()
}

// Clear resets all samples.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.max = 0
}

// Count returns how many samples were ever added.
func (s *Sparkline) Count() int { return s.count }

// Max returns the current scale ceiling.
func (s *Sparkline) Max() float64 { return s.max }
