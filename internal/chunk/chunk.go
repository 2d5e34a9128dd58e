// Package chunk splits extracted text into overlapping windows sized
// for embedding. Cuts prefer natural boundaries (paragraphs, sentences)
// near the window edge; positions are exact byte offsets into the
// original text, safe to slice.
package chunk

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// DefaultSize is the window size in characters.
	DefaultSize = 500
	// DefaultOverlap is the backward extension of non-first chunks.
	DefaultOverlap = 50
	// DefaultThreshold is the single-chunk cutoff.
	DefaultThreshold = 600

	minSize = 100
	maxSize = 2000
)

// boundaryMarkers in priority order. Earlier markers are stronger cuts;
// the two-byte ASCII pairs keep "3.14" and "U.S." intact.
var boundaryMarkers = []string{
	"\n\n\n", "\n\n", "\n",
	"。", "！", "？", "；",
	". ", "! ", "? ", "; ",
}

// Chunk is one window over the original text.
type Chunk struct {
	Index int
	Text  string
	// Start and End are byte offsets into the original text; Text is
	// text[Start:End].
	Start int
	End   int
}

// Options tunes the splitter. Zero values take defaults; Size is clamped
// to [100, 2000] and Overlap to [0, Size/2].
type Options struct {
	Size      int
	Overlap   int
	Threshold int
}

// Splitter cuts text into chunks.
type Splitter struct {
	size      int
	overlap   int
	threshold int
}

// New creates a splitter with clamped options.
func New(opts Options) *Splitter {
	size := opts.Size
	if size == 0 {
		size = DefaultSize
	}
	if size < minSize {
		size = minSize
	}
	if size > maxSize {
		size = maxSize
	}

	overlap := opts.Overlap
	if opts.Size == 0 && opts.Overlap == 0 {
		overlap = DefaultOverlap
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > size/2 {
		overlap = size / 2
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	return &Splitter{size: size, overlap: overlap, threshold: threshold}
}

// Strategy returns the "size+overlap" string recorded on files.
func (s *Splitter) Strategy() string {
	return fmt.Sprintf("%d+%d", s.size, s.overlap)
}

// Split cuts text into chunks. Leading and trailing whitespace of the
// whole text is excluded; the union of [Start, End) covers everything
// between. Empty or all-whitespace text yields no chunks.
func (s *Splitter) Split(text string) []Chunk {
	runes := []rune(text)

	// Byte offset of each rune, plus the final length for slicing.
	offsets := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += len(string(r))
	}
	offsets[len(runes)] = pos

	lo, hi := trimBounds(runes)
	if lo >= hi {
		return nil
	}

	if hi-lo <= s.threshold {
		return []Chunk{{
			Index: 0,
			Text:  text[offsets[lo]:offsets[hi]],
			Start: offsets[lo],
			End:   offsets[hi],
		}}
	}

	var chunks []Chunk
	cur := lo
	for cur < hi {
		cut := s.findCut(runes, cur, hi)

		start := cur
		if len(chunks) > 0 && s.overlap > 0 {
			start = s.overlapStart(runes, cur)
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  text[offsets[start]:offsets[cut]],
			Start: offsets[start],
			End:   offsets[cut],
		})
		cur = cut
	}
	return chunks
}

// findCut returns the end (exclusive, in runes) of the window starting
// at cur. The last ~20% of the window is searched for the
// highest-priority boundary marker; without one the window ends at the
// hard edge.
func (s *Splitter) findCut(runes []rune, cur, hi int) int {
	winEnd := cur + s.size
	if winEnd >= hi {
		return hi
	}

	searchStart := winEnd - s.size/5
	if searchStart < cur {
		searchStart = cur
	}

	window := string(runes[searchStart:winEnd])
	for _, marker := range boundaryMarkers {
		if idx := strings.LastIndex(window, marker); idx >= 0 {
			// Convert the byte index inside the window back to runes.
			cut := searchStart + len([]rune(window[:idx])) + len([]rune(marker))
			if cut > cur {
				return cut
			}
		}
	}
	return winEnd
}

// overlapStart extends a chunk backward over at most `overlap` runes of
// the previous window, trimmed forward so the overlap begins after a
// sentence boundary when one exists in the extension.
func (s *Splitter) overlapStart(runes []rune, cur int) int {
	start := cur - s.overlap
	if start < 0 {
		start = 0
	}

	region := string(runes[start:cur])
	best := -1
	for _, marker := range boundaryMarkers {
		if idx := strings.Index(region, marker); idx >= 0 {
			end := idx + len(marker)
			if best == -1 || end < best {
				best = end
			}
		}
	}
	if best >= 0 {
		trimmed := start + len([]rune(region[:best]))
		if trimmed < cur {
			return trimmed
		}
	}
	return start
}

// trimBounds returns the rune range of text with surrounding whitespace
// excluded.
func trimBounds(runes []rune) (int, int) {
	lo := 0
	hi := len(runes)
	for lo < hi && unicode.IsSpace(runes[lo]) {
		lo++
	}
	for hi > lo && unicode.IsSpace(runes[hi-1]) {
		hi--
	}
	return lo, hi
}
