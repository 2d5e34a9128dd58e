package ui

import (
	"sync"
	"time"

	"github.com/loupehq/loupe/internal/progress"
)

// Tracker accumulates view state from job snapshots: throughput,
// smoothed ETA, and the error log. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	snap    progress.Snapshot
	started time.Time

	errors   []ErrorEvent
	warnings []ErrorEvent

	// ETA smoothing keeps the estimate from jumping between updates.
	lastETA time.Duration

	lastProcessed int
	lastSpeedCalc time.Time
	currentSpeed  float64
	avgSpeed      float64
	peakSpeed     float64
	speedSamples  int
	sparkline     *Sparkline
}

// SpeedStats is the files-per-second view of a running job.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ViewState is one consistent snapshot of everything a renderer shows.
type ViewState struct {
	Snapshot   progress.Snapshot
	ETA        time.Duration
	Speed      SpeedStats
	ErrorCount int
	WarnCount  int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		started:       now,
		lastSpeedCalc: now,
		sparkline:     NewSparkline(60),
	}
}

// Update folds a new snapshot into the tracker.
func (t *Tracker) Update(snap progress.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap = snap

	// Sample speed at most twice a second to keep the numbers stable.
	now := time.Now()
	elapsed := now.Sub(t.lastSpeedCalc)
	if elapsed < 500*time.Millisecond {
		return
	}
	delta := snap.ProcessedFiles - t.lastProcessed
	if delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		t.currentSpeed = speed
		t.speedSamples++
		if t.speedSamples == 1 {
			t.avgSpeed = speed
		} else {
			t.avgSpeed = 0.2*speed + 0.8*t.avgSpeed
		}
		if speed > t.peakSpeed {
			t.peakSpeed = speed
		}
		t.sparkline.Add(speed)
	}
	t.lastProcessed = snap.ProcessedFiles
	t.lastSpeedCalc = now
}

// AddError records a per-file failure or warning.
func (t *Tracker) AddError(ev ErrorEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Warn {
		t.warnings = append(t.warnings, ev)
	} else {
		t.errors = append(t.errors, ev)
	}
}

// Stats returns the current view state.
func (t *Tracker) Stats() ViewState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return ViewState{
		Snapshot:   t.snap,
		ETA:        t.calculateETA(),
		Speed:      SpeedStats{Current: t.currentSpeed, Avg: t.avgSpeed, Peak: t.peakSpeed},
		ErrorCount: len(t.errors),
		WarnCount:  len(t.warnings),
	}
}

// Elapsed returns time since the tracker was created.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.started)
}

// Errors returns a copy of the recorded errors.
func (t *Tracker) Errors() []ErrorEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ErrorEvent, len(t.errors))
	copy(out, t.errors)
	return out
}

// RenderSparkline renders the throughput history at the given width.
func (t *Tracker) RenderSparkline(width int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sparkline.RenderWidth(width)
}

const etaSmoothing = 0.3

// calculateETA extrapolates remaining time from job progress and blends
// it with the previous estimate. Caller holds the lock.
func (t *Tracker) calculateETA() time.Duration {
	done := t.snap.ProcessedFiles
	total := t.snap.TotalFiles
	if done == 0 || total == 0 || done >= total {
		return 0
	}

	elapsed := time.Since(t.started)
	frac := float64(done) / float64(total)
	raw := time.Duration(float64(elapsed)/frac) - elapsed
	if raw < 0 {
		raw = 0
	}

	if t.lastETA == 0 {
		t.lastETA = raw
		return raw
	}
	smoothed := time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(t.lastETA))
	t.lastETA = smoothed
	return smoothed
}
