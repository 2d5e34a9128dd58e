package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	jobprogress "github.com/loupehq/loupe/internal/progress"
)

// TUIRenderer shows a live indexing view built on bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *jobModel
	tracker *Tracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates the live renderer. It fails when the output
// is not a terminal; callers fall back to plain output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a terminal")
	}

	tracker := NewTracker()
	model := newJobModel(tracker)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	_, r.cancel = context.WithCancel(ctx)

	var opts []tea.ProgramOption
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	opts = append(opts, tea.WithAltScreen())

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(snap jobprogress.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.Update(snap)
	if r.program != nil {
		r.program.Send(snapshotMsg(snap))
	}
}

// Error implements Renderer.
func (r *TUIRenderer) Error(ev ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracker.AddError(ev)
	if r.program != nil {
		r.program.Send(errorMsg(ev))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(sum Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(summaryMsg(sum))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.program != nil {
		r.program.Quit()
		// Bounded wait so Ctrl+C never hangs on a wedged terminal.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

type snapshotMsg jobprogress.Snapshot
type errorMsg ErrorEvent
type summaryMsg Summary
type tickMsg time.Time

// jobModel is the bubbletea model for one index job.
type jobModel struct {
	tracker     *Tracker
	width       int
	height      int
	quitting    bool
	complete    bool
	summary     Summary
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
}

func newJobModel(tracker *Tracker) *jobModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))

	p := progress.New(
		progress.WithSolidFill(colorAccent),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &jobModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		height:      24,
	}
}

// Init implements tea.Model.
func (m *jobModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *jobModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case snapshotMsg, errorMsg:
		// State already lives in the tracker; the next tick redraws.
		return m, nil

	case summaryMsg:
		m.complete = true
		m.summary = Summary(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *jobModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	sections := []string{
		m.renderProgress(),
		m.renderSpeed(),
		m.renderDivider(contentWidth),
		m.renderSparkline(contentWidth),
	}
	content := strings.Join(sections, "\n")

	panel := m.wrapInPanel("loupe indexing", content, contentWidth)
	return panel + "\n" + m.renderStatusBar()
}

func (m *jobModel) renderProgress() string {
	stats := m.tracker.Stats()
	snap := stats.Snapshot

	if snap.TotalFiles == 0 {
		return fmt.Sprintf("%s scanning...\n%s",
			m.spinner.View(), m.styles.Dim.Render("counting files"))
	}

	bar := m.progressBar.ViewAs(snap.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", snap.Progress*100))
	counts := m.styles.Label.Render(fmt.Sprintf("%d / %d files", snap.ProcessedFiles, snap.TotalFiles))
	return fmt.Sprintf("%s  %s\n%s", bar, pct, counts)
}

func (m *jobModel) renderSpeed() string {
	stats := m.tracker.Stats()

	speed := fmt.Sprintf("%.0f files/s", stats.Speed.Current)
	if stats.Speed.Avg > 0 {
		speed += fmt.Sprintf(" (avg %.0f, peak %.0f)", stats.Speed.Avg, stats.Speed.Peak)
	}
	parts := []string{m.styles.Speed.Render(speed)}
	if stats.ETA > 0 {
		parts = append(parts, m.styles.Label.Render("ETA "+formatDuration(stats.ETA)))
	}
	return strings.Join(parts, m.styles.Dim.Render("  •  "))
}

func (m *jobModel) renderSparkline(width int) string {
	sparkWidth := width - 12
	if sparkWidth < 10 {
		sparkWidth = 10
	}
	spark := m.tracker.RenderSparkline(sparkWidth)
	return m.styles.Sparkline.Render(spark) + " " + m.styles.Dim.Render("throughput")
}

func (m *jobModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *jobModel) wrapInPanel(title, content string, width int) string {
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(content),
	)
}

func (m *jobModel) renderStatusBar() string {
	stats := m.tracker.Stats()
	var parts []string

	if stats.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.WarnCount)))
	}
	if stats.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.ErrorCount)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}
	sep := m.styles.Dim.Render("  │  ")
	return strings.Join(parts, sep) + m.styles.Dim.Render("  │  q to quit")
}

func (m *jobModel) renderComplete() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	head := "✓ Indexing complete"
	if m.summary.Stopped {
		head = "■ Indexing stopped"
	}

	lines := []string{
		m.styles.Success.Render(head),
		"",
		fmt.Sprintf("%s    %s", m.styles.Label.Render("Files:"),
			m.styles.Active.Render(fmt.Sprintf("%d", m.summary.Files))),
		fmt.Sprintf("%s   %s", m.styles.Label.Render("Chunks:"),
			m.styles.Active.Render(fmt.Sprintf("%d", m.summary.Chunks))),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration:"),
			m.styles.Active.Render(formatDuration(m.summary.Duration))),
	}
	if m.summary.Model != "" {
		lines = append(lines, fmt.Sprintf("%s    %s",
			m.styles.Label.Render("Model:"), m.styles.Speed.Render(m.summary.Model)))
	}
	if m.summary.Errors > 0 {
		lines = append(lines, "",
			m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.summary.Errors)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorAccent)).
		Padding(1, 2).
		Width(contentWidth)

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

var _ Renderer = (*TUIRenderer)(nil)
