package ui

import (
	"encoding/json"
	"fmt"
	"io"
)

// StatusInfo is everything the status command reports about one data
// root: store counters, index consistency, storage footprint, and
// predictor health.
type StatusInfo struct {
	DataRoot string `json:"data_root"`

	Files        int `json:"files"`
	IndexedFiles int `json:"indexed_files"`
	FailedFiles  int `json:"failed_files"`
	Chunks       int `json:"chunks"`
	Jobs         int `json:"jobs"`
	RunningJobs  int `json:"running_jobs"`

	VectorLive    int `json:"vector_live"`
	VectorOrphans int `json:"vector_orphans"`
	FullTextDocs  int `json:"fulltext_docs"`

	// Issues holds consistency findings; empty means the three stores
	// agree.
	Issues []string `json:"issues,omitempty"`

	DatabaseSize int64 `json:"database_size"`
	VectorSize   int64 `json:"vector_size"`
	FullTextSize int64 `json:"fulltext_size"`
	TotalSize    int64 `json:"total_size"`

	EmbedderModel  string `json:"embedder_model,omitempty"`
	EmbedderStatus string `json:"embedder_status"` // ready, offline
	SpeechStatus   string `json:"speech_status,omitempty"`
	ImageStatus    string `json:"image_status,omitempty"`
}

// StatusRenderer prints StatusInfo as a terminal report or JSON.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes the human-readable report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index status: "+info.DataRoot))

	fmt.Fprintln(r.out, "  Files:")
	fmt.Fprintf(r.out, "    Tracked: %d\n", info.Files)
	fmt.Fprintf(r.out, "    Indexed: %d\n", info.IndexedFiles)
	if info.FailedFiles > 0 {
		fmt.Fprintf(r.out, "    Failed:  %s\n",
			r.styles.Error.Render(fmt.Sprintf("%d", info.FailedFiles)))
	}
	fmt.Fprintf(r.out, "    Chunks:  %d\n", info.Chunks)
	fmt.Fprintln(r.out)

	fmt.Fprintln(r.out, "  Indexes:")
	fmt.Fprintf(r.out, "    Vectors:   %d live", info.VectorLive)
	if info.VectorOrphans > 0 {
		fmt.Fprintf(r.out, ", %d orphaned", info.VectorOrphans)
	}
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "    Full-text: %d documents\n", info.FullTextDocs)
	if len(info.Issues) == 0 {
		fmt.Fprintf(r.out, "    Health:    %s\n", r.styles.Success.Render("consistent"))
	} else {
		for _, issue := range info.Issues {
			fmt.Fprintf(r.out, "    Health:    %s\n", r.styles.Warning.Render(issue))
		}
	}
	fmt.Fprintln(r.out)

	if info.TotalSize > 0 {
		fmt.Fprintln(r.out, "  Storage:")
		fmt.Fprintf(r.out, "    Database:  %s\n", FormatBytes(info.DatabaseSize))
		fmt.Fprintf(r.out, "    Vectors:   %s\n", FormatBytes(info.VectorSize))
		fmt.Fprintf(r.out, "    Full-text: %s\n", FormatBytes(info.FullTextSize))
		fmt.Fprintf(r.out, "    Total:     %s\n", FormatBytes(info.TotalSize))
		fmt.Fprintln(r.out)
	}

	fmt.Fprintln(r.out, "  Services:")
	fmt.Fprintf(r.out, "    Embedding: %s", r.renderHealth(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		fmt.Fprintf(r.out, " (%s)", info.EmbedderModel)
	}
	fmt.Fprintln(r.out)
	if info.SpeechStatus != "" {
		fmt.Fprintf(r.out, "    Speech:    %s\n", r.renderHealth(info.SpeechStatus))
	}
	if info.ImageStatus != "" {
		fmt.Fprintf(r.out, "    Image:     %s\n", r.renderHealth(info.ImageStatus))
	}

	if info.RunningJobs > 0 {
		fmt.Fprintf(r.out, "\n  %s\n",
			r.styles.Active.Render(fmt.Sprintf("%d job(s) running", info.RunningJobs)))
	}
	return nil
}

// RenderJSON writes the report as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderHealth(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline", "not configured":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// FormatBytes renders a byte count in human units.
func FormatBytes(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/float64(gb))
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(mb))
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(kb))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
