package cmd

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loupehq/loupe/internal/ui"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report index health, counts, and storage footprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, cleanup, err := openServices(ctx, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			check, err := svc.Status(ctx)
			if err != nil {
				return err
			}
			stats, err := svc.Store().Stats(ctx)
			if err != nil {
				return err
			}
			cfg := svc.Config()

			info := ui.StatusInfo{
				DataRoot:      cfg.DataRoot,
				Files:         stats.Files,
				IndexedFiles:  stats.IndexedFiles,
				FailedFiles:   stats.FailedFiles,
				Chunks:        stats.Chunks,
				Jobs:          stats.Jobs,
				RunningJobs:   stats.RunningJobs,
				VectorLive:    check.VectorLive,
				VectorOrphans: check.VectorOrphans,
				FullTextDocs:  check.FullTextDocs,
				DatabaseSize:  fileSize(cfg.DatabasePath()),
				VectorSize:    dirSize(cfg.VectorDir()),
				FullTextSize:  dirSize(cfg.FullTextDir()),
				EmbedderModel: svc.EmbedderModel(),
			}
			info.TotalSize = info.DatabaseSize + info.VectorSize + info.FullTextSize
			for _, issue := range check.Issues {
				info.Issues = append(info.Issues, issue.Kind)
			}

			info.EmbedderStatus = "offline"
			if svc.EmbedderReady(ctx) {
				info.EmbedderStatus = "ready"
			}
			if svc.SpeechConfigured() {
				info.SpeechStatus = "ready"
			} else {
				info.SpeechStatus = "not configured"
			}
			if svc.VisionConfigured() {
				info.ImageStatus = "ready"
			} else {
				info.ImageStatus = "not configured"
			}

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), opts.noColor)
			if jsonOut {
				return renderer.RenderJSON(info)
			}
			return renderer.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output status as JSON")
	return cmd
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
