package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loupehq/loupe/internal/app"
	"github.com/loupehq/loupe/internal/store"
	"github.com/loupehq/loupe/internal/ui"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var update bool
	var fileTypes []string

	cmd := &cobra.Command{
		Use:   "index [folder...]",
		Short: "Build the search index for one or more folders",
		Long: `Scan folders and index their files: parse content, extract metadata,
chunk, embed, and write the vector and full-text indexes.

A full build processes everything; --update diffs against the stored
fingerprints and only touches added, changed, and deleted files.

Examples:
  loupe index ~/Documents
  loupe index --update ~/Documents ~/Projects/notes
  loupe index --file-type pdf --file-type docx ~/Papers`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			roots := args
			if len(roots) == 0 {
				roots = []string{"."}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, cleanup, err := openServices(ctx, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			var jobID int64
			if update {
				jobID, err = svc.BuildIncrementalIndex(ctx, roots, fileTypes)
			} else {
				jobID, err = svc.BuildFullIndex(ctx, roots, fileTypes)
			}
			if err != nil {
				return err
			}

			renderer := ui.NewRenderer(ui.Config{
				Output:     cmd.OutOrStdout(),
				ForcePlain: opts.plain,
				NoColor:    opts.noColor,
			})
			return followJob(ctx, svc, jobID, renderer)
		},
	}

	cmd.Flags().BoolVarP(&update, "update", "u", false, "Incremental build: only changed files")
	cmd.Flags().StringSliceVarP(&fileTypes, "file-type", "t", nil, "Limit to file types (repeatable)")
	return cmd
}

// followJob streams job progress into the renderer until the job ends,
// then prints the summary. Ctrl+C stops the job and waits for the
// runner to persist.
func followJob(ctx context.Context, svc *app.Services, jobID int64, renderer ui.Renderer) error {
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer renderer.Stop()

	sub, err := svc.SubscribeJob(jobID)
	if err != nil {
		return err
	}
	defer svc.Unsubscribe(sub)

	done := ctx.Done()
	for {
		select {
		case <-done:
			// Stop once; keep draining snapshots until the runner
			// records the terminal state.
			done = nil
			_ = svc.StopJob(ctx, jobID)
		case snap, ok := <-sub.C():
			if !ok {
				return summarizeJob(svc, jobID, renderer)
			}
			renderer.Update(snap)
		}
	}
}

func summarizeJob(svc *app.Services, jobID int64, renderer ui.Renderer) error {
	// The subscription closed on the terminal snapshot, so the stored
	// row is final. Use a fresh context: the command context may
	// already be canceled by Ctrl+C.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := svc.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	sum := ui.Summary{
		Files:   job.ProcessedFiles,
		Errors:  job.ErrorCount,
		Model:   svc.EmbedderModel(),
		Stopped: job.Status == store.JobFailed && job.ErrorMessage == "stopped",
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		sum.Duration = job.CompletedAt.Sub(*job.StartedAt)
	}
	if stats, err := svc.Store().Stats(ctx); err == nil {
		sum.Chunks = stats.Chunks
	}
	renderer.Complete(sum)

	if job.Status == store.JobFailed && !sum.Stopped {
		return &jobError{job: job}
	}
	return nil
}

// jobError reports a failed job with its stored message.
type jobError struct {
	job *store.IndexJob
}

func (e *jobError) Error() string {
	if e.job.ErrorMessage != "" {
		return "index job failed: " + e.job.ErrorMessage
	}
	return "index job failed"
}
