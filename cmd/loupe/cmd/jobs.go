package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loupehq/loupe/internal/index"
	"github.com/loupehq/loupe/internal/store"
)

func newJobsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control index jobs",
	}
	cmd.AddCommand(newJobsListCmd(opts))
	cmd.AddCommand(newJobsShowCmd(opts))
	cmd.AddCommand(newJobsStopCmd(opts))

	// Bare `loupe jobs` lists.
	cmd.RunE = newJobsListCmd(opts).RunE
	return cmd
}

func newJobsListCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openServices(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			jobs, err := svc.ListJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tFILES\tERRORS\tSTARTED\tFOLDERS")
			for _, job := range jobs {
				started := "-"
				if job.StartedAt != nil {
					started = job.StartedAt.Format(time.DateTime)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\t%d\t%s\t%s\n",
					job.ID, job.JobType, job.Status,
					job.ProcessedFiles, job.TotalFiles, job.ErrorCount,
					started, job.FolderPath)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs")
	return cmd
}

func newJobsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseID(args[0])
			if err != nil {
				return err
			}

			svc, cleanup, err := openServices(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			job, err := svc.GetJob(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			printJob(cmd, job)
			return nil
		},
	}
}

func newJobsStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <job-id>",
		Short: "Stop a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseID(args[0])
			if err != nil {
				return err
			}

			svc, cleanup, err := openServices(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.StopJob(cmd.Context(), jobID); err != nil {
				return err
			}
			if err := svc.WaitJob(cmd.Context(), jobID); err != nil {
				// A stopped job reports cancellation; that is the
				// outcome the user asked for.
				fmt.Fprintf(cmd.OutOrStdout(), "job %d stopped\n", jobID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %d finished before stopping\n", jobID)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job *store.IndexJob) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d\n", job.ID)
	fmt.Fprintf(out, "  Type:      %s\n", job.JobType)
	fmt.Fprintf(out, "  Status:    %s\n", job.Status)
	fmt.Fprintf(out, "  Folders:   %s\n", formatFolders(job.FolderPath))
	fmt.Fprintf(out, "  Files:     %d/%d\n", job.ProcessedFiles, job.TotalFiles)
	fmt.Fprintf(out, "  Errors:    %d\n", job.ErrorCount)
	if job.StartedAt != nil {
		fmt.Fprintf(out, "  Started:   %s\n", job.StartedAt.Format(time.DateTime))
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", job.CompletedAt.Format(time.DateTime))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Message:   %s\n", job.ErrorMessage)
	}
}

func formatFolders(folderPath string) string {
	roots := index.SplitFolderPath(folderPath)
	if len(roots) == 0 {
		return "-"
	}
	out := roots[0]
	for _, r := range roots[1:] {
		out += ", " + r
	}
	return out
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}
