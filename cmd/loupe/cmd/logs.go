package cmd

import (
	"fmt"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loupehq/loupe/internal/logging"
)

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		grep    string
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the structured log file",
		Long: `Show the tail of the rotating JSON log, filtered and formatted for
reading. --follow keeps printing new entries until interrupted.

Examples:
  loupe logs -n 100
  loupe logs --level warn
  loupe logs -f --grep "job_id=3"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			path := logFile
			if path == "" {
				path = cfg.LogPath()
			}
			path, err = logging.FindLogFile(path)
			if err != nil {
				return err
			}

			viewerCfg := logging.ViewerConfig{
				Level:   level,
				NoColor: opts.noColor,
			}
			if grep != "" {
				pattern, err := regexp.Compile(grep)
				if err != nil {
					return fmt.Errorf("invalid --grep pattern: %w", err)
				}
				viewerCfg.Pattern = pattern
			}
			viewer := logging.NewViewer(viewerCfg, cmd.OutOrStdout())

			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return err
			}
			viewer.Print(entries)

			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stream := make(chan logging.LogEntry, 64)
			go func() {
				for entry := range stream {
					fmt.Fprintln(cmd.OutOrStdout(), viewer.FormatEntry(entry))
				}
			}()
			err = viewer.Follow(ctx, path, stream)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing entries to show")
	cmd.Flags().StringVar(&level, "level", "", "Only entries at or above this level")
	cmd.Flags().StringVar(&grep, "grep", "", "Only entries matching this regexp")
	cmd.Flags().StringVar(&logFile, "file", "", "Log file path (default from config)")
	return cmd
}
