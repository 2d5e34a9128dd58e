package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loupehq/loupe/internal/app"
	"github.com/loupehq/loupe/internal/watcher"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var fileTypes []string
	var includeHidden bool

	cmd := &cobra.Command{
		Use:   "watch [folder...]",
		Short: "Keep the index current while files change",
		Long: `Run an incremental build, then watch the folders and rebuild
incrementally whenever files change. Bursts of changes are coalesced,
so one save or one large copy triggers one build.

Stop with Ctrl+C.`,
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

			return runWatch(ctx, cmd, svc, opts, roots, fileTypes, includeHidden)
		},
	}

	cmd.Flags().StringSliceVarP(&fileTypes, "file-type", "t", nil, "Limit to file types (repeatable)")
	cmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "Watch dot-directories too")
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, svc *app.Services, opts *rootOptions,
	roots, fileTypes []string, includeHidden bool) error {
	out := cmd.OutOrStdout()
	cfg := svc.Config()

	// Catch up first so the watcher only has to track deltas.
	fmt.Fprintln(out, "catching up...")
	if err := buildOnce(ctx, svc, roots, fileTypes); err != nil {
		return err
	}

	changes := make(chan []watcher.Event)
	g, gctx := errgroup.WithContext(ctx)

	watchers := make([]*watcher.Watcher, 0, len(roots))
	for _, root := range roots {
		w, err := watcher.New(watcher.Options{
			Debounce:      cfg.Watch.DebounceInterval(),
			IncludeHidden: includeHidden,
		}, slog.Default())
		if err != nil {
			return err
		}
		watchers = append(watchers, w)

		root := root
		g.Go(func() error {
			err := w.Start(gctx, root)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
		g.Go(func() error {
			for batch := range w.Batches() {
				select {
				case changes <- batch:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	defer func() {
		for _, w := range watchers {
			w.Stop()
		}
	}()

	fmt.Fprintf(out, "watching %d folder(s); Ctrl+C to stop\n", len(roots))
	for {
		select {
		case <-gctx.Done():
			_ = g.Wait()
			fmt.Fprintln(out, "stopped")
			return nil
		case batch := <-changes:
			fmt.Fprintf(out, "%d change(s) detected, rebuilding...\n", len(batch))
			if err := buildOnce(ctx, svc, roots, fileTypes); err != nil {
				// Keep watching: one failed build must not end watch
				// mode. The error is visible and logged.
				fmt.Fprintf(cmd.ErrOrStderr(), "rebuild failed: %v\n", err)
				slog.Warn("watch rebuild failed", slog.String("error", err.Error()))
			}
		}
	}
}

func buildOnce(ctx context.Context, svc *app.Services, roots, fileTypes []string) error {
	jobID, err := svc.BuildIncrementalIndex(ctx, roots, fileTypes)
	if err != nil {
		return err
	}
	return svc.WaitJob(ctx, jobID)
}
