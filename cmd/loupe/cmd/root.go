// Package cmd implements the loupe CLI commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loupehq/loupe/internal/app"
	"github.com/loupehq/loupe/internal/config"
	"github.com/loupehq/loupe/internal/logging"
	"github.com/loupehq/loupe/internal/profiling"
	"github.com/loupehq/loupe/pkg/version"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	dataRoot   string
	plain      bool
	noColor    bool
	verbose    bool

	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     *profiling.Profiler
	cpuCleanup   func()
	traceCleanup func()
}

// NewRootCmd builds the loupe command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "loupe",
		Short: "Index local files and search them semantically",
		Long: `Loupe indexes documents, images, audio, and video metadata from local
folders and serves hybrid search over them: semantic similarity and
keyword matching fused into one ranked result list.

Start with 'loupe init' to write a config file, then 'loupe index <dir>'
and 'loupe search "your query"'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("loupe version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (default ~/.config/loupe/config.yaml)")
	pf.StringVar(&opts.dataRoot, "data-root", "", "Override the data root directory")
	pf.BoolVar(&opts.plain, "plain", false, "Force plain text output (no TUI)")
	pf.BoolVar(&opts.noColor, "no-color", false, "Disable color output")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level to stderr")
	pf.StringVar(&opts.profileCPU, "profile-cpu", "", "Write a CPU profile to file")
	pf.StringVar(&opts.profileMem, "profile-mem", "", "Write a heap profile to file on exit")
	pf.StringVar(&opts.profileTrace, "profile-trace", "", "Write an execution trace to file")

	opts.profiler = profiling.NewProfiler()
	cmd.PersistentPreRunE = opts.startProfiling
	cmd.PersistentPostRunE = opts.stopProfiling

	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newSuggestCmd(opts))
	cmd.AddCommand(newJobsCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newFileCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return err
	}
	return nil
}

func (o *rootOptions) startProfiling(_ *cobra.Command, _ []string) error {
	var err error
	if o.profileCPU != "" {
		if o.cpuCleanup, err = o.profiler.StartCPU(o.profileCPU); err != nil {
			return fmt.Errorf("cannot start CPU profile: %w", err)
		}
	}
	if o.profileTrace != "" {
		if o.traceCleanup, err = o.profiler.StartTrace(o.profileTrace); err != nil {
			if o.cpuCleanup != nil {
				o.cpuCleanup()
			}
			return fmt.Errorf("cannot start trace: %w", err)
		}
	}
	return nil
}

func (o *rootOptions) stopProfiling(_ *cobra.Command, _ []string) error {
	if o.cpuCleanup != nil {
		o.cpuCleanup()
		o.cpuCleanup = nil
	}
	if o.traceCleanup != nil {
		o.traceCleanup()
		o.traceCleanup = nil
	}
	if o.profileMem != "" {
		if err := o.profiler.WriteHeap(o.profileMem); err != nil {
			return fmt.Errorf("cannot write heap profile: %w", err)
		}
	}
	return nil
}

// loadConfig builds the effective configuration from flags, file, and
// environment.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dataRoot != "" {
		cfg.DataRoot = config.ExpandHome(opts.dataRoot)
	}
	return cfg, nil
}

// setupLogging wires the rotating file logger; --verbose mirrors debug
// output to stderr.
func setupLogging(cfg *config.Config, opts *rootOptions) (*slog.Logger, func(), error) {
	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.LogPath(),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr,
	}
	if opts.verbose {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	return logging.Setup(logCfg)
}

// openServices builds the full service graph for one command run. The
// returned cleanup closes services and flushes logs.
func openServices(ctx context.Context, opts *rootOptions) (*app.Services, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDataRoot(); err != nil {
		return nil, nil, err
	}

	logger, logCleanup, err := setupLogging(cfg, opts)
	if err != nil {
		return nil, nil, err
	}

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			logger.Warn("shutdown error", slog.String("error", err.Error()))
		}
		logCleanup()
	}
	return svc, cleanup, nil
}
