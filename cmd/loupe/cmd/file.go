package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/loupehq/loupe/internal/app"
)

func newFileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Per-file index maintenance",
	}
	cmd.AddCommand(newFileDeleteCmd(opts))
	cmd.AddCommand(newFileReindexCmd(opts))
	cmd.AddCommand(newFileMarkCmd(opts))
	return cmd
}

// lookupFileID accepts either a numeric file ID or a path.
func lookupFileID(cmd *cobra.Command, svc *app.Services, arg string) (int64, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return id, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return 0, fmt.Errorf("cannot resolve %s: %w", arg, err)
	}
	file, err := svc.Store().GetFileByPath(cmd.Context(), abs)
	if err != nil {
		return 0, err
	}
	return file.ID, nil
}

func newFileDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file-id|path>",
		Short: "Remove a file from the index and both search indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openServices(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			fileID, err := lookupFileID(cmd, svc, args[0])
			if err != nil {
				return err
			}
			if err := svc.DeleteFile(cmd.Context(), fileID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "file %d removed from index\n", fileID)
			return nil
		},
	}
}

func newFileReindexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <file-id|path>",
		Short: "Re-run the index pipeline for one file now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openServices(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			fileID, err := lookupFileID(cmd, svc, args[0])
			if err != nil {
				return err
			}
			if err := svc.Reindex(cmd.Context(), fileID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "file %d reindexed\n", fileID)
			return nil
		},
	}
}

func newFileMarkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <file-id|path>",
		Short: "Flag a file so the next incremental build rebuilds it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openServices(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			fileID, err := lookupFileID(cmd, svc, args[0])
			if err != nil {
				return err
			}
			if err := svc.MarkForReindex(cmd.Context(), fileID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "file %d marked for reindex\n", fileID)
			return nil
		},
	}
}
