package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSuggestCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "suggest <prefix>",
		Short: "Complete a query prefix from indexed terms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openServices(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			suggestions, err := svc.Suggest(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			for _, s := range suggestions {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of suggestions")
	return cmd
}
