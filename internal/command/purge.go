package command

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"myriad/api/internal/config"
)

func NewPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete imported posts whose upstream content was removed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rt, err := openRuntime(ctx, config.Load())
			if err != nil {
				return err
			}
			defer rt.Close()

			removed, err := rt.engine.PurgeRemovedContent(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d posts\n", removed)
			return err
		},
	}
}
