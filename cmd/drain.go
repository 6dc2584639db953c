package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/app"
)

func drainCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Upload the offline queue once",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(flags)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			ctx := backgroundContext(cmd)
			a, err := app.New(ctx, rt.cfg, rt.logger, app.Options{Reporter: rt.reporter})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			result, err := a.DrainOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded=%d skipped=%d remaining=%d removed=%t\n",
				result.Uploaded, result.Skipped, result.Remaining, result.Removed)
			return err
		},
	}
}
