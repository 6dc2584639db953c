package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/connectivity"
)

func probeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check reachability of the connectivity target",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(flags)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			c := rt.cfg.Sentinel.Connectivity
			probe := connectivity.NewProbe(c.Target, c.Timeout)
			if err := probe.Check(backgroundContext(cmd)); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "offline: %v\n", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "online: %s\n", c.Target)
			return nil
		},
	}
}
