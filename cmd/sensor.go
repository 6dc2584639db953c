package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/serial"
)

func sensorCommand(flags *globalFlags) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "sensor",
		Short: "Read one snapshot from the sensor board",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(flags)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			if list {
				ports, err := serial.ListPorts()
				if err != nil {
					return err
				}
				for _, p := range ports {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			}

			s := rt.cfg.Sentinel.Serial
			arbiter := serial.NewArbiter(serial.ArbiterConfig{
				Opener: &serial.DeviceOpener{
					BaudRate:    s.BaudRate,
					OpenTimeout: s.OpenTimeout,
					ReadTimeout: s.RetryDelay,
				},
				Ports:      s.Ports,
				Retries:    s.Retries,
				RetryDelay: s.RetryDelay,
			}, rt.logger)

			snap, err := arbiter.ReadSnapshot(backgroundContext(cmd))
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List serial ports instead of reading")
	return cmd
}
