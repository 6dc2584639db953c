package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/app"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/pipeline"
)

func runCommand(flags *globalFlags, build BuildInfo) *cobra.Command {
	var detections string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detection loop",
		Long:  "Read detector frames, respond to admitted detections and persist them remotely or in the offline queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(flags)
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			rt.logger.Info("Starting sentinel",
				"version", build.Version,
				"build_time", build.BuildTime,
				"git_commit", build.GitCommit,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, rt.cfg, rt.logger, app.Options{
				Version:  build.Version,
				Detector: pipeline.NewJSONLinesDetector(detections, rt.logger),
				Reporter: rt.reporter,
			})
			if err != nil {
				rt.logger.Error("Failed to build appliance", "error", err)
				return err
			}

			if err := a.Run(ctx); err != nil {
				rt.logger.Error("Shutdown finished with errors", "error", err)
				return err
			}
			rt.logger.Info("Shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&detections, "detections", "-", "Detector output, one JSON frame per line (\"-\" for stdin)")
	return cmd
}

func backgroundContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
