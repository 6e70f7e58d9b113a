package main

import (
	"context"
	"fmt"
	"time"

	"github.com/StudioVBG/TALOK-sub009/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Complete elapsed bookings and expire stale pending ones once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("Failed to release resources", zap.Error(err))
				}
			}()

			res, err := a.Scheduling.Sweep(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "completed=%d expired=%d\n", res.Completed, res.Expired)
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "maximum time for the sweep")
	return cmd
}
