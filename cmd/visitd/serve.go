package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/StudioVBG/TALOK-sub009/internal/app"
	"github.com/StudioVBG/TALOK-sub009/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting visit scheduler",
				zap.String("environment", cfg.Environment),
				zap.String("storage", cfg.Storage),
				zap.String("timezone", cfg.Location.String()),
			)

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("Failed to release resources", zap.Error(err))
				}
			}()

			if migrate && a.Pool() != nil {
				m, err := app.NewMigrator(a.Pool(), migrations.FS, logger)
				if err != nil {
					return err
				}
				runErr := m.Run(ctx)
				if err := m.Close(); err != nil {
					logger.Warn("Failed to close migrator", zap.Error(err))
				}
				if runErr != nil {
					return fmt.Errorf("migrate before serve: %w", runErr)
				}
			}

			if err := a.Run(ctx); err != nil {
				return err
			}
			logger.Info("Visit scheduler stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}
