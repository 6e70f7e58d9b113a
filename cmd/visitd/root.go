package main

import (
	"github.com/StudioVBG/TALOK-sub009/internal/app"
	"github.com/StudioVBG/TALOK-sub009/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "visitd",
		Short:         "Visit scheduling service for rental properties",
		Long:          "visitd turns owner availability patterns into bookable visit slots and keeps the booking ledger consistent under concurrent reservations.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newSweepCommand())
	return root
}

// bootstrap загружает конфигурацию и создаёт логгер для подкоманды
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, app.NewLogger(cfg.Environment, cfg.LogFile), nil
}
