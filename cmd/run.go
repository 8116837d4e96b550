package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MuchTitan/go-log-shipper/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Ship new log lines every LogTimerInterval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			shipper, err := config.NewShipperEngine(flags.configPath, flags.overrides())
			if err != nil {
				return err
			}

			logrus.Info("Starting log shipper")

			ctx := commandContext(cmd)
			if err := shipper.Start(ctx); err != nil {
				shipper.Stop()
				return err
			}

			// Wait for shutdown signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			select {
			case <-sigChan:
			case <-ctx.Done():
			}

			logrus.Info("Stopping log shipper")
			return shipper.Stop()
		},
	}
}

func newOnceCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single ship cycle over all tracked files and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			shipper, err := config.NewShipperEngine(flags.configPath, flags.overrides())
			if err != nil {
				return err
			}

			runErr := shipper.RunOnce(commandContext(cmd))
			if err := shipper.Stop(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
