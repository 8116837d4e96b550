package main

import (
	"github.com/MuchTitan/go-log-shipper/internal/config"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	profile    string
	userData   string
}

func (f *globalFlags) overrides() config.Overrides {
	return config.Overrides{Profile: f.profile, UserData: f.userData}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "log-shipper",
		Short:         "Ship local log files to a remote log service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "cfg", "/app/cfg.yaml", "provided the path to your config file")
	rootCmd.PersistentFlags().StringVar(&flags.profile, "profile", "", "credentials profile, overrides Profile from the config")
	rootCmd.PersistentFlags().StringVar(&flags.userData, "user-data", "", "user data directory, logs are read from <user-data>/logs")

	rootCmd.AddCommand(newRunCommand(flags))
	rootCmd.AddCommand(newOnceCommand(flags))
	rootCmd.AddCommand(newOffsetsCommand(flags))

	return rootCmd
}
