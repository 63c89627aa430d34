package main

import (
	"github.com/spf13/cobra"

	"github.com/elithion/lithiumate-dash/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lithiumate",
	Short: "Lithiumate BMS data logger",
	Long: `lithiumate polls a Lithiumate BMS over its USB serial link, validates each
response frame and publishes the latest telemetry as a small HTML snapshot
for the display front end.

Configuration is read from --config, then .env files next to it and in the
working directory, then environment variables (BMS_PORT, BMS_BAUD,
SNAPSHOT_PATH, LISTEN_ADDR, ...).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", server.DefaultConfigPath, "Path to config file")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
