package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elithion/lithiumate-dash/internal/identity"
	"github.com/elithion/lithiumate-dash/internal/server"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the hardware serial and installation registration",
	Long: `Print this board's hardware serial and the serial recorded in the
registration file. Nothing is written.`,
	Args: cobra.NoArgs,
	RunE: runIdentity,
}

func init() {
	rootCmd.AddCommand(identityCmd)
}

func runIdentity(cmd *cobra.Command, args []string) error {
	cfg := server.LoadConfig(configPath)
	out := cmd.OutOrStdout()

	serial, err := identity.ReadHardwareSerial(cfg.Paths.CPUInfo)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Hardware serial: %s\n", serial)

	stored, ok, err := identity.NewRegistry(cfg.Paths.Identity).Registered()
	switch {
	case err != nil:
		return err
	case !ok:
		fmt.Fprintf(out, "Registration:    none (%s will be created on first run)\n", cfg.Paths.Identity)
	case stored == serial:
		fmt.Fprintf(out, "Registration:    %s (match)\n", stored)
	default:
		fmt.Fprintf(out, "Registration:    %s (MISMATCH)\n", stored)
	}
	return nil
}
