package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elithion/lithiumate-dash/internal/bms"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <code> <response>",
	Short: "Validate a captured BMS response",
	Long: `Run the frame parser on a captured response string and print the payload
or the reason it would be discarded.

Example:
  lithiumate decode v '\r\n|v0105FA|'`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	if len(args[0]) != 1 || !bms.RequestCode(args[0][0]).Valid() {
		return fmt.Errorf("unknown request code %q", args[0])
	}
	code := bms.RequestCode(args[0][0])
	out := cmd.OutOrStdout()

	payload, err := bms.ParseFrame([]byte(args[1]), code)
	var fe *bms.FrameError
	switch {
	case err == nil:
		fmt.Fprintf(out, "valid %q frame\n", code.String())
		fmt.Fprintf(out, "  Payload: %s\n", payload)
		fmt.Fprintf(out, "  Data bytes: %d\n", (len(payload)-4)/2)
		return nil
	case errors.Is(err, bms.ErrNoResponse):
		fmt.Fprintln(out, "no response (empty input)")
	case errors.As(err, &fe):
		fmt.Fprintf(out, "discarded: %s\n", fe.Kind)
		fmt.Fprintf(out, "  %s\n", fe.Detail)
	default:
		return err
	}
	return errors.New("response rejected")
}
