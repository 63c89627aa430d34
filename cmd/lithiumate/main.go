// Command lithiumate polls a Lithiumate BMS over USB serial and publishes its
// telemetry for the in-vehicle display.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
