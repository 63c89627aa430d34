package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elithion/lithiumate-dash/internal/bms"
	"github.com/elithion/lithiumate-dash/internal/control"
	"github.com/elithion/lithiumate-dash/internal/engine"
	"github.com/elithion/lithiumate-dash/internal/forward"
	"github.com/elithion/lithiumate-dash/internal/identity"
	"github.com/elithion/lithiumate-dash/internal/logger"
	"github.com/elithion/lithiumate-dash/internal/server"
	"github.com/elithion/lithiumate-dash/internal/snapshot"
)

var (
	runDemo   bool
	runListen string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the BMS and publish snapshots until stopped",
	Long: `Check the installation against this board's hardware serial, then poll the
BMS forever: one request per cycle, each valid answer written to the snapshot
file. Stops on SIGINT or SIGTERM.

With --demo the serial port is replaced by a simulated BMS.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDemo, "demo", false, "Run against a simulated BMS")
	runCmd.Flags().StringVar(&runListen, "listen", "", "Override monitor listen address (e.g. :8080)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] lithiumate starting")

	cfg := server.LoadConfig(configPath)
	if runListen != "" {
		cfg.Monitor.ListenAddr = runListen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher := snapshot.New(cfg.Paths.Snapshot, cfg.Paths.SnapshotTmp)

	var opener bms.Opener
	if runDemo {
		log.Println("[main] demo mode: simulated BMS")
		opener = bms.DemoOpener(bms.NewDemoPort(time.Now().UnixNano()))
	}
	transport := bms.NewTransport(bms.TransportConfig{
		PortPath:       cfg.Serial.PortPath,
		BaudRate:       cfg.Serial.BaudRate,
		ReadTimeout:    time.Duration(cfg.Serial.ReadTimeoutMs) * time.Millisecond,
		SilenceTimeout: time.Duration(cfg.Serial.SilenceTimeoutMs) * time.Millisecond,
		Verbose:        cfg.Logging.Verbose,
	}, opener)
	defer transport.Close()

	recorder := logger.New(logger.Config{
		Enabled: cfg.Logging.Enabled,
		Path:    cfg.Logging.Path,
	})
	defer recorder.Close()

	deps := engine.Deps{
		Link:      transport,
		Publisher: publisher,
		Flags:     control.NewReader(cfg.Paths.Control),
		Forwarder: forward.New(forward.Config{
			URL:     cfg.Forward.URL,
			Timeout: time.Duration(cfg.Forward.TimeoutMs) * time.Millisecond,
		}),
		Recorder: recorder,
	}

	var monitor *server.Server
	if cfg.Monitor.ListenAddr != "" {
		monitor = server.New(cfg)
		deps.Observer = monitor
	}

	eng := engine.New(engine.Config{
		RequestDelay: cfg.RequestDelay(),
		ReopenDelay:  cfg.ReopenDelay(),
		ForwardKey:   cfg.Forward.FlagKey,
		RecordKey:    cfg.Logging.FlagKey,
		RecordAlways: cfg.Logging.Enabled,
		Verbose:      cfg.Logging.Verbose,
	}, deps)

	serial, err := readSerial(cfg.Paths.CPUInfo)
	if err != nil {
		return err
	}
	if err := eng.ValidateInstall(identity.NewRegistry(cfg.Paths.Identity), serial); err != nil {
		return fmt.Errorf("install check failed: %w", err)
	}

	var wg sync.WaitGroup
	if monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.Run(ctx); err != nil {
				log.Printf("[main] monitor exited: %v", err)
			}
		}()
	}

	err = eng.Run(ctx)
	stop()
	wg.Wait()
	return err
}

// readSerial returns the board serial. In demo mode a missing cpuinfo is not
// fatal so the simulator also runs off-target.
func readSerial(path string) (string, error) {
	serial, err := identity.ReadHardwareSerial(path)
	if err == nil {
		return serial, nil
	}
	if runDemo {
		host, _ := os.Hostname()
		log.Printf("[main] %v; using demo serial", err)
		return "demo-" + host, nil
	}
	return "", err
}
