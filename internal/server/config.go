package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the service looks for its YAML config.
const DefaultConfigPath = "/etc/lithiumate/config.yaml"

// Config holds all service configuration. It is read-only once loaded.
type Config struct {
	// BMS serial link and poll timing
	Serial SerialConfig `yaml:"serial" json:"serial"`

	// Files shared with the display front end and the installer
	Paths PathsConfig `yaml:"paths" json:"paths"`

	// Remote forwarding
	Forward ForwardConfig `yaml:"forward" json:"forward"`

	// Live monitor
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`

	// Frame recorder and verbosity
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

type SerialConfig struct {
	PortPath         string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	BaudRate         int    `yaml:"baud_rate" json:"baudRate"`
	RequestDelayMs   int    `yaml:"request_delay_ms" json:"requestDelayMs"`     // BMS turnaround
	ReopenDelayMs    int    `yaml:"reopen_delay_ms" json:"reopenDelayMs"`       // back-off after a failed open
	ReadTimeoutMs    int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`       // bound on one response read
	SilenceTimeoutMs int    `yaml:"silence_timeout_ms" json:"silenceTimeoutMs"` // quiet gap that ends a response
}

type PathsConfig struct {
	Snapshot    string `yaml:"snapshot" json:"snapshot"`
	SnapshotTmp string `yaml:"snapshot_tmp" json:"snapshotTmp"`
	Identity    string `yaml:"identity" json:"identity"`
	Control     string `yaml:"control" json:"control"`
	CPUInfo     string `yaml:"cpuinfo" json:"cpuinfo"`
}

type ForwardConfig struct {
	URL       string `yaml:"url" json:"url"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeoutMs"`
	FlagKey   string `yaml:"flag_key" json:"flagKey"` // control flag that enables forwarding
}

type MonitorConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"` // empty disables the monitor
}

type LoggingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"` // record every frame regardless of FlagKey
	Path    string `yaml:"path" json:"path"`
	FlagKey string `yaml:"flag_key" json:"flagKey"` // control flag that starts/stops the recorder
	Verbose bool   `yaml:"verbose" json:"verbose"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			PortPath:         "/dev/ttyUSB0",
			BaudRate:         57600,
			RequestDelayMs:   300,
			ReopenDelayMs:    1000,
			ReadTimeoutMs:    1000,
			SilenceTimeoutMs: 50,
		},
		Paths: PathsConfig{
			Snapshot:    "/home/pi/Elithion/static/lithiumatedata.html",
			SnapshotTmp: "/home/pi/Elithion/static/lithiumatedata.tmp",
			Identity:    "/home/pi/Elithion/.sn",
			Control:     "/home/pi/Elithion/ctrl.yaml",
			CPUInfo:     "/proc/cpuinfo",
		},
		Forward: ForwardConfig{
			URL:       "http://elithion.com/cgi-bin/rmwr.py",
			TimeoutMs: 5000,
			FlagKey:   "remoteEnab",
		},
		Monitor: MonitorConfig{
			ListenAddr: "",
		},
		Logging: LoggingConfig{
			Enabled: false,
			Path:    "/var/log/lithiumate",
			FlagKey: "logEnab",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// Variables already present in the real environment win.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: BMS_PORT, BMS_BAUD, BMS_REQUEST_DELAY_MS, SNAPSHOT_PATH,
// IDENTITY_PATH, CONTROL_PATH, CPUINFO_PATH, FORWARD_URL, LISTEN_ADDR,
// LOG_ENABLED, LOG_PATH, LOG_VERBOSE
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BMS_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("BMS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("BMS_REQUEST_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.RequestDelayMs = n
		}
	}
	if v := os.Getenv("SNAPSHOT_PATH"); v != "" {
		c.Paths.Snapshot = v
		// Keep the temp file next to the snapshot so the rename stays atomic.
		c.Paths.SnapshotTmp = ""
	}
	if v := os.Getenv("IDENTITY_PATH"); v != "" {
		c.Paths.Identity = v
	}
	if v := os.Getenv("CONTROL_PATH"); v != "" {
		c.Paths.Control = v
	}
	if v := os.Getenv("CPUINFO_PATH"); v != "" {
		c.Paths.CPUInfo = v
	}
	if v := os.Getenv("FORWARD_URL"); v != "" {
		c.Forward.URL = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Monitor.ListenAddr = v
	}
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = envTrue(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_VERBOSE"); v != "" {
		c.Logging.Verbose = envTrue(v)
	}
}

func envTrue(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Validate reports the settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Serial.RequestDelayMs < 0 {
		errs = append(errs, fmt.Errorf("serial.request_delay_ms must not be negative"))
	}
	if c.Serial.ReopenDelayMs < 0 {
		errs = append(errs, fmt.Errorf("serial.reopen_delay_ms must not be negative"))
	}
	if c.Paths.Snapshot == "" {
		errs = append(errs, errors.New("paths.snapshot is empty"))
	}
	if c.Paths.Identity == "" {
		errs = append(errs, errors.New("paths.identity is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// RequestDelay is the pause between sending a request and reading the reply.
func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.Serial.RequestDelayMs) * time.Millisecond
}

// ReopenDelay is the back-off after a failed port open.
func (c *Config) ReopenDelay() time.Duration {
	return time.Duration(c.Serial.ReopenDelayMs) * time.Millisecond
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}
