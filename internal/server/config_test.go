package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv unsets every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BMS_PORT", "BMS_BAUD", "BMS_REQUEST_DELAY_MS", "SNAPSHOT_PATH",
		"IDENTITY_PATH", "CONTROL_PATH", "CPUINFO_PATH", "FORWARD_URL",
		"LISTEN_ADDR", "LOG_ENABLED", "LOG_PATH", "LOG_VERBOSE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	clearEnv(t)
	cfg := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))

	def := DefaultConfig()
	if cfg.Serial != def.Serial || cfg.Paths != def.Paths || cfg.Forward != def.Forward {
		t.Fatalf("missing file should give defaults, got %+v", cfg.Serial)
	}
	if cfg.RequestDelay() != 300*time.Millisecond {
		t.Fatalf("request delay = %v", cfg.RequestDelay())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadConfig_YAMLMergesOverDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
serial:
  port_path: /dev/ttyACM0
  request_delay_ms: 150
monitor:
  listen_addr: ":9000"
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)
	if cfg.Serial.PortPath != "/dev/ttyACM0" || cfg.Serial.RequestDelayMs != 150 {
		t.Fatalf("serial = %+v", cfg.Serial)
	}
	if cfg.Serial.BaudRate != 57600 {
		t.Fatalf("unset baud lost its default: %d", cfg.Serial.BaudRate)
	}
	if cfg.Monitor.ListenAddr != ":9000" {
		t.Fatalf("listen addr = %q", cfg.Monitor.ListenAddr)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("serial: [not, a, map"), 0644)

	cfg := LoadConfig(path)
	if cfg.Serial.PortPath != "/dev/ttyUSB0" {
		t.Fatalf("bad yaml should fall back to defaults, got %q", cfg.Serial.PortPath)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BMS_PORT", "/dev/ttyS1")
	t.Setenv("BMS_BAUD", "9600")
	t.Setenv("BMS_REQUEST_DELAY_MS", "oops")
	t.Setenv("SNAPSHOT_PATH", "/tmp/snap.html")
	t.Setenv("LOG_ENABLED", "yes")
	t.Setenv("LOG_VERBOSE", "0")
	t.Setenv("FORWARD_URL", "http://localhost/collect")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))

	if cfg.Serial.PortPath != "/dev/ttyS1" || cfg.Serial.BaudRate != 9600 {
		t.Fatalf("serial = %+v", cfg.Serial)
	}
	if cfg.Serial.RequestDelayMs != 300 {
		t.Fatalf("invalid number should be ignored, got %d", cfg.Serial.RequestDelayMs)
	}
	if cfg.Paths.Snapshot != "/tmp/snap.html" || cfg.Paths.SnapshotTmp != "" {
		t.Fatalf("paths = %+v", cfg.Paths)
	}
	if !cfg.Logging.Enabled || cfg.Logging.Verbose {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Forward.URL != "http://localhost/collect" {
		t.Fatalf("forward url = %q", cfg.Forward.URL)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	env := "# comment\nBMS_PORT=\"/dev/ttyUSB3\"\nnot a pair\nLISTEN_ADDR = :7000\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(filepath.Join(dir, "config.yaml"))
	if cfg.Serial.PortPath != "/dev/ttyUSB3" {
		t.Fatalf("port = %q", cfg.Serial.PortPath)
	}
	if cfg.Monitor.ListenAddr != ":7000" {
		t.Fatalf("listen = %q", cfg.Monitor.ListenAddr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero baud", func(c *Config) { c.Serial.BaudRate = 0 }, false},
		{"negative delay", func(c *Config) { c.Serial.RequestDelayMs = -1 }, false},
		{"negative reopen", func(c *Config) { c.Serial.ReopenDelayMs = -5 }, false},
		{"no snapshot", func(c *Config) { c.Paths.Snapshot = "" }, false},
		{"no identity", func(c *Config) { c.Paths.Identity = "" }, false},
		{"zero delay ok", func(c *Config) { c.Serial.RequestDelayMs = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestToJSON(t *testing.T) {
	data, err := DefaultConfig().ToJSON()
	if err != nil {
		t.Fatalf("ToJSON err=%v", err)
	}
	var m map[string]map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["serial"]["portPath"] != "/dev/ttyUSB0" {
		t.Fatalf("serial.portPath = %v", m["serial"]["portPath"])
	}
}
