package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"hypstar-handler/internal/env"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hypstar.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Instrument.Port != "/dev/radiometer0" || cfg.Instrument.BaudRate != 115200 || !cfg.Instrument.ExpectBootPacket {
		t.Fatalf("unexpected defaults %+v", cfg.Instrument)
	}
	if cfg.Instrument.BootTimeout != 30*time.Second || cfg.Output.Dir != "DATA" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
instrument:
  port: /dev/ttyUSB3
  baud_rate: 3000000
  log_level: 1
  expect_boot_packet: false
  boot_timeout: 10s
output:
  dir: /var/lib/hypstar
storage:
  enabled: true
  db_path: /var/lib/hypstar/history.sqlite
relay:
  enabled: true
  protocol: rtu
  serial_port: /dev/ttyUSB0
  baud_rate: 19200
  slave_id: 4
  coil: 2
  off_duration: 3s
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Instrument.Port != "/dev/ttyUSB3" || cfg.Instrument.BaudRate != 3000000 || cfg.Instrument.ExpectBootPacket {
		t.Fatalf("instrument not loaded: %+v", cfg.Instrument)
	}
	if cfg.Instrument.BootTimeout != 10*time.Second || cfg.Instrument.LinkTimeout != 5*time.Second {
		t.Fatalf("timeouts not loaded: %+v", cfg.Instrument)
	}
	if cfg.Relay.SlaveID != 4 || cfg.Relay.Coil != 2 || cfg.Relay.OffDuration != 3*time.Second || cfg.Relay.Timeout != 2*time.Second {
		t.Fatalf("relay not loaded: %+v", cfg.Relay)
	}
	if !cfg.Storage.Enabled || cfg.Log.Format != "json" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "instrument:\n  port: /dev/ttyUSB3\n")
	t.Setenv(env.Port, "/dev/ttyS9")
	t.Setenv(env.BaudRate, "460800")
	t.Setenv(env.BootTimeout, "5")
	t.Setenv(env.DBPath, "/tmp/h.sqlite")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Instrument.Port != "/dev/ttyS9" || cfg.Instrument.BaudRate != 460800 || cfg.Instrument.BootTimeout != 5*time.Second {
		t.Fatalf("env not applied: %+v", cfg.Instrument)
	}
	if !cfg.Storage.Enabled || cfg.Storage.DBPath != "/tmp/h.sqlite" {
		t.Fatalf("db path override must enable storage: %+v", cfg.Storage)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"log format": "log:\n  format: xml\n",
		"relay tcp":  "relay:\n  enabled: true\n  protocol: tcp\n  host: ''\n",
		"relay kind": "relay:\n  enabled: true\n  protocol: ble\n",
		"relay rtu":  "relay:\n  enabled: true\n  protocol: rtu\n  slave_id: 1\n",
		"syntax":     "instrument: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}

func TestLoadLeavesInstrumentSettingsToSession(t *testing.T) {
	cfg, err := Load(writeConfig(t, "instrument:\n  baud_rate: 1234\n  log_level: 9\n"))
	if err != nil {
		t.Fatalf("instrument settings are checked by the session, Load failed: %v", err)
	}
	if cfg.Instrument.BaudRate != 1234 || cfg.Instrument.LogLevel != 9 {
		t.Fatalf("expected settings kept as written, got %+v", cfg.Instrument)
	}
}
