package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"hypstar-handler/internal/driver"
	"hypstar-handler/internal/env"
)

type Config struct {
	Instrument InstrumentConfig `yaml:"instrument"`
	Output     OutputConfig     `yaml:"output"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Relay      RelayConfig      `yaml:"relay"`
	Log        LogConfig        `yaml:"log"`
}

type InstrumentConfig struct {
	Port             string        `yaml:"port"`
	BaudRate         int           `yaml:"baud_rate"`
	LogLevel         int           `yaml:"log_level"`
	ExpectBootPacket bool          `yaml:"expect_boot_packet"`
	BootTimeout      time.Duration `yaml:"boot_timeout"`
	// LinkTimeout bounds every reply read on the serial link.
	LinkTimeout time.Duration `yaml:"link_timeout"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

type MetricsConfig struct {
	// Textfile is a node_exporter textfile collector path; empty disables metrics.
	Textfile string `yaml:"textfile"`
}

// RelayConfig describes the Modbus relay that switches instrument power.
type RelayConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Protocol    string        `yaml:"protocol"` // tcp | rtu
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	SerialPort  string        `yaml:"serial_port"`
	BaudRate    int           `yaml:"baud_rate"`
	SlaveID     byte          `yaml:"slave_id"`
	Coil        uint16        `yaml:"coil"`
	OffDuration time.Duration `yaml:"off_duration"`
	Timeout     time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// Default is the field deployment: radiometer on /dev/radiometer0 waiting for BOOTED.
func Default() Config {
	return Config{
		Instrument: InstrumentConfig{
			Port:             "/dev/radiometer0",
			BaudRate:         115200,
			LogLevel:         driver.LogDebug,
			ExpectBootPacket: true,
			BootTimeout:      30 * time.Second,
			LinkTimeout:      5 * time.Second,
		},
		Output:  OutputConfig{Dir: "DATA"},
		Storage: StorageConfig{DBPath: "DATA/history.sqlite"},
		Relay: RelayConfig{
			Protocol:    "tcp",
			Port:        502,
			BaudRate:    9600,
			SlaveID:     1,
			OffDuration: 5 * time.Second,
			Timeout:     2 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults, applies HYPSTAR_* environment overrides and validates.
// An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, errors.Wrapf(err, "read config %s", path)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "parse config %s", path)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := env.String(env.Port); ok {
		c.Instrument.Port = v
	}
	if v, ok, err := env.Int(env.BaudRate); err != nil {
		return err
	} else if ok {
		c.Instrument.BaudRate = v
	}
	if v, ok, err := env.Int(env.LogLevel); err != nil {
		return err
	} else if ok {
		c.Instrument.LogLevel = v
	}
	if v, ok, err := env.Duration(env.BootTimeout); err != nil {
		return err
	} else if ok {
		c.Instrument.BootTimeout = v
	}
	if v, ok := env.String(env.DataDir); ok {
		c.Output.Dir = v
	}
	if v, ok := env.String(env.DBPath); ok {
		c.Storage.DBPath = v
		c.Storage.Enabled = true
	}
	if v, ok := env.String(env.MetricsTextfile); ok {
		c.Metrics.Textfile = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Instrument.Port == "" {
		c.Instrument.Port = d.Instrument.Port
	}
	if c.Instrument.BaudRate == 0 {
		c.Instrument.BaudRate = d.Instrument.BaudRate
	}
	if c.Instrument.BootTimeout < 0 {
		c.Instrument.BootTimeout = 0
	}
	if c.Instrument.LinkTimeout <= 0 {
		c.Instrument.LinkTimeout = d.Instrument.LinkTimeout
	}
	if c.Output.Dir == "" {
		c.Output.Dir = d.Output.Dir
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = d.Storage.DBPath
	}
	if c.Relay.OffDuration <= 0 {
		c.Relay.OffDuration = d.Relay.OffDuration
	}
	if c.Relay.Timeout <= 0 {
		c.Relay.Timeout = d.Relay.Timeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Validate rejects log and relay settings. Instrument baud rate and log level are checked
// when the session configures the link, where a bad value is a session failure.
func (c Config) Validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Errorf("log.format %q must be console or json", c.Log.Format)
	}
	if c.Relay.Enabled {
		return c.Relay.Validate()
	}
	return nil
}

func (r RelayConfig) Validate() error {
	switch r.Protocol {
	case "tcp":
		if r.Host == "" || r.Port <= 0 {
			return errors.New("relay: tcp requires host and port")
		}
	case "rtu":
		if r.SerialPort == "" || r.BaudRate <= 0 {
			return errors.New("relay: rtu requires serial_port and baud_rate")
		}
	default:
		return errors.Errorf("relay: unsupported protocol %q", r.Protocol)
	}
	if r.SlaveID == 0 {
		return errors.New("relay: slave_id must be non-zero")
	}
	return nil
}
