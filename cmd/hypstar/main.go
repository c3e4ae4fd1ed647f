package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hypstar-handler/internal/config"
	"hypstar-handler/internal/env"
	"hypstar-handler/internal/session"
)

var rootCmd = newCaptureCmd()

var (
	rootConfig      string
	rootPort        string
	rootBaud        int
	rootInstrLevel  int
	rootExpectBoot  bool
	rootBootTimeout time.Duration
)

// errUsage marks invalid flag combinations.
var errUsage = errors.New("usage")

func init() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootConfig, "config", "", "YAML config file (defaults when empty)")
	pf.StringVar(&rootPort, "port", "", "instrument serial port overriding $"+env.Port)
	pf.IntVar(&rootBaud, "baud", 0, "link baud rate overriding $"+env.BaudRate)
	pf.IntVar(&rootInstrLevel, "instrument-log-level", -1, "instrument log level 0 (error) .. 4 (trace)")
	pf.BoolVar(&rootExpectBoot, "expect-boot", false, "wait for the BOOTED packet before connecting")
	pf.DurationVar(&rootBootTimeout, "boot-timeout", 0, "how long to wait for the BOOTED packet")

	rootCmd.AddCommand(
		newSerialsCmd(),
		newEnvCmd(),
		newHistoryCmd(),
		newPowerCycleCmd(),
	)
	_ = env.Ensure()
}

// loadConfig reads --config and applies the persistent flags on top. A standalone run is
// manual mode: it only waits for BOOTED with --expect-boot or when a config file asks for it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(rootConfig)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if rootPort != "" {
		cfg.Instrument.Port = rootPort
	}
	if rootBaud != 0 {
		cfg.Instrument.BaudRate = rootBaud
	}
	if rootInstrLevel >= 0 {
		cfg.Instrument.LogLevel = rootInstrLevel
	}
	switch {
	case flags.Changed("expect-boot"):
		cfg.Instrument.ExpectBootPacket = rootExpectBoot
	case rootConfig == "":
		cfg.Instrument.ExpectBootPacket = false
	}
	if flags.Changed("boot-timeout") {
		cfg.Instrument.BootTimeout = rootBootTimeout
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

func setupLogger(lc config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if lc.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		log.Error().Err(err).Int("exit_code", session.ProcessExitCode(err)).Msg("hypstar command failed")
	}
	os.Exit(session.ProcessExitCode(err))
}
