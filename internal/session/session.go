// Package session owns the single connection to the instrument: it brings the link up,
// gates on hardware capability, and runs picture and spectra captures.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"hypstar-handler/internal/driver"
	"hypstar-handler/internal/protocol"
)

// Options configures Initialize.
type Options struct {
	Port             string
	BaudRate         int
	LogLevel         int
	ExpectBootPacket bool
	BootTimeout      time.Duration

	// OutputDir is where Dispatch puts files when no path is given.
	OutputDir string
	// EnvOut receives the environmental log line of spectra captures.
	EnvOut io.Writer
}

// DefaultOptions mirrors the field deployment: radiometer on /dev/radiometer0, wait for boot.
func DefaultOptions() Options {
	return Options{
		Port:             "/dev/radiometer0",
		BaudRate:         115200,
		LogLevel:         driver.LogDebug,
		ExpectBootPacket: true,
		BootTimeout:      30 * time.Second,
		OutputDir:        "DATA",
	}
}

// Session is a live, validated instrument connection.
type Session struct {
	drv       driver.Driver
	hw        *protocol.HardwareInfo
	logLevel  int
	baudRate  int
	outputDir string
	envOut    io.Writer

	// Spectra holds the options Dispatch uses for spectral requests.
	Spectra SpectraOptions
}

// Initialize waits for the instrument, connects, configures the link and checks that the
// optical multiplexer is present. Failures are returned as *FatalError.
func Initialize(ctx context.Context, c driver.Connector, opts Options) (*Session, error) {
	var (
		drv driver.Driver
		err error
	)
	if opts.ExpectBootPacket && !c.WaitForBoot(ctx, opts.Port, opts.BootTimeout) {
		// BOOTED may have been sent while we were switching baud rates, try anyway
		drv, err = c.Connect(opts.Port)
		if err != nil {
			if driver.IsIOError(err) {
				return nil, fatal(ExitPowerCycle, fmt.Sprintf("did not get instrument BOOTED packet in %s", opts.BootTimeout), err)
			}
			log.Error().Err(err).Str("port", opts.Port).Msg("connect after missed boot packet failed")
		}
	} else {
		drv, err = c.Connect(opts.Port)
		if err != nil {
			return nil, fatal(ExitSessionFailure, "cannot establish instrument session", err)
		}
	}
	if drv == nil {
		return nil, fatal(ExitSessionFailure, "cannot configure instrument session", err)
	}

	s := &Session{
		drv:       drv,
		logLevel:  opts.LogLevel,
		baudRate:  opts.BaudRate,
		outputDir: opts.OutputDir,
		envOut:    opts.EnvOut,
		Spectra:   DefaultSpectraOptions(),
	}
	if s.outputDir == "" {
		s.outputDir = "DATA"
	}
	if s.envOut == nil {
		s.envOut = os.Stdout
	}
	if err := s.configure(); err != nil {
		_ = drv.Close()
		return nil, fatal(ExitSessionFailure, "cannot configure instrument session", err)
	}
	// PSU hardware revision 3 may not start its 12V regulator, leaving the multiplexer
	// (and SWIR, TEC) unpowered. Only a power cycle recovers it.
	if !s.hw.OpticalMultiplexerAvailable() {
		_ = drv.Close()
		return nil, fatal(ExitPowerCycle, "MUX+SWIR+TEC hardware not available", nil)
	}
	log.Info().
		Str("port", opts.Port).
		Int("baud", s.baudRate).
		Str("firmware", s.hw.Firmware()).
		Uint32("instrument_sn", s.hw.InstrumentSerial).
		Msg("instrument session ready")
	return s, nil
}

func (s *Session) configure() error {
	if s.logLevel < driver.LogError || s.logLevel > driver.LogTrace {
		return errors.Errorf("instrument log level %d out of range [%d, %d]", s.logLevel, driver.LogError, driver.LogTrace)
	}
	if err := s.drv.SetLogLevel(s.logLevel); err != nil {
		return err
	}
	if !driver.ValidBaudRate(s.baudRate) {
		return errors.Errorf("baud rate %d is not supported, use one of %v", s.baudRate, driver.SupportedBaudRates)
	}
	if err := s.drv.SetBaudRate(s.baudRate); err != nil {
		return err
	}
	hw, err := s.drv.HardwareInfo()
	if err != nil {
		return err
	}
	s.hw = &hw
	return nil
}

func fatal(code ExitCode, reason string, err error) *FatalError {
	ev := log.Error().Int("exit_code", int(code))
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(reason)
	return &FatalError{Code: code, Reason: reason, Err: err}
}

// HardwareInfo returns the snapshot fetched at connect time.
func (s *Session) HardwareInfo() (protocol.HardwareInfo, error) {
	if s == nil || s.hw == nil {
		return protocol.HardwareInfo{}, ErrNoHardwareInfo
	}
	return *s.hw, nil
}

// Serials identifies the instrument and its two radiometers.
type Serials struct {
	Instrument uint32
	VNIR       uint32
	SWIR       uint32
}

// Serials reads the cached hardware info; it never talks to the instrument.
func (s *Session) Serials() (Serials, error) {
	hw, err := s.HardwareInfo()
	if err != nil {
		log.Error().Err(err).Msg("get serials failed")
		return Serials{}, err
	}
	if hw.InstrumentSerial == 0 {
		err := errors.Wrap(ErrNoHardwareInfo, "instrument serial is zero")
		log.Error().Err(err).Msg("get serials failed")
		return Serials{}, err
	}
	return Serials{Instrument: hw.InstrumentSerial, VNIR: hw.VNIRSerial, SWIR: hw.SWIRSerial}, nil
}

// EnvLog fetches the latest environmental record.
func (s *Session) EnvLog() (protocol.EnvLog, error) {
	return s.drv.EnvLog()
}

// Close releases the link.
func (s *Session) Close() error {
	if s == nil || s.drv == nil {
		return nil
	}
	return s.drv.Close()
}
