// Package driver talks to the spectro-radiometer over its serial link.
//
// Driver is the command surface a live session needs; Connector brings a session up
// (boot-packet wait and connect). Hypstar implements Driver over any byte stream,
// Serial implements Connector over a goburrow serial port.
package driver

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"hypstar-handler/internal/protocol"
)

// Driver is the wire-command surface of a connected instrument.
type Driver interface {
	SetLogLevel(level int) error
	SetBaudRate(rate int) error
	HardwareInfo() (protocol.HardwareInfo, error)
	CaptureImage(flip bool) (int, error)
	DownloadImage() ([]byte, error)
	CaptureSpectra(p protocol.CaptureParams) (int, error)
	LastCaptureSlots(count int) ([]uint16, error)
	DownloadSpectra(slots []uint16) ([]protocol.Spectrum, error)
	EnvLog() (protocol.EnvLog, error)
	Close() error
}

// Connector waits for the instrument and opens driver sessions on a port.
type Connector interface {
	// WaitForBoot blocks until the BOOTED packet is seen on port or timeout elapses.
	WaitForBoot(ctx context.Context, port string, timeout time.Duration) bool
	Connect(port string) (Driver, error)
}

// SupportedBaudRates lists the link rates the instrument firmware accepts.
var SupportedBaudRates = []int{9600, 115200, 460800, 921600, 3000000, 6000000, 8000000}

// Instrument log levels.
const (
	LogError = iota
	LogWarning
	LogInfo
	LogDebug
	LogTrace
)

// ErrIO marks failures of the link itself: port open, read, write or timeout.
var ErrIO = errors.New("driver: i/o failure")

type ioError struct {
	op  string
	err error
}

func (e *ioError) Error() string { return e.op + ": " + e.err.Error() }

func (e *ioError) Unwrap() error { return e.err }

func (e *ioError) Is(target error) bool { return target == ErrIO }

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIO) {
		return err
	}
	return &ioError{op: op, err: err}
}

// IsIOError reports whether err is an I/O-class failure of the link.
func IsIOError(err error) bool {
	return errors.Is(err, ErrIO)
}

// ValidBaudRate reports whether rate is one of SupportedBaudRates.
func ValidBaudRate(rate int) bool {
	for _, r := range SupportedBaudRates {
		if r == rate {
			return true
		}
	}
	return false
}
