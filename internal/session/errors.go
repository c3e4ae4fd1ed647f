package session

import (
	"github.com/pkg/errors"
)

// ExitCode is what a supervising script sees when the session cannot be used.
type ExitCode int

const (
	ExitOK ExitCode = 0
	// ExitSessionFailure: connect or configuration failed, retry or investigate.
	ExitSessionFailure ExitCode = 6
	// ExitPowerCycle: boot packet never seen or the multiplexer is down, power-cycle the instrument.
	ExitPowerCycle ExitCode = 27
)

// FatalError means the instrument cannot be used at all. Only the process entry point
// turns it into an exit.
type FatalError struct {
	Code   ExitCode
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// ExitCodeOf returns the exit code carried by err, or ExitOK when err is not fatal.
func ExitCodeOf(err error) (ExitCode, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return ExitOK, false
}

// ProcessExitCode is the status a process should exit with after err: 0 on success, the
// carried code for fatal session errors and 1 for anything else.
func ProcessExitCode(err error) int {
	if err == nil {
		return int(ExitOK)
	}
	if code, ok := ExitCodeOf(err); ok {
		return int(code)
	}
	return 1
}

// FailureKind tells which step of a capture pipeline failed.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNoPackets
	FailureCapture
	FailureSlots
	FailureDownload
	FailureEmptyResult
	FailureEnvLog
	FailurePersist
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "ok"
	case FailureNoPackets:
		return "no-packets"
	case FailureCapture:
		return "capture"
	case FailureSlots:
		return "slots"
	case FailureDownload:
		return "download"
	case FailureEmptyResult:
		return "empty-result"
	case FailureEnvLog:
		return "env-log"
	case FailurePersist:
		return "persist"
	default:
		return "unknown"
	}
}

var (
	ErrNoPackets      = errors.New("camera captured zero packets")
	ErrEmptyResult    = errors.New("capture list is empty")
	ErrNoHardwareInfo = errors.New("hardware info not available")
)

// CaptureError is a failed capture attempt. The session stays usable.
type CaptureError struct {
	Kind FailureKind
	Err  error
}

func (e *CaptureError) Error() string { return e.Kind.String() + ": " + e.Err.Error() }

func (e *CaptureError) Unwrap() error { return e.Err }

// KindOf classifies err; nil is FailureNone.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return FailureCapture
}
