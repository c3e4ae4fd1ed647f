// Package hypstar exposes the capture runner for programs that embed the handler.
package hypstar

import (
	"context"

	"hypstar-handler/internal/config"
	"hypstar-handler/internal/request"
	"hypstar-handler/internal/session"
	"hypstar-handler/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

type (
	Config     = config.Config
	Request    = request.Request
	Result     = tasks.Result
	FatalError = session.FatalError
)

// LoadConfig reads a YAML config file with environment overrides.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// Picture returns a still-image request.
func Picture() Request {
	return request.Picture()
}

// Spectra builds a spectral request from CLI-style names ("vnir", "rad", ...).
func Spectra(count int, radiometer, entrance string, itVNIR, itSWIR int) (Request, error) {
	r, err := request.ParseRadiometer(radiometer)
	if err != nil {
		return Request{}, err
	}
	e, err := request.ParseEntrance(entrance)
	if err != nil {
		return Request{}, err
	}
	return request.FromParams(count, r, e, itVNIR, itSWIR)
}

// Run performs one capture. A *FatalError carries the exit code a supervisor should act on.
func Run(ctx context.Context, cfg Config, opts Options) (Result, error) {
	return tasks.RunCapture(ctx, cfg, opts)
}

// ExitCode returns the supervisor exit code for err: 0, 1, 6 or 27.
func ExitCode(err error) int {
	return session.ProcessExitCode(err)
}
