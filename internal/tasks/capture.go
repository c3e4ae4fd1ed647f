// Package tasks wires configuration, the instrument session, history and metrics into the
// one-shot jobs the CLI runs.
package tasks

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"hypstar-handler/internal/config"
	"hypstar-handler/internal/db"
	"hypstar-handler/internal/driver"
	"hypstar-handler/internal/model"
	"hypstar-handler/internal/monitor"
	"hypstar-handler/internal/protocol"
	"hypstar-handler/internal/request"
	"hypstar-handler/internal/session"
)

// Options defines one capture run. Mirrors the CLI flags of cmd/hypstar.
type Options struct {
	Request request.Request
	// Output overrides the derived file path.
	Output        string
	Env           bool
	NoOverwriteIT bool

	// Connector replaces the serial connector; used by tests and embedders.
	Connector driver.Connector
	// EnvOut receives the environmental log line, stdout when nil.
	EnvOut io.Writer
}

// Result is what a capture run produced.
type Result struct {
	// Request carries the observed integration times when they were reported.
	Request    request.Request
	Dispatched session.Dispatched
	Capture    model.Capture
}

func connector(cfg config.Config, c driver.Connector) driver.Connector {
	if c != nil {
		return c
	}
	return driver.NewSerial(driver.PortParams{Timeout: cfg.Instrument.LinkTimeout})
}

func sessionOptions(cfg config.Config, envOut io.Writer) session.Options {
	return session.Options{
		Port:             cfg.Instrument.Port,
		BaudRate:         cfg.Instrument.BaudRate,
		LogLevel:         cfg.Instrument.LogLevel,
		ExpectBootPacket: cfg.Instrument.ExpectBootPacket,
		BootTimeout:      cfg.Instrument.BootTimeout,
		OutputDir:        cfg.Output.Dir,
		EnvOut:           envOut,
	}
}

// Open initializes an instrument session with cfg. Fatal failures are *session.FatalError.
func Open(ctx context.Context, cfg config.Config, c driver.Connector, envOut io.Writer) (*session.Session, error) {
	return session.Initialize(ctx, connector(cfg, c), sessionOptions(cfg, envOut))
}

// RunCapture initializes the session, dispatches the request and records the outcome in
// the history database and the metrics textfile when those are configured.
func RunCapture(ctx context.Context, cfg config.Config, opts Options) (Result, error) {
	res := Result{Request: opts.Request}

	var metrics *monitor.Metrics
	if cfg.Metrics.Textfile != "" {
		metrics = monitor.New()
		defer func() {
			if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				log.Warn().Err(err).Msg("write metrics textfile failed")
			}
		}()
	}

	sess, err := Open(ctx, cfg, opts.Connector, opts.EnvOut)
	if metrics != nil {
		code, _ := session.ExitCodeOf(err)
		metrics.ObserveSession(int(code))
	}
	if err != nil {
		return res, err
	}
	defer sess.Close()
	sess.Spectra = session.SpectraOptions{Env: opts.Env, OverwriteIntegrationTime: !opts.NoOverwriteIT}

	started := time.Now()
	d, dispatchErr := sess.Dispatch(opts.Request, opts.Output)
	elapsed := time.Since(started)
	res.Dispatched = d
	if d.Route == session.RouteSpectra {
		res.Request = d.Spectra.Observed.Apply(opts.Request)
	}
	if d.Route == session.RouteNone && dispatchErr == nil {
		return res, nil
	}

	hw, _ := sess.HardwareInfo()
	res.Capture = newCapture(res.Request, d, hw, started, elapsed, dispatchErr)
	if metrics != nil {
		metrics.ObserveCapture(res.Capture.Kind, res.Capture.Outcome, elapsed, res.Capture.Bytes)
	}
	if cfg.Storage.Enabled {
		if err := record(ctx, cfg.Storage.DBPath, &res.Capture); err != nil {
			log.Warn().Err(err).Str("db", cfg.Storage.DBPath).Msg("record capture history failed")
		}
	}
	return res, dispatchErr
}

func newCapture(req request.Request, d session.Dispatched, hw protocol.HardwareInfo, started time.Time, elapsed time.Duration, err error) model.Capture {
	c := model.Capture{
		ID:               uuid.NewString(),
		StartedAt:        started.UTC(),
		Duration:         elapsed,
		Kind:             d.Route.String(),
		Path:             d.Path,
		Entrance:         req.Entrance.String(),
		Radiometer:       req.Radiometer.String(),
		ITVNIR:           int(req.ITVNIR),
		ITSWIR:           int(req.ITSWIR),
		Count:            int(req.Count),
		Outcome:          session.KindOf(err).String(),
		InstrumentSerial: hw.InstrumentSerial,
		VNIRSerial:       hw.VNIRSerial,
		SWIRSerial:       hw.SWIRSerial,
	}
	switch d.Route {
	case session.RoutePicture:
		c.Bytes = d.Picture.Bytes
	case session.RouteSpectra:
		c.Bytes = d.Spectra.Bytes
		c.Spectra = d.Spectra.Spectra
		c.ObservedITVNIR = int(d.Spectra.Observed.VNIR)
		c.ObservedITSWIR = int(d.Spectra.Observed.SWIR)
	}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

func record(ctx context.Context, path string, c *model.Capture) error {
	h, err := db.Open(path)
	if err != nil {
		return err
	}
	defer h.Close()
	return errors.WithMessage(h.SaveCapture(ctx, c), "save capture")
}
