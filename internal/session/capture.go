package session

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"hypstar-handler/internal/output"
	"hypstar-handler/internal/protocol"
	"hypstar-handler/internal/request"
)

// Route is the pipeline a request was sent to.
type Route int

const (
	RouteNone Route = iota
	RoutePicture
	RouteSpectra
)

func (r Route) String() string {
	switch r {
	case RoutePicture:
		return "picture"
	case RouteSpectra:
		return "spectra"
	default:
		return "none"
	}
}

// Dispatched reports what Dispatch did with a request.
type Dispatched struct {
	Path    string
	Route   Route
	Picture PictureResult
	Spectra SpectraResult
}

// Dispatch sends req to the picture or spectra pipeline. Without a path the file goes to
// the output directory under the request's naming convention. A request that is neither a
// picture nor names a radiometer is not an error: nothing is captured and the path is
// returned as is.
func (s *Session) Dispatch(req request.Request, path string) (Dispatched, error) {
	if path == "" {
		path = filepath.Join(s.outputDir, req.SpectraNameConvention())
		if err := output.EnsureDir(s.outputDir); err != nil {
			return Dispatched{Path: path}, s.captureFailed("prepare output dir", path, FailurePersist, err)
		}
	}
	d := Dispatched{Path: path}

	var err error
	switch {
	case req.IsPicture():
		d.Route = RoutePicture
		d.Picture, err = s.TakePicture(path, PictureOptions{})
	case req.Radiometer != request.RadiometerNone:
		d.Route = RouteSpectra
		d.Spectra, err = s.TakeSpectra(req, path, s.Spectra)
	default:
		log.Debug().Str("request", req.String()).Msg("request selects neither picture nor radiometer, nothing captured")
	}
	return d, err
}

// PictureOptions tunes TakePicture. Only the 5MP resolution is supported.
type PictureOptions struct {
	// ReturnStream keeps the downloaded JPEG in the result.
	ReturnStream bool
}

type PictureResult struct {
	Saved   bool
	Packets int
	Bytes   int
	Stream  []byte
}

// TakePicture captures a flipped still image, downloads it and writes it to path.
func (s *Session) TakePicture(path string, opts PictureOptions) (PictureResult, error) {
	var res PictureResult
	packets, err := s.drv.CaptureImage(true)
	if err != nil {
		return res, s.captureFailed("take picture", path, FailureCapture, err)
	}
	res.Packets = packets
	if packets == 0 {
		return res, s.captureFailed("take picture", path, FailureNoPackets, ErrNoPackets)
	}
	stream, err := s.drv.DownloadImage()
	if err != nil {
		return res, s.captureFailed("take picture", path, FailureDownload, err)
	}
	if err := output.WriteFile(path, stream); err != nil {
		return res, s.captureFailed("take picture", path, FailurePersist, err)
	}
	res.Saved = true
	res.Bytes = len(stream)
	if opts.ReturnStream {
		res.Stream = stream
	}
	log.Info().Str("path", path).Int("bytes", len(stream)).Msg("picture saved")
	return res, nil
}

// SpectraOptions tunes TakeSpectra.
type SpectraOptions struct {
	// Env prints the latest environmental log before capturing.
	Env bool
	// OverwriteIntegrationTime reports the integration times the instrument used.
	OverwriteIntegrationTime bool
}

func DefaultSpectraOptions() SpectraOptions {
	return SpectraOptions{OverwriteIntegrationTime: true}
}

// ObservedIntegrationTimes are the per-channel integration times read back from spectrum
// headers. When several spectra of one channel are present the last one wins.
type ObservedIntegrationTimes struct {
	VNIR    uint16
	SWIR    uint16
	HasVNIR bool
	HasSWIR bool
}

// Apply returns req with the observed integration times in place of the requested ones.
func (o ObservedIntegrationTimes) Apply(req request.Request) request.Request {
	if o.HasVNIR {
		req.ITVNIR = o.VNIR
	}
	if o.HasSWIR {
		req.ITSWIR = o.SWIR
	}
	return req
}

type SpectraResult struct {
	Saved    bool
	Captured int
	Spectra  int
	Bytes    int
	Observed ObservedIntegrationTimes
}

// TakeSpectra captures spectra for req, downloads every slot of the capture in device order
// and writes the concatenated records to path.
func (s *Session) TakeSpectra(req request.Request, path string, opts SpectraOptions) (SpectraResult, error) {
	var res SpectraResult
	if opts.Env {
		env, err := s.drv.EnvLog()
		if err != nil {
			return res, s.captureFailed("take spectra", path, FailureEnvLog, err)
		}
		if _, err := s.envOut.Write([]byte(env.CSVLine() + "\n")); err != nil {
			log.Warn().Err(err).Msg("write env log line failed")
		}
	}

	captured, err := s.drv.CaptureSpectra(protocol.CaptureParams{
		Radiometer:  req.Radiometer.Wire(),
		Entrance:    req.Entrance.Wire(),
		ITVNIR:      req.ITVNIR,
		ITSWIR:      req.ITSWIR,
		Count:       req.Count,
		TotalTimeMs: req.TotalMeasurementTime,
	})
	if err != nil {
		return res, s.captureFailed("take spectra", path, FailureCapture, err)
	}
	res.Captured = captured

	slots, err := s.drv.LastCaptureSlots(captured)
	if err != nil {
		return res, s.captureFailed("take spectra", path, FailureSlots, err)
	}
	spectra, err := s.drv.DownloadSpectra(slots)
	if err != nil {
		return res, s.captureFailed("take spectra", path, FailureDownload, err)
	}
	if len(spectra) == 0 {
		return res, s.captureFailed("take spectra", path, FailureEmptyResult, ErrEmptyResult)
	}

	var stream []byte
	for _, sp := range spectra {
		stream = append(stream, sp.Bytes()...)
		if !opts.OverwriteIntegrationTime {
			continue
		}
		switch {
		case sp.Header.VNIR():
			res.Observed.VNIR, res.Observed.HasVNIR = sp.Header.IntegrationTimeMs, true
		case sp.Header.SWIR():
			res.Observed.SWIR, res.Observed.HasSWIR = sp.Header.IntegrationTimeMs, true
		}
	}

	if err := output.WriteFile(path, stream); err != nil {
		return res, s.captureFailed("take spectra", path, FailurePersist, err)
	}
	res.Saved = true
	res.Spectra = len(spectra)
	res.Bytes = len(stream)
	log.Info().Str("path", path).Int("spectra", res.Spectra).Int("bytes", res.Bytes).Msg("spectra saved")
	return res, nil
}

func (s *Session) captureFailed(op, path string, kind FailureKind, err error) error {
	log.Error().Err(err).Str("kind", kind.String()).Str("path", path).Msg(op + " failed")
	return &CaptureError{Kind: kind, Err: errors.WithMessage(err, op)}
}
