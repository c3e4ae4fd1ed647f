package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"hypstar-handler/internal/request"
	"hypstar-handler/internal/tasks"
)

type captureFlags struct {
	picture       bool
	radiometer    string
	entrance      string
	itVNIR        int
	itSWIR        int
	count         int
	output        string
	totalTime     uint32
	env           bool
	noOverwriteIT bool
}

// buildRequest turns the capture flags into a request, enforcing picture XOR radiometer
// and radiometer with entrance.
func buildRequest(f captureFlags) (request.Request, error) {
	switch {
	case f.picture && f.radiometer != "":
		return request.Request{}, errors.Wrap(errUsage, "-p/--picture and -r/--radiometer are mutually exclusive")
	case !f.picture && f.radiometer == "":
		return request.Request{}, errors.Wrap(errUsage, "one of -p/--picture or -r/--radiometer is required")
	case f.radiometer != "" && f.entrance == "":
		return request.Request{}, errors.Wrapf(errUsage, "please select an entrance for the %s", f.radiometer)
	case f.picture && f.entrance != "":
		return request.Request{}, errors.Wrapf(errUsage, "please select a radiometer for %s", f.entrance)
	}
	if f.picture {
		return request.Picture(), nil
	}

	r, err := request.ParseRadiometer(f.radiometer)
	if err != nil || r == request.RadiometerNone {
		return request.Request{}, errors.Wrapf(errUsage, "radiometer must be one of vnir, swir, both (got %q)", f.radiometer)
	}
	e, err := request.ParseEntrance(f.entrance)
	if err != nil || e == request.EntranceNone || e == request.EntrancePicture {
		return request.Request{}, errors.Wrapf(errUsage, "entrance must be one of irr, rad, dark (got %q)", f.entrance)
	}
	req, err := request.FromParams(f.count, r, e, f.itVNIR, f.itSWIR)
	if err != nil {
		return request.Request{}, errors.Wrap(errUsage, err.Error())
	}
	req.TotalMeasurementTime = f.totalTime
	return req, nil
}

func newCaptureCmd() *cobra.Command {
	var f captureFlags

	cmd := &cobra.Command{
		Use:   "hypstar",
		Short: "Capture pictures and spectra with a HYPSTAR radiometer",
		Long: `hypstar connects to the radiometer on its serial port, checks that the optical multiplexer
is powered and takes either a picture (-p) or spectra (-r with -e).

Exit codes: 0 ok, 1 capture or usage failure, 6 session failure, 27 power-cycle the instrument.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(f)
			if err != nil {
				_ = cmd.Usage()
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			res, err := tasks.RunCapture(cmd.Context(), cfg, tasks.Options{
				Request:       req,
				Output:        f.output,
				Env:           f.env,
				NoOverwriteIT: f.noOverwriteIT,
				EnvOut:        os.Stdout,
			})
			if err != nil {
				return err
			}
			log.Info().
				Str("route", res.Dispatched.Route.String()).
				Str("path", res.Dispatched.Path).
				Str("request", res.Request.String()).
				Msg("capture done")
			return nil
		},
	}

	fl := cmd.Flags()
	fl.BoolVarP(&f.picture, "picture", "p", false, "take a picture (5MP)")
	fl.StringVarP(&f.radiometer, "radiometer", "r", "", "select a radiometer {vnir, swir, both}")
	fl.StringVarP(&f.entrance, "entrance", "e", "", "select an entrance {irr, rad, dark}")
	fl.IntVarP(&f.itVNIR, "it-vnir", "v", 0, "integration time for VNIR in ms, 0 for automatic")
	fl.IntVarP(&f.itSWIR, "it-swir", "w", 0, "integration time for SWIR in ms, 0 for automatic")
	fl.IntVarP(&f.count, "count", "n", 1, "number of captures")
	fl.StringVarP(&f.output, "output", "o", "", "output file name (derived from the request when empty)")
	fl.Uint32Var(&f.totalTime, "total-time", 0, "total measurement time in ms, 0 for a single scan per count")
	fl.BoolVar(&f.env, "env", false, "print the environmental log line before capturing spectra")
	fl.BoolVar(&f.noOverwriteIT, "no-overwrite-it", false, "keep the requested integration times instead of the observed ones")
	return cmd
}
