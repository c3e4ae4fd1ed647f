package request

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"hypstar-handler/internal/protocol"
)

// Entrance selects the optical input of the instrument.
type Entrance int

const (
	EntranceNone Entrance = iota
	EntrancePicture
	EntranceIrradiance
	EntranceRadiance
	EntranceDark
)

func (e Entrance) String() string {
	switch e {
	case EntrancePicture:
		return "pic"
	case EntranceIrradiance:
		return "irr"
	case EntranceRadiance:
		return "rad"
	case EntranceDark:
		return "dark"
	default:
		return "none"
	}
}

// Wire returns the link code of the entrance. Picture has no spectral entrance.
func (e Entrance) Wire() uint8 {
	switch e {
	case EntranceIrradiance:
		return protocol.EntranceIrradiance
	case EntranceRadiance:
		return protocol.EntranceRadiance
	case EntranceDark:
		return protocol.EntranceDark
	default:
		return protocol.EntranceNone
	}
}

// ParseEntrance accepts the CLI spellings irr, rad, dark, pic and none.
func ParseEntrance(s string) (Entrance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return EntranceNone, nil
	case "pic", "picture":
		return EntrancePicture, nil
	case "irr", "irradiance":
		return EntranceIrradiance, nil
	case "rad", "radiance":
		return EntranceRadiance, nil
	case "dark":
		return EntranceDark, nil
	default:
		return EntranceNone, errors.Errorf("unknown entrance %q", s)
	}
}

// Radiometer selects the spectral channel(s).
type Radiometer int

const (
	RadiometerNone Radiometer = iota
	RadiometerVNIR
	RadiometerSWIR
	RadiometerBoth
)

func (r Radiometer) String() string {
	switch r {
	case RadiometerVNIR:
		return "vnir"
	case RadiometerSWIR:
		return "swir"
	case RadiometerBoth:
		return "both"
	default:
		return "none"
	}
}

func (r Radiometer) Wire() uint8 {
	switch r {
	case RadiometerVNIR:
		return protocol.RadiometerVNIR
	case RadiometerSWIR:
		return protocol.RadiometerSWIR
	case RadiometerBoth:
		return protocol.RadiometerBoth
	default:
		return protocol.RadiometerNone
	}
}

func ParseRadiometer(s string) (Radiometer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return RadiometerNone, nil
	case "vnir", "vis":
		return RadiometerVNIR, nil
	case "swir":
		return RadiometerSWIR, nil
	case "both":
		return RadiometerBoth, nil
	default:
		return RadiometerNone, errors.Errorf("unknown radiometer %q", s)
	}
}

// Request describes one capture. Integration times are in milliseconds, 0 asks the
// instrument to pick one automatically.
type Request struct {
	Entrance             Entrance
	Radiometer           Radiometer
	ITVNIR               uint16
	ITSWIR               uint16
	Count                uint16
	TotalMeasurementTime uint32 // ms, 0 = unbounded
}

// Picture returns a request for a single camera image.
func Picture() Request {
	return Request{Entrance: EntrancePicture, Count: 1}
}

// FromParams builds a spectral request the way the CLI describes it.
func FromParams(count int, radiometer Radiometer, entrance Entrance, itVNIR, itSWIR int) (Request, error) {
	if count <= 0 || count > 0xFFFF {
		return Request{}, errors.Errorf("capture count %d out of range", count)
	}
	if itVNIR < 0 || itVNIR > 0xFFFF || itSWIR < 0 || itSWIR > 0xFFFF {
		return Request{}, errors.Errorf("integration time out of range (vnir=%d swir=%d)", itVNIR, itSWIR)
	}
	return Request{
		Entrance:   entrance,
		Radiometer: radiometer,
		ITVNIR:     uint16(itVNIR),
		ITSWIR:     uint16(itSWIR),
		Count:      uint16(count),
	}, nil
}

// IsPicture reports whether the request routes to the camera.
func (r Request) IsPicture() bool { return r.Entrance == EntrancePicture }

// SpectraNameConvention returns the canonical file name of the request's output.
// Spectra: <count>_<entrance>_<radiometer>_<it_vnir>_<it_swir>.spe, picture: <count>_pic.jpg.
func (r Request) SpectraNameConvention() string {
	if r.IsPicture() {
		return fmt.Sprintf("%02d_%s.jpg", r.Count, r.Entrance)
	}
	return fmt.Sprintf("%02d_%s_%s_%04d_%04d.spe", r.Count, r.Entrance, r.Radiometer, r.ITVNIR, r.ITSWIR)
}

func (r Request) String() string {
	if r.IsPicture() {
		return "picture"
	}
	return fmt.Sprintf("%s/%s it_vnir=%d it_swir=%d n=%d", r.Radiometer, r.Entrance, r.ITVNIR, r.ITSWIR, r.Count)
}
