package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Wire codes for the radiometer selector.
const (
	RadiometerNone = 0
	RadiometerVNIR = 1
	RadiometerSWIR = 2
	RadiometerBoth = 3
)

// Wire codes for the entrance selector.
const (
	EntranceNone       = 0
	EntranceIrradiance = 1
	EntranceRadiance   = 2
	EntranceDark       = 3
)

const captureParamsSize = 12

// CaptureParams is the CAPTURE_SPECTRA payload.
type CaptureParams struct {
	Radiometer  uint8
	Entrance    uint8
	ITVNIR      uint16
	ITSWIR      uint16
	Count       uint16
	TotalTimeMs uint32
}

func (p CaptureParams) MarshalBinary() ([]byte, error) {
	b := make([]byte, captureParamsSize)
	b[0], b[1] = p.Radiometer, p.Entrance
	binary.LittleEndian.PutUint16(b[2:4], p.ITVNIR)
	binary.LittleEndian.PutUint16(b[4:6], p.ITSWIR)
	binary.LittleEndian.PutUint16(b[6:8], p.Count)
	binary.LittleEndian.PutUint32(b[8:12], p.TotalTimeMs)
	return b, nil
}

func (p *CaptureParams) UnmarshalBinary(b []byte) error {
	if len(b) < captureParamsSize {
		return errors.Wrapf(ErrShortFrame, "capture params: %d bytes", len(b))
	}
	p.Radiometer, p.Entrance = b[0], b[1]
	p.ITVNIR = binary.LittleEndian.Uint16(b[2:4])
	p.ITSWIR = binary.LittleEndian.Uint16(b[4:6])
	p.Count = binary.LittleEndian.Uint16(b[6:8])
	p.TotalTimeMs = binary.LittleEndian.Uint32(b[8:12])
	return nil
}

// PutUint16 returns v as a two byte little-endian payload.
func PutUint16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

// Uint16 decodes a two byte little-endian payload.
func Uint16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, errors.Wrapf(ErrShortFrame, "uint16 payload: %d bytes", len(b))
	}
	return binary.LittleEndian.Uint16(b), nil
}

// EncodeSlots packs a slot list as count u16 followed by each slot u16.
func EncodeSlots(slots []uint16) []byte {
	b := binary.LittleEndian.AppendUint16(nil, uint16(len(slots)))
	for _, s := range slots {
		b = binary.LittleEndian.AppendUint16(b, s)
	}
	return b
}

// DecodeSlots is the inverse of EncodeSlots.
func DecodeSlots(b []byte) ([]uint16, error) {
	n, err := Uint16(b)
	if err != nil {
		return nil, err
	}
	if len(b) != 2+2*int(n) {
		return nil, errors.Errorf("slot list: %d slots need %d bytes, got %d", n, 2+2*int(n), len(b))
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[2+2*i:])
	}
	return out, nil
}
