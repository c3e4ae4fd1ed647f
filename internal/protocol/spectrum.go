package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Spectrum config bits.
const (
	SpecVNIR = 1 << 0
	SpecSWIR = 1 << 1

	entranceShift = 4
	entranceMask  = 0x70
)

// SpectrumHeaderSize is the size of the header preceding pixel data.
const SpectrumHeaderSize = 9

// SpectrumHeader describes one captured spectrum.
type SpectrumHeader struct {
	Config            uint8
	TimestampMs       uint32
	IntegrationTimeMs uint16
	PixelCount        uint16
}

func (h SpectrumHeader) VNIR() bool { return h.Config&SpecVNIR != 0 }

func (h SpectrumHeader) SWIR() bool { return h.Config&SpecSWIR != 0 }

// Entrance returns the wire entrance code stored in the header.
func (h SpectrumHeader) Entrance() uint8 { return (h.Config & entranceMask) >> entranceShift }

// SpectrumConfig packs channel and entrance selection into a header config byte.
func SpectrumConfig(vnir bool, entrance uint8) uint8 {
	var c uint8
	if vnir {
		c |= SpecVNIR
	} else {
		c |= SpecSWIR
	}
	return c | (entrance<<entranceShift)&entranceMask
}

// Spectrum is a downloaded memory slot. Raw holds the record exactly as received.
type Spectrum struct {
	Header SpectrumHeader
	Counts []uint16
	raw    []byte
}

// NewSpectrum builds the record for header and counts; PixelCount is taken from counts.
func NewSpectrum(h SpectrumHeader, counts []uint16) Spectrum {
	h.PixelCount = uint16(len(counts))
	raw := make([]byte, SpectrumHeaderSize+2*len(counts))
	raw[0] = h.Config
	binary.LittleEndian.PutUint32(raw[1:5], h.TimestampMs)
	binary.LittleEndian.PutUint16(raw[5:7], h.IntegrationTimeMs)
	binary.LittleEndian.PutUint16(raw[7:9], h.PixelCount)
	for i, c := range counts {
		binary.LittleEndian.PutUint16(raw[SpectrumHeaderSize+2*i:], c)
	}
	return Spectrum{Header: h, Counts: append([]uint16(nil), counts...), raw: raw}
}

// ParseSpectrum decodes one slot record.
func ParseSpectrum(b []byte) (Spectrum, error) {
	if len(b) < SpectrumHeaderSize {
		return Spectrum{}, errors.Wrapf(ErrShortFrame, "spectrum header: %d bytes", len(b))
	}
	h := SpectrumHeader{
		Config:            b[0],
		TimestampMs:       binary.LittleEndian.Uint32(b[1:5]),
		IntegrationTimeMs: binary.LittleEndian.Uint16(b[5:7]),
		PixelCount:        binary.LittleEndian.Uint16(b[7:9]),
	}
	want := SpectrumHeaderSize + 2*int(h.PixelCount)
	if len(b) != want {
		return Spectrum{}, errors.Errorf("spectrum: %d pixels need %d bytes, got %d", h.PixelCount, want, len(b))
	}
	counts := make([]uint16, h.PixelCount)
	for i := range counts {
		counts[i] = binary.LittleEndian.Uint16(b[SpectrumHeaderSize+2*i:])
	}
	return Spectrum{Header: h, Counts: counts, raw: append([]byte(nil), b...)}, nil
}

// Bytes returns the serialized record.
func (s Spectrum) Bytes() []byte {
	return append([]byte(nil), s.raw...)
}
