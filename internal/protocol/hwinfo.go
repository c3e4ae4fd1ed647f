package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Capability bits of HardwareInfo.Flags.
const (
	FlagOpticalMultiplexer = 1 << 0
	FlagSWIRModule         = 1 << 1
	FlagCamera             = 1 << 2
)

const hwInfoSize = 22

// HardwareInfo is the snapshot returned by GET_HW_INFO.
type HardwareInfo struct {
	FirmwareMajor    uint8
	FirmwareMinor    uint8
	FirmwareRevision uint8
	InstrumentSerial uint32
	VNIRSerial       uint32
	SWIRSerial       uint32
	Flags            uint8
	VNIRPixels       uint16
	SWIRPixels       uint16
	MemorySlots      uint16
}

// OpticalMultiplexerAvailable reports whether the MUX (and with it SWIR and TEC) came up.
func (h HardwareInfo) OpticalMultiplexerAvailable() bool { return h.Flags&FlagOpticalMultiplexer != 0 }

func (h HardwareInfo) SWIRModuleAvailable() bool { return h.Flags&FlagSWIRModule != 0 }

func (h HardwareInfo) CameraAvailable() bool { return h.Flags&FlagCamera != 0 }

func (h HardwareInfo) Firmware() string {
	return fmt.Sprintf("%d.%d.%d", h.FirmwareMajor, h.FirmwareMinor, h.FirmwareRevision)
}

func (h HardwareInfo) MarshalBinary() ([]byte, error) {
	b := make([]byte, hwInfoSize)
	b[0], b[1], b[2] = h.FirmwareMajor, h.FirmwareMinor, h.FirmwareRevision
	binary.LittleEndian.PutUint32(b[3:7], h.InstrumentSerial)
	binary.LittleEndian.PutUint32(b[7:11], h.VNIRSerial)
	binary.LittleEndian.PutUint32(b[11:15], h.SWIRSerial)
	b[15] = h.Flags
	binary.LittleEndian.PutUint16(b[16:18], h.VNIRPixels)
	binary.LittleEndian.PutUint16(b[18:20], h.SWIRPixels)
	binary.LittleEndian.PutUint16(b[20:22], h.MemorySlots)
	return b, nil
}

func (h *HardwareInfo) UnmarshalBinary(b []byte) error {
	if len(b) < hwInfoSize {
		return errors.Wrapf(ErrShortFrame, "hardware info: %d bytes", len(b))
	}
	h.FirmwareMajor, h.FirmwareMinor, h.FirmwareRevision = b[0], b[1], b[2]
	h.InstrumentSerial = binary.LittleEndian.Uint32(b[3:7])
	h.VNIRSerial = binary.LittleEndian.Uint32(b[7:11])
	h.SWIRSerial = binary.LittleEndian.Uint32(b[11:15])
	h.Flags = b[15]
	h.VNIRPixels = binary.LittleEndian.Uint16(b[16:18])
	h.SWIRPixels = binary.LittleEndian.Uint16(b[18:20])
	h.MemorySlots = binary.LittleEndian.Uint16(b[20:22])
	return nil
}
