package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Command codes of the instrument link.
const (
	CmdPing          = 0x01
	CmdSetLogLevel   = 0x02
	CmdSetBaudRate   = 0x03
	CmdGetHWInfo     = 0x04
	CmdCaptureJPEG   = 0x10
	CmdGetJPEGPacket = 0x11
	CmdCaptureSpec   = 0x20
	CmdGetLastSlots  = 0x21
	CmdGetSlot       = 0x22
	CmdGetEnvLog     = 0x30
	CmdBooted        = 0xCB
	CmdNak           = 0xEE
)

// NAK codes sent by the instrument.
const (
	NakUnknownCommand = 0x01
	NakBadPayload     = 0x02
	NakBusy           = 0x03
	NakHardware       = 0x04
)

// MaxPayload is the largest payload a single frame can carry.
const MaxPayload = 0xFFFF

const headerSize = 3

var (
	ErrCRC        = errors.New("protocol: crc mismatch")
	ErrShortFrame = errors.New("protocol: short frame")
	ErrTooLarge   = errors.New("protocol: payload too large")
)

// Frame is one packet on the link.
type Frame struct {
	Cmd     byte
	Payload []byte
}

// NakError is returned when the instrument refuses a command.
type NakError struct {
	Cmd  byte
	Code byte
}

func (e *NakError) Error() string {
	return fmt.Sprintf("instrument rejected command 0x%02X (code 0x%02X)", e.Cmd, e.Code)
}

// Encode serializes f as cmd | len LE | payload | crc16 LE.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, ErrTooLarge
	}
	buf := make([]byte, headerSize, headerSize+len(f.Payload)+2)
	buf[0] = f.Cmd
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(f.Payload)))
	buf = append(buf, f.Payload...)
	crc := CRC16(buf)
	return binary.LittleEndian.AppendUint16(buf, crc), nil
}

// WriteFrame encodes f and writes it in a single call.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads exactly one frame from r and verifies its CRC.
func ReadFrame(r io.Reader) (Frame, error) {
	head := make([]byte, headerSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return Frame{}, err
	}
	n := int(binary.LittleEndian.Uint16(head[1:3]))
	rest := make([]byte, n+2)
	if _, err := io.ReadFull(r, rest); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortFrame
		}
		return Frame{}, err
	}
	crcRecv := binary.LittleEndian.Uint16(rest[n:])
	crcCalc := CRC16(append(head, rest[:n]...))
	if crcCalc != crcRecv {
		return Frame{}, ErrCRC
	}
	return Frame{Cmd: head[0], Payload: rest[:n]}, nil
}

// Nak builds a refusal frame for cmd.
func Nak(cmd, code byte) Frame {
	return Frame{Cmd: CmdNak, Payload: []byte{cmd, code}}
}

// AsNak returns the NakError carried by f, or nil when f is not a NAK.
func AsNak(f Frame) *NakError {
	if f.Cmd != CmdNak {
		return nil
	}
	e := &NakError{}
	if len(f.Payload) > 0 {
		e.Cmd = f.Payload[0]
	}
	if len(f.Payload) > 1 {
		e.Code = f.Payload[1]
	}
	return e
}

// CRC16 computes the Modbus flavoured CRC16 over data.
func CRC16(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if (crc & 0x0001) != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc = crc >> 1
			}
		}
	}
	return crc
}
