// Package simulator emulates a spectro-radiometer on the instrument link, for bench work
// without hardware and for driver tests.
package simulator

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"hypstar-handler/internal/protocol"
)

const (
	defaultPacketSize = 4096
	defaultImageSize  = 20000
	autoITVNIR        = 128
	autoITSWIR        = 256
)

// Config seeds the emulated instrument.
type Config struct {
	HW         protocol.HardwareInfo
	ImageSize  int // JPEG size in bytes; negative makes the camera report zero packets
	PacketSize int
	Env        protocol.EnvLog

	// Reopen is called after SET_BAUD has been acknowledged and returns the link at the
	// new rate. Nil keeps the stream, which suits pipes and ptys.
	Reopen func(baud int) (io.ReadWriter, error)
}

// DefaultHardwareInfo describes a healthy instrument with all subsystems up.
func DefaultHardwareInfo() protocol.HardwareInfo {
	return protocol.HardwareInfo{
		FirmwareMajor:    0,
		FirmwareMinor:    15,
		FirmwareRevision: 24,
		InstrumentSerial: 220241,
		VNIRSerial:       61211,
		SWIRSerial:       9062,
		Flags:            protocol.FlagOpticalMultiplexer | protocol.FlagSWIRModule | protocol.FlagCamera,
		VNIRPixels:       2048,
		SWIRPixels:       256,
		MemorySlots:      4096,
	}
}

// Instrument holds emulated device state.
type Instrument struct {
	mu         sync.Mutex
	hw         protocol.HardwareInfo
	env        protocol.EnvLog
	image      []byte
	packetSize int
	start      time.Time

	logLevel int
	baudRate int

	slots    map[uint16]protocol.Spectrum
	order    []uint16 // slots in capture order
	next     uint16
	commands map[byte]int

	reopen func(baud int) (io.ReadWriter, error)
}

func New(cfg Config) *Instrument {
	if cfg.HW == (protocol.HardwareInfo{}) {
		cfg.HW = DefaultHardwareInfo()
	}
	if cfg.HW.MemorySlots == 0 {
		cfg.HW.MemorySlots = 4096
	}
	if cfg.PacketSize <= 0 {
		cfg.PacketSize = defaultPacketSize
	}
	if cfg.ImageSize == 0 {
		cfg.ImageSize = defaultImageSize
	}
	if cfg.Env == (protocol.EnvLog{}) {
		cfg.Env = protocol.EnvLog{TempCenti: 2350, HumidityCenti: 3120, PressurePa: 101325, VoltageMV: 12000, CurrentMA: 450}
	}
	return &Instrument{
		hw:         cfg.HW,
		env:        cfg.Env,
		image:      syntheticJPEG(cfg.ImageSize),
		packetSize: cfg.PacketSize,
		start:      time.Now(),
		logLevel:   2,
		baudRate:   115200,
		slots:      make(map[uint16]protocol.Spectrum),
		commands:   make(map[byte]int),
		reopen:     cfg.Reopen,
	}
}

// Commands returns how many times cmd was received.
func (in *Instrument) Commands(cmd byte) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.commands[cmd]
}

// Image returns a copy of the JPEG the camera serves.
func (in *Instrument) Image() []byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]byte(nil), in.image...)
}

// BaudRate returns the last rate set by the host.
func (in *Instrument) BaudRate() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.baudRate
}

// SendBooted writes the unsolicited power-on packet.
func (in *Instrument) SendBooted(w io.Writer) error {
	return protocol.WriteFrame(w, protocol.Frame{Cmd: protocol.CmdBooted})
}

// Serve answers frames read from rw until the stream ends.
func (in *Instrument) Serve(rw io.ReadWriter) error {
	for {
		f, err := protocol.ReadFrame(rw)
		if err != nil {
			if errors.Is(err, protocol.ErrCRC) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		reply := in.Handle(f)
		if err := protocol.WriteFrame(rw, reply); err != nil {
			return err
		}
		if f.Cmd == protocol.CmdSetBaudRate && reply.Cmd == f.Cmd && in.reopen != nil {
			// the ack went out at the old rate, everything after uses the new one
			next, err := in.reopen(in.BaudRate())
			if err != nil {
				return errors.Wrapf(err, "reopen link at %d baud", in.BaudRate())
			}
			rw = next
		}
	}
}

// Handle returns the reply to a single request frame.
func (in *Instrument) Handle(f protocol.Frame) protocol.Frame {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.commands[f.Cmd]++

	ok := func(payload []byte) protocol.Frame { return protocol.Frame{Cmd: f.Cmd, Payload: payload} }
	bad := func(code byte) protocol.Frame { return protocol.Nak(f.Cmd, code) }

	switch f.Cmd {
	case protocol.CmdPing:
		return ok(nil)
	case protocol.CmdSetLogLevel:
		if len(f.Payload) != 1 {
			return bad(protocol.NakBadPayload)
		}
		in.logLevel = int(f.Payload[0])
		return ok(nil)
	case protocol.CmdSetBaudRate:
		if len(f.Payload) != 4 {
			return bad(protocol.NakBadPayload)
		}
		in.baudRate = int(binary.LittleEndian.Uint32(f.Payload))
		return ok(nil)
	case protocol.CmdGetHWInfo:
		b, _ := in.hw.MarshalBinary()
		return ok(b)
	case protocol.CmdCaptureJPEG:
		if !in.hw.CameraAvailable() {
			return bad(protocol.NakHardware)
		}
		return ok(protocol.PutUint16(uint16(in.imagePackets())))
	case protocol.CmdGetJPEGPacket:
		idx, err := protocol.Uint16(f.Payload)
		if err != nil || int(idx) >= in.imagePackets() {
			return bad(protocol.NakBadPayload)
		}
		lo := int(idx) * in.packetSize
		hi := min(lo+in.packetSize, len(in.image))
		return ok(in.image[lo:hi])
	case protocol.CmdCaptureSpec:
		var p protocol.CaptureParams
		if err := p.UnmarshalBinary(f.Payload); err != nil {
			return bad(protocol.NakBadPayload)
		}
		n, code := in.captureSpectra(p)
		if code != 0 {
			return bad(code)
		}
		return ok(protocol.PutUint16(uint16(n)))
	case protocol.CmdGetLastSlots:
		n, err := protocol.Uint16(f.Payload)
		if err != nil || int(n) > len(in.order) {
			return bad(protocol.NakBadPayload)
		}
		return ok(protocol.EncodeSlots(in.order[len(in.order)-int(n):]))
	case protocol.CmdGetSlot:
		slot, err := protocol.Uint16(f.Payload)
		if err != nil {
			return bad(protocol.NakBadPayload)
		}
		s, found := in.slots[slot]
		if !found {
			return bad(protocol.NakBadPayload)
		}
		return ok(s.Bytes())
	case protocol.CmdGetEnvLog:
		e := in.env
		e.TimestampMs = in.uptime()
		b, _ := e.MarshalBinary()
		return ok(b)
	default:
		return bad(protocol.NakUnknownCommand)
	}
}

func (in *Instrument) imagePackets() int {
	if len(in.image) == 0 {
		return 0
	}
	return (len(in.image) + in.packetSize - 1) / in.packetSize
}

func (in *Instrument) uptime() uint32 {
	return uint32(time.Since(in.start) / time.Millisecond)
}

// captureSpectra fills memory slots and returns how many spectra were stored.
func (in *Instrument) captureSpectra(p protocol.CaptureParams) (int, byte) {
	if !in.hw.OpticalMultiplexerAvailable() {
		return 0, protocol.NakHardware
	}
	vnir := p.Radiometer == protocol.RadiometerVNIR || p.Radiometer == protocol.RadiometerBoth
	swir := p.Radiometer == protocol.RadiometerSWIR || p.Radiometer == protocol.RadiometerBoth
	if !vnir && !swir {
		return 0, protocol.NakBadPayload
	}
	if swir && !in.hw.SWIRModuleAvailable() {
		return 0, protocol.NakHardware
	}
	count := int(p.Count)
	if count == 0 {
		count = 1
	}
	stored := 0
	for i := 0; i < count; i++ {
		if vnir {
			in.store(true, p.Entrance, pickIT(p.ITVNIR, autoITVNIR), int(in.hw.VNIRPixels))
			stored++
		}
		if swir {
			in.store(false, p.Entrance, pickIT(p.ITSWIR, autoITSWIR), int(in.hw.SWIRPixels))
			stored++
		}
	}
	return stored, 0
}

func (in *Instrument) store(vnir bool, entrance uint8, it uint16, pixels int) {
	counts := make([]uint16, pixels)
	for i := range counts {
		v := 1000 + uint32(i%97)*uint32(it)/4
		if entrance == protocol.EntranceDark {
			v = 1000 + uint32(i%7)
		}
		counts[i] = uint16(min(v, 0xFFFF))
	}
	h := protocol.SpectrumHeader{
		Config:            protocol.SpectrumConfig(vnir, entrance),
		TimestampMs:       in.uptime(),
		IntegrationTimeMs: it,
	}
	slot := in.next
	in.next = (in.next + 1) % in.hw.MemorySlots
	in.slots[slot] = protocol.NewSpectrum(h, counts)
	in.order = append(in.order, slot)
	if len(in.order) > int(in.hw.MemorySlots) {
		in.order = in.order[len(in.order)-int(in.hw.MemorySlots):]
	}
}

func pickIT(requested, auto uint16) uint16 {
	if requested == 0 {
		return auto
	}
	return requested
}

func syntheticJPEG(size int) []byte {
	if size < 0 {
		return nil
	}
	if size < 4 {
		size = 4
	}
	b := make([]byte, size)
	b[0], b[1] = 0xFF, 0xD8
	for i := 2; i < size-2; i++ {
		b[i] = byte(i * 31)
	}
	b[size-2], b[size-1] = 0xFF, 0xD9
	return b
}
