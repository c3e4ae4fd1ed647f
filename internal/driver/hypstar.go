package driver

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/goburrow/serial"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"hypstar-handler/internal/protocol"
)

// Hypstar is a connected instrument. It is not safe for concurrent use; a session owns it.
type Hypstar struct {
	rw      io.ReadWriteCloser
	params  PortParams
	open    OpenFunc      // nil when the stream cannot be reopened (pipes in tests)
	wait    time.Duration // how long a reply may take
	packets int           // JPEG packets of the last image capture
}

// New wraps an already open stream. Baud rate changes are acknowledged but the stream
// is kept as is.
func New(rw io.ReadWriteCloser, wait time.Duration) *Hypstar {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Hypstar{rw: rw, wait: wait}
}

// Ping checks that the instrument answers on the link.
func (h *Hypstar) Ping() error {
	_, err := h.transact(protocol.CmdPing, nil, h.wait)
	return err
}

func (h *Hypstar) SetLogLevel(level int) error {
	if level < LogError || level > LogTrace {
		return errors.Errorf("log level %d out of range %d..%d", level, LogError, LogTrace)
	}
	_, err := h.transact(protocol.CmdSetLogLevel, []byte{byte(level)}, h.wait)
	return err
}

// SetBaudRate switches the link rate. The instrument acknowledges at the old rate, then
// the port is reopened at the new one.
func (h *Hypstar) SetBaudRate(rate int) error {
	if !ValidBaudRate(rate) {
		return errors.Errorf("unsupported baud rate %d", rate)
	}
	if _, err := h.transact(protocol.CmdSetBaudRate, binary.LittleEndian.AppendUint32(nil, uint32(rate)), h.wait); err != nil {
		return err
	}
	if h.open == nil || h.params.BaudRate == rate {
		return nil
	}
	_ = h.rw.Close()
	h.params.BaudRate = rate
	rw, err := h.open(h.params)
	if err != nil {
		return wrapIO("reopen "+h.params.Address, err)
	}
	h.rw = rw
	log.Debug().Str("port", h.params.Address).Int("baud", rate).Msg("link switched baud rate")
	return nil
}

func (h *Hypstar) HardwareInfo() (protocol.HardwareInfo, error) {
	var hw protocol.HardwareInfo
	payload, err := h.transact(protocol.CmdGetHWInfo, nil, h.wait)
	if err != nil {
		return hw, err
	}
	if err := hw.UnmarshalBinary(payload); err != nil {
		return hw, err
	}
	return hw, nil
}

// CaptureImage takes a JPEG and returns the number of packets it occupies.
func (h *Hypstar) CaptureImage(flip bool) (int, error) {
	var f byte
	if flip {
		f = 1
	}
	payload, err := h.transact(protocol.CmdCaptureJPEG, []byte{f}, h.wait*4)
	if err != nil {
		return 0, err
	}
	n, err := protocol.Uint16(payload)
	if err != nil {
		return 0, err
	}
	h.packets = int(n)
	return h.packets, nil
}

// DownloadImage fetches the packets of the last capture in order and joins them.
func (h *Hypstar) DownloadImage() ([]byte, error) {
	if h.packets == 0 {
		return nil, errors.New("no image captured")
	}
	var stream []byte
	for i := 0; i < h.packets; i++ {
		chunk, err := h.transact(protocol.CmdGetJPEGPacket, protocol.PutUint16(uint16(i)), h.wait)
		if err != nil {
			return nil, errors.Wrapf(err, "jpeg packet %d/%d", i+1, h.packets)
		}
		stream = append(stream, chunk...)
	}
	return stream, nil
}

// CaptureSpectra returns the number of spectra the instrument stored.
func (h *Hypstar) CaptureSpectra(p protocol.CaptureParams) (int, error) {
	payload, _ := p.MarshalBinary()
	wait := h.wait + time.Duration(p.TotalTimeMs)*time.Millisecond
	if p.TotalTimeMs == 0 {
		// auto exposure of up to 64 captures per channel
		wait += time.Duration(p.Count) * 2 * time.Minute / 64
	}
	reply, err := h.transact(protocol.CmdCaptureSpec, payload, wait)
	if err != nil {
		return 0, err
	}
	n, err := protocol.Uint16(reply)
	return int(n), err
}

// LastCaptureSlots lists the memory slots holding the last count spectra, in device order.
func (h *Hypstar) LastCaptureSlots(count int) ([]uint16, error) {
	if count < 0 || count > 0xFFFF {
		return nil, errors.Errorf("capture count %d out of range", count)
	}
	reply, err := h.transact(protocol.CmdGetLastSlots, protocol.PutUint16(uint16(count)), h.wait)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeSlots(reply)
}

// DownloadSpectra fetches each slot in the given order.
func (h *Hypstar) DownloadSpectra(slots []uint16) ([]protocol.Spectrum, error) {
	out := make([]protocol.Spectrum, 0, len(slots))
	for _, slot := range slots {
		reply, err := h.transact(protocol.CmdGetSlot, protocol.PutUint16(slot), h.wait)
		if err != nil {
			return nil, errors.Wrapf(err, "slot %d", slot)
		}
		s, err := protocol.ParseSpectrum(reply)
		if err != nil {
			return nil, errors.Wrapf(err, "slot %d", slot)
		}
		out = append(out, s)
	}
	return out, nil
}

func (h *Hypstar) EnvLog() (protocol.EnvLog, error) {
	var e protocol.EnvLog
	reply, err := h.transact(protocol.CmdGetEnvLog, nil, h.wait)
	if err != nil {
		return e, err
	}
	err = e.UnmarshalBinary(reply)
	return e, err
}

func (h *Hypstar) Close() error {
	if h.rw == nil {
		return nil
	}
	err := h.rw.Close()
	h.rw = nil
	return err
}

// transact sends one command and waits for its reply, skipping stray BOOTED packets.
func (h *Hypstar) transact(cmd byte, payload []byte, wait time.Duration) ([]byte, error) {
	if h.rw == nil {
		return nil, wrapIO("transact", io.ErrClosedPipe)
	}
	if err := protocol.WriteFrame(h.rw, protocol.Frame{Cmd: cmd, Payload: payload}); err != nil {
		return nil, wrapIO("write", err)
	}
	r := &deadlineReader{r: h.rw, deadline: time.Now().Add(wait)}
	for {
		f, err := protocol.ReadFrame(r)
		if err != nil {
			if errors.Is(err, protocol.ErrCRC) {
				return nil, err
			}
			return nil, wrapIO("read", err)
		}
		if f.Cmd == protocol.CmdBooted {
			log.Warn().Msg("instrument sent BOOTED during a transaction")
			continue
		}
		if nak := protocol.AsNak(f); nak != nil {
			return nil, nak
		}
		if f.Cmd != cmd {
			return nil, errors.Errorf("reply 0x%02X to command 0x%02X", f.Cmd, cmd)
		}
		return f.Payload, nil
	}
}

// deadlineReader keeps retrying serial read timeouts until its deadline passes.
type deadlineReader struct {
	r        io.Reader
	deadline time.Time
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	for {
		n, err := d.r.Read(p)
		if err != nil && errors.Is(err, serial.ErrTimeout) {
			if n > 0 {
				return n, nil
			}
			if time.Now().Before(d.deadline) {
				continue
			}
		}
		return n, err
	}
}
