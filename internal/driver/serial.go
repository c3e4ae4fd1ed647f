package driver

import (
	"bytes"
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"hypstar-handler/internal/protocol"
)

// Serial opens instrument sessions on serial ports.
type Serial struct {
	Params PortParams // Address is ignored, the port comes from the caller
	Open   OpenFunc
}

// NewSerial returns a connector using goburrow/serial with the given link parameters.
func NewSerial(params PortParams) *Serial {
	return &Serial{Params: params.withDefaults(), Open: OpenPort}
}

func (s *Serial) params(port string) PortParams {
	p := s.Params
	p.Address = port
	return p.withDefaults()
}

// WaitForBoot listens on port at the power-on baud rate for the BOOTED packet.
func (s *Serial) WaitForBoot(ctx context.Context, port string, timeout time.Duration) bool {
	p := s.params(port)
	p.BaudRate = BootBaudRate
	if p.Timeout > 500*time.Millisecond {
		p.Timeout = 500 * time.Millisecond
	}
	rw, err := s.Open(p)
	if err != nil {
		log.Error().Err(err).Str("port", port).Msg("open port for boot wait failed")
		return false
	}
	defer rw.Close()

	signature, _ := protocol.Encode(protocol.Frame{Cmd: protocol.CmdBooted})
	r := &deadlineReader{r: rw, deadline: time.Now().Add(timeout)}
	seen := make([]byte, 0, 256)
	buf := make([]byte, 64)
	for {
		if ctx.Err() != nil {
			return false
		}
		n, err := r.Read(buf)
		if n > 0 {
			seen = append(seen, buf[:n]...)
			if bytes.Contains(seen, signature) {
				log.Info().Str("port", port).Msg("instrument booted")
				return true
			}
			if len(seen) > len(signature) {
				seen = append(seen[:0], seen[len(seen)-len(signature)+1:]...)
			}
		}
		if err != nil {
			log.Debug().Err(err).Str("port", port).Msg("boot wait ended")
			return false
		}
	}
}

// Connect opens port at the boot baud rate and checks that the instrument answers.
func (s *Serial) Connect(port string) (Driver, error) {
	p := s.params(port)
	p.BaudRate = BootBaudRate
	rw, err := s.Open(p)
	if err != nil {
		return nil, wrapIO("open "+port, err)
	}
	h := &Hypstar{rw: rw, params: p, open: s.Open, wait: s.Params.Timeout}
	if err := h.Ping(); err != nil {
		_ = h.Close()
		return nil, errors.Wrapf(err, "ping instrument on %s", port)
	}
	return h, nil
}
