// Package relay power-cycles the instrument through a Modbus relay coil.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"hypstar-handler/internal/config"
)

// handlerWithConn embeds mb.ClientHandler and exposes Connect/Close used for lifecycle.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// Relay drives one coil of a relay board.
type Relay struct {
	cfg     config.RelayConfig
	handler handlerWithConn
	addr    string
}

func New(cfg config.RelayConfig) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h, addr, err := newHandler(cfg)
	if err != nil {
		return nil, err
	}
	return &Relay{cfg: cfg, handler: h, addr: addr}, nil
}

// newHandler creates a TCP or RTU handler and a human-readable address for logs.
func newHandler(cfg config.RelayConfig) (handlerWithConn, string, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Protocol)) {
	case "tcp", "modbus-tcp":
		address := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		h := mb.NewTCPClientHandler(address)
		h.Timeout = timeout
		h.SlaveId = cfg.SlaveID
		return h, address, nil
	case "rtu", "modbus-rtu":
		h := mb.NewRTUClientHandler(cfg.SerialPort)
		h.BaudRate = cfg.BaudRate
		h.DataBits = 8
		h.StopBits = 1
		h.Parity = "N"
		h.Timeout = timeout
		h.SlaveId = cfg.SlaveID
		return h, cfg.SerialPort, nil
	default:
		return nil, "", errors.Errorf("relay protocol %s not implemented", cfg.Protocol)
	}
}

// PowerCycle switches the coil off, waits OffDuration and switches it back on.
// The coil is switched back on even when ctx ends during the wait.
func (r *Relay) PowerCycle(ctx context.Context) error {
	if err := r.handler.Connect(); err != nil {
		return errors.Wrapf(err, "connect relay %s", r.addr)
	}
	defer r.handler.Close()
	client := mb.NewClient(r.handler)

	if err := r.write(client, false); err != nil {
		return err
	}
	log.Info().Str("relay", r.addr).Uint16("coil", r.cfg.Coil).Dur("off", r.cfg.OffDuration).Msg("instrument power off")

	var waitErr error
	select {
	case <-time.After(r.cfg.OffDuration):
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if err := r.write(client, true); err != nil {
		return err
	}
	log.Info().Str("relay", r.addr).Uint16("coil", r.cfg.Coil).Msg("instrument power on")
	return waitErr
}

// State reads the coil; true means the instrument is powered.
func (r *Relay) State() (bool, error) {
	if err := r.handler.Connect(); err != nil {
		return false, errors.Wrapf(err, "connect relay %s", r.addr)
	}
	defer r.handler.Close()
	res, err := mb.NewClient(r.handler).ReadCoils(r.cfg.Coil, 1)
	if err != nil {
		return false, errors.Wrapf(err, "read coil %d", r.cfg.Coil)
	}
	if len(res) == 0 {
		return false, errors.Errorf("read coil %d: empty response", r.cfg.Coil)
	}
	return res[0]&0x01 != 0, nil
}

func (r *Relay) write(client mb.Client, on bool) error {
	value := uint16(coilOff)
	if on {
		value = coilOn
	}
	if _, err := client.WriteSingleCoil(r.cfg.Coil, value); err != nil {
		log.Error().Err(err).Str("relay", r.addr).Uint16("coil", r.cfg.Coil).Bool("on", on).Msg("switch relay failed")
		return errors.Wrapf(err, "write coil %d", r.cfg.Coil)
	}
	return nil
}
