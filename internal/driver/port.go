package driver

import (
	"io"
	"time"

	"github.com/goburrow/serial"
)

// BootBaudRate is the rate the instrument uses after power-on.
const BootBaudRate = 115200

// PortParams describes the instrument serial link. The instrument always runs 8N1;
// only the address, rate and read timeout vary.
type PortParams struct {
	Address  string
	BaudRate int
	Timeout  time.Duration
}

func (p PortParams) withDefaults() PortParams {
	if p.BaudRate == 0 {
		p.BaudRate = BootBaudRate
	}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	return p
}

// OpenFunc opens the link described by p; tests swap in pipes.
type OpenFunc func(p PortParams) (io.ReadWriteCloser, error)

// OpenPort opens p on a goburrow serial port.
func OpenPort(p PortParams) (io.ReadWriteCloser, error) {
	p = p.withDefaults()
	return serial.Open(&serial.Config{
		Address:  p.Address,
		BaudRate: p.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  p.Timeout,
	})
}
