package relay

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	functionReadCoils       = 0x01
	functionWriteSingleCoil = 0x05

	exceptionIllegalFunction = 0x01
	exceptionIllegalDataAddr = 0x02
	exceptionIllegalDataVal  = 0x03

	coilOn  = 0xFF00
	coilOff = 0x0000
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
	errInvalidValue  = errors.New("invalid coil value")
)

// Switch is one coil transition seen by a Board.
type Switch struct {
	Coil uint16
	On   bool
	At   time.Time
}

// Board is a Modbus TCP relay board: a bank of coils that can be read and switched.
// It stands in for the field power relay in tests and in hypstar-sim.
type Board struct {
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	coils    []bool
	switches []Switch
}

// NewBoard returns a board with n coils, all on.
func NewBoard(n int) *Board {
	coils := make([]bool, n)
	for i := range coils {
		coils[i] = true
	}
	return &Board{coils: coils, quit: make(chan struct{})}
}

// Listen starts accepting Modbus TCP connections on address.
func (b *Board) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	b.listener = l

	b.wg.Add(1)
	go b.acceptLoop()
	return nil
}

func (b *Board) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

func (b *Board) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.quit:
				return
			default:
			}
			continue
		}

		b.wg.Add(1)
		go b.handleConnection(conn)
	}
}

func (b *Board) handleConnection(conn net.Conn) {
	defer b.wg.Done()
	defer conn.Close()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint16(header[4:6])
		pduLength := int(length) - 1
		if pduLength <= 0 {
			continue
		}
		pdu := make([]byte, pduLength)
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := b.handlePDU(pdu)
		binary.BigEndian.PutUint16(header[2:4], 0)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(response)+1))
		if _, err := conn.Write(append(header, response...)); err != nil {
			return
		}
	}
}

func (b *Board) handlePDU(pdu []byte) []byte {
	if len(pdu) == 0 {
		return exceptionResponse(0, exceptionIllegalFunction)
	}
	function := pdu[0]
	switch function {
	case functionReadCoils:
		data, err := b.readCoils(pdu)
		if err != nil {
			return exceptionResponse(function, errToCode(err))
		}
		return append([]byte{function, byte(len(data))}, data...)
	case functionWriteSingleCoil:
		if err := b.writeCoil(pdu); err != nil {
			return exceptionResponse(function, errToCode(err))
		}
		return append([]byte(nil), pdu[:5]...)
	default:
		return exceptionResponse(function, exceptionIllegalFunction)
	}
}

func (b *Board) readCoils(pdu []byte) ([]byte, error) {
	if len(pdu) < 5 {
		return nil, errInvalidPDULen
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	quantity := binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > 2000 {
		return nil, errInvalidQty
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(start)+int(quantity) > len(b.coils) {
		return nil, errOutOfRange
	}
	result := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		if b.coils[int(start)+i] {
			result[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return result, nil
}

func (b *Board) writeCoil(pdu []byte) error {
	if len(pdu) < 5 {
		return errInvalidPDULen
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	var on bool
	switch binary.BigEndian.Uint16(pdu[3:5]) {
	case coilOn:
		on = true
	case coilOff:
	default:
		return errInvalidValue
	}
	return b.SetCoil(addr, on)
}

func exceptionResponse(function byte, code byte) []byte {
	return []byte{function | 0x80, code}
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return exceptionIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen), errors.Is(err, errInvalidValue):
		return exceptionIllegalDataVal
	default:
		return exceptionIllegalFunction
	}
}

// Close stops the board and waits for all connections to finish.
func (b *Board) Close() {
	b.closeOnce.Do(func() {
		close(b.quit)
		if b.listener != nil {
			b.listener.Close()
		}
	})
	b.wg.Wait()
}

// SetCoil switches a coil and records the transition.
func (b *Board) SetCoil(addr uint16, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(addr) >= len(b.coils) {
		return errOutOfRange
	}
	b.coils[addr] = on
	b.switches = append(b.switches, Switch{Coil: addr, On: on, At: time.Now()})
	log.Debug().Uint16("coil", addr).Bool("on", on).Msg("relay board coil switched")
	return nil
}

func (b *Board) Coil(addr uint16) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(addr) >= len(b.coils) {
		return false, errOutOfRange
	}
	return b.coils[addr], nil
}

// Switches returns every transition so far, oldest first.
func (b *Board) Switches() []Switch {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Switch(nil), b.switches...)
}
