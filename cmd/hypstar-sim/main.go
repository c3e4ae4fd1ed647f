package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goburrow/serial"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"hypstar-handler/internal/driver"
	"hypstar-handler/internal/protocol"
	"hypstar-handler/internal/relay"
	"hypstar-handler/internal/simulator"
)

// RootConfig describes the bench: one emulated instrument and an optional relay board.
type RootConfig struct {
	Instrument InstrumentConfig `yaml:"instrument"`
	Relay      RelayConfig      `yaml:"relay"`
}

type InstrumentConfig struct {
	SerialPort string `yaml:"serial_port"` // real/virtual port the simulator owns
	BaudRate   int    `yaml:"baud_rate"`

	// Optional: create a virtual serial pair via socat (Unix-like systems)
	SpawnSocat bool   `yaml:"spawn_socat"`
	SocatLink  string `yaml:"socat_link"` // used by the simulator, e.g. /tmp/hypstar-sim
	SocatPeer  string `yaml:"socat_peer"` // handed to hypstar --port, e.g. /tmp/hypstar

	Multiplexer bool          `yaml:"multiplexer"`
	SWIR        bool          `yaml:"swir"`
	ImageSize   int           `yaml:"image_size"`
	BootDelay   time.Duration `yaml:"boot_delay"` // BOOTED is sent this long after start
}

type RelayConfig struct {
	ListenAddress string `yaml:"listen_address"` // Modbus TCP, empty disables
	Coils         int    `yaml:"coils"`
}

func loadConfig(path string) (RootConfig, error) {
	cfg := RootConfig{Instrument: InstrumentConfig{Multiplexer: true, SWIR: true}}
	b, err := os.ReadFile(path)
	if err != nil {
		return RootConfig{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return RootConfig{}, err
	}
	if cfg.Instrument.BaudRate == 0 {
		cfg.Instrument.BaudRate = driver.BootBaudRate
	}
	if cfg.Relay.Coils <= 0 {
		cfg.Relay.Coils = 8
	}
	return cfg, nil
}

func newInstrument(ic InstrumentConfig, reopen func(int) (io.ReadWriter, error)) *simulator.Instrument {
	hw := simulator.DefaultHardwareInfo()
	if !ic.Multiplexer {
		hw.Flags &^= protocol.FlagOpticalMultiplexer
	}
	if !ic.SWIR {
		hw.Flags &^= protocol.FlagSWIRModule
	}
	return simulator.New(simulator.Config{HW: hw, ImageSize: ic.ImageSize, Reopen: reopen})
}

// benchPort is the simulator's end of the link. Serial read timeouts are retried until
// ctx ends, and the underlying port is swapped when the host changes the baud rate.
type benchPort struct {
	ctx    context.Context
	params driver.PortParams

	mu sync.Mutex
	rw io.ReadWriteCloser
}

func (p *benchPort) open() error {
	rw, err := driver.OpenPort(p.params)
	if err != nil {
		return errors.Wrapf(err, "open %s at %d baud", p.params.Address, p.params.BaudRate)
	}
	p.mu.Lock()
	p.rw = rw
	p.mu.Unlock()
	return nil
}

// reopen mirrors the handler: the ack went out at the old rate, now follow it.
func (p *benchPort) reopen(baud int) (io.ReadWriter, error) {
	if baud == p.params.BaudRate {
		return p, nil
	}
	_ = p.Close()
	p.params.BaudRate = baud
	if err := p.open(); err != nil {
		return nil, err
	}
	log.Info().Str("port", p.params.Address).Int("baud", baud).Msg("hypstar-sim switched baud rate")
	return p, nil
}

func (p *benchPort) current() io.ReadWriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rw
}

func (p *benchPort) Read(b []byte) (int, error) {
	for {
		n, err := p.current().Read(b)
		if n > 0 || !errors.Is(err, serial.ErrTimeout) {
			return n, err
		}
		if p.ctx.Err() != nil {
			return 0, io.EOF
		}
	}
}

func (p *benchPort) Write(b []byte) (int, error) { return p.current().Write(b) }

func (p *benchPort) Close() error { return p.current().Close() }

func spawnSocat(ctx context.Context, ic *InstrumentConfig) (*exec.Cmd, error) {
	link := ic.SocatLink
	if link == "" {
		link = ic.SerialPort
	}
	if link == "" || ic.SocatPeer == "" {
		return nil, errors.New("spawn_socat requires socat_link (or serial_port) and socat_peer")
	}
	// two linked raw ptys: link for the simulator, peer for the handler
	cmd := exec.CommandContext(ctx, "socat", "-d", "-d",
		"pty,raw,echo=0,link="+link,
		"pty,raw,echo=0,link="+ic.SocatPeer,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start socat")
	}
	log.Info().Str("link", link).Str("peer", ic.SocatPeer).Int("pid", cmd.Process.Pid).Msg("spawned socat pair")
	// wait for the ptys to appear
	time.Sleep(400 * time.Millisecond)
	if ic.SerialPort == "" {
		ic.SerialPort = link
	}
	return cmd, nil
}

func stopSocat(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
	}
}

func runInstrument(ctx context.Context, ic InstrumentConfig) error {
	var socat *exec.Cmd
	if ic.SpawnSocat {
		cmd, err := spawnSocat(ctx, &ic)
		if err != nil {
			return err
		}
		socat = cmd
		defer stopSocat(socat)
	}
	if ic.SerialPort == "" {
		return errors.New("instrument.serial_port is required")
	}
	port := &benchPort{ctx: ctx, params: driver.PortParams{Address: ic.SerialPort, BaudRate: ic.BaudRate, Timeout: time.Second}}
	if err := port.open(); err != nil {
		return err
	}
	defer port.Close()

	sim := newInstrument(ic, port.reopen)
	log.Info().
		Str("port", ic.SerialPort).
		Int("baud", ic.BaudRate).
		Bool("multiplexer", ic.Multiplexer).
		Bool("swir", ic.SWIR).
		Msg("hypstar-sim instrument ready")

	select {
	case <-time.After(ic.BootDelay):
	case <-ctx.Done():
		return nil
	}
	if err := sim.SendBooted(port); err != nil {
		return errors.Wrap(err, "send BOOTED")
	}

	done := make(chan error, 1)
	go func() { done <- sim.Serve(port) }()
	select {
	case <-ctx.Done():
		_ = port.Close()
		<-done
		return nil
	case err := <-done:
		return err
	}
}

func runRelay(ctx context.Context, rc RelayConfig) error {
	board := relay.NewBoard(rc.Coils)
	if err := board.Listen(rc.ListenAddress); err != nil {
		return err
	}
	log.Info().Str("addr", board.Addr().String()).Int("coils", rc.Coils).Msg("hypstar-sim relay board listening")
	<-ctx.Done()
	board.Close()
	return nil
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/hypstar-sim.yaml", "path to simulator YAML config")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", cfgPath).Msg("load config failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errs := make(chan error, 2)
	running := 1
	go func() { errs <- runInstrument(ctx, cfg.Instrument) }()
	if cfg.Relay.ListenAddress != "" {
		running++
		go func() { errs <- runRelay(ctx, cfg.Relay) }()
	}
	for i := 0; i < running; i++ {
		if err := <-errs; err != nil {
			log.Error().Err(err).Msg("hypstar-sim stopped")
			cancel()
			os.Exit(1)
		}
	}
}
