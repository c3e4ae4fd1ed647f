package tasks

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hypstar-handler/internal/config"
	"hypstar-handler/internal/driver"
	"hypstar-handler/internal/protocol"
	"hypstar-handler/internal/relay"
	"hypstar-handler/internal/request"
	"hypstar-handler/internal/session"
	"hypstar-handler/internal/simulator"
)

// simConnector serves every opened port from sim over an in-memory pipe.
func simConnector(sim *simulator.Instrument) driver.Connector {
	return &driver.Serial{
		Params: driver.PortParams{Timeout: time.Second},
		Open: func(driver.PortParams) (io.ReadWriteCloser, error) {
			client, server := net.Pipe()
			go func() {
				_ = sim.Serve(server)
				_ = server.Close()
			}()
			return client, nil
		},
	}
}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Instrument.Port = "/dev/ttySIM0"
	cfg.Instrument.ExpectBootPacket = false
	cfg.Output.Dir = filepath.Join(dir, "DATA")
	cfg.Storage.Enabled = true
	cfg.Storage.DBPath = filepath.Join(dir, "history.sqlite")
	cfg.Metrics.Textfile = filepath.Join(dir, "hypstar.prom")
	return cfg
}

func TestRunCapturePicture(t *testing.T) {
	cfg := testConfig(t)
	sim := simulator.New(simulator.Config{ImageSize: 9000, PacketSize: 4096})

	res, err := RunCapture(context.Background(), cfg, Options{Request: request.Picture(), Connector: simConnector(sim)})
	if err != nil {
		t.Fatalf("RunCapture failed: %v", err)
	}
	want := filepath.Join(cfg.Output.Dir, "01_pic.jpg")
	if res.Dispatched.Path != want {
		t.Fatalf("expected %s, got %s", want, res.Dispatched.Path)
	}
	got, err := os.ReadFile(want)
	if err != nil || !bytes.Equal(got, sim.Image()) {
		t.Fatalf("picture on disk differs from the instrument image (%v)", err)
	}

	rows, err := History(context.Background(), cfg, HistoryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Kind != "picture" || rows[0].Outcome != "ok" || rows[0].Bytes != 9000 || rows[0].InstrumentSerial != 220241 {
		t.Fatalf("unexpected history %+v", rows)
	}
	prom, err := os.ReadFile(cfg.Metrics.Textfile)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(prom), `hypstar_captures_total{kind="picture",outcome="ok"} 1`) {
		t.Fatalf("metrics missing picture capture:\n%s", prom)
	}
}

func TestRunCaptureSpectraAppliesObservedIntegrationTimes(t *testing.T) {
	cfg := testConfig(t)
	sim := simulator.New(simulator.Config{})
	req, err := request.FromParams(2, request.RadiometerBoth, request.EntranceRadiance, 0, 0)
	if err != nil {
		t.Fatalf("FromParams failed: %v", err)
	}

	res, err := RunCapture(context.Background(), cfg, Options{Request: req, Connector: simConnector(sim)})
	if err != nil {
		t.Fatalf("RunCapture failed: %v", err)
	}
	if res.Request.ITVNIR != 128 || res.Request.ITSWIR != 256 {
		t.Fatalf("expected observed integration times 128/256, got %d/%d", res.Request.ITVNIR, res.Request.ITSWIR)
	}
	if res.Dispatched.Spectra.Spectra != 4 {
		t.Fatalf("expected 4 spectra, got %d", res.Dispatched.Spectra.Spectra)
	}
	if filepath.Base(res.Dispatched.Path) != "02_rad_both_0000_0000.spe" {
		t.Fatalf("path must be derived from the request as given, got %s", res.Dispatched.Path)
	}
	c := res.Capture
	if c.ObservedITVNIR != 128 || c.ObservedITSWIR != 256 || c.ITVNIR != 128 || c.Outcome != "ok" || c.ID == "" {
		t.Fatalf("unexpected capture row %+v", c)
	}
}

func TestRunCaptureNoOverwriteKeepsRequest(t *testing.T) {
	cfg := testConfig(t)
	req, _ := request.FromParams(1, request.RadiometerVNIR, request.EntranceDark, 0, 0)

	res, err := RunCapture(context.Background(), cfg, Options{Request: req, NoOverwriteIT: true, Connector: simConnector(simulator.New(simulator.Config{}))})
	if err != nil {
		t.Fatalf("RunCapture failed: %v", err)
	}
	if res.Request.ITVNIR != 0 || res.Capture.ObservedITVNIR != 0 {
		t.Fatalf("integration time must be left alone, got %+v", res.Request)
	}
}

func TestRunCaptureZeroPacketsIsRecorded(t *testing.T) {
	cfg := testConfig(t)
	sim := simulator.New(simulator.Config{ImageSize: -1})

	_, err := RunCapture(context.Background(), cfg, Options{Request: request.Picture(), Connector: simConnector(sim)})
	if session.KindOf(err) != session.FailureNoPackets {
		t.Fatalf("expected no-packets failure, got %v", err)
	}
	if _, ok := session.ExitCodeOf(err); ok {
		t.Fatalf("a pipeline failure is not fatal")
	}
	rows, _ := History(context.Background(), cfg, HistoryOptions{})
	if len(rows) != 1 || rows[0].Outcome != "no-packets" || rows[0].Error == "" {
		t.Fatalf("expected failed row, got %+v", rows)
	}
}

func TestRunCaptureMultiplexerMissing(t *testing.T) {
	cfg := testConfig(t)
	hw := simulator.DefaultHardwareInfo()
	hw.Flags &^= protocol.FlagOpticalMultiplexer
	sim := simulator.New(simulator.Config{HW: hw})

	_, err := RunCapture(context.Background(), cfg, Options{Request: request.Picture(), Connector: simConnector(sim)})
	if code, ok := session.ExitCodeOf(err); !ok || code != session.ExitPowerCycle {
		t.Fatalf("expected exit code 27, got %d (%v)", code, err)
	}
	if sim.Commands(protocol.CmdCaptureJPEG) != 0 {
		t.Fatalf("no capture may be sent")
	}
	prom, _ := os.ReadFile(cfg.Metrics.Textfile)
	if !strings.Contains(string(prom), "hypstar_session_exit_code 27") {
		t.Fatalf("metrics missing exit code:\n%s", prom)
	}
}

func TestSerialsAndEnvLog(t *testing.T) {
	cfg := testConfig(t)
	sim := simulator.New(simulator.Config{Env: protocol.EnvLog{TempCenti: 2100}})

	sn, err := Serials(context.Background(), cfg, simConnector(sim))
	if err != nil {
		t.Fatalf("Serials failed: %v", err)
	}
	if sn.Instrument != 220241 || sn.VNIR != 61211 || sn.SWIR != 9062 {
		t.Fatalf("unexpected serials %+v", sn)
	}

	var out bytes.Buffer
	rec, err := EnvLog(context.Background(), cfg, simConnector(sim), &out)
	if err != nil {
		t.Fatalf("EnvLog failed: %v", err)
	}
	if out.String() != rec.CSVLine()+"\n" || !strings.Contains(out.String(), ",21.00,") {
		t.Fatalf("unexpected env line %q", out.String())
	}
}

func TestHistoryExport(t *testing.T) {
	cfg := testConfig(t)
	conn := simConnector(simulator.New(simulator.Config{}))
	for i := 0; i < 3; i++ {
		if _, err := RunCapture(context.Background(), cfg, Options{Request: request.Picture(), Connector: conn}); err != nil {
			t.Fatalf("RunCapture %d failed: %v", i, err)
		}
	}
	dir := t.TempDir()
	opts := HistoryOptions{Limit: 2, JSONPath: filepath.Join(dir, "h.json"), CSVPath: filepath.Join(dir, "h.csv")}
	rows, err := History(context.Background(), cfg, opts)
	if err != nil || len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d (%v)", len(rows), err)
	}
	for _, p := range []string{opts.JSONPath, opts.CSVPath} {
		if st, err := os.Stat(p); err != nil || st.Size() == 0 {
			t.Fatalf("export %s missing (%v)", p, err)
		}
	}
	stats, err := HistoryStats(context.Background(), cfg)
	if err != nil || !strings.Contains(string(stats), `"capture_count":3`) {
		t.Fatalf("unexpected stats %s (%v)", stats, err)
	}
}

func TestPowerCycle(t *testing.T) {
	cfg := testConfig(t)
	if err := PowerCycle(context.Background(), cfg); err == nil {
		t.Fatalf("expected error with relay disabled")
	}

	board := relay.NewBoard(4)
	if err := board.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer board.Close()
	cfg.Relay.Enabled = true
	cfg.Relay.Host = "127.0.0.1"
	cfg.Relay.Port = board.Addr().(*net.TCPAddr).Port
	cfg.Relay.OffDuration = 10 * time.Millisecond

	if err := PowerCycle(context.Background(), cfg); err != nil {
		t.Fatalf("PowerCycle failed: %v", err)
	}
	if sw := board.Switches(); len(sw) != 2 || sw[0].On || !sw[1].On {
		t.Fatalf("expected off then on, got %+v", sw)
	}
}
