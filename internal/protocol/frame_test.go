package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Cmd: CmdGetSlot, Payload: PutUint16(7)}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if err := WriteFrame(&buf, Frame{Cmd: CmdPing}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if got.Cmd != in.Cmd || !bytes.Equal(got.Payload, in.Payload) {
		t.Fatalf("expected %+v, got %+v", in, got)
	}
	got, err = ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame of empty payload failed: %v", err)
	}
	if got.Cmd != CmdPing || len(got.Payload) != 0 {
		t.Fatalf("expected empty ping frame, got %+v", got)
	}
}

func TestReadFrameRejectsCorruption(t *testing.T) {
	b, err := Encode(Frame{Cmd: CmdGetHWInfo, Payload: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	b[4] ^= 0xFF
	if _, err := ReadFrame(bytes.NewReader(b)); !errors.Is(err, ErrCRC) {
		t.Fatalf("expected ErrCRC, got %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader(b[:5])); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestCRC16KnownVector(t *testing.T) {
	// Modbus read holding registers request 01 03 00 00 00 0A -> CRC C5CD (sent CD C5).
	got := CRC16([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A})
	if got != 0xCDC5 {
		t.Fatalf("expected 0xCDC5, got 0x%04X", got)
	}
}

func TestAsNak(t *testing.T) {
	if AsNak(Frame{Cmd: CmdPing}) != nil {
		t.Fatalf("ping frame must not be a NAK")
	}
	nak := AsNak(Nak(CmdCaptureSpec, NakHardware))
	if nak == nil || nak.Cmd != CmdCaptureSpec || nak.Code != NakHardware {
		t.Fatalf("unexpected nak %+v", nak)
	}
}

func TestParseSpectrumKeepsRawBytes(t *testing.T) {
	s := NewSpectrum(SpectrumHeader{Config: SpectrumConfig(false, EntranceRadiance), IntegrationTimeMs: 64}, []uint16{10, 20, 30})
	parsed, err := ParseSpectrum(s.Bytes())
	if err != nil {
		t.Fatalf("ParseSpectrum failed: %v", err)
	}
	if !bytes.Equal(parsed.Bytes(), s.Bytes()) {
		t.Fatalf("serialized form changed after parse")
	}
	if !parsed.Header.SWIR() || parsed.Header.VNIR() {
		t.Fatalf("expected SWIR-only header, got config 0x%02X", parsed.Header.Config)
	}
	if parsed.Header.Entrance() != EntranceRadiance || parsed.Header.IntegrationTimeMs != 64 {
		t.Fatalf("unexpected header %+v", parsed.Header)
	}
	if _, err := ParseSpectrum(s.Bytes()[:len(s.Bytes())-1]); err == nil {
		t.Fatalf("expected error for truncated spectrum")
	}
}

func TestEnvLogCSVLine(t *testing.T) {
	e := EnvLog{TimestampMs: 1500, TempCenti: -125, HumidityCenti: 4550, PressurePa: 101325, VoltageMV: 12050, CurrentMA: 340}
	want := "1500,-1.25,45.50,1013.25,12.050,0.340"
	if got := e.CSVLine(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
