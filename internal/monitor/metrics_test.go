package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func series(t *testing.T, m *Metrics, name string) []*dto.Metric {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()
		}
	}
	return nil
}

func labelled(ms []*dto.Metric, pairs ...string) *dto.Metric {
	for _, m := range ms {
		match := true
		for i := 0; i < len(pairs); i += 2 {
			found := false
			for _, l := range m.GetLabel() {
				if l.GetName() == pairs[i] && l.GetValue() == pairs[i+1] {
					found = true
				}
			}
			match = match && found
		}
		if match {
			return m
		}
	}
	return nil
}

func TestObserveCapture(t *testing.T) {
	m := New()
	m.ObserveCapture("spectra", "ok", 2*time.Second, 4700)
	m.ObserveCapture("spectra", "empty-result", time.Second, 0)
	m.ObserveCapture("picture", "ok", time.Second, 100)

	ok := labelled(series(t, m, "hypstar_captures_total"), "kind", "spectra", "outcome", "ok")
	if ok == nil || ok.GetCounter().GetValue() != 1 {
		t.Fatalf("expected 1 ok spectra capture, got %v", ok)
	}
	b := labelled(series(t, m, "hypstar_capture_bytes"), "kind", "spectra")
	if b == nil || b.GetGauge().GetValue() != 4700 {
		t.Fatalf("failed capture must not overwrite bytes, got %v", b)
	}
	if got := len(series(t, m, "hypstar_capture_duration_seconds")); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveSession(27)
	m.ObserveCapture("picture", "no-packets", time.Second, 0)

	path := filepath.Join(t.TempDir(), "hypstar.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(b)
	for _, want := range []string{
		"hypstar_session_exit_code 27",
		`hypstar_captures_total{kind="picture",outcome="no-packets"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
}

func TestWriteTextfileMissingDir(t *testing.T) {
	if err := New().WriteTextfile(filepath.Join(t.TempDir(), "nope", "x.prom")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
