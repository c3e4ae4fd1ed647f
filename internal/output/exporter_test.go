package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hypstar-handler/internal/model"
)

func TestEnsureDirIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "DATA")
	for i := 0; i < 2; i++ {
		if err := EnsureDir(dir); err != nil {
			t.Fatalf("EnsureDir call %d failed: %v", i+1, err)
		}
	}
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		t.Fatalf("expected directory at %s (err=%v)", dir, err)
	}
}

func TestEnsureDirFailsOnFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "DATA")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := EnsureDir(file); err == nil {
		t.Fatalf("expected error when a file occupies the directory path")
	}
}

func TestWriteFileOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "01_pic.jpg")
	if err := WriteFile(path, []byte("a much longer first payload")); err != nil {
		t.Fatalf("first WriteFile failed: %v", err)
	}
	want := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	if err := WriteFile(path, want); err != nil {
		t.Fatalf("second WriteFile failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestWriteFileMissingDir(t *testing.T) {
	if err := WriteFile(filepath.Join(t.TempDir(), "nope", "x.spe"), []byte{1}); err == nil {
		t.Fatalf("expected error writing into a missing directory")
	}
}

func TestExportHistory(t *testing.T) {
	dir := t.TempDir()
	rows := []model.Capture{{
		ID:        "c1",
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Kind:      "spectra",
		Path:      "DATA/01_irr_vnir_0064_0000.spe",
		Entrance:  "irr",
		ITVNIR:    64,
		Count:     1,
		Outcome:   "ok",
	}}

	jsonPath := filepath.Join(dir, "history.json")
	if err := WriteJSON(jsonPath, rows); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	b, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var decoded []model.Capture
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Path != rows[0].Path {
		t.Fatalf("unexpected json rows %+v", decoded)
	}

	csvPath := filepath.Join(dir, "history.csv")
	if err := WriteCSV(csvPath, rows); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(recs) != 2 || recs[1][0] != "c1" || recs[1][6] != "64" {
		t.Fatalf("unexpected csv records %v", recs)
	}
}
