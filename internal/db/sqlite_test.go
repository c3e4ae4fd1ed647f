package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"hypstar-handler/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "state", "history.sqlite"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSaveAndListCaptures(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rows := []model.Capture{
		{ID: "a", StartedAt: base, Kind: "picture", Path: "DATA/01_pic.jpg", Entrance: "pic", Count: 1, Bytes: 4096, Outcome: "ok", InstrumentSerial: 220241},
		{ID: "b", StartedAt: base.Add(time.Minute), Duration: 1500 * time.Millisecond, Kind: "spectra", Path: "DATA/01_rad_both_0000_0000.spe",
			Entrance: "rad", Radiometer: "both", ObservedITVNIR: 128, ObservedITSWIR: 256, Count: 1, Spectra: 2, Bytes: 4700, Outcome: "ok"},
		{ID: "c", StartedAt: base.Add(2 * time.Minute), Kind: "picture", Outcome: "no-packets", Error: "camera captured zero packets"},
	}
	for i := range rows {
		if err := d.SaveCapture(ctx, &rows[i]); err != nil {
			t.Fatalf("SaveCapture %s failed: %v", rows[i].ID, err)
		}
	}

	got, err := d.ListCaptures(ctx, 0)
	if err != nil {
		t.Fatalf("ListCaptures failed: %v", err)
	}
	if len(got) != 3 || got[0].ID != "c" || got[2].ID != "a" {
		t.Fatalf("expected newest first, got %+v", got)
	}
	b := got[1]
	if b.Duration != 1500*time.Millisecond || b.ObservedITSWIR != 256 || !b.StartedAt.Equal(rows[1].StartedAt) {
		t.Fatalf("row b did not round trip: %+v", b)
	}
	if got[2].InstrumentSerial != 220241 || got[0].Error == "" {
		t.Fatalf("unexpected rows %+v", got)
	}

	limited, err := d.ListCaptures(ctx, 1)
	if err != nil || len(limited) != 1 || limited[0].ID != "c" {
		t.Fatalf("expected one newest row, got %+v (%v)", limited, err)
	}
}

func TestSaveCaptureReplacesSameID(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	c := model.Capture{ID: "x", StartedAt: time.Now(), Kind: "spectra", Outcome: "capture"}
	if err := d.SaveCapture(ctx, &c); err != nil {
		t.Fatalf("SaveCapture failed: %v", err)
	}
	c.Outcome = "ok"
	if err := d.SaveCapture(ctx, &c); err != nil {
		t.Fatalf("SaveCapture failed: %v", err)
	}
	got, _ := d.ListCaptures(ctx, 0)
	if len(got) != 1 || got[0].Outcome != "ok" {
		t.Fatalf("expected a single replaced row, got %+v", got)
	}
	if err := d.SaveCapture(ctx, &model.Capture{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestStatsJSON(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	now := time.Now()
	for i, outcome := range []string{"ok", "ok", "empty-result"} {
		c := model.Capture{ID: string(rune('a' + i)), StartedAt: now.Add(time.Duration(i) * time.Second), Kind: "spectra", Bytes: 100, Outcome: outcome}
		if err := d.SaveCapture(ctx, &c); err != nil {
			t.Fatalf("SaveCapture failed: %v", err)
		}
	}
	b, err := d.StatsJSON(ctx)
	if err != nil {
		t.Fatalf("StatsJSON failed: %v", err)
	}
	var st Stats
	if err := json.Unmarshal(b, &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.CaptureCount != 3 || st.ByKind["spectra"]["ok"] != 2 || st.Bytes != 300 || st.Last == nil || st.Last.ID != "c" {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.sqlite")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := d.SaveCapture(context.Background(), &model.Capture{ID: "keep", StartedAt: time.Now(), Kind: "picture", Outcome: "ok"}); err != nil {
		t.Fatalf("SaveCapture failed: %v", err)
	}
	d.Close()

	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer d.Close()
	got, err := d.ListCaptures(context.Background(), 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected persisted row, got %+v (%v)", got, err)
	}
}
