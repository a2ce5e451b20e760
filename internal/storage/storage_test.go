package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swaps.json")
	snap, err := NewSnapshot(path)
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}

	in := map[string]string{"a": "1", "b": "2"}
	if err := snap.Save(in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out := map[string]string{}
	if err := snap.Load(&out); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if out["a"] != "1" || out["b"] != "2" {
		t.Errorf("Load() = %v", out)
	}
}

func TestSnapshotLoadMissingFile(t *testing.T) {
	snap, err := NewSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}

	out := map[string]string{"keep": "me"}
	if err := snap.Load(&out); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if out["keep"] != "me" {
		t.Error("Load() of a missing file must leave the value untouched")
	}
}

func TestSnapshotLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshot(filepath.Join(dir, "swaps.json"))
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := snap.Save(map[string]int{"n": i}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestEventLogAppendAndQuery(t *testing.T) {
	log, err := NewEventLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewEventLog() error = %v", err)
	}
	defer log.Close()

	for _, state := range []string{"created", "waiting_deposit", "leg1_funded"} {
		if err := log.Append("swap-1", state, ""); err != nil {
			t.Fatalf("Append(%s) error = %v", state, err)
		}
	}
	if err := log.Append("swap-2", "created", "other swap"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	events, err := log.EventsFor("swap-1")
	if err != nil {
		t.Fatalf("EventsFor() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].State != "created" || events[2].State != "leg1_funded" {
		t.Errorf("events out of order: %+v", events)
	}

	counts, err := log.CountByState()
	if err != nil {
		t.Fatalf("CountByState() error = %v", err)
	}
	if counts["created"] != 2 {
		t.Errorf("counts[created] = %d, want 2", counts["created"])
	}
}
