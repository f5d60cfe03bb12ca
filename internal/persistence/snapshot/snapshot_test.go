package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "42.snap.zst")
	in := SnapshotV1{
		Header:        Header{Version: 1, WorldID: "field_1", Tick: 42},
		TickRate:      5,
		EpochUnixNano: 1000,
		Dimension:     [2]float64{10, 10},
		Baseline:      map[string]float64{"MORALITY": 50},
		Events: []EventV1{{
			ID:                "e1",
			Pos:               [2]float64{10, 10},
			TimestampUnixNano: 20_000_000_000,
			Magnitude:         map[string]float64{"MORALITY": 50},
			SpreadRate:        1,
		}},
		Stats: StatsV1{EventsAdded: 2, EventsRetired: 1},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h != in.Header {
		t.Fatalf("header mismatch: got %+v want %+v", h, in.Header)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if out.Header != in.Header || out.Baseline["MORALITY"] != 50 || len(out.Events) != 1 {
		t.Fatalf("snapshot mismatch: %+v", out)
	}
	if out.Events[0].ID != "e1" || out.Events[0].TimestampUnixNano != 20_000_000_000 {
		t.Fatalf("event mismatch: %+v", out.Events[0])
	}
	if out.Stats != in.Stats {
		t.Fatalf("stats mismatch: %+v", out.Stats)
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.snap.zst")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
