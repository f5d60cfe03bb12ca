package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"eventspread.ai/internal/persistence/snapshot"
)

func writeSnap(t *testing.T, worldDir, name string, body []byte) string {
	t.Helper()
	p := filepath.Join(worldDir, "snapshots", name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestArchiveCheckpoint_CopiesMultipleOfInterval(t *testing.T) {
	worldDir := filepath.Join(t.TempDir(), "worlds", "w1")
	want := []byte("dummy")
	src := writeSnap(t, worldDir, "6000.snap.zst", want)

	snap := snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: 1, WorldID: "w1", Tick: 6000},
		Baseline: map[string]float64{"MORALITY": 12.5},
		Events:   []snapshot.EventV1{{ID: "e1"}},
		Stats:    snapshot.StatsV1{EventsAdded: 4, EventsRetired: 3},
	}

	archivedPath, ok, err := ArchiveCheckpoint(worldDir, src, snap, 3000)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok {
		t.Fatalf("expected archived=true")
	}
	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", got, want)
	}

	b, err := os.ReadFile(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	if err != nil {
		t.Fatalf("read meta.json: %v", err)
	}
	var meta CheckpointMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.Tick != 6000 || meta.LiveEvents != 1 || meta.EventsRetired != 3 || meta.Baseline["MORALITY"] != 12.5 {
		t.Fatalf("meta: %+v", meta)
	}
}

func TestArchiveCheckpoint_SkipsOtherTicks(t *testing.T) {
	worldDir := t.TempDir()
	src := writeSnap(t, worldDir, "100.snap.zst", []byte("x"))
	for _, tc := range []struct {
		tick  uint64
		every int
	}{{100, 0}, {100, 3000}, {0, 3000}} {
		snap := snapshot.SnapshotV1{Header: snapshot.Header{Version: 1, Tick: tc.tick}}
		if _, ok, err := ArchiveCheckpoint(worldDir, src, snap, tc.every); err != nil || ok {
			t.Fatalf("tick=%d every=%d: ok=%v err=%v", tc.tick, tc.every, ok, err)
		}
	}
}

func TestPruneSnapshots(t *testing.T) {
	worldDir := t.TempDir()
	for _, name := range []string{"10.snap.zst", "200.snap.zst", "30.snap.zst", "notes.txt"} {
		writeSnap(t, worldDir, name, []byte("x"))
	}
	removed, err := PruneSnapshots(worldDir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 1 || filepath.Base(removed[0]) != "10.snap.zst" {
		t.Fatalf("removed: %v", removed)
	}
	ents, _ := os.ReadDir(filepath.Join(worldDir, "snapshots"))
	if len(ents) != 3 {
		t.Fatalf("remaining entries: %d", len(ents))
	}
	if removed, err := PruneSnapshots(t.TempDir(), 2); err != nil || removed != nil {
		t.Fatalf("missing dir: removed=%v err=%v", removed, err)
	}
}
