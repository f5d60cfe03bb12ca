package main

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"eventspread.ai/internal/persistence/indexdb"
	"eventspread.ai/internal/sim/spread"
	"eventspread.ai/internal/sim/world"
)

func seedIndex(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	ts := time.Unix(100, 0).UTC()
	mag := spread.Heuristics{spread.HeuristicMorality: 2}
	_ = idx.WriteTick(world.TickLogEntry{
		Tick: 1,
		Time: ts,
		Added: []world.RecordedEvent{
			{ID: "a", Timestamp: ts, Magnitude: mag, SpreadRate: 1},
			{ID: "b", Timestamp: ts, Magnitude: mag, SpreadRate: 1},
		},
		Digest: "d1",
	})
	_ = idx.WriteTick(world.TickLogEntry{Tick: 2, Time: ts, Retired: []string{"a"}, Baseline: mag, Digest: "d2"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func collect(t *testing.T, db *sql.DB, q string, live bool) []any {
	t.Helper()
	var out []any
	if err := runQuery(db, q, 0, 10, live, func(v any) { out = append(out, v) }); err != nil {
		t.Fatalf("runQuery %s: %v", q, err)
	}
	return out
}

func TestRunQuery(t *testing.T) {
	db := seedIndex(t)

	if got := collect(t, db, "ticks", false); len(got) != 2 || got[1].(tickRow).Retired != 1 {
		t.Fatalf("ticks: %+v", got)
	}
	if got := collect(t, db, "events", false); len(got) != 2 {
		t.Fatalf("events: %+v", got)
	}
	live := collect(t, db, "events", true)
	if len(live) != 1 || live[0].(eventRow).ID != "b" {
		t.Fatalf("live events: %+v", live)
	}
	retired := collect(t, db, "retired", false)
	if len(retired) != 1 {
		t.Fatalf("retired: %+v", retired)
	}
	if r := retired[0].(eventRow); r.ID != "a" || r.RetiredTick == nil || *r.RetiredTick != 2 {
		t.Fatalf("retired row: %+v", r)
	}
	if err := runQuery(db, "agents", 0, 10, false, func(any) {}); err == nil {
		t.Fatalf("expected unknown query error")
	}
}
