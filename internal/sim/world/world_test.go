package world

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"eventspread.ai/internal/persistence/snapshot"
	"eventspread.ai/internal/protocol"
	"eventspread.ai/internal/sim/spread"
)

var epoch = time.Unix(0, 0).UTC()

func newTestWorld(t *testing.T, cfg WorldConfig) *World {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "test"
	}
	if cfg.TickRateHz == 0 {
		cfg.TickRateHz = 1
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = epoch
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seq := 0
	w.newID = func() string {
		seq++
		return fmt.Sprintf("E%d", seq)
	}
	return w
}

type memTickLogger struct{ entries []TickLogEntry }

func (m *memTickLogger) WriteTick(e TickLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func morality(v float64) spread.Heuristics { return spread.Heuristics{spread.HeuristicMorality: v} }

func referenceEvents() []RecordedEvent {
	return []RecordedEvent{
		{ID: "early", Pos: spread.Pos{X: 10, Y: 10}, Timestamp: epoch.Add(10 * time.Second), Magnitude: morality(50), SpreadRate: 1},
		{ID: "late", Pos: spread.Pos{X: 10, Y: 10}, Timestamp: epoch.Add(20 * time.Second), Magnitude: morality(50), SpreadRate: 1},
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(WorldConfig{TickRateHz: 0}); err == nil {
		t.Fatalf("expected tick rate error")
	}
	if _, err := New(WorldConfig{TickRateHz: 1, Dim: spread.Pos{X: -1}}); err == nil {
		t.Fatalf("expected dimension error")
	}
}

func TestStepOnce_ReferenceScenario(t *testing.T) {
	w := newTestWorld(t, WorldConfig{Dim: spread.Pos{X: 10, Y: 10}})
	logs := &memTickLogger{}
	w.SetTickLogger(logs)

	w.StepOnce(referenceEvents())

	q := w.QueryNow(spread.Pos{X: 10, Y: 10}, epoch.Add(10*time.Second))
	if got := q.Influence.Get(spread.HeuristicMorality); got != 50 {
		t.Fatalf("influence at origin t=10: got %v want 50", got)
	}
	q = w.QueryNow(spread.Pos{}, epoch.Add(10*time.Second))
	if got := q.Influence.Get(spread.HeuristicMorality); got != 0 {
		t.Fatalf("influence at (0,0) t=10: got %v want 0", got)
	}

	// Tick 24 is 24s: the early disc (radius 14) is still short of (20,20).
	for w.CurrentTick() < 25 {
		w.StepOnce(nil)
	}
	if w.field.Baseline.Get(spread.HeuristicMorality) != 0 || len(w.field.Events) != 2 {
		t.Fatalf("retired too early: baseline=%v live=%d", w.field.Baseline, len(w.field.Events))
	}
	// Tick 25 is 25s: radius 15 >= 14.14.
	w.StepOnce(nil)
	if got := w.field.Baseline.Get(spread.HeuristicMorality); got != 50 {
		t.Fatalf("baseline after retirement: got %v want 50", got)
	}
	if len(w.field.Events) != 1 || w.field.Events[0].ID != "late" {
		t.Fatalf("live events: %+v", w.field.Events)
	}

	last := logs.entries[len(logs.entries)-1]
	if last.Tick != 25 || len(last.Retired) != 1 || last.Retired[0] != "early" {
		t.Fatalf("tick log: %+v", last)
	}
	if len(logs.entries[0].Added) != 2 {
		t.Fatalf("first tick log should record both events: %+v", logs.entries[0])
	}
	if w.stats.EventsAdded != 2 || w.stats.EventsRetired != 1 {
		t.Fatalf("stats: %+v", w.stats)
	}
}

func TestStepOnce_IsDeterministic(t *testing.T) {
	a := newTestWorld(t, WorldConfig{Dim: spread.Pos{X: 10, Y: 10}})
	b := newTestWorld(t, WorldConfig{Dim: spread.Pos{X: 10, Y: 10}})
	for i := 0; i < 40; i++ {
		var added []RecordedEvent
		if i == 0 {
			added = referenceEvents()
		}
		ta, da := a.StepOnce(added)
		tb, db := b.StepOnce(added)
		if ta != tb || da != db {
			t.Fatalf("tick %d diverged: %s vs %s", i, da, db)
		}
	}
}

func TestApplyAdd_StampsAndRejects(t *testing.T) {
	w := newTestWorld(t, WorldConfig{Dim: spread.Pos{X: 10, Y: 10}, MaxEvents: 1})
	w.StepOnce(nil)
	w.StepOnce(nil)

	resp := make(chan AddEventResponse, 3)
	adds := []AddEventRequest{
		{Pos: spread.Pos{X: 1, Y: 1}, Magnitude: morality(1), SpreadRate: -1, Resp: resp},
		{Pos: spread.Pos{X: 1, Y: 1}, Magnitude: morality(1), SpreadRate: 0.5, Resp: resp},
		{Pos: spread.Pos{X: 2, Y: 2}, Magnitude: morality(1), SpreadRate: 0.5, Resp: resp},
	}
	w.step(adds, nil)

	bad := <-resp
	if !errors.Is(bad.Err, spread.ErrNegativeSpreadRate) || bad.Code != protocol.ErrBadRequest {
		t.Fatalf("negative rate: %+v", bad)
	}
	ok := <-resp
	if ok.Err != nil || ok.EventID != "E1" || !ok.Timestamp.Equal(epoch.Add(2*time.Second)) {
		t.Fatalf("accepted add: %+v", ok)
	}
	full := <-resp
	if !errors.Is(full.Err, ErrFieldFull) || full.Code != protocol.ErrFieldFull {
		t.Fatalf("full field: %+v", full)
	}
}

func TestRun_AddAndQuery(t *testing.T) {
	w := newTestWorld(t, WorldConfig{TickRateHz: 50, Dim: spread.Pos{X: 10, Y: 10}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	addResp := make(chan AddEventResponse, 1)
	w.AddEvent() <- AddEventRequest{
		Pos:        spread.Pos{X: 3, Y: 4},
		Timestamp:  epoch,
		Magnitude:  morality(7),
		SpreadRate: 1,
		Resp:       addResp,
	}
	select {
	case r := <-addResp:
		if r.Err != nil || r.EventID == "" {
			t.Fatalf("add: %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for add response")
	}

	qResp := make(chan QueryResponse, 1)
	w.Query() <- QueryRequest{Pos: spread.Pos{}, Timestamp: epoch.Add(5 * time.Second), Resp: qResp}
	select {
	case r := <-qResp:
		if got := r.Influence.Get(spread.HeuristicMorality); got != 7 {
			t.Fatalf("influence: got %v want 7", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for query response")
	}

	sResp := make(chan FieldSummary, 1)
	w.Summary() <- SummaryRequest{Resp: sResp}
	s := <-sResp
	if s.WorldID != "test" || s.FarCorner != (spread.Pos{X: 20, Y: 20}) {
		t.Fatalf("summary: %+v", s)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := newTestWorld(t, WorldConfig{Dim: spread.Pos{X: 10, Y: 10}, Baseline: morality(3)})
	a.StepOnce(referenceEvents())
	for i := 0; i < 30; i++ {
		a.StepOnce(nil)
	}
	snap := a.ExportSnapshot()
	if snap.Header.Tick != a.CurrentTick() || len(snap.Events) != 1 || snap.Baseline["MORALITY"] != 53 {
		t.Fatalf("snapshot: %+v", snap)
	}

	b := newTestWorld(t, WorldConfig{Dim: spread.Pos{X: 1, Y: 1}})
	if err := b.ImportSnapshot(snap); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	if b.FarCorner() != (spread.Pos{X: 20, Y: 20}) || b.CurrentTick() != a.CurrentTick() {
		t.Fatalf("imported config: far=%v tick=%d", b.FarCorner(), b.CurrentTick())
	}
	for i := 0; i < 5; i++ {
		_, da := a.StepOnce(nil)
		_, db := b.StepOnce(nil)
		if da != db {
			t.Fatalf("digest mismatch after import at step %d", i)
		}
	}

	snap.Header.Version = 9
	if err := b.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestSnapshotSink(t *testing.T) {
	w := newTestWorld(t, WorldConfig{Dim: spread.Pos{X: 1, Y: 1}, SnapshotEveryTicks: 3})
	sink := make(chan snapshot.SnapshotV1, 4)
	w.SetSnapshotSink(sink)
	for i := 0; i < 7; i++ {
		w.StepOnce(nil)
	}
	if len(sink) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(sink))
	}
	if s := <-sink; s.Header.Tick != 3 {
		t.Fatalf("first snapshot tick: %d", s.Header.Tick)
	}
}
