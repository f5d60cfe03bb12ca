// Package worldtest drives a world through its exported single-step API so
// integration tests can live outside the world package.
package worldtest

import (
	"fmt"
	"testing"
	"time"

	"eventspread.ai/internal/sim/spread"
	"eventspread.ai/internal/sim/world"
)

// Harness queues events for the next tick and records every tick's digest.
type Harness struct {
	T *testing.T
	W *world.World

	pending []world.RecordedEvent
	nextID  int
	Digests map[uint64]string
}

func NewHarness(t *testing.T, cfg world.WorldConfig) *Harness {
	t.Helper()
	w, err := world.New(cfg)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w)
}

// NewHarnessWithWorld wraps an existing world, e.g. one resumed from a snapshot.
func NewHarnessWithWorld(t *testing.T, w *world.World) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}
	return &Harness{T: t, W: w, Digests: map[uint64]string{}}
}

// Add queues an event emitted `after` past the current tick's time and
// returns its id.
func (h *Harness) Add(pos spread.Pos, after time.Duration, morality, rate float64) string {
	h.nextID++
	id := fmt.Sprintf("ev-%04d", h.nextID)
	h.pending = append(h.pending, world.RecordedEvent{
		ID:         id,
		Pos:        pos,
		Timestamp:  h.W.Now().Add(after),
		Magnitude:  spread.Heuristics{spread.HeuristicMorality: morality},
		SpreadRate: rate,
	})
	return id
}

// Step runs one tick with the queued events.
func (h *Harness) Step() string {
	h.T.Helper()
	tick, digest := h.W.StepOnce(h.pending)
	h.pending = nil
	h.Digests[tick] = digest
	return digest
}

// StepUntil steps until CurrentTick reaches tick.
func (h *Harness) StepUntil(tick uint64) {
	h.T.Helper()
	for h.W.CurrentTick() < tick {
		h.Step()
	}
}

// Morality is the total morality influence at pos evaluated at the current time.
func (h *Harness) Morality(pos spread.Pos) float64 {
	return h.W.QueryNow(pos, time.Time{}).Influence.Get(spread.HeuristicMorality)
}

func (h *Harness) Baseline() float64 {
	return h.W.QueryNow(spread.Pos{}, time.Time{}).Baseline.Get(spread.HeuristicMorality)
}

func (h *Harness) Live() int {
	return h.W.QueryNow(spread.Pos{}, time.Time{}).LiveEvents
}
