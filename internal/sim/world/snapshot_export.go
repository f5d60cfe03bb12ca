package world

import (
	"fmt"
	"time"

	"eventspread.ai/internal/persistence/snapshot"
	"eventspread.ai/internal/sim/spread"
)

const snapshotVersion = 1

// ExportSnapshot captures the field at the current tick boundary.
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshotVersion,
			WorldID: w.cfg.ID,
			Tick:    w.tick.Load(),
		},
		TickRate:           w.cfg.TickRateHz,
		EpochUnixNano:      w.cfg.Epoch.UnixNano(),
		Dimension:          [2]float64{w.field.Dim.X, w.field.Dim.Y},
		Baseline:           heuristicsToNames(w.field.Baseline),
		MaxEvents:          w.cfg.MaxEvents,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		Events:             make([]snapshot.EventV1, 0, len(w.field.Events)),
		Stats: snapshot.StatsV1{
			EventsAdded:   w.stats.EventsAdded,
			EventsRetired: w.stats.EventsRetired,
		},
	}
	for _, e := range w.field.Events {
		snap.Events = append(snap.Events, snapshot.EventV1{
			ID:                e.ID,
			Pos:               [2]float64{e.Pos.X, e.Pos.Y},
			TimestampUnixNano: e.Timestamp.UnixNano(),
			Magnitude:         heuristicsToNames(e.Magnitude),
			SpreadRate:        e.SpreadRate,
			SpreadType:        int(e.SpreadType),
		})
	}
	return snap
}

// ImportSnapshot replaces the field and tick with the snapshot's. Call before Run.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	if snap.TickRate > 0 {
		w.cfg.TickRateHz = snap.TickRate
	}
	w.cfg.Epoch = time.Unix(0, snap.EpochUnixNano).UTC()
	w.cfg.Dim = spread.Pos{X: snap.Dimension[0], Y: snap.Dimension[1]}
	w.cfg.MaxEvents = snap.MaxEvents
	if snap.SnapshotEveryTicks > 0 {
		w.cfg.SnapshotEveryTicks = snap.SnapshotEveryTicks
	}

	base, err := heuristicsFromNames(snap.Baseline)
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	field := spread.NewField(w.cfg.Dim, base)
	for _, ev := range snap.Events {
		mag, err := heuristicsFromNames(ev.Magnitude)
		if err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
		e, err := spread.NewEventOfType(
			spread.Pos{X: ev.Pos[0], Y: ev.Pos[1]},
			time.Unix(0, ev.TimestampUnixNano).UTC(),
			mag, ev.SpreadRate, spread.SpreadType(ev.SpreadType),
		)
		if err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
		e.ID = ev.ID
		field.Insert(e)
	}

	w.field = field
	w.cfg.Baseline = base
	w.stats = Stats{EventsAdded: snap.Stats.EventsAdded, EventsRetired: snap.Stats.EventsRetired}
	w.tick.Store(snap.Header.Tick)
	return nil
}

func heuristicsToNames(m spread.Heuristics) map[string]float64 {
	out := make(map[string]float64, len(m))
	for h, v := range m {
		out[h.String()] = v
	}
	return out
}

func heuristicsFromNames(m map[string]float64) (spread.Heuristics, error) {
	out := make(spread.Heuristics, len(m))
	for name, v := range m {
		h, ok := spread.ParseHeuristic(name)
		if !ok {
			return nil, fmt.Errorf("unknown heuristic %q", name)
		}
		out[h] = v
	}
	return out, nil
}
