package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "eventspread.ai/internal/persistence/log"
	"eventspread.ai/internal/persistence/snapshot"
	"eventspread.ai/internal/sim/spread"
	"eventspread.ai/internal/sim/tuning"
	"eventspread.ai/internal/sim/world"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (empty: start from tick 0 using -tuning)")
		ticksDir   = flag.String("ticks", "", "dir containing ticks-*.jsonl.zst")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning used when replaying from tick 0")
		worldID    = flag.String("world", "world_1", "world id when replaying from tick 0")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" && *ticksDir == "" {
		fmt.Fprintln(os.Stderr, "need -snapshot and/or -ticks")
		os.Exit(2)
	}

	w, err := openWorld(*snapPath, *tuningPath, *worldID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *ticksDir == "" {
		return
	}

	startTick := w.CurrentTick()
	verifyFrom := *fromTick
	if verifyFrom == 0 {
		verifyFrom = startTick
	}

	files, err := persistlog.ListTickFiles(*ticksDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick files found in", *ticksDir)
		os.Exit(1)
	}

	r := &replayer{w: w, startTick: startTick, verifyFrom: verifyFrom, toTick: *toTick}
	for _, path := range files {
		if err := r.replayFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if r.done {
			break
		}
	}
	q := w.QueryNow(spread.Pos{}, w.Now())
	fmt.Printf("replay ok: checked=%d ticks (from tick=%d) live=%d baseline=%v\n", r.checked, startTick, q.LiveEvents, q.Baseline)
}

func openWorld(snapPath, tuningPath, worldID string) (*world.World, error) {
	if snapPath != "" {
		snap, err := snapshot.ReadSnapshot(snapPath)
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		fmt.Printf("snapshot v%d world=%s tick=%d dim=%vx%v events=%d baseline=%v\n",
			snap.Header.Version, snap.Header.WorldID, snap.Header.Tick,
			snap.Dimension[0], snap.Dimension[1], len(snap.Events), snap.Baseline)
		w, err := world.New(world.WorldConfig{ID: snap.Header.WorldID, TickRateHz: snap.TickRate})
		if err != nil {
			return nil, fmt.Errorf("world: %w", err)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			return nil, fmt.Errorf("import snapshot: %w", err)
		}
		return w, nil
	}

	tune, err := tuning.Load(tuningPath)
	if err != nil {
		return nil, fmt.Errorf("load tuning: %w", err)
	}
	cfg, err := worldConfig(worldID, tune)
	if err != nil {
		return nil, err
	}
	return world.New(cfg)
}

func worldConfig(id string, tune tuning.Tuning) (world.WorldConfig, error) {
	epoch, err := tune.EpochTime()
	if err != nil {
		return world.WorldConfig{}, err
	}
	base, err := tune.BaselineHeuristics()
	if err != nil {
		return world.WorldConfig{}, err
	}
	return world.WorldConfig{
		ID:                 id,
		TickRateHz:         tune.TickRateHz,
		Epoch:              epoch,
		Dim:                tune.Dimension,
		Baseline:           base,
		MaxEvents:          tune.MaxEvents,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
	}, nil
}

type replayer struct {
	w          *world.World
	startTick  uint64
	verifyFrom uint64
	toTick     uint64

	checked uint64
	done    bool
	err     error
}

func (r *replayer) replayFile(path string) error {
	err := persistlog.ReadTicks(path, func(entry world.TickLogEntry) bool {
		r.err = r.apply(entry)
		return r.err == nil && !r.done
	})
	if r.err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), r.err)
	}
	return err
}

func (r *replayer) apply(entry world.TickLogEntry) error {
	if entry.Tick < r.startTick {
		return nil
	}
	if r.toTick != 0 && entry.Tick > r.toTick {
		r.done = true
		return nil
	}
	if entry.Tick != r.w.CurrentTick() {
		return fmt.Errorf("tick mismatch: want=%d got=%d", r.w.CurrentTick(), entry.Tick)
	}

	tick, gotDigest := r.w.StepOnce(entry.Added)
	if tick != entry.Tick {
		return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tick, entry.Tick)
	}
	if tick < r.verifyFrom {
		return nil
	}
	r.checked++
	if gotDigest != entry.Digest {
		return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
	}
	if got := r.w.QueryNow(spread.Pos{}, r.w.Now()).Baseline; !sameHeuristics(got, entry.Baseline) {
		return fmt.Errorf("baseline mismatch at tick %d: got=%v want=%v", tick, got, entry.Baseline)
	}
	return nil
}

// sameHeuristics treats missing and zero categories as equal.
func sameHeuristics(a, b spread.Heuristics) bool {
	for h, v := range a {
		if b.Get(h) != v {
			return false
		}
	}
	for h, v := range b {
		if a.Get(h) != v {
			return false
		}
	}
	return true
}
