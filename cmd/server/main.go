package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"eventspread.ai/internal/persistence/archive"
	persistlog "eventspread.ai/internal/persistence/log"
	"eventspread.ai/internal/persistence/snapshot"
	"eventspread.ai/internal/sim/tuning"
	"eventspread.ai/internal/sim/world"
	"eventspread.ai/internal/transport/observer"
	"eventspread.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (ticks, events, snapshots)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	// Tuning is required for a fresh world; a resumed world takes its
	// field parameters from the snapshot.
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	w, err := newWorld(*worldID, tune)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d events=%d", filepath.Base(snapshotToLoad), w.CurrentTick(), len(snap.Events))
	}
	w.SetLogger(log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))

	mirror, err := buildMirrorRuntime(context.Background(), *dataDir, logger)
	if err != nil {
		logger.Fatalf("init s3 mirror: %v", err)
	}
	defer mirror.Close()

	logOpts := persistlog.WriterOptions{}
	if mirror.enabled {
		logOpts.RotateLayout = mirror.rotateLayout
		logOpts.OnClose = mirror.Enqueue
	}
	tickLog := persistlog.NewTickLoggerWithOptions(worldDir, logOpts)
	defer tickLog.Close()
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})

	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(w, idx, mirror))
	mux.HandleFunc("/v1/ws", ws.NewServer(w, tune.RateLimits, logger).Handler())

	if envBool("ES_ENABLE_OBSERVER_HTTP", defaultEnableObserverHTTP()) {
		observer.NewServer(w, idx, logger).Register(mux)
	} else {
		logger.Printf("observer endpoints disabled (ES_ENABLE_OBSERVER_HTTP=false)")
	}
	if envBool("ES_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	sw := &snapshotWriter{
		worldDir:     worldDir,
		archiveEvery: tune.ArchiveEveryTicks,
		keep:         tune.KeepSnapshots,
		idx:          idx,
		mirror:       mirror,
		logger:       logger,
	}
	g.Go(func() error {
		sw.run(ctx, snapCh)
		return nil
	})
	g.Go(func() error {
		logger.Printf("listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx2)
	})

	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}
	// Final snapshot so a restart resumes where this run stopped.
	snap := w.ExportSnapshot()
	sw.write(snap)
	logger.Printf("final snapshot tick=%d", snap.Header.Tick)
}

func newWorld(id string, tune tuning.Tuning) (*world.World, error) {
	epoch, err := tune.EpochTime()
	if err != nil {
		return nil, err
	}
	base, err := tune.BaselineHeuristics()
	if err != nil {
		return nil, err
	}
	return world.New(world.WorldConfig{
		ID:                 id,
		TickRateHz:         tune.TickRateHz,
		Epoch:              epoch,
		Dim:                tune.Dimension,
		Baseline:           base,
		MaxEvents:          tune.MaxEvents,
		SnapshotEveryTicks: tune.SnapshotEveryTicks,
	})
}

type snapshotWriter struct {
	worldDir     string
	archiveEvery int
	keep         int
	idx          runtimeIndex
	mirror       *mirrorRuntime
	logger       *log.Logger
}

func (s *snapshotWriter) run(ctx context.Context, ch <-chan snapshot.SnapshotV1) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			s.write(snap)
		}
	}
}

// write persists snap, indexes it, archives checkpoint ticks and prunes the
// rolling snapshot dir.
func (s *snapshotWriter) write(snap snapshot.SnapshotV1) {
	path := snapshotPath(s.worldDir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		s.logger.Printf("snapshot write: %v", err)
		return
	}
	s.mirror.Enqueue(path)
	if s.idx != nil {
		s.idx.RecordSnapshot(path, snap)
	}

	if archivedPath, ok, err := archive.ArchiveCheckpoint(s.worldDir, path, snap, s.archiveEvery); err != nil {
		s.logger.Printf("archive checkpoint: %v", err)
	} else if ok {
		s.logger.Printf("archived checkpoint tick=%d path=%s", snap.Header.Tick, archivedPath)
		s.mirror.Enqueue(archivedPath)
		s.mirror.EnqueueIfExists(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	}

	if removed, err := archive.PruneSnapshots(s.worldDir, s.keep); err != nil {
		s.logger.Printf("prune snapshots: %v", err)
	} else if len(removed) > 0 {
		s.logger.Printf("pruned %d snapshots", len(removed))
	}
}

func snapshotPath(worldDir string, tick uint64) string {
	return filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", tick))
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func metricsHandler(w *world.World, idx runtimeIndex, mirror *mirrorRuntime) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		respCh := make(chan world.FieldSummary, 1)
		select {
		case w.Summary() <- world.SummaryRequest{Resp: respCh}:
		case <-r.Context().Done():
			return
		}
		var sum world.FieldSummary
		select {
		case sum = <-respCh:
		case <-r.Context().Done():
			return
		case <-time.After(2 * time.Second):
			http.Error(rw, "world timeout", http.StatusGatewayTimeout)
			return
		}

		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		id := sum.WorldID

		fmt.Fprintf(rw, "# HELP eventspread_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE eventspread_world_tick gauge\n")
		fmt.Fprintf(rw, "eventspread_world_tick{world=%q} %d\n", id, sum.Tick)

		fmt.Fprintf(rw, "# HELP eventspread_live_events Events not yet retired into the baseline.\n")
		fmt.Fprintf(rw, "# TYPE eventspread_live_events gauge\n")
		fmt.Fprintf(rw, "eventspread_live_events{world=%q} %d\n", id, sum.LiveEvents)

		fmt.Fprintf(rw, "# HELP eventspread_events_total Events added and retired since world creation.\n")
		fmt.Fprintf(rw, "# TYPE eventspread_events_total counter\n")
		fmt.Fprintf(rw, "eventspread_events_total{world=%q,kind=%q} %d\n", id, "added", sum.Stats.EventsAdded)
		fmt.Fprintf(rw, "eventspread_events_total{world=%q,kind=%q} %d\n", id, "retired", sum.Stats.EventsRetired)

		fmt.Fprintf(rw, "# HELP eventspread_baseline Accumulated baseline per heuristic.\n")
		fmt.Fprintf(rw, "# TYPE eventspread_baseline gauge\n")
		for h, v := range sum.Baseline {
			fmt.Fprintf(rw, "eventspread_baseline{world=%q,heuristic=%q} %g\n", id, h.String(), v)
		}

		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "# HELP eventspread_index_queue_depth Pending index writes.\n")
			fmt.Fprintf(rw, "# TYPE eventspread_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "eventspread_index_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "# HELP eventspread_index_dropped_total Index writes dropped because the queue was full.\n")
			fmt.Fprintf(rw, "# TYPE eventspread_index_dropped_total counter\n")
			fmt.Fprintf(rw, "eventspread_index_dropped_total{kind=%q} %d\n", "tick", st.DropTickTotal)
			fmt.Fprintf(rw, "eventspread_index_dropped_total{kind=%q} %d\n", "snapshot", st.DropSnapshotTotal)
		}

		if ms, ok := mirror.Stats(); ok {
			fmt.Fprintf(rw, "# HELP eventspread_mirror_queue_depth Files waiting for upload.\n")
			fmt.Fprintf(rw, "# TYPE eventspread_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "eventspread_mirror_queue_depth %d\n", ms.QueueDepth)
			fmt.Fprintf(rw, "# HELP eventspread_mirror_uploads_total Upload outcomes.\n")
			fmt.Fprintf(rw, "# TYPE eventspread_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "eventspread_mirror_uploads_total{result=%q} %d\n", "success", ms.UploadSuccessTotal)
			fmt.Fprintf(rw, "eventspread_mirror_uploads_total{result=%q} %d\n", "fail", ms.UploadFailTotal)
			fmt.Fprintf(rw, "eventspread_mirror_uploads_total{result=%q} %d\n", "dropped", ms.DroppedTotal)
			fmt.Fprintf(rw, "# HELP eventspread_mirror_last_success_unix Unix time of the last successful upload.\n")
			fmt.Fprintf(rw, "# TYPE eventspread_mirror_last_success_unix gauge\n")
			fmt.Fprintf(rw, "eventspread_mirror_last_success_unix %d\n", ms.LastSuccessUnix)
		}
	}
}

func defaultEnableObserverHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
