package world

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"eventspread.ai/internal/persistence/snapshot"
	"eventspread.ai/internal/sim/spread"
)

var ErrFieldFull = errors.New("field is at max events")

type WorldConfig struct {
	ID         string
	TickRateHz int
	// Epoch is the sim time of tick 0.
	Epoch    time.Time
	Dim      spread.Pos
	Baseline spread.Heuristics

	// MaxEvents caps live events; 0 means unlimited.
	MaxEvents          int
	SnapshotEveryTicks int
}

// World owns one influence field. The field is only touched from the world
// loop goroutine (or StepOnce when no loop runs), which makes the loop the
// single writer the spread package expects.
type World struct {
	cfg WorldConfig

	tick atomic.Uint64

	field *spread.Field[spread.Heuristics]
	stats Stats

	addEvent chan AddEventRequest
	query    chan QueryRequest
	summary  chan SummaryRequest
	stop     chan struct{}

	newID func() string

	// Optional (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger
	logger     *log.Logger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1
}

func New(cfg WorldConfig) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("tick rate must be > 0")
	}
	if cfg.Dim.X < 0 || cfg.Dim.Y < 0 {
		return nil, fmt.Errorf("dimension must be non-negative")
	}
	if cfg.MaxEvents < 0 {
		return nil, fmt.Errorf("max events must be >= 0")
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = time.Unix(0, 0).UTC()
	}
	return &World{
		cfg:      cfg,
		field:    spread.NewField(cfg.Dim, cfg.Baseline),
		addEvent: make(chan AddEventRequest, 1024),
		query:    make(chan QueryRequest, 1024),
		summary:  make(chan SummaryRequest, 16),
		stop:     make(chan struct{}),
		newID:    newEventID,
	}, nil
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetLogger(l *log.Logger)                       { w.logger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) AddEvent() chan<- AddEventRequest { return w.addEvent }
func (w *World) Query() chan<- QueryRequest       { return w.query }
func (w *World) Summary() chan<- SummaryRequest   { return w.summary }

// Stop ends Run. Safe to call once.
func (w *World) Stop() { close(w.stop) }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) TickDuration() time.Duration {
	return time.Second / time.Duration(w.cfg.TickRateHz)
}

// TimeAt is the sim time of a tick.
func (w *World) TimeAt(tick uint64) time.Time {
	return w.cfg.Epoch.Add(time.Duration(tick) * w.TickDuration())
}

// Now is the sim time of the tick about to be stepped.
func (w *World) Now() time.Time { return w.TimeAt(w.tick.Load()) }

func (w *World) FarCorner() spread.Pos { return w.field.FarCorner() }
