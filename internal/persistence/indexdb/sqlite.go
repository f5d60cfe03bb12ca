package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"eventspread.ai/internal/persistence/snapshot"
	"eventspread.ai/internal/sim/world"
)

var ErrNotFound = errors.New("not found")

// SQLiteIndex is a read model of the tick log. It never feeds back into the
// simulation; writes are queued and dropped when the writer falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropSnapshot atomic.Uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	DropTickTotal     uint64 `json:"drop_tick_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick     uint64
	Path     string
	Events   int
	Baseline string
}

// EventRow is the indexed history of one event.
type EventRow struct {
	ID          string
	AddedTick   uint64
	X, Y        float64
	Timestamp   time.Time
	Magnitude   string
	SpreadRate  float64
	SpreadType  int
	RetiredTick *uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			time TEXT NOT NULL,
			digest TEXT NOT NULL,
			added INTEGER NOT NULL,
			retired INTEGER NOT NULL,
			baseline_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			added_tick INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			timestamp TEXT NOT NULL,
			magnitude_json TEXT NOT NULL,
			spread_rate REAL NOT NULL,
			spread_type INTEGER NOT NULL,
			retired_tick INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_retired_tick ON events(retired_tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			events INTEGER NOT NULL,
			baseline_json TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// JSONL tick logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	b, _ := json.Marshal(snap.Baseline)
	r := snapshotRow{
		Tick:     snap.Header.Tick,
		Path:     path,
		Events:   len(snap.Events),
		Baseline: string(b),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// LookupEvent reads an event row. Rows queued but not yet committed are not visible.
func (s *SQLiteIndex) LookupEvent(ctx context.Context, id string) (EventRow, error) {
	var (
		row     EventRow
		added   int64
		ts      string
		retired sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id,added_tick,x,y,timestamp,magnitude_json,spread_rate,spread_type,retired_tick FROM events WHERE id=?`, id,
	).Scan(&row.ID, &added, &row.X, &row.Y, &ts, &row.Magnitude, &row.SpreadRate, &row.SpreadType, &retired)
	if errors.Is(err, sql.ErrNoRows) {
		return row, ErrNotFound
	}
	if err != nil {
		return row, err
	}
	row.AddedTick = uint64(added)
	if row.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return row, fmt.Errorf("event %s timestamp: %w", id, err)
	}
	if retired.Valid {
		v := uint64(retired.Int64)
		row.RetiredTick = &v
	}
	return row, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,time,digest,added,retired,baseline_json) VALUES(?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(id,added_tick,x,y,timestamp,magnitude_json,spread_rate,spread_type,retired_tick) VALUES(?,?,?,?,?,?,?,?,NULL)`)
	retireEvent, _ := s.db.Prepare(`UPDATE events SET retired_tick=? WHERE id=?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,events,baseline_json) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertEvent, retireEvent, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			base, _ := json.Marshal(t.Baseline)
			if !exec(insertTick, int64(t.Tick), t.Time.UTC().Format(time.RFC3339Nano), t.Digest, len(t.Added), len(t.Retired), string(base)) {
				continue
			}
			ok := true
			for _, e := range t.Added {
				mag, _ := json.Marshal(e.Magnitude)
				if ok = exec(insertEvent, e.ID, int64(t.Tick), e.Pos.X, e.Pos.Y,
					e.Timestamp.UTC().Format(time.RFC3339Nano), string(mag), e.SpreadRate, int(e.SpreadType)); !ok {
					break
				}
			}
			if !ok {
				continue
			}
			for _, id := range t.Retired {
				if !exec(retireEvent, int64(t.Tick), id) {
					break
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Events, sn.Baseline)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
