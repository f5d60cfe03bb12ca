package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	fromTick := fs.Uint64("from_tick", 0, "ticks/retired: first tick (inclusive)")
	limit := fs.Int("limit", 20, "result limit")
	live := fs.Bool("live", false, "events: only events not yet retired")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	if err := runQuery(db, q, *fromTick, *limit, *live, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type snapshotRow struct {
	Tick     uint64          `json:"tick"`
	Path     string          `json:"path"`
	Events   int             `json:"events"`
	Baseline json.RawMessage `json:"baseline"`
}

type tickRow struct {
	Tick     uint64          `json:"tick"`
	Time     string          `json:"time"`
	Digest   string          `json:"digest"`
	Added    int             `json:"added"`
	Retired  int             `json:"retired"`
	Baseline json.RawMessage `json:"baseline"`
}

type eventRow struct {
	ID          string          `json:"id"`
	AddedTick   uint64          `json:"added_tick"`
	Pos         [2]float64      `json:"pos"`
	Timestamp   string          `json:"timestamp"`
	Magnitude   json.RawMessage `json:"magnitude"`
	SpreadRate  float64         `json:"spread_rate"`
	SpreadType  int             `json:"spread_type"`
	RetiredTick *int64          `json:"retired_tick,omitempty"`
}

// runQuery streams the rows of one named query into emit.
func runQuery(db *sql.DB, q string, fromTick uint64, limit int, live bool, emit func(any)) error {
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,events,baseline_json FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r snapshotRow
			var base string
			if err := rows.Scan(&r.Tick, &r.Path, &r.Events, &base); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Baseline = json.RawMessage(base)
			emit(r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,time,digest,added,retired,baseline_json FROM ticks WHERE tick>=? ORDER BY tick LIMIT ?`, fromTick, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r tickRow
			var base string
			if err := rows.Scan(&r.Tick, &r.Time, &r.Digest, &r.Added, &r.Retired, &base); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Baseline = json.RawMessage(base)
			emit(r)
		}
		return rows.Err()

	case "events", "retired":
		stmt := `SELECT id,added_tick,x,y,timestamp,magnitude_json,spread_rate,spread_type,retired_tick FROM events`
		var qargs []any
		switch {
		case q == "retired":
			stmt += ` WHERE retired_tick IS NOT NULL AND retired_tick>=? ORDER BY retired_tick, id`
			qargs = append(qargs, fromTick)
		case live:
			stmt += ` WHERE retired_tick IS NULL ORDER BY added_tick, id`
		default:
			stmt += ` ORDER BY added_tick DESC, id`
		}
		stmt += ` LIMIT ?`
		qargs = append(qargs, limit)
		rows, err := db.Query(stmt, qargs...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r eventRow
			var mag string
			var retired sql.NullInt64
			if err := rows.Scan(&r.ID, &r.AddedTick, &r.Pos[0], &r.Pos[1], &r.Timestamp, &mag, &r.SpreadRate, &r.SpreadType, &retired); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Magnitude = json.RawMessage(mag)
			if retired.Valid {
				v := retired.Int64
				r.RetiredTick = &v
			}
			emit(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (want snapshots|ticks|events|retired)", q)
	}
}
