package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"eventspread.ai/internal/persistence/indexdb"
	"eventspread.ai/internal/sim/spread"
	"eventspread.ai/internal/sim/world"
)

// EventIndex is the read side of the sqlite index. May be nil.
type EventIndex interface {
	LookupEvent(ctx context.Context, id string) (indexdb.EventRow, error)
	Stats() indexdb.Stats
}

// Server exposes read-only JSON views of a running world to loopback clients.
type Server struct {
	world *world.World
	index EventIndex
	log   *log.Logger
}

func NewServer(w *world.World, idx EventIndex, logger *log.Logger) *Server {
	return &Server{world: w, index: idx, log: logger}
}

// FieldHandler serves GET /v1/field.
func (s *Server) FieldHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allow(rw, r) {
			return
		}
		respCh := make(chan world.FieldSummary, 1)
		select {
		case s.world.Summary() <- world.SummaryRequest{Resp: respCh}:
		default:
			http.Error(rw, "world busy", http.StatusServiceUnavailable)
			return
		}
		select {
		case sum := <-respCh:
			writeJSON(rw, http.StatusOK, sum)
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
			http.Error(rw, "world timeout", http.StatusGatewayTimeout)
		}
	}
}

// EventHandler serves GET /v1/events/{id} from the index.
func (s *Server) EventHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allow(rw, r) {
			return
		}
		if s.index == nil {
			http.Error(rw, "index disabled", http.StatusNotFound)
			return
		}
		id := strings.TrimSpace(r.PathValue("id"))
		if id == "" {
			http.Error(rw, "missing id", http.StatusBadRequest)
			return
		}
		row, err := s.index.LookupEvent(r.Context(), id)
		if errors.Is(err, indexdb.ErrNotFound) {
			http.Error(rw, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			if s.log != nil {
				s.log.Printf("observer: lookup %s: %v", id, err)
			}
			http.Error(rw, "internal error", http.StatusInternalServerError)
			return
		}
		view := eventView{
			ID:          row.ID,
			AddedTick:   row.AddedTick,
			Pos:         [2]float64{row.X, row.Y},
			Timestamp:   row.Timestamp.UTC().Format(time.RFC3339Nano),
			Magnitude:   json.RawMessage(row.Magnitude),
			SpreadRate:  row.SpreadRate,
			SpreadType:  row.SpreadType,
			RetiredTick: row.RetiredTick,
		}
		if at, ok := s.farCornerAt(row); ok {
			view.ReachesFarCornerAt = at.UTC().Format(time.RFC3339Nano)
		}
		writeJSON(rw, http.StatusOK, view)
	}
}

// IndexStatsHandler serves GET /v1/index/stats.
func (s *Server) IndexStatsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allow(rw, r) {
			return
		}
		var st indexdb.Stats
		if s.index != nil {
			st = s.index.Stats()
		}
		writeJSON(rw, http.StatusOK, st)
	}
}

// Register mounts the observer routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/field", s.FieldHandler())
	mux.HandleFunc("GET /v1/events/{id}", s.EventHandler())
	mux.HandleFunc("GET /v1/index/stats", s.IndexStatsHandler())
}

// ReachesFarCornerAt is empty when the event never gets there.
type eventView struct {
	ID                 string          `json:"id"`
	AddedTick          uint64          `json:"added_tick"`
	Pos                [2]float64      `json:"pos"`
	Timestamp          string          `json:"timestamp"`
	Magnitude          json.RawMessage `json:"magnitude"`
	SpreadRate         float64         `json:"spread_rate"`
	SpreadType         int             `json:"spread_type"`
	RetiredTick        *uint64         `json:"retired_tick,omitempty"`
	ReachesFarCornerAt string          `json:"reaches_far_corner_at,omitempty"`
}

// farCornerAt is when the indexed event reaches the world's far corner, the
// earliest time it can be folded into the baseline.
func (s *Server) farCornerAt(row indexdb.EventRow) (time.Time, bool) {
	pos := spread.Pos{X: row.X, Y: row.Y}
	e, err := spread.NewEventOfType(pos, row.Timestamp, spread.Scalar(0), row.SpreadRate, spread.SpreadType(row.SpreadType))
	if err != nil {
		return time.Time{}, false
	}
	return spread.ReachTime(e, s.world.FarCorner())
}

func (s *Server) allow(rw http.ResponseWriter, r *http.Request) bool {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
