package world

import (
	"time"

	"github.com/google/uuid"

	"eventspread.ai/internal/sim/spread"
)

type AddEventRequest struct {
	Pos spread.Pos
	// Timestamp of emission; zero means the tick that applies the request.
	Timestamp  time.Time
	Magnitude  spread.Heuristics
	SpreadRate float64
	SpreadType spread.SpreadType

	Resp chan AddEventResponse
}

type AddEventResponse struct {
	EventID   string
	Tick      uint64
	Timestamp time.Time

	// Code is a protocol error code when the event was refused.
	Code string
	Err  error
}

type QueryRequest struct {
	Pos spread.Pos
	// Timestamp to evaluate at; zero means Now.
	Timestamp time.Time
	Resp      chan QueryResponse
}

type QueryResponse struct {
	Tick       uint64
	Timestamp  time.Time
	Influence  spread.Heuristics
	Baseline   spread.Heuristics
	LiveEvents int
}

type SummaryRequest struct {
	Resp chan FieldSummary
}

type FieldSummary struct {
	WorldID    string            `json:"world_id"`
	Tick       uint64            `json:"tick"`
	Now        time.Time         `json:"now"`
	Dimension  spread.Pos        `json:"dimension"`
	FarCorner  spread.Pos        `json:"far_corner"`
	Baseline   spread.Heuristics `json:"baseline"`
	LiveEvents int               `json:"live_events"`
	Stats      Stats             `json:"stats"`
}

type Stats struct {
	EventsAdded   uint64 `json:"events_added"`
	EventsRetired uint64 `json:"events_retired"`
}

// RecordedEvent is an event as it appears in tick logs. Replaying the
// recorded events of each tick reproduces the field exactly.
type RecordedEvent struct {
	ID         string            `json:"id"`
	Pos        spread.Pos        `json:"pos"`
	Timestamp  time.Time         `json:"timestamp"`
	Magnitude  spread.Heuristics `json:"magnitude"`
	SpreadRate float64           `json:"spread_rate"`
	SpreadType spread.SpreadType `json:"spread_type,omitempty"`
}

func recordEvent(e spread.Event[spread.Heuristics]) RecordedEvent {
	return RecordedEvent{
		ID:         e.ID,
		Pos:        e.Pos,
		Timestamp:  e.Timestamp,
		Magnitude:  e.Magnitude,
		SpreadRate: e.SpreadRate,
		SpreadType: e.SpreadType,
	}
}

func (r RecordedEvent) event() (spread.Event[spread.Heuristics], error) {
	e, err := spread.NewEventOfType(r.Pos, r.Timestamp, r.Magnitude, r.SpreadRate, r.SpreadType)
	if err != nil {
		return e, err
	}
	e.ID = r.ID
	return e, nil
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	Time     time.Time         `json:"time"`
	Added    []RecordedEvent   `json:"added,omitempty"`
	Retired  []string          `json:"retired,omitempty"`
	Baseline spread.Heuristics `json:"baseline"`
	Digest   string            `json:"digest"`
}

func newEventID() string { return uuid.NewString() }
