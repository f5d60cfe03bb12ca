package spread

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrNegativeSpreadRate = errors.New("spread rate must be finite and non-negative")

// SpreadType selects how an event's effect covers space.
type SpreadType int

const (
	// SpreadRadial grows a disc from the origin at SpreadRate distance units per second.
	SpreadRadial SpreadType = iota
	// SpreadInstantGlobal covers every position from the moment of emission.
	SpreadInstantGlobal
)

func (s SpreadType) String() string {
	switch s {
	case SpreadRadial:
		return "RADIAL"
	case SpreadInstantGlobal:
		return "INSTANT_GLOBAL"
	default:
		return "UNKNOWN"
	}
}

// Event is a point-in-time occurrence. Treat it as immutable once built.
type Event[M Magnitude[M]] struct {
	ID         string
	Pos        Pos
	Timestamp  time.Time
	Magnitude  M
	SpreadRate float64
	SpreadType SpreadType
}

// NewEvent builds a radial event. The magnitude is copied.
func NewEvent[M Magnitude[M]](pos Pos, ts time.Time, mag M, rate float64) (Event[M], error) {
	return NewEventOfType(pos, ts, mag, rate, SpreadRadial)
}

func NewEventOfType[M Magnitude[M]](pos Pos, ts time.Time, mag M, rate float64, typ SpreadType) (Event[M], error) {
	if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return Event[M]{}, fmt.Errorf("%w: got %v", ErrNegativeSpreadRate, rate)
	}
	if typ != SpreadRadial && typ != SpreadInstantGlobal {
		return Event[M]{}, fmt.Errorf("unknown spread type %d", int(typ))
	}
	var zero M
	return Event[M]{
		Pos:        pos,
		Timestamp:  ts,
		Magnitude:  zero.Add(mag),
		SpreadRate: rate,
		SpreadType: typ,
	}, nil
}

// Elapsed is the signed number of seconds between the event and t.
func (e Event[M]) Elapsed(t time.Time) float64 {
	return t.Sub(e.Timestamp).Seconds()
}

// Reach reports whether the event's effect has arrived at pos by t.
// It is false before emission and, once true, stays true for every later t.
func Reach[M Magnitude[M]](e Event[M], pos Pos, t time.Time) bool {
	elapsed := e.Elapsed(t)
	if elapsed < 0 {
		return false
	}
	if e.SpreadType == SpreadInstantGlobal {
		return true
	}
	return elapsed*e.SpreadRate >= Distance(pos, e.Pos)
}

// ReachTime is the earliest nanosecond at which Reach(e, pos, ·) holds.
// ok is false when the event never reaches pos.
func ReachTime[M Magnitude[M]](e Event[M], pos Pos) (at time.Time, ok bool) {
	d := Distance(pos, e.Pos)
	switch {
	case e.SpreadType == SpreadInstantGlobal:
		return e.Timestamp, true
	case d == 0:
		return e.Timestamp, true
	case e.SpreadRate == 0:
		return time.Time{}, false
	}
	secs := d / e.SpreadRate
	if secs*float64(time.Second) >= math.MaxInt64 {
		return time.Time{}, false
	}
	at = e.Timestamp.Add(time.Duration(math.Ceil(secs * float64(time.Second))))
	// Float rounding can leave the candidate a nanosecond short in either direction.
	for !Reach(e, pos, at) {
		at = at.Add(time.Nanosecond)
	}
	for prev := at.Add(-time.Nanosecond); Reach(e, pos, prev); prev = at.Add(-time.Nanosecond) {
		at = prev
	}
	return at, true
}

// EventInfluence is the event's full magnitude once it reaches pos, zero otherwise.
func EventInfluence[M Magnitude[M]](e Event[M], pos Pos, t time.Time) M {
	if Reach(e, pos, t) {
		return e.Magnitude
	}
	var zero M
	return zero
}
