package spread

import (
	"fmt"
	"sort"
)

// Magnitude is the value an event carries and a field accumulates.
// The zero value of M must be the additive identity.
type Magnitude[M any] interface {
	Add(M) M
	IsZero() bool
}

// Scalar is the uncategorized magnitude.
type Scalar float64

func (s Scalar) Add(o Scalar) Scalar { return s + o }
func (s Scalar) IsZero() bool        { return s == 0 }

// Heuristic names a category of influence.
type Heuristic int

const (
	HeuristicUndefined Heuristic = iota
	HeuristicMorality
)

var heuristicNames = map[Heuristic]string{
	HeuristicUndefined: "UNDEFINED",
	HeuristicMorality:  "MORALITY",
}

func (h Heuristic) String() string {
	if s, ok := heuristicNames[h]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseHeuristic maps a wire name back to a Heuristic.
func ParseHeuristic(s string) (Heuristic, bool) {
	for h, name := range heuristicNames {
		if name == s {
			return h, true
		}
	}
	return HeuristicUndefined, false
}

func (h Heuristic) MarshalText() ([]byte, error) {
	if _, ok := heuristicNames[h]; !ok {
		return nil, fmt.Errorf("unknown heuristic %d", int(h))
	}
	return []byte(h.String()), nil
}

func (h *Heuristic) UnmarshalText(b []byte) error {
	v, ok := ParseHeuristic(string(b))
	if !ok {
		return fmt.Errorf("unknown heuristic %q", string(b))
	}
	*h = v
	return nil
}

// Heuristics is the categorized magnitude. A nil map is a valid zero value.
// Values are never mutated in place; Add always returns a fresh map.
type Heuristics map[Heuristic]float64

// Get returns the value for h, or 0 when h is absent.
func (m Heuristics) Get(h Heuristic) float64 { return m[h] }

func (m Heuristics) Add(o Heuristics) Heuristics {
	out := make(Heuristics, len(m)+len(o))
	for h, v := range m {
		out[h] = v
	}
	for h, v := range o {
		out[h] += v
	}
	return out
}

func (m Heuristics) IsZero() bool {
	for _, v := range m {
		if v != 0 {
			return false
		}
	}
	return true
}

// HeuristicValue is one category/value pair as it travels on the wire.
type HeuristicValue struct {
	Heuristic Heuristic `json:"heuristic"`
	Value     float64   `json:"value"`
}

// ListToMap merges pairs into a Heuristics map. Repeated heuristics are summed.
func ListToMap(l []HeuristicValue) Heuristics {
	m := Heuristics{}
	for _, hv := range l {
		m[hv.Heuristic] += hv.Value
	}
	return m
}

// MapToList flattens m ordered by heuristic.
func MapToList(m Heuristics) []HeuristicValue {
	out := make([]HeuristicValue, 0, len(m))
	for h, v := range m {
		out = append(out, HeuristicValue{Heuristic: h, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Heuristic < out[j].Heuristic })
	return out
}
