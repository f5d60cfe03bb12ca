// Package scenario loads scripted event/query timelines and runs them
// against an in-memory field.
package scenario

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"eventspread.ai/internal/sim/spread"
)

type Scenario struct {
	Name      string             `yaml:"name"`
	Epoch     string             `yaml:"epoch"`
	Dimension spread.Pos         `yaml:"dimension"`
	Baseline  map[string]float64 `yaml:"baseline"`
	Steps     []Step             `yaml:"steps"`
}

// Step happens At seconds after the epoch. Adds are applied first, then
// queries are answered, then the field is advanced when Advance is set.
type Step struct {
	At      float64 `yaml:"at"`
	Add     []Add   `yaml:"add"`
	Query   []Query `yaml:"query"`
	Advance bool    `yaml:"advance"`
}

type Add struct {
	Name       string             `yaml:"name"`
	Pos        spread.Pos         `yaml:"pos"`
	Magnitude  map[string]float64 `yaml:"magnitude"`
	SpreadRate float64            `yaml:"spread_rate"`
	SpreadType string             `yaml:"spread_type"`
	// Emitted overrides the step time as the emission timestamp.
	Emitted *float64 `yaml:"emitted"`
}

type Query struct {
	Pos    spread.Pos         `yaml:"pos"`
	Expect map[string]float64 `yaml:"expect"`
}

func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) Validate() error {
	if s.Dimension.X < 0 || s.Dimension.Y < 0 {
		return fmt.Errorf("dimension must be non-negative")
	}
	if _, err := s.EpochTime(); err != nil {
		return err
	}
	if _, err := Heuristics(s.Baseline); err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	prev := math.Inf(-1)
	for i, st := range s.Steps {
		if st.At < prev {
			return fmt.Errorf("step %d: at=%v goes back in time", i, st.At)
		}
		prev = st.At
		for j, a := range st.Add {
			if _, err := Heuristics(a.Magnitude); err != nil {
				return fmt.Errorf("step %d add %d: %w", i, j, err)
			}
			if _, err := ParseSpreadType(a.SpreadType); err != nil {
				return fmt.Errorf("step %d add %d: %w", i, j, err)
			}
		}
		for j, q := range st.Query {
			if _, err := Heuristics(q.Expect); err != nil {
				return fmt.Errorf("step %d query %d: %w", i, j, err)
			}
		}
	}
	return nil
}

func (s *Scenario) EpochTime() (time.Time, error) {
	if strings.TrimSpace(s.Epoch) == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.Epoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch: %w", err)
	}
	return t.UTC(), nil
}

// At converts an offset in seconds to an absolute time.
func At(epoch time.Time, secs float64) time.Time {
	return epoch.Add(time.Duration(math.Round(secs * float64(time.Second))))
}

// Heuristics converts a name->value map into a magnitude.
func Heuristics(m map[string]float64) (spread.Heuristics, error) {
	out := spread.Heuristics{}
	for name, v := range m {
		h, ok := spread.ParseHeuristic(strings.ToUpper(name))
		if !ok {
			return nil, fmt.Errorf("unknown heuristic %q", name)
		}
		out[h] += v
	}
	return out, nil
}

func ParseSpreadType(s string) (spread.SpreadType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "radial":
		return spread.SpreadRadial, nil
	case "instant_global":
		return spread.SpreadInstantGlobal, nil
	default:
		return 0, fmt.Errorf("unknown spread type %q", s)
	}
}

// Emission returns the emission offset of a, defaulting to the step time.
func (a Add) Emission(step Step) float64 {
	if a.Emitted != nil {
		return *a.Emitted
	}
	return step.At
}

// Mismatch is a query whose observed value differs from its expectation.
type Mismatch struct {
	Step      int
	Query     int
	Heuristic spread.Heuristic
	Want      float64
	Got       float64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("step %d query %d %s: got %v want %v", m.Step, m.Query, m.Heuristic, m.Got, m.Want)
}

// Check compares got against the expectation of q. Heuristics absent from
// Expect are not checked.
func Check(step, query int, q Query, got spread.Heuristics) []Mismatch {
	want, _ := Heuristics(q.Expect)
	keys := make([]spread.Heuristic, 0, len(want))
	for h := range want {
		keys = append(keys, h)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var out []Mismatch
	for _, h := range keys {
		if math.Abs(got.Get(h)-want[h]) > 1e-9 {
			out = append(out, Mismatch{Step: step, Query: query, Heuristic: h, Want: want[h], Got: got.Get(h)})
		}
	}
	return out
}
