package ws

import (
	"fmt"
	"strings"
	"time"

	"eventspread.ai/internal/protocol"
	"eventspread.ai/internal/sim/spread"
)

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp: %w", err)
	}
	return t.UTC(), nil
}

func formatTimestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// parseMagnitude merges the map and list forms of an ADD_EVENT magnitude.
func parseMagnitude(m map[string]float64, list []protocol.HeuristicValue) (spread.Heuristics, error) {
	values := make([]spread.HeuristicValue, 0, len(m)+len(list))
	add := func(name string, v float64) error {
		h, ok := spread.ParseHeuristic(name)
		if !ok {
			return fmt.Errorf("unknown heuristic %q", name)
		}
		values = append(values, spread.HeuristicValue{Heuristic: h, Value: v})
		return nil
	}
	for name, v := range m {
		if err := add(name, v); err != nil {
			return nil, err
		}
	}
	for _, hv := range list {
		if err := add(hv.Heuristic, hv.Value); err != nil {
			return nil, err
		}
	}
	return spread.ListToMap(values), nil
}

func parseSpreadType(s string) (spread.SpreadType, error) {
	switch s {
	case "", "RADIAL":
		return spread.SpreadRadial, nil
	case "INSTANT_GLOBAL":
		return spread.SpreadInstantGlobal, nil
	default:
		return 0, fmt.Errorf("unknown spread_type %q", s)
	}
}

// heuristicValues lists the requested heuristics, or every heuristic present
// in m when none were requested. Requested heuristics absent from m read as 0.
func heuristicValues(m spread.Heuristics, requested []string) ([]protocol.HeuristicValue, error) {
	if len(requested) == 0 {
		out := make([]protocol.HeuristicValue, 0, len(m))
		for _, hv := range spread.MapToList(m) {
			out = append(out, protocol.HeuristicValue{Heuristic: hv.Heuristic.String(), Value: hv.Value})
		}
		return out, nil
	}
	out := make([]protocol.HeuristicValue, 0, len(requested))
	for _, name := range requested {
		h, ok := spread.ParseHeuristic(name)
		if !ok {
			return nil, fmt.Errorf("unknown heuristic %q", name)
		}
		out = append(out, protocol.HeuristicValue{Heuristic: name, Value: m.Get(h)})
	}
	return out, nil
}
