package scenario

import (
	"eventspread.ai/internal/sim/spread"
)

type Result struct {
	Added      int
	Retired    []string
	Baseline   spread.Heuristics
	Observed   [][]spread.Heuristics
	Mismatches []Mismatch
}

func (r *Result) OK() bool { return len(r.Mismatches) == 0 }

// RunOffline plays s against a fresh field without any runtime around it.
func RunOffline(s *Scenario) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	epoch, _ := s.EpochTime()
	baseline, _ := Heuristics(s.Baseline)
	f := spread.NewField(s.Dimension, baseline)

	res := &Result{Observed: make([][]spread.Heuristics, len(s.Steps))}
	for i, st := range s.Steps {
		now := At(epoch, st.At)
		for _, a := range st.Add {
			mag, _ := Heuristics(a.Magnitude)
			typ, _ := ParseSpreadType(a.SpreadType)
			e, err := spread.NewEventOfType(a.Pos, At(epoch, a.Emission(st)), mag, a.SpreadRate, typ)
			if err != nil {
				return nil, err
			}
			e.ID = a.Name
			f.Insert(e)
			res.Added++
		}
		for j, q := range st.Query {
			got := spread.TotalInfluence(f, q.Pos, now)
			res.Observed[i] = append(res.Observed[i], got)
			res.Mismatches = append(res.Mismatches, Check(i, j, q, got)...)
		}
		if st.Advance {
			for _, e := range spread.Advance(f, now) {
				res.Retired = append(res.Retired, e.ID)
			}
		}
	}
	res.Baseline = f.Baseline
	return res, nil
}
