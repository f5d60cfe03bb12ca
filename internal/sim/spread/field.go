package spread

import "time"

// Field is the aggregate for one region of interest: an ambient baseline plus
// the events that have not yet been folded into it.
type Field[M Magnitude[M]] struct {
	// Dim is the extent of the region. Retirement tests against 2*Dim.
	Dim      Pos
	Baseline M
	Events   []Event[M]
}

func NewField[M Magnitude[M]](dim Pos, baseline M) *Field[M] {
	var zero M
	return &Field[M]{Dim: dim, Baseline: zero.Add(baseline)}
}

// Insert appends e. Callers own synchronization.
func (f *Field[M]) Insert(e Event[M]) {
	f.Events = append(f.Events, e)
}

// FarCorner is the point an event must reach before it is folded into the baseline.
func (f *Field[M]) FarCorner() Pos {
	return Pos{X: 2 * f.Dim.X, Y: 2 * f.Dim.Y}
}

// TotalInfluence is the baseline plus every event's contribution at (pos, t).
// It does not modify f.
func TotalInfluence[M Magnitude[M]](f *Field[M], pos Pos, t time.Time) M {
	var total M
	total = total.Add(f.Baseline)
	for _, e := range f.Events {
		total = total.Add(EventInfluence(e, pos, t))
	}
	return total
}

// Advance removes events that are done and adds their contribution at the far
// corner into the baseline. It returns the removed events in insertion order.
//
// An event is done when it reaches the far corner at t, when its magnitude is
// zero, or when it is a radial event with rate 0 whose origin is not the far
// corner (it can never get there). Only the first kind carries a non-zero
// contribution into the baseline.
func Advance[M Magnitude[M]](f *Field[M], t time.Time) []Event[M] {
	far := f.FarCorner()
	var retired []Event[M]
	kept := f.Events[:0]
	for _, e := range f.Events {
		if !retires(e, far, t) {
			kept = append(kept, e)
			continue
		}
		f.Baseline = f.Baseline.Add(EventInfluence(e, far, t))
		retired = append(retired, e)
	}
	clear(f.Events[len(kept):])
	f.Events = kept
	return retired
}

func retires[M Magnitude[M]](e Event[M], far Pos, t time.Time) bool {
	switch {
	case e.Magnitude.IsZero():
		return true
	case Reach(e, far, t):
		return true
	case e.SpreadType == SpreadRadial && e.SpreadRate == 0:
		return Distance(far, e.Pos) > 0
	}
	return false
}
