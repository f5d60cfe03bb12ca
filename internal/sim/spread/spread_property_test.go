package spread

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// eventsFrom derives a deterministic event set from generated floats.
func eventsFrom(vals []float64) []Event[Scalar] {
	out := make([]Event[Scalar], 0, len(vals))
	for i, v := range vals {
		w := vals[(i+1)%len(vals)]
		out = append(out, Event[Scalar]{
			Pos:        Pos{X: v, Y: w},
			Timestamp:  epoch.Add(secs(v)),
			Magnitude:  Scalar(v - w),
			SpreadRate: float64(i % 4),
		})
	}
	return out
}

func TestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	coord := gen.Float64Range(-1000, 1000)
	rate := gen.Float64Range(0, 100)

	properties.Property("full magnitude at origin at emission", prop.ForAll(
		func(x, y, r, m float64) bool {
			e := Event[Scalar]{Pos: Pos{X: x, Y: y}, Timestamp: epoch, Magnitude: Scalar(m), SpreadRate: r}
			return EventInfluence(e, e.Pos, epoch) == Scalar(m)
		},
		coord, coord, rate, gen.Float64Range(-100, 100),
	))

	properties.Property("nothing away from origin at emission", prop.ForAll(
		func(x, y, dx, r float64) bool {
			e := Event[Scalar]{Pos: Pos{X: x, Y: y}, Timestamp: epoch, Magnitude: 1, SpreadRate: r}
			return EventInfluence(e, Pos{X: x + dx, Y: y}, epoch) == 0
		},
		coord, coord, gen.Float64Range(0.001, 100), rate,
	))

	properties.Property("reach is monotonic in time", prop.ForAll(
		func(px, py, r, t1, dt float64) bool {
			e := Event[Scalar]{Timestamp: epoch, Magnitude: 1, SpreadRate: r}
			pos := Pos{X: px, Y: py}
			first := epoch.Add(secs(t1))
			return !Reach(e, pos, first) || Reach(e, pos, first.Add(secs(dt)))
		},
		coord, coord, rate, gen.Float64Range(-100, 100), gen.Float64Range(0.000001, 100),
	))

	properties.Property("boundary instant reaches with full magnitude", prop.ForAll(
		func(px, py, r float64) bool {
			e := Event[Scalar]{Timestamp: epoch, Magnitude: 3, SpreadRate: r}
			pos := Pos{X: px, Y: py}
			ts, ok := ReachTime(e, pos)
			if !ok {
				return false
			}
			want := Distance(pos, e.Pos) / r
			if math.Abs(ts.Sub(epoch).Seconds()-want) > 1e-6 {
				return false
			}
			return EventInfluence(e, pos, ts) == 3 && EventInfluence(e, pos, ts.Add(-time.Nanosecond)) == 0
		},
		coord, coord, gen.Float64Range(0.01, 100),
	))

	properties.Property("total is baseline plus each contribution", prop.ForAll(
		func(vals []float64, base, px, py, qt float64) bool {
			if len(vals) == 0 {
				return true
			}
			f := NewField(Pos{X: 10, Y: 10}, Scalar(base))
			for _, e := range eventsFrom(vals) {
				f.Insert(e)
			}
			pos, q := Pos{X: px, Y: py}, epoch.Add(secs(qt))
			want := f.Baseline
			for _, e := range f.Events {
				want += EventInfluence(e, pos, q)
			}
			return TotalInfluence(f, pos, q) == want
		},
		gen.SliceOf(gen.Float64Range(0, 50)), gen.Float64Range(-10, 10), coord, coord, gen.Float64Range(0, 200),
	))

	properties.Property("advance twice at the same time is a no-op the second time", prop.ForAll(
		func(vals []float64, qt float64) bool {
			if len(vals) == 0 {
				return true
			}
			f := NewField(Pos{X: 10, Y: 10}, Scalar(0))
			for _, e := range eventsFrom(vals) {
				f.Insert(e)
			}
			q := epoch.Add(secs(qt))
			Advance(f, q)
			base, n := f.Baseline, len(f.Events)
			return len(Advance(f, q)) == 0 && f.Baseline == base && len(f.Events) == n
		},
		gen.SliceOf(gen.Float64Range(0, 50)), gen.Float64Range(0, 200),
	))

	properties.Property("advance preserves influence at the far corner", prop.ForAll(
		func(vals []float64, qt float64) bool {
			if len(vals) == 0 {
				return true
			}
			f := NewField(Pos{X: 10, Y: 10}, Scalar(0))
			for _, e := range eventsFrom(vals) {
				f.Insert(e)
			}
			q := epoch.Add(secs(qt))
			before := TotalInfluence(f, f.FarCorner(), q)
			retired := Advance(f, q)
			after := TotalInfluence(f, f.FarCorner(), q)
			for _, e := range f.Events {
				if Reach(e, f.FarCorner(), q) {
					return false
				}
			}
			return len(retired)+len(f.Events) == len(vals) && math.Abs(float64(before-after)) < 1e-6
		},
		gen.SliceOf(gen.Float64Range(0, 50)), gen.Float64Range(0, 200),
	))

	properties.TestingRun(t)
}
