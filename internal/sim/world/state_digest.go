package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"eventspread.ai/internal/sim/spread"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest hashes everything that affects future query results.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteF64(h, &tmp, w.field.Dim.X)
	digestWriteF64(h, &tmp, w.field.Dim.Y)
	digestWriteHeuristics(h, &tmp, w.field.Baseline)

	digestWriteU64(h, &tmp, uint64(len(w.field.Events)))
	for _, e := range w.field.Events {
		h.Write([]byte(e.ID))
		h.Write([]byte{0})
		digestWriteF64(h, &tmp, e.Pos.X)
		digestWriteF64(h, &tmp, e.Pos.Y)
		digestWriteI64(h, &tmp, e.Timestamp.UnixNano())
		digestWriteHeuristics(h, &tmp, e.Magnitude)
		digestWriteF64(h, &tmp, e.SpreadRate)
		digestWriteU64(h, &tmp, uint64(e.SpreadType))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

// Zero entries are skipped so that {} and {MORALITY: 0} hash the same.
func digestWriteHeuristics(h hashWriter, tmp *[8]byte, m spread.Heuristics) {
	keys := make([]int, 0, len(m))
	for k, v := range m {
		if v != 0 {
			keys = append(keys, int(k))
		}
	}
	sort.Ints(keys)
	digestWriteU64(h, tmp, uint64(len(keys)))
	for _, k := range keys {
		digestWriteI64(h, tmp, int64(k))
		digestWriteF64(h, tmp, m[spread.Heuristic(k)])
	}
}
