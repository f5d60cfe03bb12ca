package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"eventspread.ai/internal/sim/spread"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`
	// Epoch is the sim time of tick 0 (RFC3339). Empty means the Unix epoch.
	Epoch string `yaml:"epoch"`

	Dimension spread.Pos         `yaml:"dimension"`
	Baseline  map[string]float64 `yaml:"baseline"`

	MaxEvents          int `yaml:"max_events"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	// ArchiveEveryTicks copies every snapshot at a multiple of this tick
	// into archives/. KeepSnapshots bounds the rolling snapshot dir.
	ArchiveEveryTicks int `yaml:"archive_every_ticks"`
	KeepSnapshots     int `yaml:"keep_snapshots"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

// RateLimits apply per websocket connection.
type RateLimits struct {
	AddEventPerSec float64 `yaml:"add_event_per_sec"`
	AddEventBurst  int     `yaml:"add_event_burst"`
	QueryPerSec    float64 `yaml:"query_per_sec"`
	QueryBurst     int     `yaml:"query_burst"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         5,
		Dimension:          spread.Pos{X: 100, Y: 100},
		Baseline:           map[string]float64{},
		MaxEvents:          100000,
		SnapshotEveryTicks: 3000,
		ArchiveEveryTicks:  432000,
		KeepSnapshots:      24,
		RateLimits: RateLimits{
			AddEventPerSec: 10,
			AddEventBurst:  20,
			QueryPerSec:    50,
			QueryBurst:     100,
		},
	}
}

// Load reads path over Defaults and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if t.Dimension.X < 0 || t.Dimension.Y < 0 {
		return fmt.Errorf("dimension must be non-negative")
	}
	if t.MaxEvents < 0 || t.SnapshotEveryTicks < 0 {
		return fmt.Errorf("max_events and snapshot_every_ticks must be >= 0")
	}
	if t.ArchiveEveryTicks < 0 || t.KeepSnapshots < 0 {
		return fmt.Errorf("archive_every_ticks and keep_snapshots must be >= 0")
	}
	if _, err := t.EpochTime(); err != nil {
		return err
	}
	if _, err := t.BaselineHeuristics(); err != nil {
		return err
	}
	return nil
}

func (t Tuning) EpochTime() (time.Time, error) {
	s := strings.TrimSpace(t.Epoch)
	if s == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch: %w", err)
	}
	return ts.UTC(), nil
}

func (t Tuning) BaselineHeuristics() (spread.Heuristics, error) {
	out := spread.Heuristics{}
	for name, v := range t.Baseline {
		h, ok := spread.ParseHeuristic(strings.ToUpper(strings.TrimSpace(name)))
		if !ok {
			return nil, fmt.Errorf("baseline: unknown heuristic %q", name)
		}
		out[h] += v
	}
	return out, nil
}

func (t Tuning) TickDuration() time.Duration {
	if t.TickRateHz <= 0 {
		return 0
	}
	return time.Second / time.Duration(t.TickRateHz)
}
