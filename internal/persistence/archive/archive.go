// Package archive keeps long-lived copies of selected snapshots and prunes
// the rolling snapshot directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"eventspread.ai/internal/persistence/snapshot"
)

type CheckpointMeta struct {
	WorldID       string             `json:"world_id"`
	Tick          uint64             `json:"tick"`
	Snapshot      string             `json:"snapshot"`
	CreatedAt     string             `json:"created_at"`
	LiveEvents    int                `json:"live_events"`
	EventsAdded   uint64             `json:"events_added"`
	EventsRetired uint64             `json:"events_retired"`
	Baseline      map[string]float64 `json:"baseline"`
}

// ArchiveCheckpoint copies a snapshot into `worldDir/archives/tick_<N>/` when
// its tick is a positive multiple of everyTicks. everyTicks <= 0 disables it.
func ArchiveCheckpoint(worldDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks int) (archivedPath string, archived bool, err error) {
	if everyTicks <= 0 || snap.Header.Tick == 0 || snap.Header.Tick%uint64(everyTicks) != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("tick_%012d", snap.Header.Tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := CheckpointMeta{
		WorldID:       snap.Header.WorldID,
		Tick:          snap.Header.Tick,
		Snapshot:      filepath.Base(dst),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		LiveEvents:    len(snap.Events),
		EventsAdded:   snap.Stats.EventsAdded,
		EventsRetired: snap.Stats.EventsRetired,
		Baseline:      snap.Baseline,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, true, nil
}

// PruneSnapshots deletes all but the newest keep snapshots in
// `worldDir/snapshots`. Archived copies are not touched.
func PruneSnapshots(worldDir string, keep int) (removed []string, err error) {
	if keep <= 0 {
		return nil, nil
	}
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snapFile struct {
		tick uint64
		name string
	}
	var files []snapFile
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, snapFile{tick: tick, name: name})
	}
	if len(files) <= keep {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].tick < files[j].tick })
	for _, f := range files[:len(files)-keep] {
		p := filepath.Join(dir, f.name)
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
