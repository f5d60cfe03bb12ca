package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"eventspread.ai/internal/sim/world"
)

const defaultRotateLayout = "2006-01-02-15"

// WriterOptions tune segment rotation.
type WriterOptions struct {
	// RotateLayout is the time layout of a segment name; a new segment starts
	// whenever the formatted UTC time changes. Defaults to hourly.
	RotateLayout string
	// OnClose receives the path of every segment once it is complete.
	OnClose func(path string)
}

// JSONLZstdWriter appends one JSON document per line to zstd segments
// named <prefix>-<RotateLayout>.jsonl.zst.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	opts    WriterOptions

	mu     sync.Mutex
	curSeg string
	f      *os.File
	enc    *zstd.Encoder
	w      *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return NewJSONLZstdWriterWithOptions(baseDir, prefix, WriterOptions{})
}

func NewJSONLZstdWriterWithOptions(baseDir, prefix string, opts WriterOptions) *JSONLZstdWriter {
	if opts.RotateLayout == "" {
		opts.RotateLayout = defaultRotateLayout
	}
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		opts:    opts,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg := time.Now().UTC().Format(w.opts.RotateLayout)
	if seg != w.curSeg {
		if err := w.rotateLocked(seg); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(seg string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForSegment(seg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curSeg = seg
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.opts.OnClose != nil {
			w.opts.OnClose(w.pathForSegment(w.curSeg))
		}
	}
	w.w = nil
	w.curSeg = ""
	return err1
}

func (w *JSONLZstdWriter) pathForSegment(seg string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, seg))
}

// TickLogger writes one JSONL entry per tick (compressed): the events added
// that tick, the ids retired into the baseline, and the resulting digest.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(worldDir string) *TickLogger {
	return NewTickLoggerWithOptions(worldDir, WriterOptions{})
}

func NewTickLoggerWithOptions(worldDir string, opts WriterOptions) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(worldDir, "ticks"), "ticks", opts)}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                         { return l.w.Close() }
