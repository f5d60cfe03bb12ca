package world

import (
	"context"
	"time"

	"eventspread.ai/internal/protocol"
	"eventspread.ai/internal/sim/spread"
)

func (w *World) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.TickDuration())
	defer ticker.Stop()

	var pendingAdds []AddEventRequest

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.addEvent:
			pendingAdds = append(pendingAdds, req)
		case req := <-w.query:
			w.handleQuery(req)
		case req := <-w.summary:
			w.handleSummary(req)
		case <-ticker.C:
			w.step(pendingAdds, nil)
			pendingAdds = pendingAdds[:0]
		}
	}
}

// StepOnce advances exactly one tick with already-identified events.
// Used by replay and tests; must not run concurrently with Run.
func (w *World) StepOnce(added []RecordedEvent) (tick uint64, digest string) {
	return w.step(nil, added)
}

// QueryNow answers a query synchronously. Same threading rules as StepOnce.
func (w *World) QueryNow(pos spread.Pos, t time.Time) QueryResponse {
	if t.IsZero() {
		t = w.Now()
	}
	return QueryResponse{
		Tick:       w.tick.Load(),
		Timestamp:  t,
		Influence:  spread.TotalInfluence(w.field, pos, t),
		Baseline:   w.field.Baseline,
		LiveEvents: len(w.field.Events),
	}
}

func (w *World) handleQuery(req QueryRequest) {
	resp := w.QueryNow(req.Pos, req.Timestamp)
	if req.Resp != nil {
		req.Resp <- resp
	}
}

func (w *World) handleSummary(req SummaryRequest) {
	if req.Resp == nil {
		return
	}
	req.Resp <- FieldSummary{
		WorldID:    w.cfg.ID,
		Tick:       w.tick.Load(),
		Now:        w.Now(),
		Dimension:  w.field.Dim,
		FarCorner:  w.field.FarCorner(),
		Baseline:   w.field.Baseline,
		LiveEvents: len(w.field.Events),
		Stats:      w.stats,
	}
}

func (w *World) step(adds []AddEventRequest, recorded []RecordedEvent) (uint64, string) {
	nowTick := w.tick.Load()
	now := w.TimeAt(nowTick)

	entry := TickLogEntry{Tick: nowTick, Time: now}

	for _, r := range recorded {
		e, err := r.event()
		if err != nil {
			w.logf("tick=%d skip recorded event %s: %v", nowTick, r.ID, err)
			continue
		}
		w.insert(e)
		entry.Added = append(entry.Added, r)
	}
	for _, req := range adds {
		resp := w.applyAdd(req, nowTick, now)
		if resp.Err == nil {
			entry.Added = append(entry.Added, recordEvent(w.field.Events[len(w.field.Events)-1]))
		}
		if req.Resp != nil {
			req.Resp <- resp
		}
	}

	retired := spread.Advance(w.field, now)
	for _, e := range retired {
		entry.Retired = append(entry.Retired, e.ID)
	}
	w.stats.EventsRetired += uint64(len(retired))
	if len(retired) > 0 {
		w.logf("tick=%d retired=%d live=%d baseline=%v", nowTick, len(retired), len(w.field.Events), w.field.Baseline)
	}

	entry.Baseline = w.field.Baseline
	entry.Digest = w.stateDigest(nowTick)

	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.logf("tick=%d write tick log: %v", nowTick, err)
		}
	}

	w.tick.Store(nowTick + 1)

	if w.snapshotSink != nil && w.cfg.SnapshotEveryTicks > 0 && (nowTick+1)%uint64(w.cfg.SnapshotEveryTicks) == 0 {
		snap := w.ExportSnapshot()
		select {
		case w.snapshotSink <- snap:
		default:
			w.logf("tick=%d snapshot sink full; skipped", nowTick)
		}
	}
	return nowTick, entry.Digest
}

func (w *World) applyAdd(req AddEventRequest, nowTick uint64, now time.Time) AddEventResponse {
	if w.cfg.MaxEvents > 0 && len(w.field.Events) >= w.cfg.MaxEvents {
		return AddEventResponse{Tick: nowTick, Code: protocol.ErrFieldFull, Err: ErrFieldFull}
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = now
	}
	e, err := spread.NewEventOfType(req.Pos, ts, req.Magnitude, req.SpreadRate, req.SpreadType)
	if err != nil {
		return AddEventResponse{Tick: nowTick, Code: protocol.ErrBadRequest, Err: err}
	}
	e.ID = w.newID()
	w.insert(e)
	return AddEventResponse{EventID: e.ID, Tick: nowTick, Timestamp: ts}
}

func (w *World) insert(e spread.Event[spread.Heuristics]) {
	w.field.Insert(e)
	w.stats.EventsAdded++
}

func (w *World) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
