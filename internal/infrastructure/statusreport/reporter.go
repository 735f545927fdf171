// Package statusreport keeps a master ticket's status table current: a
// periodic full regeneration, an immediate regeneration on major events,
// and a debounced per-sub-ticket marker update.
package statusreport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/domain/composer"
	"orchestrix/internal/errs"
	"orchestrix/internal/ports"
)

// RowSource supplies the current rows the reporter renders; the caller
// (the Orchestrator, in practice) owns task state.
type RowSource func(ctx context.Context) ([]composer.TaskRow, error)

// Reporter regenerates a master ticket's status table on a timer and on
// demand, and debounces per-sub-ticket marker updates.
type Reporter struct {
	tracker      ports.IssueTracker
	notifier     ports.Notifier
	masterTicket int64
	rows         RowSource
	interval     time.Duration
	debounce     time.Duration

	mu       sync.Mutex
	pending  map[int64]map[string]string
	timers   map[int64]*time.Timer
	updating bool
}

// New builds a Reporter for masterTicket. notifier may be nil.
func New(tracker ports.IssueTracker, notifier ports.Notifier, masterTicket int64, rows RowSource, interval time.Duration, debounce time.Duration) *Reporter {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Reporter{
		tracker:      tracker,
		notifier:     notifier,
		masterTicket: masterTicket,
		rows:         rows,
		interval:     interval,
		debounce:     debounce,
		pending:      map[int64]map[string]string{},
		timers:       map[int64]*time.Timer{},
	}
}

// RunPeriodic regenerates the status table every interval until ctx is
// cancelled.
func (r *Reporter) RunPeriodic(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Regenerate(ctx); err != nil {
				logging.Warn(ctx, "periodic status table regeneration failed", slog.Any("err", errs.Loggable(err)))
			}
		}
	}
}

// Regenerate rewrites only the master ticket's status-table subregion.
// Concurrent calls are serialized; a call that finds one already running is
// a no-op.
func (r *Reporter) Regenerate(ctx context.Context) error {
	r.mu.Lock()
	if r.updating {
		r.mu.Unlock()
		return nil
	}
	r.updating = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.updating = false
		r.mu.Unlock()
	}()

	rows, err := r.rows(ctx)
	if err != nil {
		return err
	}

	issue, err := r.tracker.Get(ctx, r.masterTicket)
	if err != nil {
		return err
	}

	table := composer.RenderStatusTable(rows)
	updated, err := composer.ReplaceStatusTable(issue.Body, table)
	if err != nil {
		return err
	}

	return r.tracker.UpdateBody(ctx, r.masterTicket, updated)
}

// OnEvent triggers an immediate regeneration and a notifier call.
func (r *Reporter) OnEvent(ctx context.Context, kind ports.EventKind, title string, body string) {
	if err := r.Regenerate(ctx); err != nil {
		logging.Warn(ctx, "event-triggered status table regeneration failed",
			slog.String("kind", string(kind)), slog.Any("err", errs.Loggable(err)))
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, ports.Notification{Kind: kind, Ticket: r.masterTicket, Title: title, Body: body})
	}
}

// UpdateTaskProgress merges fields into subTicket's pending marker update
// and (re)starts its 500ms debounce timer. Calls within the window merge;
// on tail expiry the sub-ticket body is rewritten once.
func (r *Reporter) UpdateTaskProgress(ctx context.Context, subTicket int64, fields map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := r.pending[subTicket]
	if merged == nil {
		merged = map[string]string{}
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.pending[subTicket] = merged

	if timer, ok := r.timers[subTicket]; ok {
		timer.Stop()
	}
	r.timers[subTicket] = time.AfterFunc(r.debounce, func() {
		r.flushTaskProgress(ctx, subTicket)
	})
}

func (r *Reporter) flushTaskProgress(ctx context.Context, subTicket int64) {
	r.mu.Lock()
	fields := r.pending[subTicket]
	delete(r.pending, subTicket)
	delete(r.timers, subTicket)
	r.mu.Unlock()

	if len(fields) == 0 {
		return
	}

	issue, err := r.tracker.Get(ctx, subTicket)
	if err != nil {
		logging.Warn(ctx, "flush task progress: get sub-ticket failed", slog.Int64("sub_ticket", subTicket), slog.Any("err", errs.Loggable(err)))
		return
	}

	body := issue.Body
	for key, value := range fields {
		body = composer.SetMarker(body, key, value)
	}

	if err := r.tracker.UpdateBody(ctx, subTicket, body); err != nil {
		logging.Warn(ctx, "flush task progress: update sub-ticket body failed", slog.Int64("sub_ticket", subTicket), slog.Any("err", errs.Loggable(err)))
	}
}
