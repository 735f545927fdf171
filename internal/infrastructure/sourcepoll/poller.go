// Package sourcepoll implements the Source Poller: it wakes on a fixed
// interval, finds open tickets carrying the configured queue label, and
// hands them to the FIFO queue.
package sourcepoll

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/errs"
	"orchestrix/internal/ports"
)

const (
	defaultQueueLabel      = "queue"
	defaultProcessingLabel = "processing"
)

// Enqueuer is the subset of orchestrator.Queue the poller needs, kept as an
// interface so it can be faked in tests without pulling in sync.Mutex
// machinery.
type Enqueuer interface {
	Enqueue(id int64) error
}

// Poller wakes every interval and enqueues open tickets carrying the queue
// label. Overlapping polls are suppressed by a single-flight flag.
type Poller struct {
	tracker         ports.IssueTracker
	queue           Enqueuer
	interval        time.Duration
	queueLabel      string
	processingLabel string
	inFlight        atomic.Bool
}

// New builds a Poller waking every 60s by default.
func New(tracker ports.IssueTracker, queue Enqueuer, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Poller{
		tracker:         tracker,
		queue:           queue,
		interval:        interval,
		queueLabel:      defaultQueueLabel,
		processingLabel: defaultProcessingLabel,
	}
}

// Run ticks until ctx is cancelled, calling Tick on every wake.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle. A tick already in flight is skipped.
func (p *Poller) Tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer p.inFlight.Store(false)

	issues, err := p.tracker.Search(ctx, ports.IssueFilter{Labels: []string{p.queueLabel}})
	if err != nil {
		logging.Warn(ctx, "source poller search failed", slog.Any("err", errs.Loggable(err)))
		return
	}

	for _, issue := range issues {
		if err := p.claim(ctx, issue); err != nil {
			logging.Warn(ctx, "source poller claim failed",
				slog.Int64("issue", issue.Number), slog.Any("err", errs.Loggable(err)))
		}
	}
}

func (p *Poller) claim(ctx context.Context, issue ports.Issue) error {
	if err := p.tracker.RemoveLabel(ctx, issue.Number, p.queueLabel); err != nil {
		return err
	}
	if err := p.tracker.AddLabel(ctx, issue.Number, p.processingLabel); err != nil {
		return err
	}
	if err := p.queue.Enqueue(issue.Number); err != nil && !errors.Is(err, orchestrator.ErrAlreadyQueued) {
		return err
	}
	return nil
}
