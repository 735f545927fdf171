package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollTimeout is returned when a poll loop exhausts its total timeout
// without observing the condition it was waiting for.
var ErrPollTimeout = errors.New("poll timeout")

// LabelChecker reports the current labels on a ticket. Both the Task Poller
// and the Approval Monitor consume it so they can share one polling loop.
type LabelChecker func(ctx context.Context, ticket int64) ([]string, error)

// PollForLabel polls checker every interval until ticket's labels contain
// target, ctx is cancelled, or timeout elapses (timeout <= 0 means no
// timeout). Tracker errors during a tick are propagated immediately.
func PollForLabel(ctx context.Context, checker LabelChecker, ticket int64, target string, interval time.Duration, timeout time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		labels, err := checker(ctx, ticket)
		if err != nil {
			return fmt.Errorf("poll ticket #%d: %w", ticket, err)
		}
		if hasLabel(labels, target) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w: ticket #%d never carried label %q", ErrPollTimeout, ticket, target)
		case <-ticker.C:
		}
	}
}

// PollForFirstLabel polls checker until ticket's labels contain any label in
// targets, returning the first one observed. Used by the Approval Monitor,
// which races "approved" against "rejected".
func PollForFirstLabel(ctx context.Context, checker LabelChecker, ticket int64, targets []string, interval time.Duration, timeout time.Duration) (string, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		labels, err := checker(ctx, ticket)
		if err != nil {
			return "", fmt.Errorf("poll ticket #%d: %w", ticket, err)
		}
		for _, target := range targets {
			if hasLabel(labels, target) {
				return target, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", fmt.Errorf("%w: ticket #%d never carried any of %v", ErrPollTimeout, ticket, targets)
		case <-ticker.C:
		}
	}
}

func hasLabel(labels []string, target string) bool {
	for _, label := range labels {
		if label == target {
			return true
		}
	}
	return false
}
