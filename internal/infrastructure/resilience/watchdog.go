// Package resilience implements the Session Watchdog and Model Failover:
// killing and verifying hung agent sessions, and swapping an agent's model
// on each model timeout, up to a per-agent cap.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orchestrix/internal/ports"
)

// verifyBackoff is the delay before each of the three post-kill existence
// checks.
var verifyBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// TerminationOutcome is the result of a hang-handling attempt.
type TerminationOutcome struct {
	Outcome string // "session-killed" or "failed-termination"
	Method  string // "graceful-kill" when the outcome is session-killed
}

// Watchdog terminates and verifies hung agent sessions.
type Watchdog struct {
	executor ports.AIExecutionService
}

// NewWatchdog builds a Watchdog over executor.
func NewWatchdog(executor ports.AIExecutionService) *Watchdog {
	return &Watchdog{executor: executor}
}

// HandleHang attempts graceful termination of sessionID, then verifies the
// session is gone with three checks backed off 1s, 2s, 4s. A client with no
// existence probe (ErrNotSupported) is treated as verified on the kill
// alone.
func (w *Watchdog) HandleHang(ctx context.Context, sessionID string) (TerminationOutcome, error) {
	if err := w.executor.Kill(ctx, sessionID); err != nil {
		return TerminationOutcome{}, fmt.Errorf("kill hung session %s: %w", sessionID, err)
	}

	for _, delay := range verifyBackoff {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return TerminationOutcome{}, ctx.Err()
		case <-timer.C:
		}

		exists, err := w.executor.SessionExists(ctx, sessionID)
		if errors.Is(err, ports.ErrNotSupported) {
			return TerminationOutcome{Outcome: "session-killed", Method: "graceful-kill"}, nil
		}
		if err != nil {
			return TerminationOutcome{}, fmt.Errorf("verify session %s terminated: %w", sessionID, err)
		}
		if !exists {
			return TerminationOutcome{Outcome: "session-killed", Method: "graceful-kill"}, nil
		}
	}

	return TerminationOutcome{Outcome: "failed-termination"}, nil
}
