package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"orchestrix/internal/domain/scheduling"
)

// TaskExecutor runs one sub-ticket's implementation agent to completion
// (including polling for agent-complete) and reports the outcome.
type TaskExecutor func(ctx context.Context, subTicket int64) error

// ImplementationOutcome is per-task-id result bookkeeping for the stage.
type ImplementationOutcome struct {
	TaskID    string
	SubTicket int64
	Failed    bool
	Err       error
}

// RunImplementation resolves tasks into dependency batches and executes
// them batch by batch; within a batch every task runs concurrently and the
// stage waits for all of them. A batch with any failure stops further
// batches.
func RunImplementation(ctx context.Context, tasks []scheduling.Task, subTickets map[string]int64, execute TaskExecutor) ([]ImplementationOutcome, error) {
	batches, err := scheduling.Resolve(tasks)
	if err != nil {
		return nil, fmt.Errorf("resolve implementation batches: %w", err)
	}

	var outcomes []ImplementationOutcome
	for _, batch := range batches {
		batchOutcomes := runBatch(ctx, batch, subTickets, execute)
		outcomes = append(outcomes, batchOutcomes...)

		failed := false
		for _, outcome := range batchOutcomes {
			if outcome.Failed {
				failed = true
			}
		}
		if failed {
			return outcomes, fmt.Errorf("implementation batch failed, stopping further batches")
		}
	}
	return outcomes, nil
}

func runBatch(ctx context.Context, batch scheduling.Batch, subTickets map[string]int64, execute TaskExecutor) []ImplementationOutcome {
	outcomes := make([]ImplementationOutcome, len(batch))
	var wg sync.WaitGroup
	for i, taskID := range batch {
		wg.Add(1)
		go func(i int, taskID string) {
			defer wg.Done()
			subTicket := subTickets[taskID]
			err := execute(ctx, subTicket)
			outcomes[i] = ImplementationOutcome{TaskID: taskID, SubTicket: subTicket, Failed: err != nil, Err: err}
		}(i, taskID)
	}
	wg.Wait()
	return outcomes
}

// ServerUnreachableErr is implemented by errors that carry an attached log
// snapshot path, so the caller can emit a critical-error notification.
type ServerUnreachableErr interface {
	error
	LogPath() string
}

// IsServerUnreachable reports whether err (or something it wraps) signals a
// health-check failure worth a critical-error notification.
func IsServerUnreachable(err error) (ServerUnreachableErr, bool) {
	var target ServerUnreachableErr
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
