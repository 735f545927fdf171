package orchestrator

import (
	"errors"
	"testing"
	"time"
)

func TestEnqueueRejectsDuplicateOfQueued(t *testing.T) {
	q := NewQueue()
	if err := q.Enqueue(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(1); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestEnqueueRejectsDuplicateOfRunning(t *testing.T) {
	q := NewQueue()
	q.Enqueue(1)
	q.Dequeue()

	if err := q.Enqueue(1); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued for running id, got %v", err)
	}
}

func TestDequeueRefusesWhileSomethingRunning(t *testing.T) {
	q := NewQueue()
	q.Enqueue(1)
	q.Enqueue(2)

	id, ok := q.Dequeue()
	if !ok || id != 1 {
		t.Fatalf("expected first dequeue to return 1, got %d ok=%v", id, ok)
	}

	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected second dequeue to fail while one is running")
	}

	q.Finish(true, time.Millisecond, time.Now())
	id, ok = q.Dequeue()
	if !ok || id != 2 {
		t.Fatalf("expected next dequeue to return 2 after finish, got %d ok=%v", id, ok)
	}
}

func TestRemoveRefusesRunningID(t *testing.T) {
	q := NewQueue()
	q.Enqueue(1)
	q.Dequeue()

	if err := q.Remove(1); !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
}

func TestSnapshotSplitsCompletedAndFailed(t *testing.T) {
	q := NewQueue()
	q.Enqueue(1)
	q.Dequeue()
	q.Finish(true, time.Millisecond, time.Now())

	q.Enqueue(2)
	q.Dequeue()
	q.Finish(false, time.Millisecond, time.Now())

	snapshot := q.Snapshot()
	if len(snapshot.Completed) != 1 || snapshot.Completed[0].IssueNumber != 1 {
		t.Fatalf("expected 1 completed run for issue 1, got %+v", snapshot.Completed)
	}
	if len(snapshot.Failed) != 1 || snapshot.Failed[0].IssueNumber != 2 {
		t.Fatalf("expected 1 failed run for issue 2, got %+v", snapshot.Failed)
	}
}

func TestStatsComputesSuccessRateAndMeanDuration(t *testing.T) {
	q := NewQueue()
	q.Enqueue(1)
	q.Dequeue()
	q.Finish(true, 2*time.Second, time.Now())

	q.Enqueue(2)
	q.Dequeue()
	q.Finish(false, 4*time.Second, time.Now())

	stats := q.Stats()
	if stats.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %v", stats.SuccessRate)
	}
	if stats.MeanDuration != 3*time.Second {
		t.Fatalf("expected mean duration 3s, got %v", stats.MeanDuration)
	}
}

func TestHistoryIsBoundedAtCap(t *testing.T) {
	q := NewQueue()
	for i := int64(0); i < historyCap+5; i++ {
		q.Enqueue(i)
		q.Dequeue()
		q.Finish(true, time.Millisecond, time.Now())
	}
	if len(q.history) != historyCap {
		t.Fatalf("expected history capped at %d, got %d", historyCap, len(q.history))
	}
}
