package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyQueued is returned by Enqueue when id is already running or
// waiting in the queue.
var ErrAlreadyQueued = errors.New("issue is already running or queued")

// ErrNotFound is returned by Remove when id is neither running nor queued.
var ErrNotFound = errors.New("issue is not running or queued")

// ErrRunning is returned by Remove when id is the currently running id.
var ErrRunning = errors.New("issue is currently running")

const historyCap = 50

// RunRecord is one completed orchestration's outcome, kept for statistics
// and the last-10 lists the Web Surface reports.
type RunRecord struct {
	IssueNumber int64
	Succeeded   bool
	Duration    time.Duration
	FinishedAt  time.Time
}

// QueueSnapshot is the read model the Web Surface renders for GET
// /api/queue.
type QueueSnapshot struct {
	Running    int64
	HasRunning bool
	Queued     []int64
	Completed  []RunRecord
	Failed     []RunRecord
	Processing bool
}

// QueueStats is the read model for GET /api/queue/stats.
type QueueStats struct {
	SuccessRate  float64
	MeanDuration time.Duration
	TotalRuns    int
}

// Queue is a FIFO of issue numbers with at most one id running at a time.
// It rejects duplicate enqueues of an id that is already running or
// queued, and keeps a bounded history of completed/failed runs.
type Queue struct {
	mu         sync.Mutex
	waiting    []int64
	running    int64
	hasRunning bool
	processing bool
	history    []RunRecord
}

// NewQueue builds an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends id to the waiting list unless it is already running or
// queued.
func (q *Queue) Enqueue(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasRunning && q.running == id {
		return fmt.Errorf("%w: #%d", ErrAlreadyQueued, id)
	}
	for _, waiting := range q.waiting {
		if waiting == id {
			return fmt.Errorf("%w: #%d", ErrAlreadyQueued, id)
		}
	}
	q.waiting = append(q.waiting, id)
	return nil
}

// Remove deletes id from the waiting list. It refuses to remove the
// currently running id.
func (q *Queue) Remove(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasRunning && q.running == id {
		return fmt.Errorf("%w: #%d", ErrRunning, id)
	}
	for i, waiting := range q.waiting {
		if waiting == id {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: #%d", ErrNotFound, id)
}

// Clear empties the waiting list. It never touches the running id, so it
// always succeeds and returns nil.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiting = nil
	return nil
}

// Dequeue pops the next waiting id and marks it running, or reports ok=false
// if the queue is empty or something is already running.
func (q *Queue) Dequeue() (id int64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasRunning || len(q.waiting) == 0 {
		return 0, false
	}
	id = q.waiting[0]
	q.waiting = q.waiting[1:]
	q.running = id
	q.hasRunning = true
	return id, true
}

// Finish records the outcome of the currently running id and clears the
// running slot.
func (q *Queue) Finish(succeeded bool, duration time.Duration, finishedAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	record := RunRecord{IssueNumber: q.running, Succeeded: succeeded, Duration: duration, FinishedAt: finishedAt}
	q.history = append(q.history, record)
	if len(q.history) > historyCap {
		q.history = q.history[len(q.history)-historyCap:]
	}
	q.hasRunning = false
	q.running = 0
}

// SetProcessing marks whether the cooperative processing loop is currently
// active, for the Web Surface's processing flag.
func (q *Queue) SetProcessing(active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = active
}

// Snapshot returns a read-only view for the Web Surface.
func (q *Queue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	var completed, failed []RunRecord
	for i := len(q.history) - 1; i >= 0 && (len(completed) < 10 || len(failed) < 10); i-- {
		record := q.history[i]
		if record.Succeeded && len(completed) < 10 {
			completed = append(completed, record)
		} else if !record.Succeeded && len(failed) < 10 {
			failed = append(failed, record)
		}
	}

	return QueueSnapshot{
		Running:    q.running,
		HasRunning: q.hasRunning,
		Queued:     append([]int64(nil), q.waiting...),
		Completed:  completed,
		Failed:     failed,
		Processing: q.processing,
	}
}

// Stats computes the success rate and mean duration over the full history.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.history) == 0 {
		return QueueStats{}
	}

	var succeeded int
	var total time.Duration
	for _, record := range q.history {
		if record.Succeeded {
			succeeded++
		}
		total += record.Duration
	}

	return QueueStats{
		SuccessRate:  float64(succeeded) / float64(len(q.history)),
		MeanDuration: total / time.Duration(len(q.history)),
		TotalRuns:    len(q.history),
	}
}
