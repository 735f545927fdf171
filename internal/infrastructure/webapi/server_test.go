package webapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/infrastructure/logstream"
)

type stubQueue struct {
	enqueued []int64
	removed  []int64
	cleared  bool
	err      error
	snapshot orchestrator.QueueSnapshot
	stats    orchestrator.QueueStats
}

func (q *stubQueue) Enqueue(id int64) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, id)
	return nil
}

func (q *stubQueue) Remove(id int64) error {
	if q.err != nil {
		return q.err
	}
	q.removed = append(q.removed, id)
	return nil
}

func (q *stubQueue) Clear() error {
	q.cleared = true
	return nil
}

func (q *stubQueue) Snapshot() orchestrator.QueueSnapshot { return q.snapshot }
func (q *stubQueue) Stats() orchestrator.QueueStats       { return q.stats }

func TestHandleHealthReportsOK(t *testing.T) {
	t.Parallel()
	srv := New(&stubQueue{}, logstream.New(10), "")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %q", body.Status)
	}
}

func TestHandlePostQueueEnqueuesIssue(t *testing.T) {
	t.Parallel()
	queue := &stubQueue{}
	srv := New(queue, logstream.New(10), "")

	payload, _ := json.Marshal(postQueueRequest{IssueNumber: 42})
	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != 42 {
		t.Fatalf("expected issue 42 enqueued, got %v", queue.enqueued)
	}
}

func TestHandlePostQueueRejectsDuplicate(t *testing.T) {
	t.Parallel()
	queue := &stubQueue{err: orchestrator.ErrAlreadyQueued}
	srv := New(queue, logstream.New(10), "")

	payload, _ := json.Marshal(postQueueRequest{IssueNumber: 42})
	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestHandleDeleteQueueRemovesIssue(t *testing.T) {
	t.Parallel()
	queue := &stubQueue{}
	srv := New(queue, logstream.New(10), "")

	req := httptest.NewRequest(http.MethodDelete, "/api/queue/7", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(queue.removed) != 1 || queue.removed[0] != 7 {
		t.Fatalf("expected issue 7 removed, got %v", queue.removed)
	}
}

func TestHandleGetLogsReturnsRecentEvents(t *testing.T) {
	t.Parallel()
	hub := logstream.New(10)
	hub.Publish(logstream.Event{Message: "one"})
	hub.Publish(logstream.Event{Message: "two"})
	srv := New(&stubQueue{}, hub, "")

	req := httptest.NewRequest(http.MethodGet, "/api/logs?count=1", nil)
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)

	var events []logstream.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Message != "two" {
		t.Fatalf("expected only the most recent event, got %v", events)
	}
}

func TestHandlePostQueueInvalidBodyIsBadRequest(t *testing.T) {
	t.Parallel()
	srv := New(&stubQueue{}, logstream.New(10), "")

	req := httptest.NewRequest(http.MethodPost, "/api/queue", bytes.NewReader([]byte("not json")))
	resp := httptest.NewRecorder()
	srv.Router().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
