package agentexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/infrastructure/resilience"
	"orchestrix/internal/ports"
)

type memFailoverStore struct {
	states map[string]ports.FailoverState
}

func newMemFailoverStore() *memFailoverStore {
	return &memFailoverStore{states: map[string]ports.FailoverState{}}
}

func (s *memFailoverStore) Get(ctx context.Context, agent string) (ports.FailoverState, error) {
	return s.states[agent], nil
}
func (s *memFailoverStore) Save(ctx context.Context, state ports.FailoverState) error {
	s.states[state.Agent] = state
	return nil
}

type fakeService struct {
	healthErr error
	results   []ports.ExecuteResult
	errs      []error
	calls     int
}

func (f *fakeService) HealthCheck(ctx context.Context) error { return f.healthErr }

func (f *fakeService) Execute(ctx context.Context, input ports.ExecuteInput, sink ports.ProgressSink) (ports.ExecuteResult, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		if sink != nil {
			sink(ports.ProgressEvent{Kind: ports.ProgressHangDetected, Message: "sess-1"})
		}
		return ports.ExecuteResult{SessionID: "sess-1"}, f.errs[idx]
	}
	return f.results[idx], nil
}

func (f *fakeService) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	return true, ports.ErrNotSupported
}
func (f *fakeService) Kill(ctx context.Context, sessionID string) error { return nil }

var testDefault = ports.ModelRef{ProviderID: "anthropic", ModelID: "primary"}
var testFailback = ports.ModelRef{ProviderID: "anthropic", ModelID: "backup"}

type memCache struct {
	values map[string]string
}

func newMemCache() *memCache { return &memCache{values: map[string]string{}} }

func (c *memCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}
func (c *memCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	c.values[key] = value
	return nil
}
func (c *memCache) Delete(ctx context.Context, key string) error {
	delete(c.values, key)
	return nil
}

func TestExecuteSucceedsAndResetsFailoverState(t *testing.T) {
	svc := &fakeService{results: []ports.ExecuteResult{{Response: "done"}}}
	store := newMemFailoverStore()
	store.states[string(ports.RoleImplementation)] = ports.FailoverState{Agent: string(ports.RoleImplementation), Current: &testFailback, Count: 1}
	fm := resilience.NewFailoverManager(store, nil, orchestrator.FailoverPolicy{MaxFailoversPerAgent: 2}, nil)

	exec := New(map[ports.AgentRole]ports.AIExecutionService{ports.RoleImplementation: svc},
		map[ports.AgentRole]ports.ModelRef{ports.RoleImplementation: testDefault}, fm, nil)

	result, err := exec.Execute(context.Background(), Request{Role: ports.RoleImplementation, Prompt: "do it"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Response != "done" {
		t.Fatalf("expected response 'done', got %q", result.Response)
	}
	if store.states[string(ports.RoleImplementation)].Current != nil {
		t.Fatal("expected failover state reset after success")
	}
}

func TestExecuteRetriesAfterHangWithFailback(t *testing.T) {
	svc := &fakeService{
		errs:    []error{errors.New("session-hung: timed out"), nil},
		results: []ports.ExecuteResult{{}, {Response: "recovered"}},
	}
	store := newMemFailoverStore()
	fm := resilience.NewFailoverManager(store, nil, orchestrator.FailoverPolicy{MaxFailoversPerAgent: 2},
		map[ports.AgentRole]ports.ModelRef{ports.RoleImplementation: testFailback})

	exec := New(map[ports.AgentRole]ports.AIExecutionService{ports.RoleImplementation: svc},
		map[ports.AgentRole]ports.ModelRef{ports.RoleImplementation: testDefault}, fm, nil)

	result, err := exec.Execute(context.Background(), Request{Role: ports.RoleImplementation, Prompt: "do it", Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Response != "recovered" {
		t.Fatalf("expected recovered response, got %q", result.Response)
	}
	if svc.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", svc.calls)
	}
}

func TestExecuteFailsFastWithoutFailback(t *testing.T) {
	svc := &fakeService{errs: []error{errors.New("session-hung: timed out")}, results: []ports.ExecuteResult{{}}}
	store := newMemFailoverStore()
	fm := resilience.NewFailoverManager(store, nil, orchestrator.FailoverPolicy{MaxFailoversPerAgent: 2}, nil)

	exec := New(map[ports.AgentRole]ports.AIExecutionService{ports.RoleImplementation: svc},
		map[ports.AgentRole]ports.ModelRef{ports.RoleImplementation: testDefault}, fm, nil)

	_, err := exec.Execute(context.Background(), Request{Role: ports.RoleImplementation, Prompt: "do it"}, nil)
	if err == nil {
		t.Fatal("expected error when no failback is configured")
	}
	if svc.calls != 1 {
		t.Fatalf("expected exactly 1 call before giving up, got %d", svc.calls)
	}
}

func TestExecuteReplaysCachedResultWithoutRerunningAgent(t *testing.T) {
	svc := &fakeService{results: []ports.ExecuteResult{{Response: "done"}}}
	store := newMemFailoverStore()
	fm := resilience.NewFailoverManager(store, nil, orchestrator.FailoverPolicy{MaxFailoversPerAgent: 2}, nil)
	cache := newMemCache()

	exec := New(map[ports.AgentRole]ports.AIExecutionService{ports.RoleImplementation: svc},
		map[ports.AgentRole]ports.ModelRef{ports.RoleImplementation: testDefault}, fm, cache)

	req := Request{Role: ports.RoleImplementation, Prompt: "do it", Fingerprint: "fp-1"}
	first, err := exec.Execute(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Response != "done" || svc.calls != 1 {
		t.Fatalf("first run: response=%q calls=%d", first.Response, svc.calls)
	}

	second, err := exec.Execute(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if second.Response != "done" {
		t.Fatalf("expected replayed response 'done', got %q", second.Response)
	}
	if svc.calls != 1 {
		t.Fatalf("expected the agent to run exactly once, got %d calls", svc.calls)
	}
}

func TestExecuteReturnsServerUnreachableOnHealthCheckFailure(t *testing.T) {
	svc := &fakeService{healthErr: errors.New("connection refused")}
	store := newMemFailoverStore()
	fm := resilience.NewFailoverManager(store, nil, orchestrator.FailoverPolicy{MaxFailoversPerAgent: 2}, nil)

	exec := New(map[ports.AgentRole]ports.AIExecutionService{ports.RoleImplementation: svc},
		map[ports.AgentRole]ports.ModelRef{ports.RoleImplementation: testDefault}, fm, nil)

	_, err := exec.Execute(context.Background(), Request{Role: ports.RoleImplementation, Prompt: "do it"}, nil)
	var unreachable *ErrServerUnreachable
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected ErrServerUnreachable, got %v", err)
	}
}
