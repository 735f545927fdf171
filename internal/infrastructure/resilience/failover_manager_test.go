package resilience

import (
	"context"
	"errors"
	"testing"

	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/ports"
)

type memFailoverStore struct {
	states map[string]ports.FailoverState
}

func newMemFailoverStore() *memFailoverStore {
	return &memFailoverStore{states: map[string]ports.FailoverState{}}
}

func (s *memFailoverStore) Get(ctx context.Context, agent string) (ports.FailoverState, error) {
	if state, ok := s.states[agent]; ok {
		return state, nil
	}
	return ports.FailoverState{Agent: agent}, nil
}

func (s *memFailoverStore) Save(ctx context.Context, state ports.FailoverState) error {
	s.states[state.Agent] = state
	return nil
}

type recordingNotifier struct {
	notifications []ports.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, notification ports.Notification) {
	n.notifications = append(n.notifications, notification)
}

func TestFailoverManagerCurrentModelForDefaultsWhenNoState(t *testing.T) {
	m := NewFailoverManager(newMemFailoverStore(), nil, orchestrator.FailoverPolicy{MaxFailoversPerAgent: 2}, nil)
	got, err := m.CurrentModelFor(context.Background(), ports.RoleArchitect, defaultModel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != defaultModel {
		t.Fatalf("got %v, want %v", got, defaultModel)
	}
}

func TestFailoverManagerReportModelTimeoutSwapsAndNotifies(t *testing.T) {
	store := newMemFailoverStore()
	notifier := &recordingNotifier{}
	failbacks := map[ports.AgentRole]ports.ModelRef{ports.RoleArchitect: failbackModel}
	m := NewFailoverManager(store, notifier, orchestrator.FailoverPolicy{MaxFailoversPerAgent: 2}, failbacks)

	err := m.ReportModelTimeout(context.Background(), ports.RoleArchitect, defaultModel, "sess-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := m.CurrentModelFor(context.Background(), ports.RoleArchitect, defaultModel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != failbackModel {
		t.Fatalf("got %v, want failback %v", got, failbackModel)
	}
	if len(notifier.notifications) != 1 || notifier.notifications[0].Kind != ports.EventModelFailover {
		t.Fatalf("expected one model-failover notification, got %+v", notifier.notifications)
	}
}

func TestFailoverManagerReportModelTimeoutRejectsWithNoFailback(t *testing.T) {
	m := NewFailoverManager(newMemFailoverStore(), nil, orchestrator.FailoverPolicy{MaxFailoversPerAgent: 2}, nil)
	err := m.ReportModelTimeout(context.Background(), ports.RoleArchitect, defaultModel, "sess-1", 1)
	if !errors.Is(err, orchestrator.ErrNoFailback) {
		t.Fatalf("expected ErrNoFailback, got %v", err)
	}
}

func TestFailoverManagerResetAgentClearsState(t *testing.T) {
	store := newMemFailoverStore()
	failbacks := map[ports.AgentRole]ports.ModelRef{ports.RoleArchitect: failbackModel}
	m := NewFailoverManager(store, nil, orchestrator.FailoverPolicy{MaxFailoversPerAgent: 2}, failbacks)

	if err := m.ReportModelTimeout(context.Background(), ports.RoleArchitect, defaultModel, "sess-1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.ResetAgent(context.Background(), ports.RoleArchitect); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := m.CurrentModelFor(context.Background(), ports.RoleArchitect, defaultModel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != defaultModel {
		t.Fatalf("expected reset to restore default model, got %v", got)
	}
}

var (
	defaultModel  = ports.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4-5"}
	failbackModel = ports.ModelRef{ProviderID: "anthropic", ModelID: "claude-haiku-4-5"}
)
