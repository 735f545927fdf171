package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/ports"
)

// FailoverManager tracks per-agent failover state and surfaces swaps
// through the notifier.
type FailoverManager struct {
	store     ports.FailoverStore
	notifier  ports.Notifier
	policy    orchestrator.FailoverPolicy
	failbacks map[ports.AgentRole]ports.ModelRef
}

// NewFailoverManager builds a FailoverManager. notifier may be nil to
// disable delivery.
func NewFailoverManager(store ports.FailoverStore, notifier ports.Notifier, policy orchestrator.FailoverPolicy, failbacks map[ports.AgentRole]ports.ModelRef) *FailoverManager {
	return &FailoverManager{store: store, notifier: notifier, policy: policy, failbacks: failbacks}
}

// CurrentModelFor returns the model agent should run with: its active
// failback if one is recorded, otherwise def.
func (m *FailoverManager) CurrentModelFor(ctx context.Context, agent ports.AgentRole, def ports.ModelRef) (ports.ModelRef, error) {
	state, err := m.store.Get(ctx, string(agent))
	if err != nil {
		return ports.ModelRef{}, fmt.Errorf("read failover state for %s: %w", agent, err)
	}
	return orchestrator.CurrentModelFor(state, def), nil
}

// ReportModelTimeout handles a model-timeout progress event for agent: if a
// failback is configured and the per-agent cap has not been reached, it
// swaps and persists the new state and notifies with before/after models;
// otherwise it returns orchestrator.ErrNoFailback or
// orchestrator.ErrMaxFailoversExceeded so the caller fails the attempt.
func (m *FailoverManager) ReportModelTimeout(ctx context.Context, agent ports.AgentRole, from ports.ModelRef, session string, attempt int) error {
	failback, ok := m.failbacks[agent]
	if !ok {
		return orchestrator.ErrNoFailback
	}

	state, err := m.store.Get(ctx, string(agent))
	if err != nil {
		return fmt.Errorf("read failover state for %s: %w", agent, err)
	}

	next, err := orchestrator.RecordFailover(state, failback, from, "model-timeout", session, attempt, time.Now().UTC().Format(time.RFC3339Nano), m.policy)
	if err != nil {
		return err
	}

	if err := m.store.Save(ctx, next); err != nil {
		return fmt.Errorf("save failover state for %s: %w", agent, err)
	}

	logging.Info(ctx, "agent model failover",
		slog.String("agent", string(agent)),
		slog.String("from", from.ModelID),
		slog.String("to", failback.ModelID),
		slog.Int("count", next.Count))

	if m.notifier != nil {
		m.notifier.Notify(ctx, ports.Notification{
			Kind:  ports.EventModelFailover,
			Title: fmt.Sprintf("%s failed over: %s -> %s", agent, from.ModelID, failback.ModelID),
			Body:  fmt.Sprintf("session %s, attempt %d, failover %d/%d", session, attempt, next.Count, m.policy.MaxFailoversPerAgent),
		})
	}
	return nil
}

// ResetAgent clears agent's failback and count, called on successful
// execution.
func (m *FailoverManager) ResetAgent(ctx context.Context, agent ports.AgentRole) error {
	state, err := m.store.Get(ctx, string(agent))
	if err != nil {
		return fmt.Errorf("read failover state for %s: %w", agent, err)
	}
	if state.Current == nil && state.Count == 0 {
		return nil
	}
	if err := m.store.Save(ctx, orchestrator.ResetAgent(state)); err != nil {
		return fmt.Errorf("reset failover state for %s: %w", agent, err)
	}
	return nil
}
