// Package taskpoll wraps the domain polling primitives with the tracker
// port so stages can wait on sub-ticket completion and master-ticket
// approval without repeating the tick/timeout wiring.
package taskpoll

import (
	"context"
	"time"

	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/ports"
)

const (
	completeLabel = "agent-complete"
	approvedLabel = "approved"
	rejectedLabel = "rejected"
)

// TaskPoller waits for a sub-ticket to carry the agent-complete label.
type TaskPoller struct {
	tracker  ports.IssueTracker
	interval time.Duration
}

// NewTaskPoller builds a TaskPoller that ticks every 2s.
func NewTaskPoller(tracker ports.IssueTracker) *TaskPoller {
	return &TaskPoller{tracker: tracker, interval: 2 * time.Second}
}

// Wait blocks until subTicket carries agent-complete or timeout elapses.
func (p *TaskPoller) Wait(ctx context.Context, subTicket int64, timeout time.Duration) error {
	return orchestrator.PollForLabel(ctx, p.checkLabels, subTicket, completeLabel, p.interval, timeout)
}

func (p *TaskPoller) checkLabels(ctx context.Context, ticket int64) ([]string, error) {
	issue, err := p.tracker.Get(ctx, ticket)
	if err != nil {
		return nil, err
	}
	return issue.Labels, nil
}

// ApprovalMonitor waits for a master ticket to be labeled approved or
// rejected.
type ApprovalMonitor struct {
	tracker     ports.IssueTracker
	interval    time.Duration
	autoApprove bool
}

// NewApprovalMonitor builds an ApprovalMonitor that ticks every 5s. When
// autoApprove is set, Wait short-circuits by adding the approved label
// immediately instead of polling.
func NewApprovalMonitor(tracker ports.IssueTracker, autoApprove bool) *ApprovalMonitor {
	return &ApprovalMonitor{tracker: tracker, interval: 5 * time.Second, autoApprove: autoApprove}
}

// Decision is the outcome of an approval wait.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Wait blocks until masterTicket is labeled approved or rejected, or ctx is
// cancelled. timeout <= 0 means no timeout, matching the default policy.
func (m *ApprovalMonitor) Wait(ctx context.Context, masterTicket int64, timeout time.Duration) (Decision, error) {
	if m.autoApprove {
		if err := m.tracker.AddLabel(ctx, masterTicket, approvedLabel); err != nil {
			return "", err
		}
		return DecisionApproved, nil
	}

	label, err := orchestrator.PollForFirstLabel(ctx, m.checkLabels, masterTicket, []string{approvedLabel, rejectedLabel}, m.interval, timeout)
	if err != nil {
		return "", err
	}
	if label == rejectedLabel {
		return DecisionRejected, nil
	}
	return DecisionApproved, nil
}

func (m *ApprovalMonitor) checkLabels(ctx context.Context, ticket int64) ([]string, error) {
	issue, err := m.tracker.Get(ctx, ticket)
	if err != nil {
		return nil, err
	}
	return issue.Labels, nil
}
