// Package local implements ports.IssueTracker directly against the sqlite
// outbox repository, for deployments running against a locally seeded
// backlog instead of a hosted issue tracker.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"orchestrix/internal/ports"
)

// ErrTaskIssueBody is returned when a task issue's body is missing the
// sections a task issue must carry.
var ErrTaskIssueBody = errors.New("task issue body must include Goal and Acceptance Criteria")

// Tracker adapts a ports.OutboxRepository to ports.IssueTracker.
type Tracker struct {
	repo ports.OutboxRepository
}

// New wraps repo as an IssueTracker.
func New(repo ports.OutboxRepository) *Tracker {
	return &Tracker{repo: repo}
}

func (t *Tracker) Search(ctx context.Context, filter ports.IssueFilter) ([]ports.Issue, error) {
	issues, err := t.repo.ListIssues(ctx, ports.OutboxIssueFilter{
		IncludeClosed: filter.IncludeClosed,
		IncludeLabels: filter.Labels,
		ExcludeLabels: filter.ExcludeLabels,
	})
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	out := make([]ports.Issue, 0, len(issues))
	for _, issue := range issues {
		labels, err := t.repo.ListIssueLabels(ctx, issue.IssueID)
		if err != nil {
			return nil, fmt.Errorf("list labels for issue %d: %w", issue.IssueID, err)
		}
		out = append(out, toPortIssue(issue, labels))
	}
	return out, nil
}

func (t *Tracker) Get(ctx context.Context, number int64) (ports.Issue, error) {
	issueID := uint64(number)
	issue, err := t.repo.GetIssue(ctx, issueID)
	if err != nil {
		if errors.Is(err, ports.ErrIssueNotFound) {
			return ports.Issue{}, fmt.Errorf("issue #%d not found: %w", number, err)
		}
		return ports.Issue{}, fmt.Errorf("get issue #%d: %w", number, err)
	}
	labels, err := t.repo.ListIssueLabels(ctx, issueID)
	if err != nil {
		return ports.Issue{}, fmt.Errorf("list labels for issue #%d: %w", number, err)
	}
	return toPortIssue(issue, labels), nil
}

func (t *Tracker) Create(ctx context.Context, title string, body string, labels []string) (ports.Issue, error) {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" {
		return ports.Issue{}, errors.New("title is required")
	}
	if body == "" {
		return ports.Issue{}, errors.New("body is required")
	}
	if isTaskIssue(title, labels) && !hasTaskIssueSections(body) {
		return ports.Issue{}, ErrTaskIssueBody
	}

	now := nowUTC()
	created, err := t.repo.CreateIssue(ctx, ports.OutboxIssue{
		Title:     title,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}, dedupeLabels(labels))
	if err != nil {
		return ports.Issue{}, fmt.Errorf("create issue: %w", err)
	}

	createdLabels, err := t.repo.ListIssueLabels(ctx, created.IssueID)
	if err != nil {
		return ports.Issue{}, fmt.Errorf("list labels for created issue: %w", err)
	}
	return toPortIssue(created, createdLabels), nil
}

func (t *Tracker) UpdateBody(ctx context.Context, number int64, body string) error {
	if err := t.repo.UpdateIssueBody(ctx, uint64(number), body, nowUTC()); err != nil {
		return fmt.Errorf("update body of issue #%d: %w", number, err)
	}
	return nil
}

func (t *Tracker) Comment(ctx context.Context, number int64, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return errors.New("comment body is required")
	}
	issueID := uint64(number)
	if err := t.repo.AppendEvent(ctx, ports.OutboxEventCreate{
		IssueID:   issueID,
		Actor:     "orchestrator",
		Body:      body,
		CreatedAt: nowUTC(),
	}); err != nil {
		return fmt.Errorf("comment on issue #%d: %w", number, err)
	}
	return t.repo.UpdateIssueUpdatedAt(ctx, issueID, nowUTC())
}

func (t *Tracker) AddLabel(ctx context.Context, number int64, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return errors.New("label is required")
	}
	if err := t.repo.AddIssueLabel(ctx, uint64(number), label); err != nil {
		return fmt.Errorf("add label %q to issue #%d: %w", label, number, err)
	}
	return nil
}

func (t *Tracker) RemoveLabel(ctx context.Context, number int64, label string) error {
	if err := t.repo.RemoveIssueLabel(ctx, uint64(number), label); err != nil {
		return fmt.Errorf("remove label %q from issue #%d: %w", label, number, err)
	}
	return nil
}

func (t *Tracker) ReplaceStateLabel(ctx context.Context, number int64, next string) error {
	if err := t.repo.ReplaceStateLabel(ctx, uint64(number), next); err != nil {
		return fmt.Errorf("replace state label on issue #%d: %w", number, err)
	}
	return nil
}

func (t *Tracker) SetAssignee(ctx context.Context, number int64, assignee string) error {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return errors.New("assignee is required")
	}
	if err := t.repo.SetIssueAssignee(ctx, uint64(number), assignee, nowUTC()); err != nil {
		return fmt.Errorf("assign issue #%d to %q: %w", number, assignee, err)
	}
	return nil
}

func (t *Tracker) Close(ctx context.Context, number int64) error {
	if err := t.repo.MarkIssueClosed(ctx, uint64(number), nowUTC()); err != nil {
		return fmt.Errorf("close issue #%d: %w", number, err)
	}
	return nil
}

func toPortIssue(issue ports.OutboxIssue, labels []string) ports.Issue {
	out := ports.Issue{
		Number:    int64(issue.IssueID),
		Title:     issue.Title,
		Body:      issue.Body,
		Labels:    labels,
		IsClosed:  issue.IsClosed,
		CreatedAt: issue.CreatedAt,
		UpdatedAt: issue.UpdatedAt,
	}
	if issue.Assignee != nil {
		out.Assignee = *issue.Assignee
	}
	return out
}

func dedupeLabels(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		label := strings.TrimSpace(raw)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// isTaskIssue reports whether an issue represents a task, either by an
// explicit kind:task label or a "[kind:task]" title marker.
func isTaskIssue(title string, labels []string) bool {
	for _, label := range labels {
		if strings.EqualFold(strings.TrimSpace(label), "kind:task") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(title), "[kind:task]")
}

// hasTaskIssueSections reports whether body carries the Goal and Acceptance
// Criteria sections a task issue is required to have.
func hasTaskIssueSections(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "## goal") && strings.Contains(lower, "## acceptance criteria")
}
