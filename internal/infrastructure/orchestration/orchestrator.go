// Package orchestration sequences the five orchestration stages against one
// master ticket: planning, approval, implementation, testing, completion.
package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/domain/composer"
	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/domain/scheduling"
	"orchestrix/internal/errs"
	"orchestrix/internal/infrastructure/agentexec"
	"orchestrix/internal/infrastructure/statusreport"
	"orchestrix/internal/infrastructure/taskpoll"
	"orchestrix/internal/ports"
)

// Config carries the run parameters that come from workflow configuration
// rather than from a single ticket.
type Config struct {
	BaseBranch            string
	AutoApprove           bool
	CleanupOnFailure      bool
	ImplementationTimeout time.Duration
	TestTimeout           time.Duration
}

// agentExecutor is the subset of agentexec.Executor the sequencer calls,
// narrowed to an interface so it can be faked in tests.
type agentExecutor interface {
	Execute(ctx context.Context, req agentexec.Request, sink ports.ProgressSink) (ports.ExecuteResult, error)
}

// worktreeService is the subset of worktree.Manager the sequencer calls.
type worktreeService interface {
	Ensure(ctx context.Context, ticketID int64, baseBranch string) (ports.WorktreeRecord, error)
	Remove(ctx context.Context, ticketID int64, force bool) error
	CurrentBranch(ctx context.Context, ticketID int64) (string, error)
	Push(ctx context.Context, ticketID int64) error
	Stats(ctx context.Context, ticketID int64, baseBranch string) (ports.ChangeStats, error)
}

// Orchestrator runs one ticket through the full state machine, resuming
// from whatever resumable state it currently carries.
type Orchestrator struct {
	tracker  ports.IssueTracker
	executor agentExecutor
	worktree worktreeService
	notifier ports.Notifier
	config   Config

	reporters map[int64]*statusreport.Reporter
	plans     map[int64]orchestrator.PlanningResult
}

// New builds an Orchestrator. wt is typically *worktree.Manager.
func New(tracker ports.IssueTracker, executor agentExecutor, wt worktreeService, notifier ports.Notifier, config Config) *Orchestrator {
	return &Orchestrator{
		tracker:   tracker,
		executor:  executor,
		worktree:  wt,
		notifier:  notifier,
		config:    config,
		reporters: map[int64]*statusreport.Reporter{},
		plans:     map[int64]orchestrator.PlanningResult{},
	}
}

// Start runs masterTicket to completion or failure, resuming from its
// current state label. It refuses to resume a ticket already terminal in
// completed/pr-created (no-op success) or failed/rejected (error).
func (o *Orchestrator) Start(ctx context.Context, masterTicket int64) error {
	issue, err := o.tracker.Get(ctx, masterTicket)
	if err != nil {
		return fmt.Errorf("read master ticket #%d: %w", masterTicket, err)
	}

	state, err := orchestrator.CurrentState(labelSet(issue.Labels))
	if err != nil {
		return err
	}

	switch state {
	case orchestrator.StateCompleted, orchestrator.StatePRCreated:
		return nil
	case orchestrator.StateFailed, orchestrator.StateRejected:
		return fmt.Errorf("ticket #%d is in terminal state %q, cannot resume", masterTicket, state)
	}

	if err := o.run(ctx, masterTicket, state); err != nil {
		o.fail(ctx, masterTicket, err)
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, masterTicket int64, from orchestrator.State) error {
	if from == "" || from == orchestrator.StatePlanning {
		if err := o.transition(ctx, masterTicket, orchestrator.StatePlanning); err != nil {
			return err
		}
		if err := o.runPlanning(ctx, masterTicket); err != nil {
			return err
		}
		from = orchestrator.StateAwaitingApproval
	}

	if from == orchestrator.StateAwaitingApproval {
		decision, err := o.runApproval(ctx, masterTicket)
		if err != nil {
			return err
		}
		if decision == taskpoll.DecisionRejected {
			return o.transition(ctx, masterTicket, orchestrator.StateRejected)
		}
		if err := o.transition(ctx, masterTicket, orchestrator.StateApproved); err != nil {
			return err
		}
		from = orchestrator.StateApproved
	}

	if from == orchestrator.StateApproved || from == orchestrator.StateImplementing {
		if err := o.transition(ctx, masterTicket, orchestrator.StateImplementing); err != nil {
			return err
		}
		if err := o.runImplementation(ctx, masterTicket); err != nil {
			return err
		}
		from = orchestrator.StateTesting
	}

	if from == orchestrator.StateTesting {
		if err := o.transition(ctx, masterTicket, orchestrator.StateTesting); err != nil {
			return err
		}
		if err := o.runTesting(ctx, masterTicket); err != nil {
			return err
		}
		from = orchestrator.StateCompleting
	}

	if from == orchestrator.StateCompleting {
		if err := o.transition(ctx, masterTicket, orchestrator.StateCompleting); err != nil {
			return err
		}
		if err := o.runCompletion(ctx, masterTicket); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) runPlanning(ctx context.Context, masterTicket int64) error {
	issue, err := o.tracker.Get(ctx, masterTicket)
	if err != nil {
		return err
	}

	run := func(ctx context.Context, role ports.AgentRole, prompt string) (string, error) {
		result, err := o.executor.Execute(ctx, agentexec.Request{Role: role, Prompt: prompt, RunID: fmt.Sprintf("plan-%d", masterTicket)}, nil)
		if err != nil {
			return "", err
		}
		return result.Response, nil
	}

	create := func(ctx context.Context, task orchestrator.PlannedTask, roleLabel string, master int64) (ports.Issue, error) {
		labels := []string{"sub-issue", roleLabel, fmt.Sprintf("master-%d", master), "pending"}
		body := fmt.Sprintf("%s\n\n%s", task.Description, joinScenarios(task.TestScenarios))
		return o.tracker.Create(ctx, task.Title, body, labels)
	}

	result, body, err := orchestrator.RunPlanning(ctx, run, create, masterTicket, issue.Body)
	if err != nil {
		return err
	}

	if err := o.tracker.UpdateBody(ctx, masterTicket, body); err != nil {
		return err
	}

	o.plans[masterTicket] = result

	reporter := statusreport.New(o.tracker, o.notifier, masterTicket, o.rowSource(masterTicket, result), 60*time.Second, 500*time.Millisecond)
	o.reporters[masterTicket] = reporter
	go reporter.RunPeriodic(ctx)

	reporter.OnEvent(ctx, ports.EventPlanningComplete, "planning complete", fmt.Sprintf("%d tasks planned", len(result.SubTickets)))
	return o.transition(ctx, masterTicket, orchestrator.StateAwaitingApproval)
}

func (o *Orchestrator) runApproval(ctx context.Context, masterTicket int64) (taskpoll.Decision, error) {
	monitor := taskpoll.NewApprovalMonitor(o.tracker, o.config.AutoApprove)
	return monitor.Wait(ctx, masterTicket, 0)
}

func (o *Orchestrator) runImplementation(ctx context.Context, masterTicket int64) error {
	subTickets, tasks, err := o.implementationTasks(ctx, masterTicket)
	if err != nil {
		return err
	}

	poller := taskpoll.NewTaskPoller(o.tracker)
	execute := func(ctx context.Context, subTicket int64) error {
		if err := o.tracker.AddLabel(ctx, subTicket, "in-progress"); err != nil {
			return err
		}
		wtRecord, err := o.worktree.Ensure(ctx, masterTicket, o.config.BaseBranch)
		if err != nil {
			return err
		}
		issue, err := o.tracker.Get(ctx, subTicket)
		if err != nil {
			return err
		}

		_, err = o.executor.Execute(ctx, agentexec.Request{
			Role:       ports.RoleImplementation,
			Prompt:     issue.Body,
			ProjectDir: wtRecord.Path,
			RunID:      fmt.Sprintf("impl-%d", subTicket),
			Timeout:    o.config.ImplementationTimeout,
		}, nil)
		if err != nil {
			if unreachable, ok := orchestrator.IsServerUnreachable(err); ok {
				o.notifyCritical(ctx, masterTicket, "implementation agent unreachable", unreachable.LogPath())
			}
			_ = o.tracker.AddLabel(ctx, subTicket, "failed")
			return err
		}
		if err := o.tracker.AddLabel(ctx, subTicket, "agent-complete"); err != nil {
			return err
		}

		if err := poller.Wait(ctx, subTicket, o.config.ImplementationTimeout); err != nil {
			_ = o.tracker.AddLabel(ctx, subTicket, "failed")
			return err
		}

		if reporter := o.reporters[masterTicket]; reporter != nil {
			reporter.OnEvent(ctx, ports.EventTaskCompleted, "task completed", issue.Title)
		}
		return nil
	}

	_, err = orchestrator.RunImplementation(ctx, tasks, subTickets, execute)
	return err
}

func (o *Orchestrator) runTesting(ctx context.Context, masterTicket int64) error {
	subTickets, tasks, err := o.testTasks(ctx, masterTicket)
	if err != nil {
		return err
	}

	poller := taskpoll.NewTaskPoller(o.tracker)
	deps := orchestrator.SelfHealDeps{
		RunTest: func(ctx context.Context, subTicket int64) (bool, error) {
			issue, err := o.tracker.Get(ctx, subTicket)
			if err != nil {
				return false, err
			}
			for _, label := range []string{"agent-complete", "test-failed", "failed"} {
				if hasAny(issue.Labels, label) {
					if err := o.tracker.RemoveLabel(ctx, subTicket, label); err != nil {
						return false, err
					}
				}
			}
			wtRecord, err := o.worktree.Ensure(ctx, masterTicket, o.config.BaseBranch)
			if err != nil {
				return false, err
			}
			_, err = o.executor.Execute(ctx, agentexec.Request{
				Role: ports.RoleTest, Prompt: issue.Body, ProjectDir: wtRecord.Path,
				RunID: fmt.Sprintf("test-%d", subTicket), Timeout: o.config.TestTimeout,
			}, nil)
			if err != nil {
				return false, nil
			}
			if err := o.tracker.AddLabel(ctx, subTicket, "agent-complete"); err != nil {
				return false, err
			}
			if err := poller.Wait(ctx, subTicket, o.config.TestTimeout); err != nil {
				return false, nil
			}
			refreshed, err := o.tracker.Get(ctx, subTicket)
			if err != nil {
				return false, err
			}
			return !hasAny(refreshed.Labels, "test-failed", "failed"), nil
		},
		// The tracker port has no call that lists comments, so the test
		// ticket's body is what the failure context is parsed from.
		LoadComment: func(ctx context.Context, subTicket int64) (string, error) {
			issue, err := o.tracker.Get(ctx, subTicket)
			if err != nil {
				return "", err
			}
			return issue.Body, nil
		},
		LoadCommits: func(ctx context.Context, limit int) ([]ports.CommitSummary, error) {
			stats, err := o.worktree.Stats(ctx, masterTicket, o.config.BaseBranch)
			if err != nil {
				return nil, err
			}
			if len(stats.Commits) > limit {
				return stats.Commits[:limit], nil
			}
			return stats.Commits, nil
		},
		CreateFix: func(ctx context.Context, testSubTicket int64, attempt int, failure orchestrator.FailureContext, commits []ports.CommitSummary) (int64, error) {
			issue, err := o.tracker.Get(ctx, testSubTicket)
			if err != nil {
				return 0, err
			}
			title := fmt.Sprintf("[Fix] %s (Attempt %d/10)", issue.Title, attempt)
			body := fmt.Sprintf("Failure: %s\n\nStack:\n%s\n\nLogs:\n%s\n\nRecent commits:\n%s",
				failure.Message, joinScenarios(failure.StackFrames), joinScenarios(failure.Logs), formatCommits(commits))
			labels := []string{"sub-issue", "fix-attempt", "implementation",
				fmt.Sprintf("master-%d", masterTicket), fmt.Sprintf("test-%d", testSubTicket), fmt.Sprintf("attempt-%d", attempt)}
			fixIssue, err := o.tracker.Create(ctx, title, body, labels)
			if err != nil {
				return 0, err
			}
			if err := o.tracker.Comment(ctx, testSubTicket, fmt.Sprintf("Fix attempt in #%d", fixIssue.Number)); err != nil {
				return 0, err
			}
			return fixIssue.Number, nil
		},
		RunFix: func(ctx context.Context, fixSubTicket int64) error {
			issue, err := o.tracker.Get(ctx, fixSubTicket)
			if err != nil {
				return err
			}
			wtRecord, err := o.worktree.Ensure(ctx, masterTicket, o.config.BaseBranch)
			if err != nil {
				return err
			}
			_, err = o.executor.Execute(ctx, agentexec.Request{
				Role: ports.RoleImplementation, Prompt: issue.Body, ProjectDir: wtRecord.Path,
				RunID: fmt.Sprintf("fix-%d", fixSubTicket), Timeout: o.config.ImplementationTimeout,
			}, nil)
			if err != nil {
				return err
			}
			if err := o.tracker.AddLabel(ctx, fixSubTicket, "agent-complete"); err != nil {
				return err
			}
			return poller.Wait(ctx, fixSubTicket, o.config.ImplementationTimeout)
		},
		DependentsOf: func(subTicket int64) []int64 {
			var dependents []int64
			for _, task := range tasks {
				for _, dep := range task.DependsOn {
					if subTickets[dep] == subTicket {
						dependents = append(dependents, subTickets[task.ID])
					}
				}
			}
			return dependents
		},
	}

	outcomes, err := orchestrator.RunTesting(ctx, tasks, subTickets, deps)
	for _, outcome := range outcomes {
		if outcome.MaxedOut {
			_ = o.tracker.AddLabel(ctx, outcome.SubTicket, "max-attempts-reached")
			if reporter := o.reporters[masterTicket]; reporter != nil {
				reporter.OnEvent(ctx, ports.EventTestMaxAttemptsReached, "test max attempts reached", fmt.Sprintf("#%d", outcome.SubTicket))
			}
		} else if outcome.FixAttempts > 0 && outcome.Passed {
			if reporter := o.reporters[masterTicket]; reporter != nil {
				reporter.OnEvent(ctx, ports.EventTestPassedAfterFix, "test passed after fix", fmt.Sprintf("#%d", outcome.SubTicket))
			}
		}
	}
	return err
}

func (o *Orchestrator) runCompletion(ctx context.Context, masterTicket int64) error {
	branch, err := o.worktree.CurrentBranch(ctx, masterTicket)
	if err != nil {
		return err
	}
	if err := o.worktree.Push(ctx, masterTicket); err != nil {
		return err
	}
	stats, err := o.worktree.Stats(ctx, masterTicket, o.config.BaseBranch)
	if err != nil {
		return err
	}

	issue, err := o.tracker.Get(ctx, masterTicket)
	if err != nil {
		return err
	}
	spec := composer.Parse(issue.Body).Block

	body := orchestrator.BuildChangeRequestBody(orchestrator.ChangeRequestInput{
		IssueNumber:   masterTicket,
		Specification: spec,
		Stats:         stats,
	})
	title := orchestrator.ChangeRequestTitle(masterTicket)

	prIssue, err := o.tracker.Create(ctx, title, body, []string{"orchestrated"})
	if err != nil {
		return err
	}

	if err := o.tracker.Comment(ctx, masterTicket, fmt.Sprintf("Change request opened from branch `%s`: #%d", branch, prIssue.Number)); err != nil {
		return err
	}
	if err := o.tracker.AddLabel(ctx, masterTicket, "pr-created"); err != nil {
		return err
	}

	if reporter := o.reporters[masterTicket]; reporter != nil {
		reporter.OnEvent(ctx, ports.EventOrchestrationComplete, "orchestration complete", fmt.Sprintf("#%d", prIssue.Number))
	}
	delete(o.reporters, masterTicket)
	delete(o.plans, masterTicket)

	if err := o.transition(ctx, masterTicket, orchestrator.StateCompleted); err != nil {
		return err
	}
	return o.transition(ctx, masterTicket, orchestrator.StatePRCreated)
}

func (o *Orchestrator) fail(ctx context.Context, masterTicket int64, cause error) {
	logging.Error(ctx, "orchestration failed", slog.Int64("ticket", masterTicket), slog.Any("err", errs.Loggable(cause)))
	if err := o.tracker.ReplaceStateLabel(ctx, masterTicket, string(orchestrator.StateFailed)); err != nil {
		logging.Warn(ctx, "failed to label ticket failed", slog.Any("err", errs.Loggable(err)))
	}
	if o.notifier != nil {
		o.notifier.Notify(ctx, ports.Notification{
			Kind: ports.EventOrchestrationFailed, Ticket: masterTicket,
			Title: "orchestration failed", Body: cause.Error(),
		})
	}
	if o.config.CleanupOnFailure {
		_ = o.worktree.Remove(ctx, masterTicket, true)
	}
	delete(o.reporters, masterTicket)
	delete(o.plans, masterTicket)
}

func (o *Orchestrator) notifyCritical(ctx context.Context, masterTicket int64, title string, logPath string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, ports.Notification{
		Kind: ports.EventCriticalError, Ticket: masterTicket, Title: title, AttachPath: logPath,
	})
}

func (o *Orchestrator) transition(ctx context.Context, ticket int64, next orchestrator.State) error {
	return o.tracker.ReplaceStateLabel(ctx, ticket, string(next))
}

// implementationTasks prefers the dependency graph produced by the
// in-process planning run; a process restart loses that graph, so a resumed
// run falls back to a flat scan by role label with no ordering between
// tasks.
func (o *Orchestrator) implementationTasks(ctx context.Context, masterTicket int64) (map[string]int64, []scheduling.Task, error) {
	if plan, ok := o.plans[masterTicket]; ok {
		return plan.SubTickets, schedulingTasksFrom(plan.ImplTasks), nil
	}
	subTickets, err := o.subTicketsByLabel(ctx, masterTicket, "implementation")
	if err != nil {
		return nil, nil, err
	}
	return subTickets, tasksFrom(subTickets), nil
}

func (o *Orchestrator) testTasks(ctx context.Context, masterTicket int64) (map[string]int64, []scheduling.Task, error) {
	if plan, ok := o.plans[masterTicket]; ok {
		return plan.SubTickets, schedulingTasksFrom(plan.TestTasks), nil
	}
	subTickets, err := o.subTicketsByLabel(ctx, masterTicket, "test")
	if err != nil {
		return nil, nil, err
	}
	return subTickets, tasksFrom(subTickets), nil
}

func (o *Orchestrator) subTicketsByLabel(ctx context.Context, masterTicket int64, roleLabel string) (map[string]int64, error) {
	issues, err := o.tracker.Search(ctx, ports.IssueFilter{Labels: []string{roleLabel, fmt.Sprintf("master-%d", masterTicket)}})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(issues))
	for _, issue := range issues {
		out[fmt.Sprintf("%d", issue.Number)] = issue.Number
	}
	return out, nil
}

func (o *Orchestrator) rowSource(masterTicket int64, planning orchestrator.PlanningResult) statusreport.RowSource {
	return func(ctx context.Context) ([]composer.TaskRow, error) {
		var rows []composer.TaskRow
		for taskID, subTicket := range planning.SubTickets {
			issue, err := o.tracker.Get(ctx, subTicket)
			if err != nil {
				return nil, err
			}
			state, _ := orchestrator.CurrentState(labelSet(issue.Labels))
			rows = append(rows, composer.TaskRow{
				SubTicket: subTicket,
				Title:     issue.Title,
				State:     string(state),
				IsTest:    isTestTask(planning, taskID),
			})
		}
		return rows, nil
	}
}

func isTestTask(planning orchestrator.PlanningResult, taskID string) bool {
	for _, task := range planning.TestTasks {
		if task.ID == taskID {
			return true
		}
	}
	return false
}

func labelSet(labels []string) orchestrator.LabelSet {
	set := make(orchestrator.LabelSet, len(labels))
	for _, label := range labels {
		set[label] = struct{}{}
	}
	return set
}

func tasksFrom(subTickets map[string]int64) []scheduling.Task {
	tasks := make([]scheduling.Task, 0, len(subTickets))
	for id := range subTickets {
		tasks = append(tasks, scheduling.Task{ID: id})
	}
	return tasks
}

func schedulingTasksFrom(planned []orchestrator.PlannedTask) []scheduling.Task {
	tasks := make([]scheduling.Task, 0, len(planned))
	for _, task := range planned {
		tasks = append(tasks, scheduling.Task{ID: task.ID, DependsOn: task.DependsOn})
	}
	return tasks
}

func hasAny(labels []string, targets ...string) bool {
	for _, label := range labels {
		for _, target := range targets {
			if label == target {
				return true
			}
		}
	}
	return false
}

func joinScenarios(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += "\n"
		}
		out += "- " + item
	}
	return out
}

func formatCommits(commits []ports.CommitSummary) string {
	out := ""
	for i, commit := range commits {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("- %s %s (%s, %s)", commit.ShortHash, commit.Subject, commit.Author, commit.Date)
	}
	return out
}
