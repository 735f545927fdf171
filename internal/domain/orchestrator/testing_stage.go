package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"orchestrix/internal/domain/scheduling"
	"orchestrix/internal/ports"
)

const maxFixAttempts = 10

var (
	failureLinePattern = regexp.MustCompile(`(?m)^(Error|AssertionError|FAILED|Exception):\s*(.+)$`)
	stackFramePattern  = regexp.MustCompile(`(?m)^\s*at\s+\S+:\d+:\d+\s*$`)
	fencedCodePattern  = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")
)

// FailureContext is what Phase C extracts from a failed test ticket's last
// comment before creating a fix sub-ticket.
type FailureContext struct {
	Message     string
	StackFrames []string
	Logs        []string
}

// ExtractFailureContext parses the first matching failure line, up to 10
// stack frames, and every fenced code block out of comment.
func ExtractFailureContext(comment string) FailureContext {
	ctx := FailureContext{Message: "no failure details found"}

	if match := failureLinePattern.FindStringSubmatch(comment); match != nil {
		ctx.Message = fmt.Sprintf("%s: %s", match[1], strings.TrimSpace(match[2]))
	}

	frames := stackFramePattern.FindAllString(comment, -1)
	for i, frame := range frames {
		if i >= 10 {
			break
		}
		ctx.StackFrames = append(ctx.StackFrames, strings.TrimSpace(frame))
	}

	for _, block := range fencedCodePattern.FindAllStringSubmatch(comment, -1) {
		if len(block) == 2 {
			ctx.Logs = append(ctx.Logs, strings.TrimSpace(block[1]))
		}
	}

	return ctx
}

// TestRunner executes one test sub-ticket's agent to completion and reports
// pass/fail by re-reading the ticket's labels afterward.
type TestRunner func(ctx context.Context, subTicket int64) (passed bool, err error)

// FixTicketCreator creates a fix sub-ticket for a failing test, attempt
// numbered 1..10.
type FixTicketCreator func(ctx context.Context, testSubTicket int64, attempt int, failure FailureContext, commits []ports.CommitSummary) (fixSubTicket int64, err error)

// FixRunner runs the implementation agent against a fix sub-ticket and
// polls it to completion.
type FixRunner func(ctx context.Context, fixSubTicket int64) error

// CommentLoader fetches the most recent comment on subTicket, used to
// locate the failure details to parse.
type CommentLoader func(ctx context.Context, subTicket int64) (string, error)

// CommitHistoryLoader returns the most recent commits for a fix sub-ticket
// prompt's "recent history" section.
type CommitHistoryLoader func(ctx context.Context, limit int) ([]ports.CommitSummary, error)

// TestOutcome is one test sub-ticket's final status after self-heal.
type TestOutcome struct {
	SubTicket   int64
	Passed      bool
	FixAttempts int
	MaxedOut    bool
}

// SelfHealDeps bundles the callbacks RunTesting needs, kept as an explicit
// struct because the stage has more moving parts than a single func value
// comfortably threads through.
type SelfHealDeps struct {
	RunTest       TestRunner
	LoadComment   CommentLoader
	LoadCommits   CommitHistoryLoader
	CreateFix     FixTicketCreator
	RunFix        FixRunner
	DependentsOf  func(subTicket int64) []int64
}

// RunTesting resolves test tasks into batches, runs Phase A/B/C/D of the
// self-heal loop, and returns the aggregated per-test outcome. It fails the
// stage if any test ends maxed out, or if a dependent-test regression is
// detected after a fix.
func RunTesting(ctx context.Context, tasks []scheduling.Task, subTickets map[string]int64, deps SelfHealDeps) ([]TestOutcome, error) {
	batches, err := scheduling.Resolve(tasks)
	if err != nil {
		return nil, fmt.Errorf("resolve test batches: %w", err)
	}

	results := map[int64]*TestOutcome{}
	for _, batch := range batches {
		for _, taskID := range batch {
			subTicket := subTickets[taskID]
			passed, runErr := deps.RunTest(ctx, subTicket)
			if runErr != nil {
				return nil, fmt.Errorf("run test %d: %w", subTicket, runErr)
			}
			results[subTicket] = &TestOutcome{SubTicket: subTicket, Passed: passed}
		}
	}

	for _, outcome := range results {
		if outcome.Passed {
			continue
		}
		if err := selfHeal(ctx, outcome, deps, results); err != nil {
			return outcomesOf(results), err
		}
	}

	out := outcomesOf(results)
	for _, outcome := range out {
		if outcome.MaxedOut {
			return out, fmt.Errorf("test %d reached max fix attempts without passing", outcome.SubTicket)
		}
	}
	return out, nil
}

func selfHeal(ctx context.Context, outcome *TestOutcome, deps SelfHealDeps, all map[int64]*TestOutcome) error {
	for attempt := 1; attempt <= maxFixAttempts; attempt++ {
		outcome.FixAttempts = attempt

		comment, err := deps.LoadComment(ctx, outcome.SubTicket)
		if err != nil {
			return fmt.Errorf("load failure comment for test %d: %w", outcome.SubTicket, err)
		}
		failure := ExtractFailureContext(comment)

		commits, err := deps.LoadCommits(ctx, 5)
		if err != nil {
			return fmt.Errorf("load recent commits for test %d: %w", outcome.SubTicket, err)
		}

		fixSubTicket, err := deps.CreateFix(ctx, outcome.SubTicket, attempt, failure, commits)
		if err != nil {
			return fmt.Errorf("create fix ticket for test %d attempt %d: %w", outcome.SubTicket, attempt, err)
		}

		if err := deps.RunFix(ctx, fixSubTicket); err != nil {
			return fmt.Errorf("run fix ticket %d: %w", fixSubTicket, err)
		}

		passed, err := deps.RunTest(ctx, outcome.SubTicket)
		if err != nil {
			return fmt.Errorf("re-run test %d after fix: %w", outcome.SubTicket, err)
		}

		if passed {
			outcome.Passed = true
			if deps.DependentsOf != nil {
				for _, dependent := range deps.DependentsOf(outcome.SubTicket) {
					dependentPassed, err := deps.RunTest(ctx, dependent)
					if err != nil {
						return fmt.Errorf("re-run dependent test %d: %w", dependent, err)
					}
					if !dependentPassed {
						return fmt.Errorf("dependent test %d regressed after fixing test %d", dependent, outcome.SubTicket)
					}
					if dep, ok := all[dependent]; ok {
						dep.Passed = true
					}
				}
			}
			return nil
		}
	}

	outcome.MaxedOut = true
	return nil
}

func outcomesOf(results map[int64]*TestOutcome) []TestOutcome {
	out := make([]TestOutcome, 0, len(results))
	for _, outcome := range results {
		out = append(out, *outcome)
	}
	return out
}
