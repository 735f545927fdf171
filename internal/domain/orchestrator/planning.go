package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"orchestrix/internal/domain/composer"
	"orchestrix/internal/ports"
)

// ErrIncompleteSpecification is returned when the Architect's output is
// missing a required field.
var ErrIncompleteSpecification = errors.New("incomplete specification")

// ErrEmptyTaskList is returned when Sculptor or Sentinel produce no tasks.
var ErrEmptyTaskList = errors.New("empty task list")

// Specification is the Architect's structured output.
type Specification struct {
	Requirements        string   `json:"requirements"`
	AcceptanceCriteria  []string `json:"acceptance_criteria"`
	TechnicalApproach   string   `json:"technical_approach"`
}

func (s Specification) validate() error {
	if s.Requirements == "" || len(s.AcceptanceCriteria) == 0 || s.TechnicalApproach == "" {
		return fmt.Errorf("%w: requires requirements, acceptance_criteria, technical_approach", ErrIncompleteSpecification)
	}
	return nil
}

// PlannedTask is one item Sculptor or Sentinel proposed.
type PlannedTask struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	TestScenarios  []string `json:"test_scenarios"`
	IsTest         bool     `json:"-"`
	DependsOn      []string `json:"depends_on"`
}

func (t PlannedTask) validate() error {
	if t.ID == "" || t.Title == "" {
		return fmt.Errorf("task missing id or title")
	}
	if t.IsTest {
		if len(t.TestScenarios) == 0 {
			return fmt.Errorf("test task %q missing test_scenarios", t.ID)
		}
	} else if t.Description == "" {
		return fmt.Errorf("implementation task %q missing description", t.ID)
	}
	return nil
}

// ParseTaskList unmarshals raw JSON into a validated, non-empty task list,
// marking each entry as a test task or not.
func ParseTaskList(raw string, isTest bool) ([]PlannedTask, error) {
	var tasks []PlannedTask
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return nil, fmt.Errorf("parse task list: %w", err)
	}
	if len(tasks) == 0 {
		return nil, ErrEmptyTaskList
	}
	for i := range tasks {
		tasks[i].IsTest = isTest
		if err := tasks[i].validate(); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// ParseSpecification unmarshals and validates the Architect's JSON output.
func ParseSpecification(raw string) (Specification, error) {
	var spec Specification
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return Specification{}, fmt.Errorf("parse specification: %w", err)
	}
	if err := spec.validate(); err != nil {
		return Specification{}, err
	}
	return spec, nil
}

// AgentRunner invokes one agent role with a prompt and returns its raw text
// response. It abstracts over the concrete agentexec.Executor so this
// package stays free of infrastructure imports.
type AgentRunner func(ctx context.Context, role ports.AgentRole, prompt string) (string, error)

// TicketCreator creates a sub-ticket for one planned task.
type TicketCreator func(ctx context.Context, task PlannedTask, roleLabel string, masterTicket int64) (ports.Issue, error)

// PlanningResult is what the Planning Stage hands to the Orchestrator.
type PlanningResult struct {
	Specification Specification
	ImplTasks     []PlannedTask
	TestTasks     []PlannedTask
	SubTickets    map[string]int64 // task id -> sub-ticket number
}

// RunPlanning executes the Architect, then Sculptor and Sentinel in
// parallel, then creates one sub-ticket per task. masterBody is the current
// body of the master ticket (used to extract the original request).
func RunPlanning(ctx context.Context, run AgentRunner, create TicketCreator, masterTicket int64, masterBody string) (PlanningResult, string, error) {
	original := composer.Parse(masterBody).Original
	if original == "" {
		original = masterBody
	}

	architectOut, err := run(ctx, ports.RoleArchitect, original)
	if err != nil {
		return PlanningResult{}, "", fmt.Errorf("architect: %w", err)
	}
	spec, err := ParseSpecification(architectOut)
	if err != nil {
		return PlanningResult{}, "", err
	}

	specPrompt := fmt.Sprintf("Requirements:\n%s\n\nAcceptance criteria:\n- %s\n\nTechnical approach:\n%s",
		spec.Requirements, joinLines(spec.AcceptanceCriteria), spec.TechnicalApproach)

	var (
		implTasks, testTasks []PlannedTask
		implErr, testErr     error
		wg                   sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		out, err := run(ctx, ports.RoleSculptor, specPrompt)
		if err != nil {
			implErr = fmt.Errorf("sculptor: %w", err)
			return
		}
		implTasks, implErr = ParseTaskList(out, false)
	}()
	go func() {
		defer wg.Done()
		out, err := run(ctx, ports.RoleSentinel, specPrompt)
		if err != nil {
			testErr = fmt.Errorf("sentinel: %w", err)
			return
		}
		testTasks, testErr = ParseTaskList(out, true)
	}()
	wg.Wait()

	if implErr != nil {
		return PlanningResult{}, "", implErr
	}
	if testErr != nil {
		return PlanningResult{}, "", testErr
	}

	result := PlanningResult{Specification: spec, ImplTasks: implTasks, TestTasks: testTasks, SubTickets: map[string]int64{}}

	allTasks := append(append([]PlannedTask(nil), implTasks...), testTasks...)
	var planTasks []composer.Task
	for _, task := range allTasks {
		roleLabel := "implementation"
		if task.IsTest {
			roleLabel = "test"
		}
		issue, err := create(ctx, task, roleLabel, masterTicket)
		if err != nil {
			return PlanningResult{}, "", fmt.Errorf("create sub-ticket for task %q: %w", task.ID, err)
		}
		result.SubTickets[task.ID] = issue.Number
		planTasks = append(planTasks, composer.Task{Title: task.Title, SubTicket: issue.Number})
	}

	body := composer.Build(composer.BuildInput{
		OriginalRequest: original,
		Specification:   specPrompt,
		Tasks:           planTasks,
	})

	return result, body, nil
}

func joinLines(lines []string) string {
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n- "
		}
		out += line
	}
	return out
}
