package orchestrator

import (
	"context"
	"strings"
	"testing"

	"orchestrix/internal/ports"
)

func TestParseSpecificationRequiresAllFields(t *testing.T) {
	_, err := ParseSpecification(`{"requirements":"x"}`)
	if err == nil {
		t.Fatal("expected error for missing fields")
	}
}

func TestParseSpecificationAccepts(t *testing.T) {
	raw := `{"requirements":"r","acceptance_criteria":["a"],"technical_approach":"t"}`
	spec, err := ParseSpecification(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Requirements != "r" {
		t.Fatalf("unexpected requirements: %q", spec.Requirements)
	}
}

func TestParseTaskListRejectsEmpty(t *testing.T) {
	_, err := ParseTaskList(`[]`, false)
	if err != ErrEmptyTaskList {
		t.Fatalf("expected ErrEmptyTaskList, got %v", err)
	}
}

func TestParseTaskListRequiresTestScenariosForTests(t *testing.T) {
	_, err := ParseTaskList(`[{"id":"t1","title":"check auth"}]`, true)
	if err == nil {
		t.Fatal("expected error for missing test_scenarios")
	}
}

func TestRunPlanningCreatesOneSubTicketPerTask(t *testing.T) {
	run := func(ctx context.Context, role ports.AgentRole, prompt string) (string, error) {
		switch role {
		case ports.RoleArchitect:
			return `{"requirements":"r","acceptance_criteria":["a"],"technical_approach":"t"}`, nil
		case ports.RoleSculptor:
			return `[{"id":"impl-1","title":"build it","description":"do the thing"}]`, nil
		case ports.RoleSentinel:
			return `[{"id":"test-1","title":"test it","test_scenarios":["happy path"]}]`, nil
		}
		return "", nil
	}

	var created []string
	nextNumber := int64(100)
	create := func(ctx context.Context, task PlannedTask, roleLabel string, masterTicket int64) (ports.Issue, error) {
		created = append(created, task.ID)
		nextNumber++
		return ports.Issue{Number: nextNumber, Title: task.Title}, nil
	}

	result, body, err := RunPlanning(context.Background(), run, create, 1, "please build a widget")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 sub-tickets created, got %d", len(created))
	}
	if result.SubTickets["impl-1"] == 0 || result.SubTickets["test-1"] == 0 {
		t.Fatalf("expected both tasks mapped to sub-tickets, got %+v", result.SubTickets)
	}
	if !strings.Contains(body, "please build a widget") {
		t.Fatal("expected original request preserved in body")
	}
}

func TestRunPlanningPropagatesSculptorFailure(t *testing.T) {
	run := func(ctx context.Context, role ports.AgentRole, prompt string) (string, error) {
		switch role {
		case ports.RoleArchitect:
			return `{"requirements":"r","acceptance_criteria":["a"],"technical_approach":"t"}`, nil
		case ports.RoleSculptor:
			return `not json`, nil
		case ports.RoleSentinel:
			return `[{"id":"test-1","title":"test it","test_scenarios":["happy path"]}]`, nil
		}
		return "", nil
	}
	create := func(ctx context.Context, task PlannedTask, roleLabel string, masterTicket int64) (ports.Issue, error) {
		return ports.Issue{Number: 1}, nil
	}

	_, _, err := RunPlanning(context.Background(), run, create, 1, "req")
	if err == nil {
		t.Fatal("expected error from malformed sculptor output")
	}
}
