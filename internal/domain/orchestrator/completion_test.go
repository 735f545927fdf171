package orchestrator

import (
	"strings"
	"testing"

	"orchestrix/internal/ports"
)

func TestChangeRequestTitleFormat(t *testing.T) {
	if got := ChangeRequestTitle(42); got != "[orch] Issue #42" {
		t.Fatalf("unexpected title: %q", got)
	}
}

func TestBuildChangeRequestBodyIncludesStatsAndClosesClause(t *testing.T) {
	body := BuildChangeRequestBody(ChangeRequestInput{
		IssueNumber:   7,
		Specification: "build a widget",
		ImplPassed:    2,
		ImplTotal:     2,
		TestPassed:    3,
		TestTotal:     3,
		Stats: ports.ChangeStats{
			Commits:      []ports.CommitSummary{{ShortHash: "abc123", Subject: "add widget", Author: "jane", Date: "2026-01-01"}},
			ChangedFiles: []string{"widget.go"},
		},
	})

	if !strings.Contains(body, "2/2 tasks completed") {
		t.Fatal("expected implementation tally in body")
	}
	if !strings.Contains(body, "abc123") {
		t.Fatal("expected commit hash in body")
	}
	if !strings.Contains(body, "Closes #7") {
		t.Fatal("expected closes clause")
	}
}

func TestEnsureClosesClauseIsIdempotent(t *testing.T) {
	body := "some body\n\nCloses #3\n"
	got := EnsureClosesClause(body, 3)
	if strings.Count(got, "Closes #3") != 1 {
		t.Fatalf("expected exactly one closes clause, got %q", got)
	}
}
