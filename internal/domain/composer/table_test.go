package composer

import (
	"strings"
	"testing"
)

func TestRenderStatusTableEmptyReturnsPlaceholder(t *testing.T) {
	if got := RenderStatusTable(nil); got != tablePlaceholder {
		t.Fatalf("expected placeholder, got %q", got)
	}
}

func TestRenderStatusTableTruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", 80)
	table := RenderStatusTable([]TaskRow{{SubTicket: 1, Title: "impl", State: "state:implementing", AgentMessage: long}})
	if strings.Contains(table, long) {
		t.Fatal("expected long message to be truncated")
	}
	if !strings.Contains(table, "…") {
		t.Fatal("expected truncation marker")
	}
}

func TestRenderStatusTableShowsFixAttemptsForTestRows(t *testing.T) {
	table := RenderStatusTable([]TaskRow{{SubTicket: 2, Title: "run tests", State: "state:testing", IsTest: true, FixAttempt: 3}})
	if !strings.Contains(table, "fix 3/10") {
		t.Fatalf("expected fix-attempt counter in table, got %q", table)
	}
}

func TestRenderStatusTableFallsBackToBulletForUnknownState(t *testing.T) {
	table := RenderStatusTable([]TaskRow{{SubTicket: 3, Title: "task", State: "state:unknown"}})
	if !strings.Contains(table, "| • |") {
		t.Fatalf("expected fallback bullet for unknown state, got %q", table)
	}
}
