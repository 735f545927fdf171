package orchestrator

import (
	"fmt"
	"strings"

	"orchestrix/internal/ports"
)

// ChangeRequestInput is what BuildChangeRequestBody needs to render the
// pull/merge-request body the Completion Stage opens.
type ChangeRequestInput struct {
	IssueNumber   int64
	Specification string
	ImplPassed    int
	ImplTotal     int
	TestPassed    int
	TestTotal     int
	Stats         ports.ChangeStats
}

// ChangeRequestTitle is the fixed title format for the change request the
// Completion Stage opens.
func ChangeRequestTitle(issueNumber int64) string {
	return fmt.Sprintf("[orch] Issue #%d", issueNumber)
}

// BuildChangeRequestBody renders the change-request body: spec summary,
// implementation/test tallies, commit and changed-file stats.
func BuildChangeRequestBody(input ChangeRequestInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Specification\n\n%s\n\n", strings.TrimSpace(input.Specification))
	fmt.Fprintf(&b, "## Results\n\n- Implementation: %d/%d tasks completed\n- Tests: %d/%d passed\n\n",
		input.ImplPassed, input.ImplTotal, input.TestPassed, input.TestTotal)

	b.WriteString("## Commits\n\n")
	if len(input.Stats.Commits) == 0 {
		b.WriteString("_no commits_\n\n")
	} else {
		for _, commit := range input.Stats.Commits {
			fmt.Fprintf(&b, "- `%s` %s (%s, %s)\n", commit.ShortHash, commit.Subject, commit.Author, commit.Date)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Changed files\n\n")
	if len(input.Stats.ChangedFiles) == 0 {
		b.WriteString("_no files changed_\n")
	} else {
		for _, file := range input.Stats.ChangedFiles {
			fmt.Fprintf(&b, "- %s\n", file)
		}
	}

	return EnsureClosesClause(b.String(), input.IssueNumber)
}

// EnsureClosesClause appends "Closes #<N>" to body if it is not already
// present, so merging the change request auto-closes the ticket.
func EnsureClosesClause(body string, issueNumber int64) string {
	clause := fmt.Sprintf("Closes #%d", issueNumber)
	if strings.Contains(body, clause) {
		return body
	}
	return strings.TrimRight(body, "\n") + "\n\n" + clause + "\n"
}
