// Package composer builds and parses the master ticket body: the
// orchestration block containing the specification, the quoted original
// request, the plan summary, and the live status table.
package composer

import (
	"fmt"
	"strings"
)

const (
	blockHeading     = "## Orchestration"
	blockBegin       = "<!-- orchestrix:block:begin -->"
	blockEnd         = "<!-- orchestrix:block:end -->"
	tableBegin       = "<!-- orchestrix:status-table:begin -->"
	tableEnd         = "<!-- orchestrix:status-table:end -->"
	tablePlaceholder = "_pending first status update_"
)

// ParsedBody splits a ticket body into the caller's original request and
// the orchestration block, if present.
type ParsedBody struct {
	Original string
	Block    string
	Present  bool
}

// Parse extracts the orchestration block from body, if one exists.
func Parse(body string) ParsedBody {
	start := strings.Index(body, blockBegin)
	if start < 0 {
		return ParsedBody{Original: strings.TrimSpace(body)}
	}
	end := strings.Index(body, blockEnd)
	if end < 0 || end < start {
		return ParsedBody{Original: strings.TrimSpace(body)}
	}

	original := strings.TrimSpace(body[:start])
	block := strings.TrimSpace(body[start : end+len(blockEnd)])
	return ParsedBody{Original: original, Block: block, Present: true}
}

// Task is one planned unit of work summarized in the plan section.
type Task struct {
	Title     string
	SubTicket int64
}

// BuildInput supplies everything Build needs to render a fresh orchestration
// block.
type BuildInput struct {
	OriginalRequest string
	Specification   string
	Tasks           []Task
	StatusTable     string
}

// Build renders a full ticket body: the original request as-is, followed by
// the orchestration block (specification, the original request quoted, plan
// summary, status table).
func Build(input BuildInput) string {
	var b strings.Builder

	original := strings.TrimSpace(input.OriginalRequest)
	if original != "" {
		fmt.Fprintf(&b, "%s\n\n", original)
	}

	b.WriteString(blockBegin)
	b.WriteString("\n")
	b.WriteString(blockHeading)
	b.WriteString("\n\n")

	b.WriteString("### Specification\n\n")
	spec := strings.TrimSpace(input.Specification)
	if spec == "" {
		spec = "_pending_"
	}
	fmt.Fprintf(&b, "%s\n\n", spec)

	b.WriteString("### Original request\n\n")
	if original == "" {
		b.WriteString("_none_\n\n")
	} else {
		for _, line := range strings.Split(original, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}

	b.WriteString("### Plan\n\n")
	if len(input.Tasks) == 0 {
		b.WriteString("_pending_\n\n")
	} else {
		fmt.Fprintf(&b, "%d task(s):\n\n", len(input.Tasks))
		for _, task := range input.Tasks {
			fmt.Fprintf(&b, "- #%d %s\n", task.SubTicket, task.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("### Status\n\n")
	table := strings.TrimSpace(input.StatusTable)
	if table == "" {
		table = tablePlaceholder
	}
	b.WriteString(tableBegin)
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s\n", table)
	b.WriteString(tableEnd)
	b.WriteString("\n")

	b.WriteString(blockEnd)
	b.WriteString("\n")

	return b.String()
}

// ReplaceStatusTable rewrites only the status-table subregion of body,
// leaving the specification, original request, and plan untouched. It
// fails if body has no status-table markers.
func ReplaceStatusTable(body string, newTable string) (string, error) {
	start := strings.Index(body, tableBegin)
	end := strings.Index(body, tableEnd)
	if start < 0 || end < 0 || end < start {
		return "", fmt.Errorf("status table markers not found in body")
	}

	table := strings.TrimSpace(newTable)
	if table == "" {
		table = tablePlaceholder
	}

	before := body[:start+len(tableBegin)]
	after := body[end:]
	return before + "\n" + table + "\n" + after, nil
}
