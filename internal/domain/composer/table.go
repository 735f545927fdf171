package composer

import (
	"fmt"
	"strings"
)

// stateEmoji renders a short marker for each orchestration state so the
// status table stays scannable at a glance.
var stateEmoji = map[string]string{
	"state:planning":          "📝",
	"state:awaiting-approval": "⏸️",
	"state:approved":          "✅",
	"state:rejected":          "❌",
	"state:implementing":      "🛠️",
	"state:testing":           "🧪",
	"state:completing":        "🏁",
	"state:completed":         "✔️",
	"state:pr-created":        "🔀",
	"state:failed":            "💥",
}

// TaskRow is one sub-ticket's rendered state for the status table.
type TaskRow struct {
	SubTicket    int64
	Title        string
	State        string
	AgentMessage string
	ToolsUsed    int
	RetryCount   int
	LastRetryAge string
	IsTest       bool
	FixAttempt   int
	MaxFixes     int
}

// RenderStatusTable builds the markdown status table listed in the
// orchestration block: one row per sub-ticket, with an emoji for its state,
// a truncated latest agent message, tool/retry counters, and (for test
// rows) the fix-attempt counter, a wrench emoji once a fix attempt has
// started, and a "max" marker once the cap is reached.
func RenderStatusTable(rows []TaskRow) string {
	if len(rows) == 0 {
		return tablePlaceholder
	}

	var b strings.Builder
	b.WriteString("| | Task | # | Message | Tools | Retries | Last retry |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")

	for _, row := range rows {
		emoji := stateEmoji[row.State]
		if emoji == "" {
			emoji = "•"
		}
		title := row.Title
		if row.IsTest {
			max := row.MaxFixes
			if max == 0 {
				max = 10
			}
			title = fmt.Sprintf("%s (fix %d/%d)", title, row.FixAttempt, max)
			if row.FixAttempt > 0 {
				emoji = "🔧"
			}
			if row.FixAttempt >= max {
				title += " max"
			}
		}

		message := truncate(row.AgentMessage, 50)
		lastRetry := row.LastRetryAge
		if lastRetry == "" {
			lastRetry = "-"
		}

		fmt.Fprintf(&b, "| %s | %s | #%d | %s | %d | %d | %s |\n",
			emoji, title, row.SubTicket, message, row.ToolsUsed, row.RetryCount, lastRetry)
	}

	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
