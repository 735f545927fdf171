package ports

import "context"

// WorktreeRecord is the persisted mapping from a ticket to its isolated
// working copy.
type WorktreeRecord struct {
	TicketID  int64
	Path      string
	Branch    string
	CreatedAt string
}

// WorktreeStore persists WorktreeRecords. Get returns (WorktreeRecord{},
// false, nil) when no row exists for ticketID.
type WorktreeStore interface {
	Get(ctx context.Context, ticketID int64) (WorktreeRecord, bool, error)
	Save(ctx context.Context, record WorktreeRecord) error
	Delete(ctx context.Context, ticketID int64) error
}

// CommitSummary is one commit's short-hash/subject/author/date, the shape
// the Completion Stage and self-heal fix prompts both quote.
type CommitSummary struct {
	ShortHash string
	Subject   string
	Author    string
	Date      string
}

// ChangeStats summarizes a branch's diff against a base branch.
type ChangeStats struct {
	Commits      []CommitSummary
	ChangedFiles []string
}
