package ports

import "context"

// Issue is the tracker-agnostic view of a ticket the orchestrator operates
// on, whether it is backed by GitHub or the local sqlite adapter.
type Issue struct {
	Number    int64
	Title     string
	Body      string
	Labels    []string
	Assignee  string
	IsClosed  bool
	CreatedAt string
	UpdatedAt string
}

// IssueFilter selects tickets for the Source Poller and for sub-ticket
// listing during resume.
type IssueFilter struct {
	Labels        []string
	ExcludeLabels []string
	IncludeClosed bool
}

// IssueTracker is the capability interface the core consumes for all
// tracker state: create, label, comment, and close a ticket, and search for
// tickets by label. GitHub and local sqlite adapters both implement it.
type IssueTracker interface {
	Search(ctx context.Context, filter IssueFilter) ([]Issue, error)
	Get(ctx context.Context, number int64) (Issue, error)
	Create(ctx context.Context, title string, body string, labels []string) (Issue, error)
	UpdateBody(ctx context.Context, number int64, body string) error
	Comment(ctx context.Context, number int64, body string) error
	AddLabel(ctx context.Context, number int64, label string) error
	RemoveLabel(ctx context.Context, number int64, label string) error
	ReplaceStateLabel(ctx context.Context, number int64, label string) error
	SetAssignee(ctx context.Context, number int64, assignee string) error
	Close(ctx context.Context, number int64) error
}
