// Package github implements ports.IssueTracker against the GitHub REST API.
package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"orchestrix/internal/ports"
)

// Tracker adapts a repository's issues to ports.IssueTracker.
type Tracker struct {
	client *github.Client
	owner  string
	repo   string
}

// New builds a Tracker authenticated with a static personal access token.
func New(token string, owner string, repo string) *Tracker {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	return &Tracker{client: client, owner: owner, repo: repo}
}

// NewWithAppInstallation builds a Tracker authenticated as a GitHub App
// installation, for deployments that prefer app credentials to a static PAT.
func NewWithAppInstallation(appID int64, installationID int64, privateKeyPEM []byte, owner string, repo string) (*Tracker, error) {
	transport, err := ghinstallation.New(http.DefaultTransport, appID, installationID, privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("build github app transport: %w", err)
	}
	client := github.NewClient(&http.Client{Transport: transport})
	return &Tracker{client: client, owner: owner, repo: repo}, nil
}

func (t *Tracker) Search(ctx context.Context, filter ports.IssueFilter) ([]ports.Issue, error) {
	query := fmt.Sprintf("repo:%s/%s is:issue", t.owner, t.repo)
	if !filter.IncludeClosed {
		query += " is:open"
	}
	for _, label := range filter.Labels {
		query += fmt.Sprintf(" label:%q", label)
	}
	for _, label := range filter.ExcludeLabels {
		query += fmt.Sprintf(" -label:%q", label)
	}

	result, _, err := t.client.Search.Issues(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}

	out := make([]ports.Issue, 0, len(result.Issues))
	for _, issue := range result.Issues {
		out = append(out, toPortIssue(issue))
	}
	return out, nil
}

func (t *Tracker) Get(ctx context.Context, number int64) (ports.Issue, error) {
	issue, _, err := t.client.Issues.Get(ctx, t.owner, t.repo, int(number))
	if err != nil {
		return ports.Issue{}, fmt.Errorf("get issue #%d: %w", number, err)
	}
	return toPortIssue(issue), nil
}

func (t *Tracker) Create(ctx context.Context, title string, body string, labels []string) (ports.Issue, error) {
	issue, _, err := t.client.Issues.Create(ctx, t.owner, t.repo, &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	if err != nil {
		return ports.Issue{}, fmt.Errorf("create issue: %w", err)
	}
	return toPortIssue(issue), nil
}

func (t *Tracker) UpdateBody(ctx context.Context, number int64, body string) error {
	_, _, err := t.client.Issues.Edit(ctx, t.owner, t.repo, int(number), &github.IssueRequest{Body: &body})
	if err != nil {
		return fmt.Errorf("update body of issue #%d: %w", number, err)
	}
	return nil
}

func (t *Tracker) Comment(ctx context.Context, number int64, body string) error {
	_, _, err := t.client.Issues.CreateComment(ctx, t.owner, t.repo, int(number), &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("comment on issue #%d: %w", number, err)
	}
	return nil
}

func (t *Tracker) AddLabel(ctx context.Context, number int64, label string) error {
	_, _, err := t.client.Issues.AddLabelsToIssue(ctx, t.owner, t.repo, int(number), []string{label})
	if err != nil {
		return fmt.Errorf("add label %q to issue #%d: %w", label, number, err)
	}
	return nil
}

func (t *Tracker) RemoveLabel(ctx context.Context, number int64, label string) error {
	_, err := t.client.Issues.RemoveLabelForIssue(ctx, t.owner, t.repo, int(number), label)
	if err != nil {
		return fmt.Errorf("remove label %q from issue #%d: %w", label, number, err)
	}
	return nil
}

// ReplaceStateLabel removes every "state:*" label present and adds next,
// mirroring the State Store's remove-current-add-new contract at the
// tracker boundary.
func (t *Tracker) ReplaceStateLabel(ctx context.Context, number int64, next string) error {
	issue, err := t.Get(ctx, number)
	if err != nil {
		return err
	}
	for _, label := range issue.Labels {
		if len(label) > 6 && label[:6] == "state:" && label != next {
			if err := t.RemoveLabel(ctx, number, label); err != nil {
				return err
			}
		}
	}
	return t.AddLabel(ctx, number, next)
}

func (t *Tracker) SetAssignee(ctx context.Context, number int64, assignee string) error {
	_, _, err := t.client.Issues.AddAssignees(ctx, t.owner, t.repo, int(number), []string{assignee})
	if err != nil {
		return fmt.Errorf("assign issue #%d to %q: %w", number, assignee, err)
	}
	return nil
}

func (t *Tracker) Close(ctx context.Context, number int64) error {
	state := "closed"
	_, _, err := t.client.Issues.Edit(ctx, t.owner, t.repo, int(number), &github.IssueRequest{State: &state})
	if err != nil {
		return fmt.Errorf("close issue #%d: %w", number, err)
	}
	return nil
}

func toPortIssue(issue *github.Issue) ports.Issue {
	out := ports.Issue{
		Number:   int64(issue.GetNumber()),
		Title:    issue.GetTitle(),
		Body:     issue.GetBody(),
		IsClosed: issue.GetState() == "closed",
	}
	if issue.Assignee != nil {
		out.Assignee = issue.Assignee.GetLogin()
	}
	for _, label := range issue.Labels {
		out.Labels = append(out.Labels, label.GetName())
	}
	if issue.CreatedAt != nil {
		out.CreatedAt = issue.CreatedAt.String()
	}
	if issue.UpdatedAt != nil {
		out.UpdatedAt = issue.UpdatedAt.String()
	}
	return out
}
