// Package worktree manages the isolated git working copy bound to each
// ticket's orchestration run: one branch, one worktree, one registry row.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/errs"
	"orchestrix/internal/ports"
)

var errWorktreeDirty = errors.New("worktree has uncommitted changes")

// Manager creates and removes per-ticket git worktrees, keeping
// ports.WorktreeStore as the write-through registry of truth.
type Manager struct {
	repoDir     string
	allowedRoot string
	repoName    string
	store       ports.WorktreeStore
	runGit      func(context.Context, ...string) ([]byte, error)
}

// New builds a Manager. repoDir is the git repository the worktrees are
// created from; allowedRoot bounds every worktree path; repoName is used to
// derive the per-ticket worktree directory name.
func New(repoDir string, allowedRoot string, repoName string, store ports.WorktreeStore) (*Manager, error) {
	repoAbs, err := filepath.Abs(strings.TrimSpace(repoDir))
	if err != nil {
		return nil, errs.Wrap(err, "resolve repo dir abs path")
	}
	rootAbs, err := filepath.Abs(strings.TrimSpace(allowedRoot))
	if err != nil {
		return nil, errs.Wrap(err, "resolve worktree root abs path")
	}
	repoName = strings.TrimSpace(repoName)
	if repoName == "" {
		return nil, errors.New("repo name is required")
	}

	return &Manager{
		repoDir:     repoAbs,
		allowedRoot: rootAbs,
		repoName:    repoName,
		store:       store,
		runGit: func(ctx context.Context, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, "git", args...)
			return cmd.CombinedOutput()
		},
	}, nil
}

// Ensure returns the existing worktree for ticketID, creating one — branch
// orch/issue-<N> off the fetched base branch — if none is registered yet.
func (m *Manager) Ensure(ctx context.Context, ticketID int64, baseBranch string) (ports.WorktreeRecord, error) {
	if err := ctx.Err(); err != nil {
		return ports.WorktreeRecord{}, err
	}

	if existing, ok, err := m.store.Get(ctx, ticketID); err != nil {
		return ports.WorktreeRecord{}, fmt.Errorf("read worktree registry for ticket %d: %w", ticketID, err)
	} else if ok {
		return existing, nil
	}

	path := filepath.Join(m.allowedRoot, fmt.Sprintf("%s-%d", m.repoName, ticketID))
	if err := ensurePathInsideDir(m.allowedRoot, path); err != nil {
		return ports.WorktreeRecord{}, err
	}
	if _, err := os.Stat(path); err == nil {
		return ports.WorktreeRecord{}, fmt.Errorf("worktree path already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return ports.WorktreeRecord{}, errs.Wrap(err, "check worktree path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ports.WorktreeRecord{}, errs.Wrap(err, "ensure worktree parent directory")
	}

	branch := fmt.Sprintf("orch/issue-%d", ticketID)

	baseBranch = strings.TrimSpace(baseBranch)
	if baseBranch != "" {
		if output, err := m.gitC(ctx, m.repoDir, "fetch", "origin", baseBranch); err != nil {
			return ports.WorktreeRecord{}, errs.Wrapf(err, "git fetch failed: %s", strings.TrimSpace(string(output)))
		}
	}

	args := []string{"worktree", "add", "-b", branch, path}
	if baseBranch != "" {
		args = append(args, "origin/"+baseBranch)
	} else {
		args = append(args, "HEAD")
	}
	if output, err := m.gitC(ctx, m.repoDir, args...); err != nil {
		m.cleanupFailedEnsure(ctx, path)
		return ports.WorktreeRecord{}, errs.Wrapf(err, "git worktree add failed: %s", strings.TrimSpace(string(output)))
	}

	record := ports.WorktreeRecord{
		TicketID:  ticketID,
		Path:      path,
		Branch:    branch,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := m.store.Save(ctx, record); err != nil {
		return ports.WorktreeRecord{}, fmt.Errorf("register worktree for ticket %d: %w", ticketID, err)
	}

	logging.Info(logging.WithAttrs(ctx, slog.String("component", "worktree.manager")),
		"git worktree created",
		slog.Int64("ticket_id", ticketID),
		slog.String("path", path),
		slog.String("branch", branch))
	return record, nil
}

// Remove deletes ticketID's worktree from disk, removes it from git, and
// clears the registry row. force skips the dirty-tree check.
func (m *Manager) Remove(ctx context.Context, ticketID int64, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record, ok, err := m.store.Get(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("read worktree registry for ticket %d: %w", ticketID, err)
	}
	if !ok {
		return nil
	}
	if err := ensurePathInsideDir(m.allowedRoot, record.Path); err != nil {
		return err
	}

	if _, statErr := os.Stat(record.Path); statErr == nil {
		if !force {
			statusOutput, err := m.gitC(ctx, record.Path, "status", "--porcelain")
			if err != nil {
				return errs.Wrapf(err, "git status failed: %s", strings.TrimSpace(string(statusOutput)))
			}
			if strings.TrimSpace(string(statusOutput)) != "" {
				return errs.Wrapf(errWorktreeDirty, "git status reports changes: %s", strings.TrimSpace(string(statusOutput)))
			}
		}

		args := []string{"worktree", "remove"}
		if force {
			args = append(args, "--force")
		}
		args = append(args, record.Path)
		if output, err := m.gitC(ctx, m.repoDir, args...); err != nil {
			return errs.Wrapf(err, "git worktree remove failed: %s", strings.TrimSpace(string(output)))
		}
	}

	if err := m.pruneBestEffort(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(record.Path); err != nil {
		logging.Warn(logging.WithAttrs(ctx, slog.String("component", "worktree.manager")),
			"remove residual worktree directory failed",
			slog.Any("err", errs.Loggable(err)), slog.String("path", record.Path))
	}

	if err := m.store.Delete(ctx, ticketID); err != nil {
		return fmt.Errorf("clear worktree registry for ticket %d: %w", ticketID, err)
	}

	logging.Info(logging.WithAttrs(ctx, slog.String("component", "worktree.manager")),
		"git worktree removed", slog.Int64("ticket_id", ticketID), slog.String("path", record.Path))
	return nil
}

func (m *Manager) pruneBestEffort(ctx context.Context) error {
	output, err := m.gitC(ctx, m.repoDir, "worktree", "prune")
	if err != nil {
		return errs.Wrapf(err, "git worktree prune failed: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

func (m *Manager) cleanupFailedEnsure(ctx context.Context, path string) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "worktree.manager"))
	_ = m.pruneBestEffort(ctx)
	if err := ensurePathInsideDir(m.allowedRoot, path); err != nil {
		logging.Warn(logCtx, "skip removing failed worktree because it is outside allowed root", slog.Any("err", err))
		return
	}
	if err := os.RemoveAll(path); err != nil {
		logging.Warn(logCtx, "remove failed worktree directory failed", slog.Any("err", errs.Loggable(err)), slog.String("path", path))
	}
}

func (m *Manager) gitC(ctx context.Context, dir string, args ...string) ([]byte, error) {
	all := make([]string, 0, len(args)+2)
	all = append(all, "-C", dir)
	all = append(all, args...)
	return m.runGit(ctx, all...)
}

// CurrentBranch reports the checked-out branch of ticketID's worktree.
func (m *Manager) CurrentBranch(ctx context.Context, ticketID int64) (string, error) {
	record, ok, err := m.store.Get(ctx, ticketID)
	if err != nil {
		return "", fmt.Errorf("read worktree registry for ticket %d: %w", ticketID, err)
	}
	if !ok {
		return "", fmt.Errorf("no worktree registered for ticket %d", ticketID)
	}
	output, err := m.gitC(ctx, record.Path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errs.Wrapf(err, "git rev-parse failed: %s", strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

// Push pushes ticketID's branch to origin, retrying with --force-with-lease
// once if the initial push is rejected.
func (m *Manager) Push(ctx context.Context, ticketID int64) error {
	record, ok, err := m.store.Get(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("read worktree registry for ticket %d: %w", ticketID, err)
	}
	if !ok {
		return fmt.Errorf("no worktree registered for ticket %d", ticketID)
	}

	if output, err := m.gitC(ctx, record.Path, "push", "-u", "origin", record.Branch); err != nil {
		logging.Warn(logging.WithAttrs(ctx, slog.String("component", "worktree.manager")),
			"push rejected, retrying with force-with-lease",
			slog.Int64("ticket_id", ticketID), slog.String("output", strings.TrimSpace(string(output))))
		if output, err := m.gitC(ctx, record.Path, "push", "--force-with-lease", "-u", "origin", record.Branch); err != nil {
			return errs.Wrapf(err, "git push --force-with-lease failed: %s", strings.TrimSpace(string(output)))
		}
	}
	return nil
}

// Stats computes the commit and changed-file list for ticketID's branch
// against baseBranch.
func (m *Manager) Stats(ctx context.Context, ticketID int64, baseBranch string) (ports.ChangeStats, error) {
	record, ok, err := m.store.Get(ctx, ticketID)
	if err != nil {
		return ports.ChangeStats{}, fmt.Errorf("read worktree registry for ticket %d: %w", ticketID, err)
	}
	if !ok {
		return ports.ChangeStats{}, fmt.Errorf("no worktree registered for ticket %d", ticketID)
	}

	logRange := fmt.Sprintf("origin/%s..HEAD", baseBranch)
	logOutput, err := m.gitC(ctx, record.Path, "log", logRange, "--pretty=format:%h%x1f%s%x1f%an%x1f%ad", "--date=short")
	if err != nil {
		return ports.ChangeStats{}, errs.Wrapf(err, "git log failed: %s", strings.TrimSpace(string(logOutput)))
	}

	var commits []ports.CommitSummary
	for _, line := range strings.Split(strings.TrimSpace(string(logOutput)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\x1f")
		if len(fields) != 4 {
			continue
		}
		commits = append(commits, ports.CommitSummary{ShortHash: fields[0], Subject: fields[1], Author: fields[2], Date: fields[3]})
	}

	diffOutput, err := m.gitC(ctx, record.Path, "diff", "--name-only", logRange)
	if err != nil {
		return ports.ChangeStats{}, errs.Wrapf(err, "git diff failed: %s", strings.TrimSpace(string(diffOutput)))
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(diffOutput)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}

	return ports.ChangeStats{Commits: commits, ChangedFiles: files}, nil
}

func ensurePathInsideDir(root string, target string) error {
	rootAbs, err := filepath.Abs(filepath.Clean(strings.TrimSpace(root)))
	if err != nil {
		return errs.Wrap(err, "resolve root abs path")
	}
	targetAbs, err := filepath.Abs(filepath.Clean(strings.TrimSpace(target)))
	if err != nil {
		return errs.Wrap(err, "resolve target abs path")
	}

	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return errs.Wrap(err, "resolve target relative path")
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return fmt.Errorf("target path is the root directory: %s", targetAbs)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("target path escapes root directory: %s (root=%s)", targetAbs, rootAbs)
	}
	return nil
}
