package worktree

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"orchestrix/internal/ports"
)

var errBoom = errors.New("boom")

type memWorktreeStore struct {
	records map[int64]ports.WorktreeRecord
}

func newMemWorktreeStore() *memWorktreeStore {
	return &memWorktreeStore{records: map[int64]ports.WorktreeRecord{}}
}

func (s *memWorktreeStore) Get(ctx context.Context, ticketID int64) (ports.WorktreeRecord, bool, error) {
	record, ok := s.records[ticketID]
	return record, ok, nil
}

func (s *memWorktreeStore) Save(ctx context.Context, record ports.WorktreeRecord) error {
	s.records[record.TicketID] = record
	return nil
}

func (s *memWorktreeStore) Delete(ctx context.Context, ticketID int64) error {
	delete(s.records, ticketID)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *memWorktreeStore) {
	t.Helper()
	repoDir := t.TempDir()
	root := t.TempDir()
	store := newMemWorktreeStore()

	m, err := New(repoDir, root, "myrepo", store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.runGit = func(ctx context.Context, args ...string) ([]byte, error) {
		if len(args) >= 4 && args[2] == "worktree" && args[3] == "add" {
			path := args[len(args)-2]
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, err
			}
		}
		return []byte(""), nil
	}
	return m, store
}

func TestEnsureCreatesWorktreeAndRegistersRecord(t *testing.T) {
	m, store := newTestManager(t)

	record, err := m.Ensure(context.Background(), 42, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Branch != "orch/issue-42" {
		t.Fatalf("expected branch orch/issue-42, got %s", record.Branch)
	}
	if filepath.Base(record.Path) != "myrepo-42" {
		t.Fatalf("expected path suffix myrepo-42, got %s", record.Path)
	}
	if _, ok := store.records[42]; !ok {
		t.Fatal("expected registry to contain ticket 42")
	}
}

func TestEnsureReturnsExistingRecordWithoutRecreating(t *testing.T) {
	m, store := newTestManager(t)
	existing := ports.WorktreeRecord{TicketID: 7, Path: "/already/there", Branch: "orch/issue-7", CreatedAt: "then"}
	store.records[7] = existing

	got, err := m.Ensure(context.Background(), 7, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != existing {
		t.Fatalf("expected existing record returned unchanged, got %+v", got)
	}
}

func TestRemoveClearsRegistryAndDirectory(t *testing.T) {
	m, store := newTestManager(t)

	record, err := m.Ensure(context.Background(), 1, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Remove(context.Background(), 1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.records[1]; ok {
		t.Fatal("expected registry row to be cleared")
	}
	if _, err := os.Stat(record.Path); !os.IsNotExist(err) {
		t.Fatalf("expected worktree directory to be removed, stat err=%v", err)
	}
}

func TestRemoveIsNoOpWhenNoRegistryRow(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Remove(context.Background(), 999, false); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}

func TestCurrentBranchReadsRevParseOutput(t *testing.T) {
	m, store := newTestManager(t)
	store.records[5] = ports.WorktreeRecord{TicketID: 5, Path: "/wt/5", Branch: "orch/issue-5"}
	m.runGit = func(ctx context.Context, args ...string) ([]byte, error) {
		return []byte("orch/issue-5\n"), nil
	}

	branch, err := m.CurrentBranch(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != "orch/issue-5" {
		t.Fatalf("expected orch/issue-5, got %q", branch)
	}
}

func TestPushRetriesWithForceWithLeaseOnRejection(t *testing.T) {
	m, store := newTestManager(t)
	store.records[5] = ports.WorktreeRecord{TicketID: 5, Path: "/wt/5", Branch: "orch/issue-5"}

	var calls [][]string
	m.runGit = func(ctx context.Context, args ...string) ([]byte, error) {
		calls = append(calls, append([]string(nil), args...))
		if len(calls) == 1 {
			return []byte("rejected"), errBoom
		}
		return []byte(""), nil
	}

	if err := m.Push(context.Background(), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 push attempts, got %d", len(calls))
	}
}

func TestStatsParsesCommitsAndFiles(t *testing.T) {
	m, store := newTestManager(t)
	store.records[5] = ports.WorktreeRecord{TicketID: 5, Path: "/wt/5", Branch: "orch/issue-5"}

	m.runGit = func(ctx context.Context, args ...string) ([]byte, error) {
		for _, a := range args {
			if a == "log" {
				return []byte("abc123\x1ffix bug\x1fjane\x1f2026-01-01\n"), nil
			}
			if a == "diff" {
				return []byte("main.go\nutil.go\n"), nil
			}
		}
		return []byte(""), nil
	}

	stats, err := m.Stats(context.Background(), 5, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stats.Commits) != 1 || stats.Commits[0].ShortHash != "abc123" {
		t.Fatalf("expected one parsed commit, got %+v", stats.Commits)
	}
	if len(stats.ChangedFiles) != 2 {
		t.Fatalf("expected 2 changed files, got %v", stats.ChangedFiles)
	}
}
