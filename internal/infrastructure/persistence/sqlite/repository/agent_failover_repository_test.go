package repository

import (
	"context"
	"reflect"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"orchestrix/internal/infrastructure/persistence/sqlite/model"
	"orchestrix/internal/ports"
)

func setupAgentFailoverDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.AgentFailover{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func TestAgentFailoverGetReturnsZeroStateWhenAbsent(t *testing.T) {
	repo := NewAgentFailoverRepository(setupAgentFailoverDB(t))

	got, err := repo.Get(context.Background(), "architect")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := ports.FailoverState{Agent: "architect"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Get() = %+v, want %+v", got, want)
	}
}

func TestAgentFailoverSaveThenGetRoundTripsCurrentModel(t *testing.T) {
	repo := NewAgentFailoverRepository(setupAgentFailoverDB(t))
	ctx := context.Background()

	state := ports.FailoverState{
		Agent:   "sculptor",
		Current: &ports.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet"},
		Count:   1,
		History: []ports.FailoverEvent{
			{
				From:    ports.ModelRef{ProviderID: "anthropic", ModelID: "claude-opus"},
				To:      ports.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet"},
				Reason:  "rate-limited",
				Session: "sess-1",
				Attempt: 2,
				At:      "2026-08-06T00:00:00Z",
			},
		},
	}
	if err := repo.Save(ctx, state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.Get(ctx, "sculptor")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Agent != state.Agent || got.Count != state.Count {
		t.Fatalf("Get() = %+v, want agent/count from %+v", got, state)
	}
	if got.Current == nil || *got.Current != *state.Current {
		t.Fatalf("Get() Current = %+v, want %+v", got.Current, state.Current)
	}
	if len(got.History) != 1 || got.History[0] != state.History[0] {
		t.Fatalf("Get() History = %+v, want %+v", got.History, state.History)
	}
}

func TestAgentFailoverSaveWithoutCurrentModelLeavesItNil(t *testing.T) {
	repo := NewAgentFailoverRepository(setupAgentFailoverDB(t))
	ctx := context.Background()

	if err := repo.Save(ctx, ports.FailoverState{Agent: "sentinel", Count: 0}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.Get(ctx, "sentinel")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Current != nil {
		t.Fatalf("Get() Current = %+v, want nil", got.Current)
	}
}

func TestAgentFailoverSaveOverwritesExistingRow(t *testing.T) {
	repo := NewAgentFailoverRepository(setupAgentFailoverDB(t))
	ctx := context.Background()

	if err := repo.Save(ctx, ports.FailoverState{Agent: "sentinel", Count: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, ports.FailoverState{Agent: "sentinel", Count: 2}); err != nil {
		t.Fatalf("Save() overwrite error = %v", err)
	}

	got, err := repo.Get(ctx, "sentinel")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Count != 2 {
		t.Fatalf("Get() Count = %d, want 2 after overwrite", got.Count)
	}
}
