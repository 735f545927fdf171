package scheduling

import (
	"errors"
	"testing"
)

func TestResolveSimpleParallel(t *testing.T) {
	tasks := []Task{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	batches, err := Resolve(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("expected one batch of 3, got %v", batches)
	}
	want := []string{"A", "B", "C"}
	for i, id := range want {
		if batches[0][i] != id {
			t.Fatalf("batch order = %v, want %v", batches[0], want)
		}
	}
}

func TestResolveOrdersByBatch(t *testing.T) {
	tasks := []Task{
		{ID: "A"},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"A"}},
		{ID: "D", DependsOn: []string{"B", "C"}},
	}
	batches, err := Resolve(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d: %v", len(batches), batches)
	}
	if len(batches[0]) != 1 || batches[0][0] != "A" {
		t.Fatalf("batch 0 = %v, want [A]", batches[0])
	}
	if len(batches[1]) != 2 || batches[1][0] != "B" || batches[1][1] != "C" {
		t.Fatalf("batch 1 = %v, want [B C]", batches[1])
	}
	if len(batches[2]) != 1 || batches[2][0] != "D" {
		t.Fatalf("batch 2 = %v, want [D]", batches[2])
	}
}

func TestResolveCyclicDependency(t *testing.T) {
	tasks := []Task{
		{ID: "A", DependsOn: []string{"B"}},
		{ID: "B", DependsOn: []string{"A"}},
	}
	_, err := Resolve(tasks)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestResolveInvalidDependency(t *testing.T) {
	tasks := []Task{{ID: "A", DependsOn: []string{"ghost"}}}
	_, err := Resolve(tasks)
	if !errors.Is(err, ErrInvalidDependency) {
		t.Fatalf("expected ErrInvalidDependency, got %v", err)
	}
}

func TestResolveEmpty(t *testing.T) {
	batches, err := Resolve(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 0 {
		t.Fatalf("expected no batches, got %v", batches)
	}
}
