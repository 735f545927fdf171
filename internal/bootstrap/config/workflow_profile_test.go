package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWorkflowFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "workflow.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write workflow file: %v", err)
	}
	return path
}

func TestLoadWorkflowProfileReturnsZeroValueWhenPathIsEmpty(t *testing.T) {
	profile, err := LoadWorkflowProfile("")
	if err != nil {
		t.Fatalf("LoadWorkflowProfile() error = %v", err)
	}
	if profile.Executors != nil {
		t.Fatalf("Executors = %+v, want nil", profile.Executors)
	}
}

func TestLoadWorkflowProfileReturnsZeroValueWhenFileMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist.toml")

	profile, err := LoadWorkflowProfile(missing)
	if err != nil {
		t.Fatalf("LoadWorkflowProfile() error = %v", err)
	}
	if profile.Executors != nil {
		t.Fatalf("Executors = %+v, want nil", profile.Executors)
	}
}

func TestLoadWorkflowProfileParsesExecutorOverrides(t *testing.T) {
	path := writeWorkflowFile(t, `
version = 2

[executors.implementation]
program = "claude"
args = ["--dangerously-skip-permissions"]
timeout_seconds = 900
`)

	profile, err := LoadWorkflowProfile(path)
	if err != nil {
		t.Fatalf("LoadWorkflowProfile() error = %v", err)
	}

	override, ok := profile.Executors["implementation"]
	if !ok {
		t.Fatalf("Executors[implementation] missing, got %+v", profile.Executors)
	}
	if override.Program != "claude" {
		t.Fatalf("Program = %q, want claude", override.Program)
	}
	if override.TimeoutSeconds != 900 {
		t.Fatalf("TimeoutSeconds = %d, want 900", override.TimeoutSeconds)
	}
}

func TestWorkflowExecutorOverrideApplyKeepsBaseWhenFieldsAreZero(t *testing.T) {
	override := WorkflowExecutorOverride{}

	program, timeout := override.Apply("codex", 300)
	if program != "codex" || timeout != 300 {
		t.Fatalf("Apply() = (%q, %d), want base values unchanged", program, timeout)
	}
}

func TestWorkflowExecutorOverrideApplyOverridesSetFields(t *testing.T) {
	override := WorkflowExecutorOverride{Program: "claude", TimeoutSeconds: 60}

	program, timeout := override.Apply("codex", 300)
	if program != "claude" {
		t.Fatalf("Program = %q, want claude", program)
	}
	if timeout != 60 {
		t.Fatalf("Timeout = %d, want 60", timeout)
	}
}
