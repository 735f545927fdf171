package subprocess

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"orchestrix/internal/ports"
)

func writeFakeAgent(t *testing.T, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-agent.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}

func TestExecuteParsesSuccessfulRunOutput(t *testing.T) {
	program := writeFakeAgent(t, "#!/bin/sh\necho '{\"status\":\"pass\",\"summary\":\"did the thing\",\"session_id\":\"sess-1\",\"tools_executed\":3}'\n")
	executor := New(program, nil, time.Minute)

	var events []ports.ProgressEvent
	result, err := executor.Execute(context.Background(), ports.ExecuteInput{Role: ports.RoleImplementation}, func(e ports.ProgressEvent) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Response != "did the thing" || result.SessionID != "sess-1" || result.ToolsExecuted != 3 {
		t.Fatalf("Execute() result = %+v", result)
	}
	if len(events) != 2 || events[1].Kind != ports.ProgressCompleted {
		t.Fatalf("Execute() events = %+v, want a completed event last", events)
	}
}

func TestExecuteReportsFailureFromStderr(t *testing.T) {
	program := writeFakeAgent(t, "#!/bin/sh\necho 'boom: something broke' 1>&2\nexit 1\n")
	executor := New(program, nil, time.Minute)

	var events []ports.ProgressEvent
	_, err := executor.Execute(context.Background(), ports.ExecuteInput{Role: ports.RoleTest}, func(e ports.ProgressEvent) {
		events = append(events, e)
	})
	if err == nil || !strings.Contains(err.Error(), "boom: something broke") {
		t.Fatalf("Execute() error = %v, want stderr message surfaced", err)
	}
	if len(events) != 1 || events[0].Kind != ports.ProgressError {
		t.Fatalf("Execute() events = %+v, want one error event", events)
	}
}

func TestExecuteReportsSessionHungOnTimeout(t *testing.T) {
	program := writeFakeAgent(t, "#!/bin/sh\nsleep 5\n")
	executor := New(program, nil, time.Minute)

	_, err := executor.Execute(context.Background(), ports.ExecuteInput{
		Role:    ports.RoleImplementation,
		Timeout: 50 * time.Millisecond,
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "session-hung") {
		t.Fatalf("Execute() error = %v, want a session-hung error", err)
	}
}

func TestExecutePassesRequestFieldsAsEnvVars(t *testing.T) {
	program := writeFakeAgent(t, `#!/bin/sh
echo "{\"status\":\"pass\",\"summary\":\"role=$ORCX_ROLE ref=$ORCX_ISSUE_REF\"}"
`)
	executor := New(program, nil, time.Minute)

	result, err := executor.Execute(context.Background(), ports.ExecuteInput{
		Role:     ports.RoleSentinel,
		IssueRef: "42",
	}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := "role=sentinel ref=42"
	if result.Response != want {
		t.Fatalf("Execute() response = %q, want %q", result.Response, want)
	}
}

func TestHealthCheckFailsForMissingProgram(t *testing.T) {
	executor := New("definitely-not-a-real-binary-xyz", nil, time.Minute)
	if err := executor.HealthCheck(context.Background()); err == nil {
		t.Fatalf("HealthCheck() should error for a missing program")
	}
}

func TestSessionExistsReportsNotSupported(t *testing.T) {
	executor := New("true", nil, time.Minute)
	_, err := executor.SessionExists(context.Background(), "any")
	if !errors.Is(err, ports.ErrNotSupported) {
		t.Fatalf("SessionExists() error = %v, want ports.ErrNotSupported", err)
	}
}
