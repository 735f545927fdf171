// Package subprocess implements ports.AIExecutionService by shelling out to
// a local executor binary per role, the way a CI runner or a locally
// installed coding agent would be invoked.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"orchestrix/internal/ports"
)

// runOutput is the JSON frame the subprocess is expected to write to
// stdout on exit.
type runOutput struct {
	Status        string `json:"status"`
	Summary       string `json:"summary"`
	SessionID     string `json:"session_id"`
	ToolsExecuted int    `json:"tools_executed"`
}

// Executor runs a fixed program with role-specific arguments; the program
// receives the request as environment variables and prints a runOutput
// frame. It never streams live progress events (a subprocess has no
// intermediate channel back to the caller other than stdout at exit), so
// callers only observe events emitted after the process ends: a
// ProgressMessageReceived/ProgressCompleted pair on success, a
// ProgressHangDetected on timeout, or a ProgressError on other failures.
type Executor struct {
	program        string
	args           []string
	defaultTimeout time.Duration
}

// New builds an Executor invoking program with args for every role.
func New(program string, args []string, defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Minute
	}
	return &Executor{program: program, args: args, defaultTimeout: defaultTimeout}
}

func (e *Executor) HealthCheck(ctx context.Context) error {
	if _, err := exec.LookPath(e.program); err != nil {
		return fmt.Errorf("subprocess executor unreachable: %w", err)
	}
	return nil
}

func (e *Executor) Execute(ctx context.Context, input ports.ExecuteInput, sink ports.ProgressSink) (ports.ExecuteResult, error) {
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.program, e.args...)
	if input.ProjectDir != "" {
		cmd.Dir = input.ProjectDir
	}
	cmd.Env = append(os.Environ(),
		"ORCX_ROLE="+string(input.Role),
		"ORCX_ISSUE_REF="+input.IssueRef,
		"ORCX_RUN_ID="+input.RunID,
		"ORCX_FINGERPRINT="+input.Fingerprint,
		"ORCX_PROMPT="+input.Prompt,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		if sink != nil {
			sink(ports.ProgressEvent{Kind: ports.ProgressHangDetected, Message: "executor timed out"})
		}
		return ports.ExecuteResult{}, fmt.Errorf("session-hung: executor timed out after %s", timeout)
	}

	raw := strings.TrimSpace(stdout.String())
	var parsed runOutput
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil && runErr == nil {
			return ports.ExecuteResult{}, fmt.Errorf("parse subprocess result: %w", err)
		}
	}

	if runErr != nil {
		message := firstLine(stderr.String())
		if message == "" {
			message = runErr.Error()
		}
		if sink != nil {
			sink(ports.ProgressEvent{Kind: ports.ProgressError, Message: message})
		}
		return ports.ExecuteResult{}, fmt.Errorf("subprocess executor failed: %s", message)
	}

	if sink != nil {
		sink(ports.ProgressEvent{Kind: ports.ProgressMessageReceived, Message: parsed.Summary})
		sink(ports.ProgressEvent{Kind: ports.ProgressCompleted, Message: parsed.Summary})
	}

	return ports.ExecuteResult{
		Response:      parsed.Summary,
		SessionID:     parsed.SessionID,
		Duration:      duration,
		Attempts:      1,
		ToolsExecuted: parsed.ToolsExecuted,
	}, nil
}

// SessionExists always reports ErrNotSupported: a one-shot subprocess has no
// standing session to probe once it has exited.
func (e *Executor) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	return true, ports.ErrNotSupported
}

// Kill is a no-op for the subprocess executor: a run either completed or was
// already terminated by its own context deadline.
func (e *Executor) Kill(ctx context.Context, sessionID string) error {
	return nil
}

func firstLine(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		return strings.TrimSpace(trimmed[:idx])
	}
	return trimmed
}
