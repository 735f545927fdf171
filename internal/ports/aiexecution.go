package ports

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned by AIExecutionService methods an adapter
// cannot implement, such as SessionExists on a client with no probe.
var ErrNotSupported = errors.New("operation not supported by this adapter")

// AgentRole is the enumerated role an agent invocation runs as.
type AgentRole string

const (
	RoleArchitect      AgentRole = "architect"
	RoleSculptor       AgentRole = "sculptor"
	RoleSentinel       AgentRole = "sentinel"
	RoleImplementation AgentRole = "implementation"
	RoleTest           AgentRole = "test"
)

// ProgressKind enumerates the typed progress events an execution emits
// while it runs.
type ProgressKind string

const (
	ProgressRetry            ProgressKind = "retry"
	ProgressToolCompleted    ProgressKind = "tool-completed"
	ProgressMessageReceived  ProgressKind = "message-received"
	ProgressHangDetected     ProgressKind = "hang-detected"
	ProgressCompleted        ProgressKind = "completed"
	ProgressError            ProgressKind = "error"
)

// ProgressEvent is one item in the stream an execution produces.
type ProgressEvent struct {
	Kind    ProgressKind
	Message string
	Tool    string
}

// ExecuteInput is a single agent invocation request.
type ExecuteInput struct {
	Role       AgentRole
	Prompt     string
	ProjectDir string
	IssueRef   string
	RunID      string
	Model      ModelRef
	Timeout    time.Duration
	// Fingerprint is a stable identifier for this exact (role, prompt,
	// attempt) triple, used so an inner client-side retry and the outer
	// retry/backoff (§4.3) converge on the same session when the adapter
	// supports idempotent submission.
	Fingerprint string
}

// ModelRef names a model by provider and model id.
type ModelRef struct {
	ProviderID string
	ModelID    string
}

// ExecuteResult is what the caller receives once the stream ends.
type ExecuteResult struct {
	Response      string
	SessionID     string
	Duration      time.Duration
	Attempts      int
	ToolsExecuted int
}

// ProgressSink receives ProgressEvents as they arrive.
type ProgressSink func(ProgressEvent)

// AIExecutionService is the capability interface over the remote AI
// execution service. Health checks a 5s budget before
// submitting; implementations should return ErrServerUnreachable from
// HealthCheck on failure so the Agent Executor can attach a log snapshot.
type AIExecutionService interface {
	HealthCheck(ctx context.Context) error
	Execute(ctx context.Context, input ExecuteInput, sink ProgressSink) (ExecuteResult, error)
	// SessionExists probes whether a session is still alive, for the
	// Session Watchdog's kill-verification loop. Implementations that
	// cannot probe existence should return (true, ErrNotSupported); the
	// watchdog treats that as "assume terminated".
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	// Kill requests graceful termination of a hung session.
	Kill(ctx context.Context, sessionID string) error
}
