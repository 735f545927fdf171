// Package agentexec is the Agent Executor: it resolves the model an agent
// should run with through the resilience layer, health-checks the
// underlying execution service, submits the prompt, and on a hang hands off
// to the Session Watchdog and Model Failover before retrying.
package agentexec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/errs"
	"orchestrix/internal/infrastructure/resilience"
	"orchestrix/internal/ports"
)

const (
	healthCheckBudget = 5 * time.Second
	resultCacheTTL    = 24 * time.Hour
)

// ErrServerUnreachable wraps a failed pre-flight health check. LogSnapshot
// is the path to a captured log snapshot, if one was written, so callers
// can attach it to a critical-error notification.
type ErrServerUnreachable struct {
	Role         ports.AgentRole
	Err          error
	LogSnapshot  string
}

func (e *ErrServerUnreachable) Error() string {
	return fmt.Sprintf("agent execution service unreachable for role %s: %v", e.Role, e.Err)
}
func (e *ErrServerUnreachable) Unwrap() error   { return e.Err }
func (e *ErrServerUnreachable) LogPath() string { return e.LogSnapshot }

// Request is one agent invocation, independent of which underlying
// execution service (subprocess or hosted API) serves the role.
type Request struct {
	Role        ports.AgentRole
	Prompt      string
	ProjectDir  string
	IssueRef    string
	RunID       string
	Timeout     time.Duration
	Fingerprint string
}

// Executor dispatches a Request to the execution service configured for its
// role, applying the resilience layer's model selection and failover.
type Executor struct {
	services            map[ports.AgentRole]ports.AIExecutionService
	watchdogs           map[ports.AgentRole]*resilience.Watchdog
	defaults            map[ports.AgentRole]ports.ModelRef
	failover            *resilience.FailoverManager
	cache               ports.Cache
	maxFailoverAttempts int
}

// New builds an Executor. services and defaults must have an entry for
// every role the caller intends to execute. cache is optional: a nil cache
// disables result replay and every call runs the agent fresh.
func New(services map[ports.AgentRole]ports.AIExecutionService, defaults map[ports.AgentRole]ports.ModelRef, failover *resilience.FailoverManager, cache ports.Cache) *Executor {
	watchdogs := make(map[ports.AgentRole]*resilience.Watchdog, len(services))
	for role, svc := range services {
		watchdogs[role] = resilience.NewWatchdog(svc)
	}
	return &Executor{
		services:            services,
		watchdogs:           watchdogs,
		defaults:            defaults,
		failover:            failover,
		cache:               cache,
		maxFailoverAttempts: 3,
	}
}

// Execute runs req, forwarding progress events to sink as they arrive. On
// success the agent's failover state is reset. On a detected hang, the
// Session Watchdog terminates the session, the Model Failover records a
// model-timeout, and the call is retried against the newly selected model
// up to maxFailoverAttempts times.
func (e *Executor) Execute(ctx context.Context, req Request, sink ports.ProgressSink) (ports.ExecuteResult, error) {
	service, ok := e.services[req.Role]
	if !ok {
		return ports.ExecuteResult{}, fmt.Errorf("no execution service configured for role %s", req.Role)
	}
	watchdog := e.watchdogs[req.Role]

	var lastErr error
	for attempt := 1; attempt <= e.maxFailoverAttempts+1; attempt++ {
		model, err := e.failover.CurrentModelFor(ctx, req.Role, e.defaults[req.Role])
		if err != nil {
			return ports.ExecuteResult{}, err
		}

		cacheKey := resultCacheKey(req, model)
		if cached, hit := e.loadCachedResult(ctx, cacheKey); hit {
			return cached, nil
		}

		healthCtx, cancel := context.WithTimeout(ctx, healthCheckBudget)
		err = service.HealthCheck(healthCtx)
		cancel()
		if err != nil {
			return ports.ExecuteResult{}, &ErrServerUnreachable{Role: req.Role, Err: err}
		}

		var hungSession string
		wrappedSink := func(event ports.ProgressEvent) {
			if event.Kind == ports.ProgressHangDetected {
				hungSession = event.Message
			}
			if sink != nil {
				sink(event)
			}
		}

		input := ports.ExecuteInput{
			Role:        req.Role,
			Prompt:      req.Prompt,
			ProjectDir:  req.ProjectDir,
			IssueRef:    req.IssueRef,
			RunID:       req.RunID,
			Model:       model,
			Timeout:     req.Timeout,
			Fingerprint: req.Fingerprint,
		}

		result, err := service.Execute(ctx, input, wrappedSink)
		if err == nil {
			if resetErr := e.failover.ResetAgent(ctx, req.Role); resetErr != nil {
				logging.Warn(ctx, "reset failover state after success failed",
					slog.String("agent", string(req.Role)), slog.Any("err", errs.Loggable(resetErr)))
			}
			e.storeCachedResult(ctx, cacheKey, result)
			return result, nil
		}
		lastErr = err

		if !isSessionHung(err) {
			return ports.ExecuteResult{}, err
		}

		sessionID := result.SessionID
		if sessionID == "" {
			sessionID = hungSession
		}
		if watchdog != nil && sessionID != "" {
			if _, killErr := watchdog.HandleHang(ctx, sessionID); killErr != nil {
				logging.Warn(ctx, "session watchdog termination failed",
					slog.String("agent", string(req.Role)), slog.Any("err", errs.Loggable(killErr)))
			}
		}

		failoverErr := e.failover.ReportModelTimeout(ctx, req.Role, model, sessionID, attempt)
		if failoverErr != nil {
			return ports.ExecuteResult{}, fmt.Errorf("model timeout with no further failback: %w", failoverErr)
		}
	}

	return ports.ExecuteResult{}, fmt.Errorf("exhausted %d failover attempts: %w", e.maxFailoverAttempts, lastErr)
}

func isSessionHung(err error) bool {
	return err != nil && strings.Contains(err.Error(), "session-hung")
}

// resultCacheKey derives a stable key for the exact (role, prompt, project
// dir, model) tuple a run would execute, falling back to req.Fingerprint
// when the caller already computed one.
func resultCacheKey(req Request, model ports.ModelRef) string {
	if req.Fingerprint != "" {
		return "agentexec:" + req.Fingerprint
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(req.Role), req.Prompt, req.ProjectDir, model.ProviderID, model.ModelID,
	}, "\x00")))
	return "agentexec:" + hex.EncodeToString(sum[:])
}

// loadCachedResult replays a previously stored ExecuteResult so a resumed
// orchestration run doesn't re-invoke an agent it already ran successfully
// for the exact same inputs.
func (e *Executor) loadCachedResult(ctx context.Context, key string) (ports.ExecuteResult, bool) {
	if e.cache == nil {
		return ports.ExecuteResult{}, false
	}
	raw, found, err := e.cache.Get(ctx, key)
	if err != nil || !found {
		return ports.ExecuteResult{}, false
	}
	var result ports.ExecuteResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return ports.ExecuteResult{}, false
	}
	return result, true
}

func (e *Executor) storeCachedResult(ctx context.Context, key string, result ports.ExecuteResult) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, string(raw), resultCacheTTL); err != nil {
		logging.Warn(ctx, "cache agent execution result failed", slog.Any("err", errs.Loggable(err)))
	}
}
