package ports

import "context"

// NotificationLevel is the configured filter.
type NotificationLevel string

const (
	LevelErrorsOnly       NotificationLevel = "errors-only"
	LevelStageTransitions NotificationLevel = "stage-transitions"
	LevelAllMajorEvents   NotificationLevel = "all-major-events"
)

// EventKind enumerates the notifier's message templates.
type EventKind string

const (
	EventOrchestrationFailed    EventKind = "orchestration-failed"
	EventOrchestrationComplete  EventKind = "orchestration-complete"
	EventPlanningComplete       EventKind = "planning-complete"
	EventTaskCompleted          EventKind = "task-completed"
	EventCriticalError          EventKind = "critical-error"
	EventTestFailed             EventKind = "test-failed"
	EventTestFixStarted         EventKind = "test-fix-started"
	EventTestFixCompleted       EventKind = "test-fix-completed"
	EventTestPassedAfterFix     EventKind = "test-passed-after-fix"
	EventTestMaxAttemptsReached EventKind = "test-max-attempts-reached"
	EventModelFailover          EventKind = "model-failover"
)

// Notification is one event ready to render and deliver.
type Notification struct {
	Kind       EventKind
	Ticket     int64
	Title      string
	Body       string
	URL        string
	AttachPath string
}

// Notifier delivers Notifications; delivery failures are logged by the
// implementation and never returned to the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
