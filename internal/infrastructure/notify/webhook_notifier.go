// Package notify implements the Notifier port: a webhook-delivered rich
// message with an optional multipart attachment and an optional NATS
// republish, filtered by configured level.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/errs"
	"orchestrix/internal/ports"
)

// eventLevel classifies each event kind for the notification-level filter.
var eventLevel = map[ports.EventKind]ports.NotificationLevel{
	ports.EventOrchestrationFailed:    ports.LevelErrorsOnly,
	ports.EventCriticalError:          ports.LevelErrorsOnly,
	ports.EventTestMaxAttemptsReached: ports.LevelErrorsOnly,
	ports.EventPlanningComplete:       ports.LevelStageTransitions,
	ports.EventTaskCompleted:          ports.LevelStageTransitions,
	ports.EventOrchestrationComplete:  ports.LevelStageTransitions,
	ports.EventTestFailed:             ports.LevelAllMajorEvents,
	ports.EventTestFixStarted:         ports.LevelAllMajorEvents,
	ports.EventTestFixCompleted:       ports.LevelAllMajorEvents,
	ports.EventTestPassedAfterFix:     ports.LevelAllMajorEvents,
	ports.EventModelFailover:          ports.LevelAllMajorEvents,
}

var levelRank = map[ports.NotificationLevel]int{
	ports.LevelErrorsOnly:       0,
	ports.LevelStageTransitions: 1,
	ports.LevelAllMajorEvents:   2,
}

// eventColor supplies the color the rich message template carries per kind.
var eventColor = map[ports.EventKind]string{
	ports.EventOrchestrationFailed:    "#d73a49",
	ports.EventCriticalError:          "#d73a49",
	ports.EventTestMaxAttemptsReached: "#d73a49",
	ports.EventOrchestrationComplete:  "#28a745",
	ports.EventTestPassedAfterFix:     "#28a745",
	ports.EventPlanningComplete:       "#0366d6",
	ports.EventTaskCompleted:          "#0366d6",
	ports.EventTestFailed:             "#e36209",
	ports.EventTestFixStarted:         "#e36209",
	ports.EventTestFixCompleted:       "#6f42c1",
	ports.EventModelFailover:          "#6f42c1",
}

// Bus is the optional secondary delivery path; NATSBus implements it over a
// logstream.NATSSink.
type Bus interface {
	Send(ports.Notification) error
}

// WebhookNotifier posts a rich JSON payload to a configured webhook URL,
// filtered by NotificationLevel. Delivery failures are logged, never raised.
type WebhookNotifier struct {
	client       *http.Client
	webhookURL   string
	level        ports.NotificationLevel
	mentionRoles []string
	bus          Bus // optional; nil disables the NATS republish path
}

// New builds a WebhookNotifier. bus may be nil.
func New(webhookURL string, level ports.NotificationLevel, mentionRoles []string, bus Bus) *WebhookNotifier {
	return &WebhookNotifier{
		client:       &http.Client{Timeout: 10 * time.Second},
		webhookURL:   webhookURL,
		level:        level,
		mentionRoles: mentionRoles,
		bus:          bus,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, notification ports.Notification) {
	if !n.passesFilter(notification.Kind) {
		return
	}

	if n.bus != nil {
		if err := n.bus.Send(notification); err != nil {
			logging.Warn(ctx, "notifier bus publish failed", slog.Any("err", errs.Loggable(err)))
		}
	}

	if n.webhookURL == "" {
		return
	}

	var err error
	if notification.AttachPath != "" {
		err = n.deliverWithAttachment(ctx, notification)
	} else {
		err = n.deliverJSON(ctx, notification)
	}
	if err != nil {
		logging.Warn(ctx, "notifier delivery failed",
			slog.String("kind", string(notification.Kind)),
			slog.Any("err", errs.Loggable(err)))
	}
}

func (n *WebhookNotifier) passesFilter(kind ports.EventKind) bool {
	kindLevel, ok := eventLevel[kind]
	if !ok {
		kindLevel = ports.LevelAllMajorEvents
	}
	return levelRank[kindLevel] <= levelRank[n.level]
}

type webhookPayload struct {
	Kind         string   `json:"kind"`
	Ticket       int64    `json:"ticket"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	URL          string   `json:"url,omitempty"`
	Color        string   `json:"color"`
	MentionRoles []string `json:"mentionRoles,omitempty"`
}

func (n *WebhookNotifier) payload(notification ports.Notification) webhookPayload {
	return webhookPayload{
		Kind:         string(notification.Kind),
		Ticket:       notification.Ticket,
		Title:        notification.Title,
		Body:         notification.Body,
		URL:          notification.URL,
		Color:        eventColor[notification.Kind],
		MentionRoles: n.mentionRoles,
	}
}

func (n *WebhookNotifier) deliverJSON(ctx context.Context, notification ports.Notification) error {
	body, err := json.Marshal(n.payload(notification))
	if err != nil {
		return errs.Wrap(err, "marshal notification payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(err, "build notifier request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errs.Wrap(err, "send notifier request")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) deliverWithAttachment(ctx context.Context, notification ports.Notification) error {
	payload, err := json.Marshal(n.payload(notification))
	if err != nil {
		return errs.Wrap(err, "marshal notification payload")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("payload", string(payload)); err != nil {
		return errs.Wrap(err, "write notifier payload field")
	}

	file, err := os.Open(notification.AttachPath)
	if err != nil {
		return errs.Wrap(err, "open notifier attachment")
	}
	defer file.Close()

	part, err := writer.CreateFormFile("attachment", filepath.Base(notification.AttachPath))
	if err != nil {
		return errs.Wrap(err, "create notifier attachment part")
	}
	if _, err := io.Copy(part, file); err != nil {
		return errs.Wrap(err, "copy notifier attachment")
	}
	if err := writer.Close(); err != nil {
		return errs.Wrap(err, "close notifier multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, &buf)
	if err != nil {
		return errs.Wrap(err, "build notifier attachment request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := n.client.Do(req)
	if err != nil {
		return errs.Wrap(err, "send notifier attachment request")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier webhook returned status %d", resp.StatusCode)
	}
	return nil
}
