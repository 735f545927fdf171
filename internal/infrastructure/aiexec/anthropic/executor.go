// Package anthropic implements ports.AIExecutionService against the
// Anthropic Messages API, for roles configured to run against a hosted
// model instead of a local subprocess executor.
package anthropic

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"orchestrix/internal/ports"
)

// Executor submits prompts through the Anthropic Messages API. It has no
// long-lived session to probe or kill once a request returns, matching the
// synchronous request/response shape of the Messages endpoint; hang
// detection instead relies on the request's own context deadline.
type Executor struct {
	client anthropic.Client
}

// New builds an Executor authenticated with apiKey.
func New(apiKey string) *Executor {
	return &Executor{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (e *Executor) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := e.client.Messages.New(healthCtx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaudeHaiku4_5,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return fmt.Errorf("ai execution service unreachable: %w", err)
	}
	return nil
}

func (e *Executor) Execute(ctx context.Context, input ports.ExecuteInput, sink ports.ProgressSink) (ports.ExecuteResult, error) {
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := anthropic.Model(input.Model.ModelID)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5
	}

	start := time.Now()
	stream := e.client.Messages.NewStreaming(runCtx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: 8192,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(input.Prompt)),
		},
	})

	var response string
	var toolsExecuted int
	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return ports.ExecuteResult{}, fmt.Errorf("accumulate anthropic stream: %w", err)
		}

		switch delta := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta.Delta.Text != "" {
				response += delta.Delta.Text
				if sink != nil {
					sink(ports.ProgressEvent{Kind: ports.ProgressMessageReceived, Message: response})
				}
			}
		case anthropic.ContentBlockStartEvent:
			if delta.ContentBlock.Type == "tool_use" {
				toolsExecuted++
				if sink != nil {
					sink(ports.ProgressEvent{Kind: ports.ProgressToolCompleted, Tool: delta.ContentBlock.Name})
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		if runCtx.Err() != nil {
			if sink != nil {
				sink(ports.ProgressEvent{Kind: ports.ProgressHangDetected, Message: "anthropic stream deadline exceeded"})
			}
			return ports.ExecuteResult{}, fmt.Errorf("session-hung: %w", err)
		}
		if sink != nil {
			sink(ports.ProgressEvent{Kind: ports.ProgressError, Message: err.Error()})
		}
		return ports.ExecuteResult{}, fmt.Errorf("anthropic execution failed: %w", err)
	}

	if sink != nil {
		sink(ports.ProgressEvent{Kind: ports.ProgressCompleted, Message: response})
	}

	return ports.ExecuteResult{
		Response:      response,
		SessionID:     message.ID,
		Duration:      time.Since(start),
		Attempts:      1,
		ToolsExecuted: toolsExecuted,
	}, nil
}

// SessionExists is unsupported: the Messages API has no standing session to
// probe once a request has returned.
func (e *Executor) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	return true, ports.ErrNotSupported
}

// Kill is a no-op: cancelling the request's context is the only termination
// mechanism the streaming Messages API offers, and Execute already does
// that via its own timeout.
func (e *Executor) Kill(ctx context.Context, sessionID string) error {
	return nil
}
