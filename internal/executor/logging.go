// Tool event logging for the executor.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/agentcore/internal/events"
	"github.com/vinayprograms/agentcore/internal/skills"
)

// logToolCall emits a tool call event to the hooks and the event sink.
// Returns a correlation ID that should be passed to logToolResult.
func (e *Executor) logToolCall(ctx context.Context, run *runState, task Task, name string, params map[string]interface{}) string {
	corrID := uuid.NewString()
	ev := events.ToolCallEvent{
		CorrelationID: corrID,
		SessionID:     e.sessionID,
		TaskID:        task.ID,
		Tool:          name,
		Params:        params,
		Timestamp:     time.Now(),
	}
	run.hooks.beforeToolCall(ev)
	e.emit(ctx, events.FromCall(ev))

	// Arguments only at debug level; they may carry secrets.
	e.logger.Debug("tool call", map[string]interface{}{
		"tool":    name,
		"task":    task.ID,
		"corr_id": corrID,
		"args":    params,
	})
	return corrID
}

// logToolResult emits the result event and records the call in state.
func (e *Executor) logToolResult(ctx context.Context, run *runState, task Task, name string, params map[string]interface{}, corrID string, res *skills.Result, err error, duration time.Duration) {
	// Structured logging to stdout
	e.logger.ToolResult(name, duration, err)

	ev := events.ToolResultEvent{
		CorrelationID: corrID,
		SessionID:     e.sessionID,
		TaskID:        task.ID,
		Tool:          name,
		Duration:      duration,
		Timestamp:     time.Now(),
	}
	switch {
	case err != nil:
		ev.Error = err.Error()
	case res != nil:
		ev.Success = res.Success
		ev.Error = res.Error
		ev.Result = truncateForLog(formatOutput(res), 4000)
	}
	run.hooks.afterToolCall(ev)
	e.emit(ctx, events.FromResult(ev))

	run.state.ToolCalls = append(run.state.ToolCalls, ToolCall{
		CorrelationID: corrID,
		TaskID:        task.ID,
		Tool:          name,
		Params:        params,
		Success:       ev.Success,
		Error:         ev.Error,
		Duration:      duration,
	})
}

func (e *Executor) emit(ctx context.Context, ev events.Event) {
	if e.events == nil {
		return
	}
	// Sinks outlive a cancelled run; the record still matters.
	if err := e.events.Record(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("event sink error", map[string]interface{}{
			"type":  ev.Type,
			"error": err.Error(),
		})
	}
}
