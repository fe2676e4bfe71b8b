// Package events records tool call and tool result events.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Event types.
const (
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
)

// ToolCallEvent is emitted right before a skill runs.
type ToolCallEvent struct {
	CorrelationID string
	SessionID     string
	TaskID        string
	Tool          string
	Params        map[string]interface{}
	Timestamp     time.Time
}

// ToolResultEvent is emitted when a skill returns, successfully or not.
type ToolResultEvent struct {
	CorrelationID string
	SessionID     string
	TaskID        string
	Tool          string
	Result        string
	Error         string
	Success       bool
	Duration      time.Duration
	Timestamp     time.Time
}

// Event is the flattened on-disk and on-wire form of both event kinds.
type Event struct {
	Seq           uint64                 `json:"seq"`
	Type          string                 `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"corr_id"`
	SessionID     string                 `json:"session_id,omitempty"`
	TaskID        string                 `json:"task_id,omitempty"`
	Tool          string                 `json:"tool"`
	Params        map[string]interface{} `json:"params,omitempty"`
	Result        string                 `json:"result,omitempty"`
	Success       *bool                  `json:"success,omitempty"` // nil on tool_call
	Error         string                 `json:"error,omitempty"`
	DurationMs    int64                  `json:"duration_ms,omitempty"`
}

// FromCall flattens a call event.
func FromCall(e ToolCallEvent) Event {
	return Event{
		Type:          TypeToolCall,
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		SessionID:     e.SessionID,
		TaskID:        e.TaskID,
		Tool:          e.Tool,
		Params:        e.Params,
	}
}

// FromResult flattens a result event.
func FromResult(e ToolResultEvent) Event {
	ok := e.Success
	return Event{
		Type:          TypeToolResult,
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		SessionID:     e.SessionID,
		TaskID:        e.TaskID,
		Tool:          e.Tool,
		Result:        e.Result,
		Success:       &ok,
		Error:         e.Error,
		DurationMs:    e.Duration.Milliseconds(),
	}
}

// Sink receives events. Implementations must be safe for concurrent use;
// several loop instances may share one sink.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMulti returns a fan-out over sinks. Nil sinks are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Len reports the number of sinks.
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

func (m *Multi) Record(ctx context.Context, e Event) error {
	m.mu.RLock()
	sinks := append([]Sink(nil), m.sinks...)
	m.mu.RUnlock()

	var firstErr error
	failed := 0
	for _, s := range sinks {
		if err := s.Record(ctx, e); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if failed > 1 {
		return fmt.Errorf("%d sinks failed, first: %w", failed, firstErr)
	}
	return firstErr
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, e Event) error

func (f Func) Record(ctx context.Context, e Event) error { return f(ctx, e) }
