// Tracing instrumentation for the executor.
package executor

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/agentcore/internal/skills"
)

// startRunSpan starts a span for one Execute call.
func (e *Executor) startRunSpan(ctx context.Context, runID string, tasks int) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "loop.run")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.session", e.sessionID),
		attribute.Int("run.initial_tasks", tasks),
	)
	return ctx, span
}

// endRunSpan ends the run span with result info.
func (e *Executor) endRunSpan(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.Bool("run.success", res.Success),
		attribute.Int("run.iterations", res.Iterations),
		attribute.Int("run.tool_calls", res.ToolCalls),
	)
	if !res.Success {
		span.SetStatus(codes.Error, truncateForLog(res.FinalMessage, 200))
	}
	span.End()
}

// startIterationSpan starts a span for one decision.
func (e *Executor) startIterationSpan(ctx context.Context, n, budget int) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "loop.iteration")
	span.SetAttributes(
		attribute.Int("iteration.n", n),
		attribute.Int("iteration.budget", budget),
	)
	return ctx, span
}

func (e *Executor) endIterationSpan(span trace.Span, d Decision) {
	span.SetAttributes(
		attribute.String("decision.action", string(d.Action)),
		attribute.Bool("decision.fallback", d.Fallback),
	)
	if d.TaskID != "" {
		span.SetAttributes(attribute.String("decision.task", d.TaskID))
	}
	span.End()
}

// startToolSpan starts a span for a skill invocation.
func (e *Executor) startToolSpan(ctx context.Context, tool, taskID string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "tool."+tool)
	span.SetAttributes(
		attribute.String("tool.name", tool),
		attribute.String("tool.task", taskID),
	)
	return ctx, span
}

// endToolSpan ends the tool span with output info.
func (e *Executor) endToolSpan(span trace.Span, res *skills.Result, err error) {
	tracer := telemetry.GetTracer()
	if res != nil {
		span.SetAttributes(attribute.Bool("tool.success", res.Success))
		if tracer.Debug() {
			span.SetAttributes(attribute.String("tool.output", truncateForLog(formatOutput(res), 2000)))
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// startSubAgentSpan starts a span for a sub-agent run.
func startSubAgentSpan(ctx context.Context, id, mode string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "subagent.run")
	span.SetAttributes(
		attribute.String("subagent.id", id),
		attribute.String("subagent.mode", mode),
	)
	return ctx, span
}
