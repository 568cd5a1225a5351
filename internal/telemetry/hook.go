package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cchalm/toolbag/internal/tools"
)

// ToolHook records a span for every tool call
type ToolHook struct {
	provider *Provider
}

func (p *Provider) ToolHook() ToolHook {
	return ToolHook{provider: p}
}

func (h ToolHook) BeforeToolCall(ctx context.Context, call tools.ToolCall) context.Context {
	ctx, _ = h.provider.tracer.Start(ctx, ToolSpanName, trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.use_id", call.ID),
		attribute.Int("tool.use_size", len(call.Input)),
	))
	return ctx
}

func (h ToolHook) AfterToolCall(ctx context.Context, call tools.ToolCall, outcome tools.ToolOutcome) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("tool.result_size", len(outcome.Output)),
		attribute.Bool("tool.has_error", outcome.IsError || outcome.Err != nil),
	)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
	span.End()
}
