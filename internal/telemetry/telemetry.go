// Package telemetry traces sessions, conversation turns, and tool calls with OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	serviceName = "toolbag"
	tracerName  = "github.com/cchalm/toolbag"

	SessionSpanName = "toolbag.session"
	TurnSpanName    = "toolbag.turn"
	ToolSpanName    = "toolbag.tool"
)

// TelemetryConfig holds the configuration for telemetry
type TelemetryConfig struct {
	Enabled bool
	// Endpoint is the OTLP/HTTP traces endpoint, e.g. http://localhost:4318/v1/traces. Empty uses the exporter's
	// default, which honors OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint       string
	ServiceVersion string
}

// Provider manages the tracer used across a run. A disabled provider hands out no-op spans
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	logger *zap.Logger
}

// NewProvider creates a new telemetry provider
func NewProvider(ctx context.Context, config TelemetryConfig, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled {
		logger.Debug("telemetry disabled")
		return NewNoopProvider(), nil
	}

	var opts []otlptracehttp.Option
	if config.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(config.Endpoint))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", config.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	p := NewProviderWithOptions(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	p.logger = logger
	otel.SetTracerProvider(p.tp)
	logger.Info("telemetry enabled", zap.String("endpoint", config.Endpoint))
	return p, nil
}

// NewProviderWithOptions creates an enabled provider from tracer provider options, e.g. a span recorder in tests
func NewProviderWithOptions(opts ...sdktrace.TracerProviderOption) *Provider {
	tp := sdktrace.NewTracerProvider(opts...)
	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
		logger: zap.NewNop(),
	}
}

// NewNoopProvider creates a provider whose spans are discarded
func NewNoopProvider() *Provider {
	return &Provider{
		tracer: noop.NewTracerProvider().Tracer(tracerName),
		logger: zap.NewNop(),
	}
}

// Shutdown flushes pending spans and shuts down the telemetry provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	p.logger.Debug("shutting down telemetry provider")
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}

// TokenUsage represents token usage metrics
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

// StartSession starts the span covering a whole run of the driver
func (p *Provider) StartSession(ctx context.Context, sessionID string, model string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, SessionSpanName, trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("ai.model", model),
	))
}

// StartTurn starts the span covering one request to the AI and the handling of its response. It returns the new
// turn's ID
func (p *Provider) StartTurn(ctx context.Context, turnIndex int) (context.Context, trace.Span, string) {
	turnID := NewTurnID()
	ctx, span := p.tracer.Start(ctx, TurnSpanName, trace.WithAttributes(
		attribute.String("turn.id", turnID),
		attribute.Int("turn.index", turnIndex),
	))
	return ctx, span, turnID
}

// RecordTokenUsage attaches token usage of a response to span
func RecordTokenUsage(span trace.Span, usage TokenUsage) {
	span.SetAttributes(
		attribute.Int64("tokens.input", usage.InputTokens),
		attribute.Int64("tokens.output", usage.OutputTokens),
		attribute.Int64("tokens.cache_read", usage.CacheReadTokens),
		attribute.Int64("tokens.cache_creation", usage.CacheCreationTokens),
	)
}

// NewConversationID generates a new conversation UUID
func NewConversationID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn UUID
func NewTurnID() string {
	return uuid.New().String()
}
