package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cchalm/toolbag/internal/tools"
)

func newRecordingProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	p := NewProviderWithOptions(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, recorder
}

func attributes(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)

	ctx, span := p.StartSession(context.Background(), "s", "m")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NotNil(t, ctx)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSessionAndTurnSpans(t *testing.T) {
	p, recorder := newRecordingProvider(t)

	ctx, session := p.StartSession(context.Background(), "session-1", "claude-test")
	_, turn, turnID := p.StartTurn(ctx, 3)
	RecordTokenUsage(turn, TokenUsage{InputTokens: 10, OutputTokens: 20, CacheReadTokens: 30, CacheCreationTokens: 40})
	turn.End()
	session.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, TurnSpanName, spans[0].Name())
	assert.Equal(t, SessionSpanName, spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	turnAttrs := attributes(spans[0])
	assert.Equal(t, turnID, turnAttrs["turn.id"].AsString())
	assert.Equal(t, int64(3), turnAttrs["turn.index"].AsInt64())
	assert.Equal(t, int64(20), turnAttrs["tokens.output"].AsInt64())
	assert.Equal(t, int64(40), turnAttrs["tokens.cache_creation"].AsInt64())

	sessionAttrs := attributes(spans[1])
	assert.Equal(t, "session-1", sessionAttrs["session.id"].AsString())
	assert.Equal(t, "claude-test", sessionAttrs["ai.model"].AsString())
}

func TestToolHook(t *testing.T) {
	p, recorder := newRecordingProvider(t)
	hook := p.ToolHook()

	call := tools.ToolCall{ID: "toolu_1", Name: "save_to_file", Input: json.RawMessage(`{"filename":"a"}`)}
	ctx := hook.BeforeToolCall(context.Background(), call)
	hook.AfterToolCall(ctx, call, tools.ToolOutcome{Output: "ok", IsError: true})

	failed := hook.BeforeToolCall(context.Background(), call)
	hook.AfterToolCall(failed, call, tools.ToolOutcome{Err: errors.New("boom")})

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	attrs := attributes(spans[0])
	assert.Equal(t, ToolSpanName, spans[0].Name())
	assert.Equal(t, "save_to_file", attrs["tool.name"].AsString())
	assert.Equal(t, int64(len(call.Input)), attrs["tool.use_size"].AsInt64())
	assert.Equal(t, int64(2), attrs["tool.result_size"].AsInt64())
	assert.True(t, attrs["tool.has_error"].AsBool())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1)
}

func TestToolHookWithRegistry(t *testing.T) {
	p, recorder := newRecordingProvider(t)
	registry := tools.NewToolRegistry(nil)
	registry.Use(p.ToolHook())

	_, _, err := registry.Invoke(context.Background(), "fetch_html", json.RawMessage(`{}`), &tools.ToolContext{})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.True(t, attributes(spans[0])["tool.has_error"].AsBool())
}

func TestIDs(t *testing.T) {
	_, err := uuid.Parse(NewConversationID())
	require.NoError(t, err)
	assert.NotEqual(t, NewTurnID(), NewTurnID())
}
