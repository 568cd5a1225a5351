package tools

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// ToolCall identifies one invocation of a tool by the AI
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolOutcome describes how a tool call ended. Err is set only for failures that abort the conversation; input
// errors reported back to the AI have IsError set instead
type ToolOutcome struct {
	Output   string
	IsError  bool
	Err      error
	Duration time.Duration
}

// Hook observes tool calls. BeforeToolCall may return a derived context, e.g. one carrying a trace span, which is
// passed to the tool and to AfterToolCall
type Hook interface {
	BeforeToolCall(ctx context.Context, call ToolCall) context.Context
	AfterToolCall(ctx context.Context, call ToolCall, outcome ToolOutcome)
}

// maxLoggedOutput bounds how much of a tool result is written to the log
const maxLoggedOutput = 2000

// LoggingHook logs every tool call and its result
type LoggingHook struct {
	logger *zap.Logger
}

func NewLoggingHook(logger *zap.Logger) LoggingHook {
	return LoggingHook{logger: logger}
}

func (h LoggingHook) BeforeToolCall(ctx context.Context, call ToolCall) context.Context {
	h.logger.Info("about to call tool",
		zap.String("tool", call.Name),
		zap.String("id", call.ID),
		zap.ByteString("arguments", call.Input),
	)
	return ctx
}

func (h LoggingHook) AfterToolCall(ctx context.Context, call ToolCall, outcome ToolOutcome) {
	fields := []zap.Field{
		zap.String("tool", call.Name),
		zap.String("id", call.ID),
		zap.ByteString("arguments", call.Input),
		zap.Duration("duration", outcome.Duration),
	}
	switch {
	case outcome.Err != nil:
		h.logger.Error("tool failed", append(fields, zap.Error(outcome.Err))...)
	case outcome.IsError:
		h.logger.Warn("tool rejected its input", append(fields, zap.String("result", truncate(outcome.Output)))...)
	default:
		h.logger.Info("tool returned", append(fields, zap.String("result", truncate(outcome.Output)))...)
	}
}

func truncate(s string) string {
	if len(s) <= maxLoggedOutput {
		return s
	}
	return s[:maxLoggedOutput] + "... (truncated)"
}
