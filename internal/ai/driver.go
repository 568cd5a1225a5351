package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/cchalm/toolbag/internal/telemetry"
	"github.com/cchalm/toolbag/internal/tools"
)

// Driver runs a task to completion by letting the model call tools until it ends its turn
type Driver struct {
	sender   MessageSender
	registry *tools.ToolRegistry
	toolCtx  *tools.ToolContext

	conversationConfig ConversationConfig
	maxIterations      int

	store      ConversationHistoryStore // May be nil
	telemetry  *telemetry.Provider
	logger     *zap.Logger
	onResponse func(*anthropic.Message)
}

type DriverOption func(*Driver)

// WithHistoryStore persists in-flight conversations so that an interrupted run with the same session ID resumes
func WithHistoryStore(store ConversationHistoryStore) DriverOption {
	return func(d *Driver) {
		d.store = store
	}
}

func WithTelemetry(provider *telemetry.Provider) DriverOption {
	return func(d *Driver) {
		d.telemetry = provider
	}
}

func WithLogger(logger *zap.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithResponseHandler registers a function called with every response from the model
func WithResponseHandler(fn func(*anthropic.Message)) DriverOption {
	return func(d *Driver) {
		d.onResponse = fn
	}
}

// NewDriver creates a driver. If config has no tools, every tool of the registry is offered to the model
func NewDriver(
	sender MessageSender,
	registry *tools.ToolRegistry,
	toolCtx *tools.ToolContext,
	config ConversationConfig,
	maxIterations int,
	opts ...DriverOption,
) *Driver {
	if config.Tools == nil {
		config.Tools = registry.GetAllToolParams()
	}
	d := &Driver{
		sender:             sender,
		registry:           registry,
		toolCtx:            toolCtx,
		conversationConfig: config,
		maxIterations:      maxIterations,
		telemetry:          telemetry.NewNoopProvider(),
		logger:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunResult describes a completed run
type RunResult struct {
	Conversation *Conversation
	// FinalText is the text of the model's last response
	FinalText string
	// Iterations counts the rounds of tool calls
	Iterations int
	Usage      telemetry.TokenUsage
	Elapsed    time.Duration
}

// Run drives the model through task. If a conversation for sessionID is stored, it is resumed instead and task is
// ignored
func (d *Driver) Run(ctx context.Context, sessionID string, task string) (result *RunResult, err error) {
	start := time.Now()
	ctx, sessionSpan := d.telemetry.StartSession(ctx, sessionID, string(d.conversationConfig.Model))
	defer sessionSpan.End()

	result = &RunResult{}
	var conversation *Conversation
	defer func() {
		result.Elapsed = time.Since(start)
		if err == nil {
			return
		}
		sessionSpan.RecordError(err)
		sessionSpan.SetStatus(codes.Error, err.Error())
		// Keep what we have so that a rerun picks up from here
		if conversation != nil {
			d.persist(sessionID, conversation)
		}
	}()

	conversation, response, err := d.initConversation(ctx, sessionID, task, result)
	if err != nil {
		return result, fmt.Errorf("failed to initialize conversation: %w", err)
	}
	result.Conversation = conversation

	for response.StopReason != anthropic.StopReasonEndTurn {
		if result.Iterations >= d.maxIterations {
			return result, fmt.Errorf("exceeded maximum iterations (%d) without completion", d.maxIterations)
		}
		d.persist(sessionID, conversation)

		d.logger.Debug("processing AI response", zap.Int("iteration", result.Iterations+1))
		d.logResponse(response)

		switch response.StopReason {
		case anthropic.StopReasonToolUse:
			toolUses := []anthropic.ToolUseBlock{}
			for _, content := range response.Content {
				if block, ok := content.AsAny().(anthropic.ToolUseBlock); ok {
					toolUses = append(toolUses, block)
				}
			}
			if len(toolUses) == 0 {
				return result, errors.New("response stopped for tool use but contains no tool uses")
			}
			response, err = d.turn(ctx, result.Iterations+1, result, func(ctx context.Context) (*anthropic.Message, error) {
				return d.answerToolUses(ctx, conversation, toolUses, result)
			})
			if err != nil {
				return result, err
			}
		case anthropic.StopReasonMaxTokens:
			return result, fmt.Errorf("exceeded max tokens")
		case anthropic.StopReasonRefusal:
			return result, fmt.Errorf("the AI refused to generate a response due to safety concerns")
		default:
			return result, fmt.Errorf("unexpected stop reason: %v", response.StopReason)
		}

		result.Iterations++
	}
	d.logResponse(response)
	result.FinalText = responseText(response)

	// Delete the conversation history so that we don't try to resume it later
	if d.store != nil {
		if err := d.store.Delete(sessionID); err != nil {
			return result, fmt.Errorf("failed to delete conversation history for concluded conversation: %w", err)
		}
	}

	d.logger.Info("AI interaction concluded",
		zap.Int("iterations", result.Iterations),
		zap.String("elapsed", FormatDuration(time.Since(start))),
	)
	return result, nil
}

func (d *Driver) initConversation(ctx context.Context, sessionID string, task string, result *RunResult) (*Conversation, *anthropic.Message, error) {
	if d.store != nil {
		history, err := d.store.Get(sessionID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to look up conversation history: %w", err)
		}
		if history != nil {
			d.logger.Info("resuming conversation", zap.String("session", sessionID), zap.Int("turns", len(history.Messages)))
			conversation := ResumeConversation(d.sender, *history, d.conversationConfig, d.logger)
			if conversation.AwaitingResponse() {
				response, err := d.turn(ctx, 0, result, conversation.Resend)
				if err != nil {
					return conversation, nil, fmt.Errorf("failed to resend pending message: %w", err)
				}
				return conversation, response, nil
			}
			response := conversation.LastResponse()
			if response == nil {
				return nil, nil, fmt.Errorf("stored conversation '%s' is empty", sessionID)
			}
			// Tool uses of the last response run again, their results were never recorded
			return conversation, response, nil
		}
	}

	prompt, err := GeneratePrompt(PromptData{Task: task, FileTree: d.fileTree(ctx)})
	if err != nil {
		return nil, nil, err
	}

	conversation := NewConversation(d.sender, d.conversationConfig, d.logger)
	response, err := d.turn(ctx, 0, result, func(ctx context.Context) (*anthropic.Message, error) {
		return conversation.SendMessage(ctx, anthropic.NewTextBlock(prompt))
	})
	if err != nil {
		return conversation, nil, fmt.Errorf("failed to send initial message to AI: %w", err)
	}
	return conversation, response, nil
}

// answerToolUses runs every tool use through the registry and sends the results back, summarizing the conversation
// first if it has grown too large
func (d *Driver) answerToolUses(
	ctx context.Context,
	conversation *Conversation,
	toolUses []anthropic.ToolUseBlock,
	result *RunResult,
) (*anthropic.Message, error) {
	toolResults := []anthropic.ContentBlockParamUnion{}
	for _, toolUse := range toolUses {
		toolResult, err := d.registry.ProcessToolUse(ctx, toolUse, d.toolCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to process tool use: %w", err)
		}
		toolResults = append(toolResults, anthropic.ContentBlockParamUnion{OfToolResult: toolResult})
	}

	if conversation.NeedsSummarization() {
		if err := conversation.Summarize(ctx, toolResults...); err != nil {
			return nil, err
		}
		addUsage(&result.Usage, conversation.LastResponse())
		response, err := conversation.Resend(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resume after summarization: %w", err)
		}
		return response, nil
	}

	response, err := conversation.SendMessage(ctx, toolResults...)
	if err != nil {
		return nil, fmt.Errorf("failed to send tool results to AI: %w", err)
	}
	return response, nil
}

// turn runs fn in a turn span and accounts for the token usage of the response it returns
func (d *Driver) turn(
	ctx context.Context,
	index int,
	result *RunResult,
	fn func(context.Context) (*anthropic.Message, error),
) (*anthropic.Message, error) {
	ctx, span, turnID := d.telemetry.StartTurn(ctx, index)
	defer span.End()

	response, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	usage := addUsage(&result.Usage, response)
	telemetry.RecordTokenUsage(span, usage)
	d.logger.Info("received AI response",
		zap.String("turn", turnID),
		zap.String("stop_reason", string(response.StopReason)),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
		zap.Int64("cache_read_tokens", usage.CacheReadTokens),
		zap.Int64("cache_creation_tokens", usage.CacheCreationTokens),
	)
	if d.onResponse != nil {
		d.onResponse(response)
	}
	return response, nil
}

func (d *Driver) persist(sessionID string, conversation *Conversation) {
	if d.store == nil {
		return
	}
	if err := d.store.Set(sessionID, conversation.History()); err != nil {
		d.logger.Warn("failed to persist conversation history", zap.String("session", sessionID), zap.Error(err))
	}
}

// fileTree returns the JSON listing of the working directory, or "" if it is unavailable
func (d *Driver) fileTree(ctx context.Context) string {
	if d.toolCtx == nil || d.toolCtx.Toolset == nil {
		return ""
	}
	tree, err := d.toolCtx.Toolset.ListFiles(ctx)
	if err != nil {
		d.logger.Warn("failed to list working directory for the prompt", zap.Error(err))
		return ""
	}
	b, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		d.logger.Warn("failed to marshal working directory listing", zap.Error(err))
		return ""
	}
	return string(b)
}

func (d *Driver) logResponse(response *anthropic.Message) {
	for _, contentBlock := range response.Content {
		switch block := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			d.logger.Debug("response block", zap.String("type", "text"), zap.String("text", block.Text))
		case anthropic.ToolUseBlock:
			d.logger.Debug("response block", zap.String("type", "tool_use"), zap.String("tool", block.Name))
		case anthropic.ThinkingBlock:
			d.logger.Debug("response block", zap.String("type", "thinking"), zap.String("thinking", block.Thinking))
		case anthropic.RedactedThinkingBlock:
			d.logger.Debug("response block", zap.String("type", "redacted_thinking"))
		default:
			d.logger.Debug("response block", zap.String("type", contentBlock.Type))
		}
	}
}

func addUsage(total *telemetry.TokenUsage, response *anthropic.Message) telemetry.TokenUsage {
	if response == nil {
		return telemetry.TokenUsage{}
	}
	usage := telemetry.TokenUsage{
		InputTokens:         response.Usage.InputTokens,
		OutputTokens:        response.Usage.OutputTokens,
		CacheReadTokens:     response.Usage.CacheReadInputTokens,
		CacheCreationTokens: response.Usage.CacheCreationInputTokens,
	}
	total.InputTokens += usage.InputTokens
	total.OutputTokens += usage.OutputTokens
	total.CacheReadTokens += usage.CacheReadTokens
	total.CacheCreationTokens += usage.CacheCreationTokens
	return usage
}

func responseText(response *anthropic.Message) string {
	var parts []string
	for _, contentBlock := range response.Content {
		if block, ok := contentBlock.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// FormatDuration renders d in whole seconds, or in whole minutes when it is over a minute
func FormatDuration(d time.Duration) string {
	if d > time.Minute {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	return fmt.Sprintf("%.0fs", d.Seconds())
}
