package ai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
)

const resumePrompt = "Please resume working on this task based on your summary."

// ConversationConfig holds the parameters sent with every request of a conversation
type ConversationConfig struct {
	Model           anthropic.Model
	MaxOutputTokens int64
	Temperature     float64
	// TokenLimit is the context size above which NeedsSummarization reports true
	TokenLimit   int64
	SystemPrompt string
	Tools        []anthropic.ToolParam
}

type Conversation struct {
	sender MessageSender
	config ConversationConfig
	logger *zap.Logger

	Messages []ConversationTurn
}

// ConversationTurn is a pair of messages: a user message, and an optional assistant response
type ConversationTurn struct {
	UserMessage anthropic.MessageParam
	Response    *anthropic.Message // May be nil
}

func NewConversation(sender MessageSender, config ConversationConfig, logger *zap.Logger) *Conversation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversation{
		sender: sender,
		config: config,
		logger: logger,
	}
}

// ResumeConversation restores a conversation from a history snapshot. The system prompt of the snapshot takes
// precedence over the one in config
func ResumeConversation(sender MessageSender, history ConversationHistory, config ConversationConfig, logger *zap.Logger) *Conversation {
	config.SystemPrompt = history.SystemPrompt
	c := NewConversation(sender, config, logger)
	c.Messages = history.Messages
	return c
}

// SendMessage adds a user message to the conversation and sends it
func (cc *Conversation) SendMessage(ctx context.Context, messageContent ...anthropic.ContentBlockParamUnion) (*anthropic.Message, error) {
	return cc.sendMessage(ctx, true, messageContent...)
}

// Resend sends the conversation as it is. The last turn must be awaiting a response, as it is after an interrupted
// send or a summarization
func (cc *Conversation) Resend(ctx context.Context) (*anthropic.Message, error) {
	if !cc.AwaitingResponse() {
		return nil, errors.New("last turn of the conversation already has a response")
	}
	return cc.send(ctx)
}

// AwaitingResponse reports whether the last user message has not been answered
func (cc *Conversation) AwaitingResponse() bool {
	return len(cc.Messages) > 0 && cc.Messages[len(cc.Messages)-1].Response == nil
}

// LastResponse returns the most recent response, or nil if there is none
func (cc *Conversation) LastResponse() *anthropic.Message {
	for i := len(cc.Messages) - 1; i >= 0; i-- {
		if cc.Messages[i].Response != nil {
			return cc.Messages[i].Response
		}
	}
	return nil
}

func (cc *Conversation) sendMessage(ctx context.Context, enableCache bool, messageContent ...anthropic.ContentBlockParamUnion) (*anthropic.Message, error) {
	if cc.AwaitingResponse() {
		return nil, errors.New("last turn of the conversation has not been answered")
	}

	// Unsupported cache points, e.g. on content that is below the minimum length for caching, are ignored
	if enableCache {
		cacheControl, err := getLastCacheControl(messageContent)
		if err != nil {
			cc.logger.Warn("failed to set cache point", zap.Error(err))
		} else {
			*cacheControl = anthropic.NewCacheControlEphemeralParam()
		}
	}

	cc.Messages = append(cc.Messages, ConversationTurn{
		UserMessage: anthropic.NewUserMessage(messageContent...),
	})

	response, err := cc.send(ctx)

	// Anthropic's automatic prefix checking reuses previously-cached sections without the explicit marker
	if enableCache {
		if cacheControl, err := getLastCacheControl(messageContent); err == nil {
			*cacheControl = anthropic.CacheControlEphemeralParam{}
		}
	}

	return response, err
}

// send requests a response to the last turn and records it
func (cc *Conversation) send(ctx context.Context) (*anthropic.Message, error) {
	messageParams := []anthropic.MessageParam{}
	for _, turn := range cc.Messages {
		messageParams = append(messageParams, turn.UserMessage)
		if turn.Response != nil {
			messageParams = append(messageParams, turn.Response.ToParam())
		}
	}

	params := anthropic.MessageNewParams{
		Model:       cc.config.Model,
		MaxTokens:   cc.config.MaxOutputTokens,
		Temperature: anthropic.Float(cc.config.Temperature),
		Messages:    messageParams,
	}
	if cc.config.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: cc.config.SystemPrompt}}
	}

	toolParams := []anthropic.ToolUnionParam{}
	for _, tool := range cc.config.Tools {
		toolParams = append(toolParams, anthropic.ToolUnionParam{
			OfTool: &tool,
		})
	}
	params.Tools = toolParams

	response, err := cc.sender.SendMessage(ctx, params)
	if err != nil {
		return nil, err
	}

	cc.logger.Debug("token usage",
		zap.Int64("input", response.Usage.InputTokens),
		zap.Int64("cache_create", response.Usage.CacheCreationInputTokens),
		zap.Int64("cache_read", response.Usage.CacheReadInputTokens),
		zap.Int64("output", response.Usage.OutputTokens),
	)

	cc.Messages[len(cc.Messages)-1].Response = &response
	return &response, nil
}

func getLastCacheControl(content []anthropic.ContentBlockParamUnion) (*anthropic.CacheControlEphemeralParam, error) {
	for i := len(content) - 1; i >= 0; i-- {
		c := content[i]
		if cacheControl := c.GetCacheControl(); cacheControl != nil {
			return cacheControl, nil
		}
	}

	return nil, fmt.Errorf("no cacheable blocks in content")
}

func contextSize(usage anthropic.Usage) int64 {
	return usage.InputTokens + usage.CacheReadInputTokens + usage.CacheCreationInputTokens
}

// NeedsSummarization checks if the conversation should be summarized due to token limits
func (cc *Conversation) NeedsSummarization() bool {
	if cc.config.TokenLimit <= 0 || len(cc.Messages) == 0 {
		return false
	}

	lastMessage := cc.Messages[len(cc.Messages)-1]
	if lastMessage.Response == nil {
		return false
	}

	// The most recent turn's input includes the whole history
	return contextSize(lastMessage.Response.Usage) > cc.config.TokenLimit
}

// Summarize replaces the conversation history with a summary of it. The first user message, which holds the task,
// is preserved and answered with the summary, followed by a request to resume that awaits a response. pending is
// content that must accompany the next user message, e.g. results for tool uses in the last response; it is sent
// along with the summary request
func (cc *Conversation) Summarize(ctx context.Context, pending ...anthropic.ContentBlockParamUnion) error {
	if len(cc.Messages) <= 1 && len(pending) == 0 {
		return nil
	}

	originalMessageCount := len(cc.Messages)
	var totalTokens int64
	if last := cc.LastResponse(); last != nil {
		totalTokens = contextSize(last.Usage)
	}
	cc.logger.Info("summarizing conversation",
		zap.Int("turns", originalMessageCount),
		zap.Int64("input_tokens", totalTokens),
	)

	firstMessage := cc.Messages[0].UserMessage

	// No cache point, the history is about to be thrown away
	content := append(slices.Clone(pending), anthropic.NewTextBlock(summaryPrompt()))
	summary, err := cc.sendMessage(ctx, false, content...)
	if err != nil {
		return fmt.Errorf("failed to generate conversation summary: %w", err)
	}

	// Tool uses in the summary would be left without results
	textOnly := *summary
	textOnly.Content = slices.DeleteFunc(slices.Clone(summary.Content), func(block anthropic.ContentBlockUnion) bool {
		return block.Type != "text"
	})

	cc.Messages = []ConversationTurn{
		{UserMessage: firstMessage, Response: &textOnly},
		{UserMessage: anthropic.NewUserMessage(anthropic.NewTextBlock(resumePrompt))},
	}

	cc.logger.Info("conversation summarized",
		zap.Int("turns_before", originalMessageCount),
		zap.Int("turns_after", len(cc.Messages)),
	)
	return nil
}

func summaryPrompt() string {
	var sb strings.Builder
	sb.WriteString("Please summarize all of the work you have done so far. Focus on:\n")
	sb.WriteString("1. Key decisions and changes made\n")
	sb.WriteString("2. Current state of the files you have worked on\n")
	sb.WriteString("3. Any important context for continuing the work\n")
	sb.WriteString("4. Tools used and their outcomes\n\n")
	sb.WriteString("Please provide a comprehensive but concise summary that captures all important information needed to continue working effectively. ")
	sb.WriteString("Do not call any tools in this response. ")
	sb.WriteString("There's no need to restate the task itself - focus on the actual work done during our conversation.")
	return sb.String()
}

// ConversationHistory contains a serializable and resumable snapshot of a Conversation
type ConversationHistory struct {
	SystemPrompt string             `json:"systemPrompt"`
	Messages     []ConversationTurn `json:"messages"`
}

// History returns a serializable conversation history
func (cc *Conversation) History() ConversationHistory {
	return ConversationHistory{
		SystemPrompt: cc.config.SystemPrompt,
		Messages:     cc.Messages,
	}
}
