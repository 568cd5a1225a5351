// Package tools adapts the toolset and the fetch helper to Anthropic tool definitions, and dispatches tool use
// blocks from a conversation to them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cchalm/toolbag/internal/toolset"
)

// AnthropicTool defines the interface for all tools
type AnthropicTool interface {
	// GetToolParam creates and returns an anthropic.ToolParam defining the tool
	GetToolParam() anthropic.ToolParam

	// Run takes a ToolUseBlock, performs the tool call, and returns a string result or an error. The error will be a
	// ToolInputError if it is recoverable by fixing inputs. A call to Run has no side effects if it returns
	// ToolInputError
	Run(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*string, error)
}

// HTMLFetcher retrieves web pages for the fetch_html tool
type HTMLFetcher interface {
	Fetch(ctx context.Context, url string) string
	FetchText(ctx context.Context, url string) string
}

// ToolContext provides context needed by tools during execution
type ToolContext struct {
	Toolset *toolset.Toolset
	Fetcher HTMLFetcher
}

// ToolInputError represents an error that could be recovered by correcting inputs to the tool. This error will be
// uploaded to the AI, so it must not contain any sensitive information
type ToolInputError struct {
	cause error
}

func (tie ToolInputError) Error() string {
	return fmt.Sprintf("tool input error: %s", tie.cause)
}

func (tie ToolInputError) Unwrap() error {
	return tie.cause
}

func NewToolInputError(cause error) ToolInputError {
	return ToolInputError{cause: cause}
}

// ToolRegistry manages all available tools
type ToolRegistry struct {
	tools  map[string]AnthropicTool
	hooks  []Hook
	logger *zap.Logger
}

// NewToolRegistry creates a new tool registry with all available tools
func NewToolRegistry(logger *zap.Logger) *ToolRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := &ToolRegistry{
		tools:  make(map[string]AnthropicTool),
		logger: logger,
	}

	registry.Register(NewListFilesTool())
	registry.Register(NewFindLinesInFileTool())
	registry.Register(NewFindLinesInAllFilesTool())
	registry.Register(NewSaveToFileTool())
	registry.Register(NewReadLineNumbersTool())
	registry.Register(NewCopyLinesTool())
	registry.Register(NewReplaceLinesInFileTool())
	registry.Register(NewDeleteFileTool())
	registry.Register(NewMoveFileTool())
	registry.Register(NewFetchHTMLTool())

	return registry
}

// Register adds a tool to the registry, replacing any tool with the same name
func (r *ToolRegistry) Register(tool AnthropicTool) {
	param := tool.GetToolParam()
	r.tools[param.Name] = tool
}

// Use adds hooks that observe every tool call. BeforeToolCall runs in the order the hooks were added, and
// AfterToolCall in reverse
func (r *ToolRegistry) Use(hooks ...Hook) {
	r.hooks = append(r.hooks, hooks...)
}

// GetTool retrieves a tool by name
func (r *ToolRegistry) GetTool(name string) (AnthropicTool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the names of all registered tools in lexicographic order
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetAllToolParams returns all tool parameters for use with the API, sorted by name so that requests are stable
// across runs and cacheable
func (r *ToolRegistry) GetAllToolParams() []anthropic.ToolParam {
	var params []anthropic.ToolParam
	for _, name := range r.Names() {
		params = append(params, r.tools[name].GetToolParam())
	}
	return params
}

// ProcessToolUse processes a tool use block with the appropriate tool
func (r *ToolRegistry) ProcessToolUse(ctx context.Context, block anthropic.ToolUseBlock, toolCtx *ToolContext) (*anthropic.ToolResultBlockParam, error) {
	tool, ok := r.GetTool(block.Name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", block.Name)
	}

	call := ToolCall{ID: block.ID, Name: block.Name, Input: block.Input}
	for _, hook := range r.hooks {
		ctx = hook.BeforeToolCall(ctx, call)
	}

	start := time.Now()
	response, err := tool.Run(ctx, block, toolCtx)
	outcome := ToolOutcome{Duration: time.Since(start)}

	var resultBlock anthropic.ToolResultBlockParam
	var tie ToolInputError
	if errors.As(err, &tie) {
		// Respond with an error result block to give the AI the opportunity to correct the inputs
		outcome.Output, outcome.IsError = tie.Error(), true
		resultBlock = newToolResultBlockParam(block.ID, outcome.Output, true)
		r.logger.Warn("recoverable tool error, reporting to the AI to give it an opportunity to retry",
			zap.String("tool", block.Name), zap.Error(err))
	} else if err != nil {
		outcome.Err = err
		r.runAfterHooks(ctx, call, outcome)
		return nil, fmt.Errorf("error while running tool %s: %w", block.Name, err)
	} else if response != nil {
		outcome.Output = *response
		resultBlock = newToolResultBlockParam(block.ID, *response, false)
	} else {
		resultBlock = newToolResultBlockParam(block.ID, "", false)
	}

	r.runAfterHooks(ctx, call, outcome)
	return &resultBlock, nil
}

func (r *ToolRegistry) runAfterHooks(ctx context.Context, call ToolCall, outcome ToolOutcome) {
	for i := len(r.hooks) - 1; i >= 0; i-- {
		r.hooks[i].AfterToolCall(ctx, call, outcome)
	}
}

// Invoke runs a single tool outside of a conversation, e.g. from the command line. It returns the text the AI would
// have received, and whether that text reports an input error
func (r *ToolRegistry) Invoke(ctx context.Context, name string, input json.RawMessage, toolCtx *ToolContext) (string, bool, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	block := anthropic.ToolUseBlock{
		ID:    "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:  name,
		Input: input,
	}
	result, err := r.ProcessToolUse(ctx, block, toolCtx)
	if err != nil {
		return "", false, err
	}
	return ResultText(*result), result.IsError.Or(false), nil
}

// ResultText concatenates the text content of a tool result block
func ResultText(result anthropic.ToolResultBlockParam) string {
	var sb strings.Builder
	for _, content := range result.Content {
		if content.OfText != nil {
			sb.WriteString(content.OfText.Text)
		}
	}
	return sb.String()
}

// Helper function to create a ToolResultBlockParam, in contrast to anthropic.NewToolResultBlockParam which creates a
// ContentBlockParamUnion
func newToolResultBlockParam(toolID string, result string, isError bool) anthropic.ToolResultBlockParam {
	return anthropic.ToolResultBlockParam{
		ToolUseID: toolID,
		Content: []anthropic.ToolResultBlockParamContentUnion{
			{OfText: &anthropic.TextBlockParam{Text: result}},
		},
		IsError: anthropic.Bool(isError),
	}
}
