package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cchalm/toolbag/internal/telemetry"
	"github.com/cchalm/toolbag/internal/tools"
	"github.com/cchalm/toolbag/internal/toolset"
)

// fakeSender replays canned responses in order and records every request
type fakeSender struct {
	responses []anthropic.Message
	requests  []anthropic.MessageNewParams
	// inspect, if set, sees each request before it is answered
	inspect func(anthropic.MessageNewParams)
}

func newFakeSender(t *testing.T, responses ...anthropic.Message) *fakeSender {
	t.Helper()
	return &fakeSender{responses: responses}
}

func (f *fakeSender) SendMessage(ctx context.Context, params anthropic.MessageNewParams, opts ...anthropt.RequestOption) (anthropic.Message, error) {
	f.requests = append(f.requests, params)
	if f.inspect != nil {
		f.inspect(params)
	}
	if err := ctx.Err(); err != nil {
		return anthropic.Message{}, err
	}
	if len(f.responses) == 0 {
		return anthropic.Message{}, errors.New("no more canned responses")
	}
	response := f.responses[0]
	f.responses = f.responses[1:]
	return response, nil
}

type toolUse struct {
	id    string
	name  string
	input string
}

type usage struct {
	input       int64
	output      int64
	cacheRead   int64
	cacheCreate int64
}

// message builds a response the way the API returns it, so that union accessors work
func message(t *testing.T, stopReason string, u usage, text string, uses ...toolUse) anthropic.Message {
	t.Helper()
	content := []map[string]any{}
	if text != "" {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	for _, use := range uses {
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    use.id,
			"name":  use.name,
			"input": json.RawMessage(use.input),
		})
	}
	raw, err := json.Marshal(map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"content":       content,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":                u.input,
			"output_tokens":               u.output,
			"cache_read_input_tokens":     u.cacheRead,
			"cache_creation_input_tokens": u.cacheCreate,
		},
	})
	require.NoError(t, err)

	var m anthropic.Message
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func endTurn(t *testing.T, text string) anthropic.Message {
	return message(t, "end_turn", usage{input: 10, output: 5}, text)
}

func toolUseMessage(t *testing.T, uses ...toolUse) anthropic.Message {
	return message(t, "tool_use", usage{input: 10, output: 5}, "", uses...)
}

func newTestDriver(t *testing.T, sender MessageSender, opts ...DriverOption) (*Driver, string) {
	t.Helper()
	root := t.TempDir()
	ts, err := toolset.New(root)
	require.NoError(t, err)
	config := ConversationConfig{
		Model:           "claude-test",
		MaxOutputTokens: 1000,
		Temperature:     0.25,
		SystemPrompt:    "be helpful",
	}
	return NewDriver(sender, tools.NewToolRegistry(nil), &tools.ToolContext{Toolset: ts}, config, 5, opts...), root
}

// toolResults returns the tool results of the last message of a request
func toolResults(params anthropic.MessageNewParams) []*anthropic.ToolResultBlockParam {
	var results []*anthropic.ToolResultBlockParam
	last := params.Messages[len(params.Messages)-1]
	for _, block := range last.Content {
		if block.OfToolResult != nil {
			results = append(results, block.OfToolResult)
		}
	}
	return results
}

func textOf(params anthropic.MessageParam) string {
	for _, block := range params.Content {
		if block.OfText != nil {
			return block.OfText.Text
		}
	}
	return ""
}

func TestRun_CallsToolsUntilEndTurn(t *testing.T) {
	sender := newFakeSender(t,
		toolUseMessage(t, toolUse{"toolu_1", "save_to_file", `{"filename":"fetch.py","contents":"import requests\n"}`}),
		endTurn(t, "Saved fetch.py"),
	)
	driver, root := newTestDriver(t, sender)

	result, err := driver.Run(context.Background(), "session", "Write a fetcher")
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(root, "fetch.py"))
	require.NoError(t, err)
	assert.Equal(t, "import requests\n", string(b))

	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, "Saved fetch.py", result.FinalText)
	assert.Equal(t, telemetry.TokenUsage{InputTokens: 20, OutputTokens: 10}, result.Usage)
	assert.Len(t, result.Conversation.Messages, 2)

	require.Len(t, sender.requests, 2)
	first := sender.requests[0]
	assert.Contains(t, textOf(first.Messages[0]), "Write a fetcher")
	assert.Equal(t, "be helpful", first.System[0].Text)
	assert.Equal(t, 0.25, first.Temperature.Or(0))
	assert.Len(t, first.Tools, len(tools.NewToolRegistry(nil).Names()))

	results := toolResults(sender.requests[1])
	require.Len(t, results, 1)
	assert.Equal(t, "toolu_1", results[0].ToolUseID)
	assert.False(t, results[0].IsError.Or(false))
	assert.JSONEq(t, `{"success": "Content written to fetch.py"}`, tools.ResultText(*results[0]))
}

func TestRun_AnswersEveryToolUseOfAResponse(t *testing.T) {
	sender := newFakeSender(t,
		toolUseMessage(t,
			toolUse{"toolu_1", "save_to_file", `{"filename":"a.txt","contents":"a"}`},
			toolUse{"toolu_2", "read_line_numbers", `{"filename":"a.txt"}`},
		),
		endTurn(t, "done"),
	)
	driver, _ := newTestDriver(t, sender)

	_, err := driver.Run(context.Background(), "session", "task")
	require.NoError(t, err)

	results := toolResults(sender.requests[1])
	require.Len(t, results, 2)
	assert.Equal(t, "toolu_1", results[0].ToolUseID)
	assert.Equal(t, "toolu_2", results[1].ToolUseID)
	assert.JSONEq(t, `{"1": "a"}`, tools.ResultText(*results[1]))
}

func TestRun_InputErrorsGoBackToTheModel(t *testing.T) {
	sender := newFakeSender(t,
		toolUseMessage(t, toolUse{"toolu_1", "replace_lines_in_file", `{"filename":"a.txt","start_line":1}`}),
		endTurn(t, "giving up"),
	)
	driver, _ := newTestDriver(t, sender)

	_, err := driver.Run(context.Background(), "session", "task")
	require.NoError(t, err)

	results := toolResults(sender.requests[1])
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError.Or(false))
	assert.Contains(t, tools.ResultText(*results[0]), "missing required arguments")
}

func TestRun_UnknownToolFails(t *testing.T) {
	sender := newFakeSender(t, toolUseMessage(t, toolUse{"toolu_1", "format_disk", `{}`}))
	driver, _ := newTestDriver(t, sender)

	_, err := driver.Run(context.Background(), "session", "task")
	require.ErrorContains(t, err, "failed to process tool use")
}

func TestRun_MaxIterations(t *testing.T) {
	var responses []anthropic.Message
	for i := range 10 {
		responses = append(responses, toolUseMessage(t, toolUse{fmt.Sprintf("toolu_%d", i), "list_files", `{}`}))
	}
	sender := newFakeSender(t, responses...)
	driver, _ := newTestDriver(t, sender)

	result, err := driver.Run(context.Background(), "session", "task")
	require.ErrorContains(t, err, "exceeded maximum iterations (5) without completion")
	assert.Equal(t, 5, result.Iterations)
	assert.Len(t, sender.requests, 6)
}

func TestRun_StopReasonErrors(t *testing.T) {
	testCases := []struct {
		stopReason string
		wantErr    string
	}{
		{"max_tokens", "exceeded max tokens"},
		{"refusal", "refused"},
		{"pause_turn", "unexpected stop reason: pause_turn"},
	}
	for _, tc := range testCases {
		t.Run(tc.stopReason, func(t *testing.T) {
			sender := newFakeSender(t, message(t, tc.stopReason, usage{input: 1}, "partial"))
			driver, _ := newTestDriver(t, sender)

			_, err := driver.Run(context.Background(), "session", "task")
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestRun_ToolUseStopWithoutToolUses(t *testing.T) {
	sender := newFakeSender(t, message(t, "tool_use", usage{}, "hmm"))
	driver, _ := newTestDriver(t, sender)

	_, err := driver.Run(context.Background(), "session", "task")
	require.ErrorContains(t, err, "contains no tool uses")
}

func TestRun_EmptyTask(t *testing.T) {
	driver, _ := newTestDriver(t, newFakeSender(t))
	_, err := driver.Run(context.Background(), "session", "  ")
	require.ErrorContains(t, err, "task must not be empty")
}

func TestRun_ResumesInterruptedConversation(t *testing.T) {
	store := NewFileSystemConversationHistoryStore(t.TempDir())

	// The second request fails, leaving the tool results unanswered
	sender := newFakeSender(t,
		toolUseMessage(t, toolUse{"toolu_1", "save_to_file", `{"filename":"a.txt","contents":"a"}`}),
	)
	driver, _ := newTestDriver(t, sender, WithHistoryStore(store))
	_, err := driver.Run(context.Background(), "issue-7", "task")
	require.ErrorContains(t, err, "no more canned responses")

	history, err := store.Get("issue-7")
	require.NoError(t, err)
	require.NotNil(t, history)
	assert.Equal(t, "be helpful", history.SystemPrompt)
	require.Len(t, history.Messages, 2)
	assert.Nil(t, history.Messages[1].Response)

	resumedSender := newFakeSender(t, endTurn(t, "finished"))
	resumed, _ := newTestDriver(t, resumedSender, WithHistoryStore(store))
	result, err := resumed.Run(context.Background(), "issue-7", "")
	require.NoError(t, err)
	assert.Equal(t, "finished", result.FinalText)

	// Only the pending tool results were sent, without a new user message
	require.Len(t, resumedSender.requests, 1)
	require.Len(t, resumedSender.requests[0].Messages, 3)
	assert.Equal(t, "toolu_1", toolResults(resumedSender.requests[0])[0].ToolUseID)

	history, err = store.Get("issue-7")
	require.NoError(t, err)
	assert.Nil(t, history, "a concluded conversation is deleted from the store")
}

func TestRun_ResumeRerunsToolsOfLastResponse(t *testing.T) {
	store := NewFileSystemConversationHistoryStore(t.TempDir())
	conversation := NewConversation(newFakeSender(t,
		toolUseMessage(t, toolUse{"toolu_1", "list_files", `{}`}),
	), ConversationConfig{SystemPrompt: "stored prompt"}, nil)
	_, err := conversation.SendMessage(context.Background(), anthropic.NewTextBlock("task"))
	require.NoError(t, err)
	require.NoError(t, store.Set("s", conversation.History()))

	sender := newFakeSender(t, endTurn(t, "ok"))
	driver, _ := newTestDriver(t, sender, WithHistoryStore(store))
	_, err = driver.Run(context.Background(), "s", "")
	require.NoError(t, err)

	require.Len(t, sender.requests, 1)
	assert.Equal(t, "stored prompt", sender.requests[0].System[0].Text)
	assert.Equal(t, "toolu_1", toolResults(sender.requests[0])[0].ToolUseID)
}

func TestRun_SummarizesLargeConversations(t *testing.T) {
	sender := newFakeSender(t,
		message(t, "tool_use", usage{input: 500}, "", toolUse{"toolu_1", "list_files", `{}`}),
		message(t, "end_turn", usage{input: 600, output: 50}, "I listed the files."),
		endTurn(t, "done"),
	)
	driver, _ := newTestDriver(t, sender)
	driver.conversationConfig.TokenLimit = 100

	result, err := driver.Run(context.Background(), "session", "task")
	require.NoError(t, err)
	require.Len(t, sender.requests, 3)

	// The summary request carries the pending tool results
	summaryRequest := sender.requests[1]
	require.Len(t, toolResults(summaryRequest), 1)
	assert.Contains(t, textOf(summaryRequest.Messages[len(summaryRequest.Messages)-1]), "Please summarize")

	resumeRequest := sender.requests[2]
	require.Len(t, resumeRequest.Messages, 3)
	assert.Contains(t, textOf(resumeRequest.Messages[0]), "task")
	assert.Equal(t, resumePrompt, textOf(resumeRequest.Messages[2]))

	assert.Equal(t, int64(500+600+10), result.Usage.InputTokens)
	assert.Len(t, result.Conversation.Messages, 2)
}

func TestRun_Telemetry(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := telemetry.NewProviderWithOptions(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	sender := newFakeSender(t,
		toolUseMessage(t, toolUse{"toolu_1", "list_files", `{}`}),
		endTurn(t, "done"),
	)
	driver, _ := newTestDriver(t, sender, WithTelemetry(provider))
	driver.registry.Use(provider.ToolHook())

	_, err := driver.Run(context.Background(), "session-1", "task")
	require.NoError(t, err)

	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, span := range recorder.Ended() {
		byName[span.Name()] = append(byName[span.Name()], span)
	}
	require.Len(t, byName[telemetry.SessionSpanName], 1)
	require.Len(t, byName[telemetry.TurnSpanName], 2)
	require.Len(t, byName[telemetry.ToolSpanName], 1)

	session := byName[telemetry.SessionSpanName][0]
	toolTurn := byName[telemetry.TurnSpanName][1]
	assert.Equal(t, session.SpanContext().SpanID(), toolTurn.Parent().SpanID())
	assert.Equal(t, toolTurn.SpanContext().SpanID(), byName[telemetry.ToolSpanName][0].Parent().SpanID())
}

func TestRun_ResponseHandler(t *testing.T) {
	var seen []anthropic.StopReason
	sender := newFakeSender(t,
		toolUseMessage(t, toolUse{"toolu_1", "list_files", `{}`}),
		endTurn(t, "done"),
	)
	driver, _ := newTestDriver(t, sender, WithResponseHandler(func(m *anthropic.Message) {
		seen = append(seen, m.StopReason)
	}))

	_, err := driver.Run(context.Background(), "session", "task")
	require.NoError(t, err)
	assert.Equal(t, []anthropic.StopReason{anthropic.StopReasonToolUse, anthropic.StopReasonEndTurn}, seen)
}

func TestRun_PromptIncludesWorkingDirectory(t *testing.T) {
	sender := newFakeSender(t, endTurn(t, "done"))
	driver, root := newTestDriver(t, sender)
	require.NoError(t, os.WriteFile(filepath.Join(root, "existing.txt"), []byte("x"), 0o644))

	_, err := driver.Run(context.Background(), "session", "task")
	require.NoError(t, err)
	assert.Contains(t, textOf(sender.requests[0].Messages[0]), "existing.txt")
}

func TestFormatDuration(t *testing.T) {
	testCases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{1400 * time.Millisecond, "1s"},
		{59 * time.Second, "59s"},
		{60 * time.Second, "60s"},
		{90 * time.Second, "2m"},
		{10 * time.Minute, "10m"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, FormatDuration(tc.d), tc.d.String())
	}
}
