package ai

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

//go:embed conversation_template.tmpl
var conversationMarkdownTemplate string

const maxRenderedResultLength = 5000

// conversationMarkdownData represents the simplified data structure for markdown rendering
type conversationMarkdownData struct {
	SystemPrompt string
	Messages     []conversationMessage
	CreatedAt    string
	TokenUsage   conversationTokenUsage
}

// conversationMessage represents a single sequential message in the conversation
type conversationMessage struct {
	Type       string // "user_text", "assistant_text", "assistant_thinking", "tool_action"
	Text       string
	Thinking   string
	ToolName   string
	ToolInput  string
	ToolResult string
	IsError    bool
	TokenUsage *messageTokenUsage
	// Summary is a one-line description of a tool action
	Summary string
}

type conversationTokenUsage struct {
	TotalInputTokens         int64
	TotalOutputTokens        int64
	TotalCacheCreationTokens int64
	TotalCacheReadTokens     int64
}

type messageTokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// ToMarkdown renders the conversation as a markdown transcript
func (cc *Conversation) ToMarkdown() (string, error) {
	return renderConversationMarkdown(cc.buildMarkdownData(time.Now()))
}

func (cc *Conversation) buildMarkdownData(now time.Time) *conversationMarkdownData {
	data := &conversationMarkdownData{
		SystemPrompt: cc.config.SystemPrompt,
		CreatedAt:    now.Format("2006-01-02 15:04:05 MST"),
	}

	// Tool uses wait here until the user message carrying their results
	pendingToolUses := make(map[string]conversationMessage)

	for _, turn := range cc.Messages {
		data.Messages = append(data.Messages, convertUserMessage(turn.UserMessage, pendingToolUses)...)

		if turn.Response != nil {
			data.Messages = append(data.Messages, convertAssistantMessage(turn.Response, pendingToolUses)...)

			data.TokenUsage.TotalInputTokens += turn.Response.Usage.InputTokens
			data.TokenUsage.TotalOutputTokens += turn.Response.Usage.OutputTokens
			data.TokenUsage.TotalCacheCreationTokens += turn.Response.Usage.CacheCreationInputTokens
			data.TokenUsage.TotalCacheReadTokens += turn.Response.Usage.CacheReadInputTokens
		}
	}

	return data
}

func renderConversationMarkdown(data *conversationMarkdownData) (string, error) {
	funcMap := template.FuncMap{
		"prettifyJSON": func(jsonStr string) string {
			var prettyJSON bytes.Buffer
			if err := json.Indent(&prettyJSON, []byte(jsonStr), "", "  "); err == nil {
				return prettyJSON.String()
			}
			return jsonStr
		},
		"truncateContent": func(content string) string {
			if len(content) > maxRenderedResultLength {
				return content[:maxRenderedResultLength] + "\n... (content truncated)"
			}
			return content
		},
		"indent": func(prefix string, text string) string {
			prefixed := strings.Builder{}
			for line := range strings.Lines(text) {
				prefixed.WriteString(prefix)
				prefixed.WriteString(line)
			}
			return prefixed.String()
		},
	}

	tmpl, err := template.New("conversation").Funcs(funcMap).Parse(conversationMarkdownTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse conversation template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute conversation template: %w", err)
	}

	return buf.String(), nil
}

func convertUserMessage(msg anthropic.MessageParam, pendingToolUses map[string]conversationMessage) []conversationMessage {
	var toolUseMessages []conversationMessage
	var messages []conversationMessage

	for _, contentBlock := range msg.Content {
		if contentBlock.OfText != nil {
			messages = append(messages, conversationMessage{
				Type: "user_text",
				Text: contentBlock.OfText.Text,
			})
		} else if contentBlock.OfToolResult != nil {
			toolID := contentBlock.OfToolResult.ToolUseID
			toolMsg, exists := pendingToolUses[toolID]
			if !exists {
				continue
			}
			toolMsg.IsError = contentBlock.OfToolResult.IsError.Or(false)

			var resultText strings.Builder
			for _, resultContent := range contentBlock.OfToolResult.Content {
				if resultContent.OfText != nil {
					resultText.WriteString(resultContent.OfText.Text)
				} else if resultContent.OfImage != nil {
					resultText.WriteString("[Image content]")
				}
			}
			toolMsg.ToolResult = resultText.String()

			toolUseMessages = append(toolUseMessages, toolMsg)
			delete(pendingToolUses, toolID)
		}
	}

	// The tool uses were made before this message, so they go first, in result order
	return append(toolUseMessages, messages...)
}

// convertAssistantMessage returns the text and thinking of a response and parks its tool uses in pendingToolUses.
// Token usage is attached to the first text block, or to the first tool use if there is no text
func convertAssistantMessage(msg *anthropic.Message, pendingToolUses map[string]conversationMessage) []conversationMessage {
	var messages []conversationMessage

	tokenUsage := &messageTokenUsage{
		InputTokens:         msg.Usage.InputTokens,
		OutputTokens:        msg.Usage.OutputTokens,
		CacheCreationTokens: msg.Usage.CacheCreationInputTokens,
		CacheReadTokens:     msg.Usage.CacheReadInputTokens,
	}

	tokenUsageAdded := false
	var firstToolUseID string

	for _, contentBlock := range msg.Content {
		switch content := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			var msgTokenUsage *messageTokenUsage
			if !tokenUsageAdded {
				msgTokenUsage = tokenUsage
				tokenUsageAdded = true
			}
			messages = append(messages, conversationMessage{
				Type:       "assistant_text",
				Text:       content.Text,
				TokenUsage: msgTokenUsage,
			})

		case anthropic.ToolUseBlock:
			toolMsg := conversationMessage{
				Type:      "tool_action",
				ToolName:  content.Name,
				ToolInput: string(content.Input),
				Summary:   toolSummary(content.Name, content.Input),
			}
			if !tokenUsageAdded && firstToolUseID == "" {
				firstToolUseID = content.ID
			}
			pendingToolUses[content.ID] = toolMsg

		case anthropic.ThinkingBlock:
			messages = append(messages, conversationMessage{
				Type:     "assistant_thinking",
				Thinking: content.Thinking,
			})

		case anthropic.RedactedThinkingBlock:
			messages = append(messages, conversationMessage{
				Type:     "assistant_thinking",
				Thinking: "[Thinking content redacted]",
			})
		}
	}

	if !tokenUsageAdded && firstToolUseID != "" {
		if toolMsg, exists := pendingToolUses[firstToolUseID]; exists {
			toolMsg.TokenUsage = tokenUsage
			pendingToolUses[firstToolUseID] = toolMsg
		}
	}

	return messages
}

// toolSummary describes a tool use in a few words
func toolSummary(toolName string, rawInput json.RawMessage) string {
	var input map[string]any
	_ = json.Unmarshal(rawInput, &input)
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}
	withName := func(emoji, verb, name string) string {
		if name == "" {
			return fmt.Sprintf("%s %s", emoji, verb)
		}
		return fmt.Sprintf("%s %s '%s'", emoji, verb, name)
	}

	switch toolName {
	case "list_files":
		return "📂 Listing files"
	case "find_lines_in_file":
		return withName("🔎", "Searching", str("filename"))
	case "find_lines_in_all_files":
		return fmt.Sprintf("🔎 Searching all files for /%s/", str("pattern"))
	case "save_to_file":
		return withName("📄", "Writing", str("filename"))
	case "read_line_numbers":
		return withName("👀", "Reading", str("filename"))
	case "copy_lines":
		return fmt.Sprintf("📋 Copying lines from '%s' to '%s'", str("src_filename"), str("dest_filename"))
	case "replace_lines_in_file":
		return withName("✏️", "Editing", str("filename"))
	case "delete_file":
		return withName("🗑️", "Deleting", str("filename"))
	case "move_file":
		return fmt.Sprintf("🚚 Moving '%s' to '%s'", str("src_filename"), str("dest_filename"))
	case "fetch_html":
		return withName("🌐", "Fetching", str("url"))
	default:
		return fmt.Sprintf("🔧 Using tool: %s", toolName)
	}
}
