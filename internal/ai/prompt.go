package ai

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"
)

//go:embed prompt_template.tmpl
var promptTemplate string

//go:embed system_prompt.md
var defaultSystemPrompt string

// LoadSystemPrompt returns the contents of the file at path, or the built-in system prompt if path is empty
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return strings.TrimSpace(defaultSystemPrompt), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", fmt.Errorf("system prompt file '%s' is empty", path)
	}
	return prompt, nil
}

// PromptData is the input to the first user message of a run
type PromptData struct {
	Task string
	// FileTree is the JSON listing of the working directory. Omitted from the prompt if empty
	FileTree string
}

// GeneratePrompt renders the first user message of a run
func GeneratePrompt(data PromptData) (string, error) {
	if strings.TrimSpace(data.Task) == "" {
		return "", fmt.Errorf("task must not be empty")
	}
	tmpl, err := template.New("prompt").Parse(promptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
