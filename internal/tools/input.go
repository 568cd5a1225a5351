package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// LineNumber is a line number argument. Models sometimes quote numbers, so it accepts a JSON number or a string
// holding an integer
type LineNumber int

func (n *LineNumber) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
			return fmt.Errorf("line number must be an integer, got %s", b)
		}
		*n = LineNumber(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("line number must be an integer, got %s", b)
	}
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return fmt.Errorf("line number must be an integer, got %q", s)
	}
	*n = LineNumber(i)
	return nil
}

// parseInputJSON unmarshals tool input into target, which may carry default values, after checking that every
// required field is present. Any failure is a ToolInputError
func parseInputJSON(block anthropic.ToolUseBlock, required []string, target any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(block.Input, &fields); err != nil {
		return NewToolInputError(fmt.Errorf("input must be a JSON object: %w", err))
	}
	var missing []string
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return NewToolInputError(fmt.Errorf("missing required arguments: %s", strings.Join(missing, ", ")))
	}

	if err := json.Unmarshal(block.Input, target); err != nil {
		return NewToolInputError(err)
	}
	return nil
}

// stringProperty and integerProperty build JSON schema property definitions
func stringProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

func integerProperty(description string) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": description,
	}
}
