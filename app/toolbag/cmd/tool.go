package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var toolCmd = &cobra.Command{
	Use:   "tool <name> [json-args]",
	Short: "Invoke one tool directly and print its output",
	Long: `Runs a single tool against the working directory, the same way the model would call it.
Arguments are a JSON object; pass "-" to read them from stdin. Errors the tool reports about
its input are printed and make the command fail.`,
	Example: `  toolbag tool list_files
  toolbag tool read_line_numbers '{"filename": "main.py", "start_line": 1, "end_line": 20}'
  echo '{"filename": "a.txt", "contents": "hi"}' | toolbag tool save_to_file -`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTool,
}

func init() {
	rootCmd.AddCommand(toolCmd)
}

func runTool(cmd *cobra.Command, args []string) error {
	name := args[0]
	input := "{}"
	if len(args) == 2 {
		input = args[1]
	}
	if input == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read arguments from stdin: %w", err)
		}
		input = string(b)
	}
	input = strings.TrimSpace(input)
	if !json.Valid([]byte(input)) {
		return fmt.Errorf("arguments must be valid JSON")
	}

	toolCtx, err := createToolContext()
	if err != nil {
		return err
	}

	registry := newToolRegistry()
	output, isError, err := registry.Invoke(setupContext(), name, json.RawMessage(input), toolCtx)
	if err != nil {
		return err
	}
	if isError {
		return fmt.Errorf("%s: %s", name, output)
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}
