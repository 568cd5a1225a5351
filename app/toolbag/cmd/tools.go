package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cchalm/toolbag/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, param := range newToolRegistry().GetAllToolParams() {
			description := param.Description.Or("")
			// First sentence only, the full descriptions are written for the model
			if i := strings.Index(description, ". "); i >= 0 {
				description = description[:i+1]
			}
			fmt.Fprintf(w, "%s\t%s\n", param.Name, description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func newToolRegistry() *tools.ToolRegistry {
	registry := tools.NewToolRegistry(logger)
	registry.Use(tools.NewLoggingHook(logger))
	return registry
}
