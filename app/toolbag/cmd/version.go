package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

type VersionInfo struct {
	Version   string
	GitCommit string
	BuildTime string
}

var versionInfo = VersionInfo{Version: "dev", GitCommit: "unknown", BuildTime: "unknown"}

// SetVersionInfo records the build information reported by the version command
func SetVersionInfo(version, gitCommit, buildTime string) {
	versionInfo = VersionInfo{Version: version, GitCommit: gitCommit, BuildTime: buildTime}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// The version is useful even when the configuration is broken
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "toolbag %s (commit %s, built %s)\n",
			versionInfo.Version, versionInfo.GitCommit, versionInfo.BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
