package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/version"
)

var rootCmd = &cobra.Command{
	Use:          "xbuild",
	Short:        "Multi-platform native build orchestrator",
	Long:         `Incrementally build C and C++ workspaces for desktop and mobile targets, and package Android apps.`,
	SilenceUsage: true,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	code := codes.ExitCode(err)

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s (exit code %d)\n", codes.GetErrorMessage(code), code)
	}

	return code
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "Workspace file or directory (default: search upwards from the current directory)")
	rootCmd.PersistentFlags().String("build-dir", "", "Build output directory (default: <workspace>/build)")
	rootCmd.PersistentFlags().StringP("configuration", "c", "", "Build configuration: debug or release")
	rootCmd.PersistentFlags().StringP("platform", "p", "", "Target platform: linux, windows, macos or android")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(buildCmd, cleanCmd, statusCmd)
}
