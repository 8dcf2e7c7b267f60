package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/xbuild/internal/buildlog"
)

var cleanCmd = &cobra.Command{
	Use:          "clean",
	Short:        "Remove build outputs",
	Long:         `Remove the outputs of the selected configuration and platform, or the whole build directory with --all.`,
	Args:         cobra.NoArgs,
	RunE:         runClean,
	SilenceUsage: true,
}

func init() {
	cleanCmd.Flags().Bool("all", false, "Remove the whole build directory, including the build log")
}

func runClean(cmd *cobra.Command, _ []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}

	all, _ := cmd.Flags().GetBool("all")
	if all {
		if err := os.RemoveAll(s.buildDir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", s.buildDir, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", s.buildDir)
		return nil
	}

	scope := filepath.Join(s.buildDir, string(s.cfg.Configuration), string(s.cfg.Platform))
	if err := os.RemoveAll(scope); err != nil {
		return fmt.Errorf("failed to remove %s: %w", scope, err)
	}

	pruned := 0
	if _, err := os.Stat(filepath.Join(s.buildDir, buildlog.DefaultFile)); err == nil {
		blog, err := buildlog.Open(s.buildDir)
		if err != nil {
			return err
		}

		defer blog.Close()

		pruned, err = blog.Prune(fmt.Sprintf("%s/%s/", s.cfg.Configuration, s.cfg.Platform))
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%d build log entries)\n", scope, pruned)

	return nil
}
