package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/xbuild/internal/buildlog"
)

var statusCmd = &cobra.Command{
	Use:          "status",
	Short:        "Show the last recorded build of every project",
	Args:         cobra.NoArgs,
	RunE:         runStatus,
	SilenceUsage: true,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if _, err := os.Stat(filepath.Join(s.buildDir, buildlog.DefaultFile)); err != nil {
		fmt.Fprintln(out, "No builds recorded")
		return nil
	}

	blog, err := buildlog.Open(s.buildDir)
	if err != nil {
		return err
	}

	defer blog.Close()

	entries, err := blog.List()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tCONTEXT\tRESULT\tCOMPILED\tREUSED\tWHEN")

	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = "failed"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			e.Project, e.Context, result, e.Compiled, e.Reused, e.Timestamp.Format(time.DateTime))
	}

	tw.Flush()

	total, failed, err := blog.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d entries, %d failed\n", total, failed)

	return nil
}
