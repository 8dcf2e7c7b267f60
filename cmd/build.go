package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/xbuild/internal/builder"
	"github.com/Norgate-AV/xbuild/internal/buildlog"
	"github.com/Norgate-AV/xbuild/internal/layout"
	"github.com/Norgate-AV/xbuild/internal/packager"
	"github.com/Norgate-AV/xbuild/internal/resolver"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
)

var buildCmd = &cobra.Command{
	Use:          "build [project|all]",
	Short:        "Build a project and its dependencies",
	Long:         `Build the named project, or every project with "all", for the selected configuration, platform and architecture.`,
	Args:         cobra.MaximumNArgs(1),
	RunE:         runBuild,
	SilenceUsage: true,
}

func init() {
	buildCmd.Flags().StringP("arch", "a", "", "Target architecture: arm64, arm, x86 or x86_64 (default: host)")
	buildCmd.Flags().StringSlice("architectures", nil, "Architectures bundled into packages when a project lists none")
	buildCmd.Flags().IntP("jobs", "j", 0, "Parallel compile jobs (default: CPU count - 1)")
}

// newRunner creates the process runner. Replaced in tests.
var newRunner = func() toolchain.Runner {
	return toolchain.NewExecRunner()
}

func runBuild(cmd *cobra.Command, args []string) error {
	s, err := loadSession(cmd)
	if err != nil {
		return err
	}

	name := resolver.All
	if len(args) == 1 {
		name = args[0]
	}

	blog, err := buildlog.Open(s.buildDir)
	if err != nil {
		return err
	}

	defer blog.Close()

	cfg := s.cfg
	lay := layout.New(s.buildDir)
	runner := newRunner()

	b := builder.New(s.ws, builder.Options{
		Layout:     lay,
		Toolchains: toolchain.NewRegistry(s.ws.Toolchains, toolchain.Env{NDKPath: cfg.NDKPath, APILevel: cfg.APILevel}),
		Runner:     runner,
		Jobs:       cfg.Jobs,
		Log:        blog,
	})

	b.SetPackager(packager.New(b, packager.Options{
		Layout: lay,
		Runner: runner,
		Tools: packager.Tools{
			BuildToolsPath: cfg.BuildToolsPath,
			PlatformJar:    cfg.PlatformJar,
		},
		Keystore:      packager.Keystore(cfg.Keystore),
		Architectures: cfg.Architectures,
	}))

	report, err := b.Build(s.ctx, name, cfg.Context())
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}

	return err
}

func printReport(w io.Writer, r *builder.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, p := range r.Projects {
		detail := p.Artifact
		if p.Reason != "" {
			detail = p.Reason
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Project, p.Context, p.Status, detail)
	}

	tw.Flush()

	fmt.Fprintf(w, "%d compiled, %d reused, %d failed, %d skipped\n",
		r.Compiled(), r.Reused(), r.Count(builder.Failed), r.Count(builder.Skipped))
}
