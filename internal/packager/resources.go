package packager

import (
	"context"
	"path/filepath"

	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// resourceCommands returns the resource tool invocations that compile p's
// resource directory and link it with the manifest into base.
func (pl *Pipeline) resourceCommands(p *workspace.Project, manifest, work, base string) []toolchain.Command {
	tool := pl.tool("aapt2")
	opts := p.Package

	var cmds []toolchain.Command
	link := []string{"link", "-o", base, "--manifest", manifest, "-I", pl.opts.Tools.PlatformJar, "--auto-add-overlay"}

	if opts.MinSDK > 0 {
		link = append(link, "--min-sdk-version", itoa(opts.MinSDK))
	}

	if opts.TargetSDK > 0 {
		link = append(link, "--target-sdk-version", itoa(opts.TargetSDK))
	}

	if opts.Assets != "" {
		link = append(link, "-A", opts.Assets)
	}

	if opts.Resources != "" {
		compiled := filepath.Join(work, "resources.zip")
		cmds = append(cmds, toolchain.Command{
			Path: tool,
			Args: []string{"compile", "--dir", opts.Resources, "-o", compiled},
			Dir:  p.Dir,
		})
		link = append(link, compiled)
	}

	return append(cmds, toolchain.Command{Path: tool, Args: link, Dir: p.Dir})
}

// runResources runs the resource stage once for the whole package.
func (pl *Pipeline) runResources(ctx context.Context, p *workspace.Project, manifest, work, base string) error {
	for _, cmd := range pl.resourceCommands(p, manifest, work, base) {
		if _, err := pl.runner.Run(ctx, cmd); err != nil {
			return err
		}
	}

	return nil
}
