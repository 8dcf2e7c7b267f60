package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/ctxlog"
	"github.com/Norgate-AV/xbuild/internal/resolver"
	"github.com/Norgate-AV/xbuild/internal/state"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// Build builds name (or every project for resolver.All) for bctx.
//
// Configuration problems are reported before anything is compiled. After
// that, a failing project marks its dependents as skipped while independent
// projects carry on. The returned error joins every failure; the report is
// non-nil whenever compilation started.
func (b *Builder) Build(ctx context.Context, name string, bctx target.Context) (*Report, error) {
	log := ctxlog.FromContext(ctx)

	if err := bctx.Validate(); err != nil {
		return nil, codes.Configuration("%v", err)
	}

	order, err := resolver.Order(b.ws, name, bctx.Platform)
	if err != nil {
		return nil, err
	}

	if err := b.preflight(order, bctx); err != nil {
		return nil, err
	}

	log.Info("building", "target", targetName(name), "context", bctx.String(), "projects", len(order), "jobs", b.Workers())

	report := &Report{}
	failed := make(map[string]bool)

	for _, p := range order {
		if dep := failedDependency(p, bctx.Platform, failed); dep != "" {
			failed[p.Name] = true
			report.add(ProjectReport{
				Project: p.Name,
				Context: bctx,
				Status:  Skipped,
				Reason:  fmt.Sprintf("dependency %s failed", dep),
			})
			log.Warn("skipped", "project", p.Name, "context", bctx.String(), "failed_dependency", dep)
			continue
		}

		var err error
		if b.packages(p, bctx) {
			var reports []ProjectReport
			reports, err = b.buildPackage(ctx, p, bctx)
			report.add(reports...)
		} else {
			var pr ProjectReport
			pr, _, err = b.buildOne(ctx, p, bctx)
			report.add(pr)
		}

		if err != nil {
			failed[p.Name] = true
			log.Error("failed", "project", p.Name, "context", bctx.String(), "error", err)
		}
	}

	log.Info("build finished",
		"built", report.Count(Built),
		"up_to_date", report.Count(UpToDate)+report.Count(AlreadyBuilt),
		"failed", report.Count(Failed),
		"skipped", report.Count(Skipped),
		"compiled", report.Compiled(),
		"reused", report.Reused(),
	)

	return report, report.Err()
}

// preflight resolves everything that can fail for configuration reasons so a
// bad workspace never gets as far as the first compile.
func (b *Builder) preflight(order []*workspace.Project, bctx target.Context) error {
	if b.toolchains == nil {
		return codes.Configuration("no toolchain registry configured")
	}

	var errs []error
	resolved := false

	for _, p := range order {
		if b.packages(p, bctx) {
			if b.packager == nil {
				errs = append(errs, codes.Configuration("project %s: %s requires a packager", p.Name, bctx.Platform))
			} else if err := b.packager.Check(p, bctx); err != nil {
				errs = append(errs, err)
			}
		} else if !resolved {
			resolved = true
			if _, err := b.toolchains.Resolve(bctx); err != nil {
				errs = append(errs, err)
			}
		}

		if err := checkSources(p); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// checkSources reports a project whose source patterns match nothing.
func checkSources(p *workspace.Project) error {
	sources, err := p.SourceFiles()
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		return codes.Configuration("project %s: no source files match %v", p.Name, p.Sources)
	}

	return nil
}

func (b *Builder) packages(p *workspace.Project, bctx target.Context) bool {
	return p.Kind == workspace.AppPackage && bctx.Platform.RequiresPackage()
}

func (b *Builder) buildPackage(ctx context.Context, p *workspace.Project, bctx target.Context) ([]ProjectReport, error) {
	key := state.PackageKey(p.Name, bctx)
	if b.state.Done(key) {
		return []ProjectReport{{Project: p.Name, Context: bctx, Status: AlreadyBuilt, Reason: "packaged earlier in this session"}}, nil
	}

	start := b.now()
	res, err := b.packager.Package(ctx, p, bctx)

	var reports []ProjectReport
	pr := ProjectReport{Project: p.Name, Context: bctx, Status: Built, Duration: b.now().Sub(start)}

	if res != nil {
		reports = append(reports, res.Native...)
		pr.Artifact = res.Path
	}

	if err != nil {
		pr.Status = Failed
		pr.Err = codes.Attach(err, p.Name, bctx.String())
		b.record(ctx, p, key, pr)
		return append(reports, pr), pr.Err
	}

	b.state.MarkDone(key)
	b.record(ctx, p, key, pr)
	ctxlog.FromContext(ctx).Info("packaged", "project", p.Name, "output", res.Path, "architectures", res.Architectures)

	return append(reports, pr), nil
}

func failedDependency(p *workspace.Project, platform target.Platform, failed map[string]bool) string {
	for _, dep := range p.DependenciesFor(platform) {
		if failed[dep] {
			return dep
		}
	}

	return ""
}

func targetName(name string) string {
	if name == "" {
		return resolver.All
	}

	return name
}
