package builder

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"

	"github.com/Norgate-AV/xbuild/internal/buildlog"
	"github.com/Norgate-AV/xbuild/internal/cache"
	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/ctxlog"
	"github.com/Norgate-AV/xbuild/internal/layout"
	"github.com/Norgate-AV/xbuild/internal/resolver"
	"github.com/Norgate-AV/xbuild/internal/scheduler"
	"github.com/Norgate-AV/xbuild/internal/state"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// BuildNative compiles and links p and everything it depends on for bctx,
// stopping at the first failing member. Members completed earlier in the
// session are not rebuilt.
func (b *Builder) BuildNative(ctx context.Context, p *workspace.Project, bctx target.Context) (*NativeOutputs, error) {
	order, err := resolver.Order(b.ws, p.Name, bctx.Platform)
	if err != nil {
		return nil, err
	}

	out := &NativeOutputs{Context: bctx}
	for _, member := range order {
		pr, artifact, err := b.buildOne(ctx, member, bctx)
		out.Reports = append(out.Reports, pr)
		if err != nil {
			return out, err
		}

		if member.Name == p.Name {
			out.Artifact = artifact
		}
	}

	res, err := b.toolchains.Resolve(bctx)
	if err != nil {
		return out, err
	}

	_, out.SharedLibs = b.dependencyArtifacts(res, p, bctx)
	out.Runtime = res.RuntimeLibraries()

	return out, nil
}

// buildOne builds a single project for bctx, assuming its dependencies are done.
func (b *Builder) buildOne(ctx context.Context, p *workspace.Project, bctx target.Context) (ProjectReport, string, error) {
	log := ctxlog.FromContext(ctx).With("project", p.Name, "context", bctx.String())
	key := state.KeyFor(p.Name, bctx)
	pr := ProjectReport{Project: p.Name, Context: bctx}
	start := b.now()

	fail := func(err error) (ProjectReport, string, error) {
		pr.Status = Failed
		pr.Err = codes.Attach(err, p.Name, bctx.String())
		pr.Duration = b.now().Sub(start)
		b.record(ctx, p, key, pr)
		return pr, "", pr.Err
	}

	res, err := b.toolchains.Resolve(bctx)
	if err != nil {
		return fail(err)
	}

	pr.Artifact = filepath.Join(b.layout.OutputDir(bctx, p.Name), res.ArtifactName(p))

	if b.state.Done(key) {
		pr.Status = AlreadyBuilt
		log.Debug("already built this session")
		return pr, pr.Artifact, nil
	}

	eff := b.effectiveProject(p, bctx.Platform)
	sig := res.Signature(eff, b.ws.Options)

	sources, err := p.SourceFiles()
	if err != nil {
		return fail(err)
	}

	if len(sources) == 0 {
		return fail(codes.Configuration("project %s: no source files match %v", p.Name, p.Sources))
	}

	var (
		hits []scheduler.Hit
		jobs []scheduler.Job
	)

	for _, src := range sources {
		obj := b.cache.Object(p, bctx, src)
		d := b.cache.Check(obj, src, sig)
		if !d.Recompile {
			hits = append(hits, scheduler.Hit{Source: src, Object: obj})
			continue
		}

		log.Debug("recompile", "source", src, "reason", d.Reason, "detail", d.Detail)
		jobs = append(jobs, b.compileJob(res, eff, bctx, src, obj, sig))
	}

	outcome, err := b.pool.Run(ctx, hits, jobs)
	pr.Compiled, pr.Reused = outcome.Compiled, outcome.Reused
	if err != nil {
		return fail(err)
	}

	linked, err := b.link(ctx, res, eff, bctx, outcome.Objects(), pr.Artifact)
	if err != nil {
		return fail(err)
	}

	pr.Status = UpToDate
	if pr.Compiled > 0 || linked {
		pr.Status = Built
	}

	pr.Duration = b.now().Sub(start)
	b.state.MarkDone(key)
	b.record(ctx, p, key, pr)

	log.Info(string(pr.Status), "compiled", pr.Compiled, "reused", pr.Reused, "artifact", pr.Artifact)

	return pr, pr.Artifact, nil
}

func (b *Builder) compileJob(res *toolchain.Resolved, p *workspace.Project, bctx target.Context, source, object string, sig digest.Digest) scheduler.Job {
	return scheduler.Job{
		Source: source,
		Object: object,
		Run: func(ctx context.Context) error {
			log := ctxlog.FromContext(ctx)

			if err := os.MkdirAll(filepath.Dir(object), 0o755); err != nil {
				return codes.Attach(err, p.Name, bctx.String())
			}

			// A failed or interrupted compile must never leave metadata that
			// vouches for the old object.
			b.cache.Invalidate(object)

			raw := layout.RawDepPath(object)
			cmd := res.Compile(toolchain.CompileInput{
				Project: p,
				Options: b.ws.Options,
				Source:  source,
				Object:  object,
				DepFile: raw,
			})
			cmd.Dir = p.Dir

			log.Debug("compile", "command", cmd.String())

			if _, err := b.runner.Run(ctx, cmd); err != nil {
				return codes.Attach(err, p.Name, bctx.String())
			}

			if err := b.cache.Record(object, source, raw, p.Dir, sig); err != nil {
				log.Warn("cache metadata not recorded, source will be recompiled next build", "source", source, "error", err)
			}

			return nil
		},
	}
}

// link produces artifact from objects unless it is already newer than every
// input and was produced by the same command. It reports whether it ran.
func (b *Builder) link(ctx context.Context, res *toolchain.Resolved, p *workspace.Project, bctx target.Context, objects []string, artifact string) (bool, error) {
	slices.Sort(objects)

	static, shared := b.dependencyArtifacts(res, p, bctx)
	cmd, err := res.Link(toolchain.LinkInput{
		Project:    p,
		Options:    b.ws.Options,
		Objects:    objects,
		StaticLibs: static,
		SharedLibs: shared,
		Output:     artifact,
	})
	if err != nil {
		return false, codes.Configuration("%v", err)
	}

	sig := digest.FromString(cmd.String())
	inputs := slices.Concat(objects, static, shared)

	if !needsLink(artifact, sig, inputs) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		return false, err
	}

	// Archivers update in place. Starting from scratch drops members whose
	// sources are gone.
	os.Remove(layout.SignaturePath(artifact))
	if err := os.Remove(artifact); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	ctxlog.FromContext(ctx).Debug("link", "command", cmd.String())

	if _, err := b.runner.Run(ctx, cmd); err != nil {
		return false, err
	}

	if err := cache.WriteSignature(layout.SignaturePath(artifact), sig); err != nil {
		ctxlog.FromContext(ctx).Warn("link signature not recorded", "artifact", artifact, "error", err)
	}

	return true, nil
}

func needsLink(artifact string, sig digest.Digest, inputs []string) bool {
	info, err := os.Stat(artifact)
	if err != nil {
		return true
	}

	if got, err := cache.ReadSignature(layout.SignaturePath(artifact)); err != nil || got != sig {
		return true
	}

	for _, in := range inputs {
		st, err := os.Stat(in)
		if err != nil || st.ModTime().After(info.ModTime()) {
			return true
		}
	}

	return false
}

// dependencyArtifacts returns the library artifacts of p's transitive
// dependencies in link order: dependents before the libraries they use.
func (b *Builder) dependencyArtifacts(res *toolchain.Resolved, p *workspace.Project, bctx target.Context) (static, shared []string) {
	for _, dep := range slices.Backward(b.transitiveDependencies(p, bctx.Platform)) {
		path := filepath.Join(b.layout.OutputDir(bctx, dep.Name), res.ArtifactName(dep))

		switch dep.Kind {
		case workspace.StaticLib:
			static = append(static, path)
		case workspace.SharedLib:
			shared = append(shared, path)
		}
	}

	return static, shared
}

// transitiveDependencies lists p's dependencies for platform, dependencies first.
func (b *Builder) transitiveDependencies(p *workspace.Project, platform target.Platform) []*workspace.Project {
	g, err := resolver.Build(b.ws, platform)
	if err != nil {
		return nil
	}

	names, err := g.Sort(p.Name)
	if err != nil {
		return nil
	}

	var deps []*workspace.Project
	for _, n := range names {
		if n == p.Name {
			continue
		}

		if dep, ok := b.ws.Project(n); ok {
			deps = append(deps, dep)
		}
	}

	return deps
}

// effectiveProject returns a copy of p whose include path also carries the
// include directories of its library dependencies.
func (b *Builder) effectiveProject(p *workspace.Project, platform target.Platform) *workspace.Project {
	eff := *p
	eff.IncludeDirs = slices.Clone(p.IncludeDirs)

	for _, dep := range b.transitiveDependencies(p, platform) {
		if !dep.IsLibrary() {
			continue
		}

		for _, dir := range dep.IncludeDirs {
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(dep.Dir, dir)
			}

			if !slices.Contains(eff.IncludeDirs, dir) {
				eff.IncludeDirs = append(eff.IncludeDirs, dir)
			}
		}
	}

	return &eff
}

func (b *Builder) record(ctx context.Context, p *workspace.Project, key state.Key, pr ProjectReport) {
	if b.log == nil {
		return
	}

	e := buildlog.Entry{
		Project:   p.Name,
		Context:   key.Scope(),
		Kind:      string(p.Kind),
		Artifact:  pr.Artifact,
		Compiled:  pr.Compiled,
		Reused:    pr.Reused,
		Duration:  pr.Duration,
		Timestamp: b.now(),
		Success:   pr.Status != Failed,
	}

	if pr.Err != nil {
		e.Error = pr.Err.Error()
	}

	if e.Success && pr.Artifact != "" {
		if d, err := cache.HashFile(pr.Artifact); err == nil {
			e.Digest = d.String()
		}
	}

	if err := b.log.Record(e); err != nil {
		ctxlog.FromContext(ctx).Warn("build log not updated", "project", p.Name, "error", err)
	}
}
