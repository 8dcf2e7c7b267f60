// Package packager turns an app-package project into a signed multi-architecture
// application package.
//
// A packaging run walks a fixed stage machine: one native build per required
// architecture, then resources, assemble, align and sign. The canonical
// package path only ever holds a completely signed package.
package packager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Norgate-AV/xbuild/internal/builder"
	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/ctxlog"
	"github.com/Norgate-AV/xbuild/internal/layout"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// Extension is the file extension of a produced package.
const Extension = ".apk"

// DefaultArchitectures are packaged when neither the project nor the options name any.
var DefaultArchitectures = []target.Arch{target.ARM64, target.X86_64}

// NativeBuilder builds a project's native subgraph for one context.
type NativeBuilder interface {
	BuildNative(ctx context.Context, p *workspace.Project, bctx target.Context) (*builder.NativeOutputs, error)
	Toolchains() *toolchain.Registry
}

// Tools locates the external packaging tools.
type Tools struct {
	BuildToolsPath string // Directory holding aapt2 and apksigner.
	PlatformJar    string // Framework jar linked against by the resource tool.
	Keytool        string // Keystore generator; "keytool" from PATH when empty.
}

// Options configure a Pipeline.
type Options struct {
	Layout        layout.Layout
	Runner        toolchain.Runner
	Tools         Tools
	Keystore      Keystore      // Explicit signing credentials. Empty Path selects the development keystore.
	DevKeystore   string        // Development keystore location override.
	Architectures []target.Arch // Used when a project does not list its own.
}

// Pipeline packages app-package projects. It implements builder.Packager.
type Pipeline struct {
	native NativeBuilder
	opts   Options
	runner toolchain.Runner
	now    func() time.Time
}

var _ builder.Packager = (*Pipeline)(nil)

// New creates a pipeline that builds native code through native.
func New(native NativeBuilder, opts Options) *Pipeline {
	return &Pipeline{
		native: native,
		opts:   opts,
		runner: opts.Runner,
		now:    time.Now,
	}
}

func (pl *Pipeline) tool(name string) string {
	if pl.opts.Tools.BuildToolsPath == "" {
		return name
	}

	return filepath.Join(pl.opts.Tools.BuildToolsPath, name)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// Architectures returns the architectures p is packaged for.
func (pl *Pipeline) Architectures(p *workspace.Project) ([]target.Arch, error) {
	if p.Package == nil || len(p.Package.Architectures) == 0 {
		if len(pl.opts.Architectures) > 0 {
			return pl.opts.Architectures, nil
		}

		return DefaultArchitectures, nil
	}

	var archs []target.Arch
	for _, name := range p.Package.Architectures {
		parsed := target.ParseArchitectures(name)
		if len(parsed) == 0 {
			return nil, fmt.Errorf("unknown architecture %q", name)
		}

		for _, a := range parsed {
			if !slices.Contains(archs, a) {
				archs = append(archs, a)
			}
		}
	}

	return archs, nil
}

// Check validates everything packaging p needs before any compilation starts.
func (pl *Pipeline) Check(p *workspace.Project, bctx target.Context) error {
	opts := p.Package
	if opts == nil {
		return codes.Configuration("project %s: app-package without package options", p.Name)
	}

	if opts.ID == "" {
		return codes.Configuration("project %s: package id is required", p.Name)
	}

	switch {
	case opts.Version != "":
		if _, err := VersionCode(opts.Version); err != nil {
			return codes.Configuration("project %s: %v", p.Name, err)
		}
	case opts.Manifest == "":
		return codes.Configuration("project %s: package version is required to generate a manifest", p.Name)
	}

	archs, err := pl.Architectures(p)
	if err != nil {
		return codes.Configuration("project %s: %v", p.Name, err)
	}

	for _, a := range archs {
		if _, err := pl.native.Toolchains().Resolve(bctx.WithArch(a)); err != nil {
			return err
		}
	}

	if pl.opts.Tools.BuildToolsPath == "" {
		return codes.Configuration("project %s: build tools path is not configured", p.Name)
	}

	if pl.opts.Tools.PlatformJar == "" {
		return codes.Configuration("project %s: platform jar is not configured", p.Name)
	}

	paths := []struct{ what, path string }{
		{"platform jar", pl.opts.Tools.PlatformJar},
		{"manifest", opts.Manifest},
		{"resource directory", opts.Resources},
		{"asset directory", opts.Assets},
		{"keystore", pl.opts.Keystore.Path},
	}

	for _, c := range opts.Classes {
		paths = append(paths, struct{ what, path string }{"bytecode", c})
	}

	for _, c := range paths {
		if c.path == "" {
			continue
		}

		if _, err := os.Stat(c.path); err != nil {
			return codes.Configuration("project %s: %s %s: %v", p.Name, c.what, c.path, err)
		}
	}

	return nil
}

// Package builds every required architecture of p and produces the signed
// package at the canonical path. The result is returned even on failure.
func (pl *Pipeline) Package(ctx context.Context, p *workspace.Project, bctx target.Context) (*builder.Packaged, error) {
	log := ctxlog.FromContext(ctx).With("project", p.Name)
	m := newMachine(pl.now)
	res := &builder.Packaged{}

	fail := func(err error) (*builder.Packaged, error) {
		_ = m.enter(Failed, "")
		res.Stages = m.stages()
		res.Path = ""
		log.Error("packaging failed", "stage", m.history[len(m.history)-2].Stage, "error", err)

		return res, err
	}

	enter := func(s Stage, arch target.Arch) error {
		if err := m.enter(s, arch); err != nil {
			return err
		}

		log.Debug("packaging stage", "stage", m.history[len(m.history)-1])

		return nil
	}

	dest := pl.opts.Layout.PackagePath(bctx, p.Name, Extension)
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fail(fmt.Errorf("removing stale package: %w", err))
	}

	archs, err := pl.Architectures(p)
	if err != nil {
		return fail(codes.Configuration("project %s: %v", p.Name, err))
	}

	natives := make([]NativeSet, 0, len(archs))
	for _, a := range archs {
		if err := enter(Native, a); err != nil {
			return fail(err)
		}

		out, err := pl.native.BuildNative(ctx, p, bctx.WithArch(a))
		if out != nil {
			res.Native = append(res.Native, out.Reports...)
		}

		if err != nil {
			return fail(err)
		}

		natives = append(natives, NativeSet{Arch: a, Library: out.Artifact, Shared: out.SharedLibs, Runtime: out.Runtime})
		res.Architectures = append(res.Architectures, a)
	}

	work := pl.opts.Layout.PackageWorkDir(bctx, p.Name)
	if err := os.RemoveAll(work); err != nil {
		return fail(err)
	}

	if err := os.MkdirAll(work, 0o755); err != nil {
		return fail(err)
	}

	if err := enter(Resources, ""); err != nil {
		return fail(err)
	}

	manifest, err := writeManifest(work, p.Name, p.Package)
	if err != nil {
		return fail(codes.Configuration("project %s: %v", p.Name, err))
	}

	base := filepath.Join(work, "base"+Extension)
	if err := pl.runResources(ctx, p, manifest, work, base); err != nil {
		return fail(err)
	}

	if err := enter(Assemble, ""); err != nil {
		return fail(err)
	}

	unaligned := filepath.Join(work, p.Name+"-unaligned"+Extension)
	a := assembly{project: p.Name, base: base, manifest: manifest, natives: natives, classes: p.Package.Classes}
	if err := assemble(a, unaligned); err != nil {
		return fail(err)
	}

	if err := verify(unaligned, natives); err != nil {
		return fail(err)
	}

	if err := enter(Align, ""); err != nil {
		return fail(err)
	}

	unsigned := filepath.Join(work, p.Name+"-unsigned"+Extension)
	if err := align(unaligned, unsigned); err != nil {
		return fail(fmt.Errorf("aligning package: %w", err))
	}

	res.Unsigned = unsigned

	if err := enter(Sign, ""); err != nil {
		return fail(err)
	}

	if err := pl.sign(ctx, unsigned, dest); err != nil {
		return fail(err)
	}

	if err := enter(Done, ""); err != nil {
		return fail(err)
	}

	res.Path = dest
	res.Stages = m.stages()
	log.Info("package signed", "path", dest, "architectures", archNames(archs))

	return res, nil
}

func archNames(archs []target.Arch) string {
	names := make([]string, len(archs))
	for i, a := range archs {
		names[i] = string(a)
	}

	return strings.Join(names, ",")
}
