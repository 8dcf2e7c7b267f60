// Package builder drives a workspace build: dependency order, per-source cache
// checks, parallel compilation, linking and, for packaging platforms, handing
// app-package projects to a Packager.
//
// Every call takes the build context explicitly. The builder keeps no notion
// of a "current" architecture; the packager builds several architectures by
// calling BuildNative once per context.
package builder

import (
	"context"
	"time"

	"github.com/Norgate-AV/xbuild/internal/buildlog"
	"github.com/Norgate-AV/xbuild/internal/cache"
	"github.com/Norgate-AV/xbuild/internal/layout"
	"github.com/Norgate-AV/xbuild/internal/scheduler"
	"github.com/Norgate-AV/xbuild/internal/state"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// Packager assembles app-package projects on platforms that require a package.
type Packager interface {
	// Check validates everything packaging p for ctx needs before any compilation starts.
	Check(p *workspace.Project, ctx target.Context) error

	// Package builds every required architecture of p and produces the package.
	// The returned value is non-nil even on failure.
	Package(ctx context.Context, p *workspace.Project, bctx target.Context) (*Packaged, error)
}

// Packaged describes a packaging run.
type Packaged struct {
	Path          string        // Canonical package path. Empty unless signing succeeded.
	Unsigned      string        // Aligned but unsigned intermediate, if one was produced.
	Architectures []target.Arch // Architectures the package contains.
	Stages        []string      // Stage transitions in order.
	Native        []ProjectReport
}

// NativeOutputs is what one project's native build produced in one context.
type NativeOutputs struct {
	Context    target.Context
	Artifact   string   // The project's own linked output.
	SharedLibs []string // Shared library artifacts of transitive dependencies.
	Runtime    []string // Toolchain runtime libraries required at run time.
	Reports    []ProjectReport
}

// Options configure a Builder.
type Options struct {
	Layout     layout.Layout
	Toolchains *toolchain.Registry
	Runner     toolchain.Runner
	Jobs       int            // Compile workers. <= 0 selects the default.
	State      *state.Tracker // Optional; a fresh tracker is created when nil.
	Log        *buildlog.Log  // Optional persistent build log.
}

// Builder builds projects of one workspace.
type Builder struct {
	ws         *workspace.Workspace
	layout     layout.Layout
	cache      *cache.Cache
	pool       *scheduler.Pool
	toolchains *toolchain.Registry
	runner     toolchain.Runner
	state      *state.Tracker
	log        *buildlog.Log
	packager   Packager
	now        func() time.Time
}

// New creates a builder for ws
func New(ws *workspace.Workspace, opts Options) *Builder {
	tracker := opts.State
	if tracker == nil {
		tracker = state.New()
	}

	runner := opts.Runner
	if runner == nil {
		runner = toolchain.NewExecRunner()
	}

	return &Builder{
		ws:         ws,
		layout:     opts.Layout,
		cache:      cache.New(opts.Layout),
		pool:       scheduler.New(opts.Jobs),
		toolchains: opts.Toolchains,
		runner:     runner,
		state:      tracker,
		log:        opts.Log,
		now:        time.Now,
	}
}

// SetPackager installs the packager used for app-package projects.
func (b *Builder) SetPackager(p Packager) {
	b.packager = p
}

// State returns the session state tracker
func (b *Builder) State() *state.Tracker {
	return b.state
}

// Toolchains returns the toolchain registry
func (b *Builder) Toolchains() *toolchain.Registry {
	return b.toolchains
}

// Workers returns the compile pool size
func (b *Builder) Workers() int {
	return b.pool.Workers()
}
