package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/xbuild/internal/buildlog"
	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/ctxlog"
	"github.com/Norgate-AV/xbuild/internal/layout"
	"github.com/Norgate-AV/xbuild/internal/resolver"
	"github.com/Norgate-AV/xbuild/internal/state"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
	"github.com/Norgate-AV/xbuild/internal/toolchain/fake"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

var linux = target.New(target.Linux, target.X86_64, target.Debug)

type env struct {
	root   string
	ws     *workspace.Workspace
	runner *fake.Runner
	layout layout.Layout
}

// newEnv creates a workspace of four projects:
//
//	core   static-lib  core.c (includes core.h), util.c
//	render shared-lib  render.c (includes core.h via core's include dir), depends on core
//	tool   executable  main.c, depends on render
//	solo   executable  solo.c
func newEnv(t *testing.T) *env {
	t.Helper()

	root := t.TempDir()
	e := &env{root: root, runner: fake.New(), layout: layout.New(filepath.Join(root, "build"))}

	e.write(t, "core/include/core.h", "int core(void);\n")
	e.write(t, "core/core.c", "#include \"core.h\"\nint core(void) { return 1; }\n")
	e.write(t, "core/util.c", "int util(void) { return 2; }\n")
	e.write(t, "render/render.c", "#include \"core.h\"\nint render(void) { return core(); }\n")
	e.write(t, "tool/main.c", "int main(void) { return 0; }\n")
	e.write(t, "solo/solo.c", "int main(void) { return 0; }\n")

	e.ws = &workspace.Workspace{
		Name: "test",
		Root: root,
		Projects: []*workspace.Project{
			{Name: "core", Kind: workspace.StaticLib, Dir: e.path("core"), Sources: []string{"*.c"},
				IncludeDirs: []string{e.path("core/include")}},
			{Name: "render", Kind: workspace.SharedLib, Dir: e.path("render"), Sources: []string{"*.c"},
				Dependencies: []string{"core"}},
			{Name: "tool", Kind: workspace.Executable, Dir: e.path("tool"), Sources: []string{"*.c"},
				Dependencies: []string{"render"}},
			{Name: "solo", Kind: workspace.Executable, Dir: e.path("solo"), Sources: []string{"*.c"}},
		},
		Toolchains: []workspace.ToolchainSpec{
			{Name: "fake", Platform: "linux", Family: "clang", Compiler: "fakecc", Archiver: "fakear"},
		},
	}

	return e
}

func (e *env) path(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func (e *env) write(t *testing.T, rel, content string) {
	t.Helper()

	p := e.path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(p, past, past))
}

func (e *env) touch(t *testing.T, rel string) {
	t.Helper()

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(e.path(rel), future, future))
}

// session starts a fresh builder, as a new process would.
func (e *env) session(opts ...func(*Options)) *Builder {
	o := Options{
		Layout:     e.layout,
		Toolchains: toolchain.NewRegistry(e.ws.Toolchains, toolchain.Env{}),
		Runner:     e.runner,
		Jobs:       2,
	}

	for _, fn := range opts {
		fn(&o)
	}

	return New(e.ws, o)
}

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), ctxlog.Discard())
}

func statuses(r *Report) map[string]Status {
	out := make(map[string]Status)
	for _, p := range r.Projects {
		out[p.Project] = p.Status
	}

	return out
}

func TestBuild_FirstBuild(t *testing.T) {
	e := newEnv(t)

	report, err := e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Compiled())
	assert.Equal(t, map[string]Status{"core": Built, "render": Built, "tool": Built, "solo": Built}, statuses(report))

	core, ok := report.Find("core", linux)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(e.layout.OutputDir(linux, "core"), "libcore.a"), core.Artifact)
	assert.FileExists(t, core.Artifact)

	for _, rel := range []string{"core/core.c", "core/util.c"} {
		obj := e.layout.ObjectPath(linux, "core", e.path("core"), e.path(rel))
		assert.FileExists(t, obj)
		assert.FileExists(t, layout.DepPath(obj))
		assert.FileExists(t, layout.SignaturePath(obj))
		assert.NoFileExists(t, layout.RawDepPath(obj))
	}
}

func TestBuild_Idempotent(t *testing.T) {
	e := newEnv(t)

	_, err := e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)
	e.runner.Reset()

	report, err := e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)

	assert.Zero(t, report.Compiled())
	assert.Equal(t, 5, report.Reused())
	assert.Empty(t, e.runner.Calls(), "nothing may be compiled or linked")
	assert.Equal(t, 4, report.Count(UpToDate))
}

func TestBuild_TouchInvalidation(t *testing.T) {
	e := newEnv(t)

	_, err := e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)
	e.runner.Reset()

	e.touch(t, "core/util.c")

	report, err := e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)

	assert.Equal(t, []string{e.path("core/util.c")}, e.runner.Compiled())
	assert.Equal(t, 1, report.Compiled())

	// The archive changed, so everything linking it is relinked; solo is untouched.
	assert.Equal(t, map[string]Status{"core": Built, "render": Built, "tool": Built, "solo": UpToDate}, statuses(report))
}

func TestBuild_HeaderInvalidation(t *testing.T) {
	e := newEnv(t)

	_, err := e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)
	e.runner.Reset()

	e.touch(t, "core/include/core.h")

	_, err = e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)

	assert.Equal(t, []string{e.path("core/core.c"), e.path("render/render.c")}, e.runner.Compiled())
}

func TestBuild_SignatureInvalidation(t *testing.T) {
	e := newEnv(t)

	_, err := e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)
	e.runner.Reset()

	core, _ := e.ws.Project("core")
	core.CFlags = []string{"-Wall"}

	report, err := e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)

	assert.Equal(t, []string{e.path("core/core.c"), e.path("core/util.c")}, e.runner.Compiled())
	assert.Equal(t, 2, report.Compiled())

	e.runner.Reset()
	e.ws.Options.Defines = []string{"WORKSPACE=1"}

	report, err = e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Compiled(), "workspace-wide flag change affects every object")
}

func TestBuild_ConfigurationInvalidation(t *testing.T) {
	e := newEnv(t)

	_, err := e.session().Build(testContext(), "core", linux)
	require.NoError(t, err)
	e.runner.Reset()

	report, err := e.session().Build(testContext(), "core", linux.WithConfiguration(target.Release))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Compiled())
}

func TestBuild_SameSessionSkipsCompleted(t *testing.T) {
	e := newEnv(t)
	b := e.session()

	_, err := b.Build(testContext(), "tool", linux)
	require.NoError(t, err)
	e.runner.Reset()

	report, err := b.Build(testContext(), resolver.All, linux)
	require.NoError(t, err)

	assert.Equal(t, map[string]Status{"core": AlreadyBuilt, "render": AlreadyBuilt, "tool": AlreadyBuilt, "solo": Built}, statuses(report))
	assert.Equal(t, []string{e.path("solo/solo.c")}, e.runner.Compiled())
}

func TestBuild_ArchitectureIsolation(t *testing.T) {
	e := newEnv(t)
	b := e.session()
	arm := linux.WithArch(target.ARM64)

	_, err := b.Build(testContext(), "core", linux)
	require.NoError(t, err)

	report, err := b.Build(testContext(), "core", arm)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Compiled(), "second architecture must not be treated as already built")

	x64Obj := e.layout.ObjectPath(linux, "core", e.path("core"), e.path("core/core.c"))
	armObj := e.layout.ObjectPath(arm, "core", e.path("core"), e.path("core/core.c"))
	assert.NotEqual(t, filepath.Dir(x64Obj), filepath.Dir(armObj))

	x64Data, err := os.ReadFile(x64Obj)
	require.NoError(t, err)
	armData, err := os.ReadFile(armObj)
	require.NoError(t, err)

	assert.Contains(t, string(x64Data), "--target=x86_64-unknown-linux-gnu")
	assert.Contains(t, string(armData), "--target=aarch64-unknown-linux-gnu")

	assert.True(t, b.State().Done(stateKey("core", linux)))
	assert.True(t, b.State().Done(stateKey("core", arm)))
}

func TestBuild_FailureSkipsDependentsOnly(t *testing.T) {
	e := newEnv(t)
	e.write(t, "render/render.c", "#error renderer is broken\n")

	report, err := e.session().Build(testContext(), resolver.All, linux)
	require.Error(t, err)

	assert.Equal(t, map[string]Status{"core": Built, "render": Failed, "tool": Skipped, "solo": Built}, statuses(report))
	assert.Equal(t, codes.ExitToolInvocation, codes.ExitCode(err))

	var be *codes.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "render", be.Project)
	assert.Equal(t, linux.String(), be.Context)
	assert.Contains(t, be.Output, "renderer is broken")

	tool, _ := report.Find("tool", linux)
	assert.Equal(t, "dependency render failed", tool.Reason)
	assert.NoFileExists(t, filepath.Join(e.layout.OutputDir(linux, "render"), "librender.so"))

	// The failed object carries no metadata, so fixing the source recompiles it.
	e.write(t, "render/render.c", "int render(void) { return 0; }\n")
	e.runner.Reset()

	_, err = e.session().Build(testContext(), resolver.All, linux)
	require.NoError(t, err)
	assert.Equal(t, []string{e.path("render/render.c"), e.path("tool/main.c")}, e.runner.Compiled())
}

func TestBuild_ConfigurationErrorsStopBeforeCompiling(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *env)
		target string
		ctx    target.Context
	}{
		{
			name: "cycle",
			mutate: func(e *env) {
				core, _ := e.ws.Project("core")
				core.Dependencies = []string{"tool"}
			},
			target: resolver.All,
			ctx:    linux,
		},
		{
			name: "no sources",
			mutate: func(e *env) {
				solo, _ := e.ws.Project("solo")
				solo.Sources = []string{"*.cpp"}
			},
			target: resolver.All,
			ctx:    linux,
		},
		{
			name:   "unknown target",
			mutate: func(*env) {},
			target: "ghost",
			ctx:    linux,
		},
		{
			name:   "toolchain unavailable",
			mutate: func(*env) {},
			target: "core",
			ctx:    target.New(target.Android, target.ARM64, target.Debug),
		},
		{
			name:   "invalid context",
			mutate: func(*env) {},
			target: "core",
			ctx:    target.Context{Platform: "plan9", Arch: target.X86, Configuration: target.Debug},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			tt.mutate(e)

			report, err := e.session().Build(testContext(), tt.target, tt.ctx)
			require.Error(t, err)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, codes.ErrConfiguration)
			assert.Empty(t, e.runner.Calls())
		})
	}
}

func TestBuild_MissingDepfileIsNeverAHit(t *testing.T) {
	e := newEnv(t)
	e.runner.NoDepfile = true

	_, err := e.session().Build(testContext(), "core", linux)
	require.NoError(t, err)
	e.runner.Reset()

	report, err := e.session().Build(testContext(), "core", linux)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Compiled())
}

func TestBuild_RemovedSourceLeavesArchive(t *testing.T) {
	e := newEnv(t)

	_, err := e.session().Build(testContext(), "core", linux)
	require.NoError(t, err)

	archive := filepath.Join(e.layout.OutputDir(linux, "core"), "libcore.a")
	coreObj := e.layout.ObjectPath(linux, "core", e.path("core"), e.path("core/core.c"))
	utilObj := e.layout.ObjectPath(linux, "core", e.path("core"), e.path("core/util.c"))
	require.ElementsMatch(t, []string{coreObj, utilObj}, fake.ArchiveMembers(archive))

	require.NoError(t, os.Remove(e.path("core/util.c")))
	e.runner.Reset()

	report, err := e.session().Build(testContext(), "core", linux)
	require.NoError(t, err)

	assert.Empty(t, e.runner.Compiled())
	assert.Equal(t, []string{archive}, e.runner.Linked())
	assert.Equal(t, map[string]Status{"core": Built}, statuses(report))
	assert.Equal(t, []string{coreObj}, fake.ArchiveMembers(archive))
}

// Compilers run in the project directory report headers found through a
// relative -I as relative paths.
func TestBuild_RelativeIncludePath(t *testing.T) {
	e := newEnv(t)
	e.write(t, "solo/inc/solo.h", "int solo(void);\n")
	e.write(t, "solo/solo.c", "#include \"solo.h\"\nint main(void) { return 0; }\n")

	solo, _ := e.ws.Project("solo")
	solo.CFlags = []string{"-Iinc"}

	_, err := e.session().Build(testContext(), "solo", linux)
	require.NoError(t, err)
	e.runner.Reset()

	report, err := e.session().Build(testContext(), "solo", linux)
	require.NoError(t, err)
	assert.Zero(t, report.Compiled())
	assert.Empty(t, e.runner.Calls())

	e.touch(t, "solo/inc/solo.h")

	_, err = e.session().Build(testContext(), "solo", linux)
	require.NoError(t, err)
	assert.Equal(t, []string{e.path("solo/solo.c")}, e.runner.Compiled())
}

func TestBuild_FilesystemFailureIsNotAToolFailure(t *testing.T) {
	e := newEnv(t)

	objDir := e.layout.ObjectDir(linux, "solo")
	require.NoError(t, os.MkdirAll(filepath.Dir(objDir), 0o755))
	require.NoError(t, os.WriteFile(objDir, []byte("in the way"), 0o644))

	_, err := e.session().Build(testContext(), "solo", linux)
	require.Error(t, err)

	assert.Equal(t, codes.ExitFailure, codes.ExitCode(err))
	assert.ErrorIs(t, err, codes.ErrBuild)
	assert.NotErrorIs(t, err, codes.ErrToolInvocation)
	assert.Empty(t, e.runner.Calls())

	var be *codes.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "solo", be.Project)
}

func TestBuild_AppPackageOnDesktopLinksSharedLibrary(t *testing.T) {
	e := newEnv(t)
	e.write(t, "app/app.c", "int app(void) { return 0; }\n")
	e.ws.Projects = append(e.ws.Projects, &workspace.Project{
		Name: "app", Kind: workspace.AppPackage, Dir: e.path("app"), Sources: []string{"*.c"},
		Dependencies: []string{"render"},
		Package:      &workspace.PackageOptions{ID: "com.example.app", Version: "1.0.0"},
	})

	report, err := e.session().Build(testContext(), "app", linux)
	require.NoError(t, err)

	app, ok := report.Find("app", linux)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(e.layout.OutputDir(linux, "app"), "libapp.so"), app.Artifact)
}

func TestBuild_PackagingPlatformNeedsPackager(t *testing.T) {
	e := newEnv(t)
	e.write(t, "app/app.c", "int app(void) { return 0; }\n")
	e.ws.Projects = append(e.ws.Projects, &workspace.Project{
		Name: "app", Kind: workspace.AppPackage, Dir: e.path("app"), Sources: []string{"*.c"},
		Package: &workspace.PackageOptions{ID: "com.example.app", Version: "1.0.0"},
	})

	_, err := e.session().Build(testContext(), "app", target.New(target.Android, target.ARM64, target.Debug))
	assert.ErrorIs(t, err, codes.ErrConfiguration)
	assert.Empty(t, e.runner.Calls())
}

func TestBuildNative(t *testing.T) {
	e := newEnv(t)
	b := e.session()
	tool, _ := e.ws.Project("tool")

	out, err := b.BuildNative(testContext(), tool, linux)
	require.NoError(t, err)

	assert.Equal(t, linux, out.Context)
	assert.Equal(t, filepath.Join(e.layout.OutputDir(linux, "tool"), "tool"), out.Artifact)
	assert.Equal(t, []string{filepath.Join(e.layout.OutputDir(linux, "render"), "librender.so")}, out.SharedLibs)
	assert.Empty(t, out.Runtime)
	require.Len(t, out.Reports, 3)
	assert.Equal(t, "core", out.Reports[0].Project)

	// Link order puts the shared library before the archive it depends on.
	calls := e.runner.Calls()
	link := calls[len(calls)-1]
	assert.Equal(t, "fakecc", link.Path)
	assert.Subset(t, link.Args, []string{
		filepath.Join(e.layout.OutputDir(linux, "core"), "libcore.a"),
		filepath.Join(e.layout.OutputDir(linux, "render"), "librender.so"),
	})
}

func TestBuild_RecordsBuildLog(t *testing.T) {
	e := newEnv(t)
	blog, err := buildlog.Open(e.layout.Root)
	require.NoError(t, err)
	defer blog.Close()

	_, err = e.session(func(o *Options) { o.Log = blog }).Build(testContext(), "core", linux)
	require.NoError(t, err)

	entry, err := blog.Get("core", linux.String())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Success)
	assert.Equal(t, 2, entry.Compiled)
	assert.Equal(t, "static-lib", entry.Kind)
	assert.NotEmpty(t, entry.Digest)
}

func TestBuild_SerialAndParallelAgree(t *testing.T) {
	for _, jobs := range []int{1, 4} {
		t.Run("", func(t *testing.T) {
			e := newEnv(t)
			report, err := e.session(func(o *Options) { o.Jobs = jobs }).Build(testContext(), resolver.All, linux)
			require.NoError(t, err)
			assert.Equal(t, 5, report.Compiled())
		})
	}
}

func stateKey(project string, ctx target.Context) state.Key {
	return state.KeyFor(project, ctx)
}
