package toolchain

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

func TestRegistry_Resolve_NDK(t *testing.T) {
	reg := NewRegistry(nil, Env{NDKPath: "/opt/ndk", APILevel: 26, HostTag: "linux-x86_64"})
	bin := filepath.Join("/opt/ndk", "toolchains", "llvm", "prebuilt", "linux-x86_64", "bin")

	tests := []struct {
		arch     target.Arch
		compiler string
		runtime  string
	}{
		{target.ARM64, "aarch64-linux-android26-clang", "aarch64-linux-android"},
		{target.ARM, "armv7a-linux-androideabi26-clang", "arm-linux-androideabi"},
		{target.X86, "i686-linux-android26-clang", "i686-linux-android"},
		{target.X86_64, "x86_64-linux-android26-clang", "x86_64-linux-android"},
	}

	for _, tt := range tests {
		t.Run(string(tt.arch), func(t *testing.T) {
			res, err := reg.Resolve(target.New(target.Android, tt.arch, target.Debug))
			require.NoError(t, err)

			assert.Equal(t, "ndk", res.Recipe.Family)
			assert.Equal(t, filepath.Join(bin, tt.compiler), res.Recipe.Compiler)
			assert.Equal(t, res.Recipe.Compiler, res.Recipe.Linker)
			assert.Equal(t, filepath.Join(bin, "llvm-ar"), res.Recipe.Archiver)
			require.Len(t, res.RuntimeLibraries(), 1)
			assert.Contains(t, res.RuntimeLibraries()[0], filepath.Join("usr", "lib", tt.runtime, "libc++_shared.so"))
		})
	}
}

func TestRegistry_Resolve_Errors(t *testing.T) {
	t.Run("ndk without path", func(t *testing.T) {
		_, err := NewRegistry(nil, Env{}).Resolve(target.New(target.Android, target.ARM64, target.Debug))
		require.Error(t, err)
		assert.ErrorIs(t, err, codes.ErrConfiguration)
		assert.Contains(t, err.Error(), "ndk_path")
	})

	t.Run("unknown family", func(t *testing.T) {
		specs := []workspace.ToolchainSpec{{Platform: "linux", Family: "tcc"}}
		_, err := NewRegistry(specs, Env{}).Resolve(target.New(target.Linux, target.X86_64, target.Debug))
		assert.ErrorIs(t, err, codes.ErrConfiguration)
	})

	t.Run("gnu cannot target macos", func(t *testing.T) {
		specs := []workspace.ToolchainSpec{{Platform: "macos", Family: "gnu"}}
		_, err := NewRegistry(specs, Env{}).Resolve(target.New(target.MacOS, target.ARM, target.Debug))
		assert.ErrorIs(t, err, codes.ErrConfiguration)
	})
}

func TestRegistry_Resolve_SpecPrecedence(t *testing.T) {
	specs := []workspace.ToolchainSpec{
		{Name: "wide", Platform: "linux", Family: "clang", Compiler: "clang-18", Flags: []string{"-Wall"}},
		{Name: "arm", Platform: "linux", Arch: "arm64", Family: "gnu", Compiler: "aarch64-custom-gcc", Wrapper: []string{"ccache"}},
	}
	reg := NewRegistry(specs, Env{})

	arm, err := reg.Resolve(target.New(target.Linux, target.ARM64, target.Release))
	require.NoError(t, err)
	assert.Equal(t, "arm", arm.Recipe.Name)
	assert.Equal(t, "aarch64-custom-gcc", arm.Recipe.Compiler)
	assert.Equal(t, "aarch64-custom-gcc", arm.Recipe.Linker)
	assert.Equal(t, []string{"ccache"}, arm.Recipe.Wrapper)

	x86, err := reg.Resolve(target.New(target.Linux, target.X86, target.Release))
	require.NoError(t, err)
	assert.Equal(t, "wide", x86.Recipe.Name)
	assert.Equal(t, "clang-18", x86.Recipe.Compiler)
	assert.Equal(t, "i686-unknown-linux-gnu", x86.Recipe.TargetTriple)
	assert.Equal(t, []string{"-Wall"}, x86.Recipe.BaseFlags)
}

func TestRegistry_Resolve_IsPure(t *testing.T) {
	reg := NewRegistry([]workspace.ToolchainSpec{{Platform: "linux", Family: "clang", Flags: []string{"-Wall"}}}, Env{})
	ctx := target.New(target.Linux, target.ARM64, target.Debug)

	a, err := reg.Resolve(ctx)
	require.NoError(t, err)
	a.Recipe.BaseFlags = append(a.Recipe.BaseFlags, "-Werror")

	b, err := reg.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"-Wall"}, b.Recipe.BaseFlags)
}

func testProject(kind workspace.Kind) *workspace.Project {
	return &workspace.Project{
		Name:        "core",
		Kind:        kind,
		IncludeDirs: []string{"/ws/core/include"},
		Defines:     []string{"CORE=1"},
		CFlags:      []string{"-std=c11"},
		Libs:        []string{"m"},
	}
}

func TestResolved_Compile(t *testing.T) {
	specs := []workspace.ToolchainSpec{{Platform: "linux", Family: "clang", Wrapper: []string{"ccache"}}}
	res, err := NewRegistry(specs, Env{}).Resolve(target.New(target.Linux, target.ARM64, target.Debug))
	require.NoError(t, err)

	cmd := res.Compile(CompileInput{
		Project: testProject(workspace.StaticLib),
		Options: workspace.Options{Defines: []string{"WS=1"}},
		Source:  "/ws/core/a.c",
		Object:  "/b/a.c.o",
		DepFile: "/b/a.c.o.d.raw",
	})

	assert.Equal(t, "ccache", cmd.Path)
	assert.Equal(t, []string{
		"clang",
		"--target=aarch64-unknown-linux-gnu",
		"-O0", "-g", "-fPIC",
		"-I/ws/core/include",
		"-DWS=1", "-DCORE=1",
		"-std=c11",
		"-MD", "-MF", "/b/a.c.o.d.raw", "-MT", "/b/a.c.o",
		"-c", "/ws/core/a.c", "-o", "/b/a.c.o",
	}, cmd.Args)
}

func TestResolved_Link(t *testing.T) {
	reg := NewRegistry(nil, Env{NDKPath: "/ndk", HostTag: "linux-x86_64"})
	res, err := reg.Resolve(target.New(target.Android, target.ARM64, target.Release))
	require.NoError(t, err)

	t.Run("static archive", func(t *testing.T) {
		cmd, err := res.Link(LinkInput{Project: testProject(workspace.StaticLib), Objects: []string{"a.o", "b.o"}, Output: "libcore.a"})
		require.NoError(t, err)
		assert.Equal(t, res.Recipe.Archiver, cmd.Path)
		assert.Equal(t, []string{"rcs", "libcore.a", "a.o", "b.o"}, cmd.Args)
	})

	t.Run("shared library", func(t *testing.T) {
		p := testProject(workspace.AppPackage)
		cmd, err := res.Link(LinkInput{
			Project:    p,
			Objects:    []string{"main.o"},
			StaticLibs: []string{"libdep.a"},
			SharedLibs: []string{"libshared.so"},
			Output:     "libcore.so",
		})
		require.NoError(t, err)
		assert.Equal(t, res.Recipe.Linker, cmd.Path)
		assert.Equal(t, []string{
			"-shared", "-Wl,-soname,libcore.so",
			"main.o", "libdep.a", "libshared.so",
			"-lm", "-o", "libcore.so",
		}, cmd.Args)
	})

	t.Run("missing archiver", func(t *testing.T) {
		bare := *res
		bare.Recipe.Archiver = ""
		_, err := bare.Link(LinkInput{Project: testProject(workspace.StaticLib)})
		assert.Error(t, err)
	})
}

func TestResolved_ArtifactName(t *testing.T) {
	tests := []struct {
		platform target.Platform
		kind     workspace.Kind
		want     string
	}{
		{target.Linux, workspace.Executable, "core"},
		{target.Windows, workspace.Executable, "core.exe"},
		{target.Linux, workspace.StaticLib, "libcore.a"},
		{target.Linux, workspace.SharedLib, "libcore.so"},
		{target.MacOS, workspace.SharedLib, "libcore.dylib"},
		{target.Windows, workspace.SharedLib, "core.dll"},
		{target.Android, workspace.AppPackage, "libcore.so"},
	}

	for _, tt := range tests {
		res := &Resolved{Context: target.New(tt.platform, target.X86_64, target.Debug)}
		assert.Equal(t, tt.want, res.ArtifactName(testProject(tt.kind)), "%s %s", tt.platform, tt.kind)
	}
}

func TestResolved_Signature(t *testing.T) {
	reg := NewRegistry([]workspace.ToolchainSpec{{Platform: "linux", Family: "clang"}}, Env{})
	debug, err := reg.Resolve(target.New(target.Linux, target.X86_64, target.Debug))
	require.NoError(t, err)

	p := testProject(workspace.Executable)
	base := debug.Signature(p, workspace.Options{})

	require.NoError(t, base.Validate())
	assert.Equal(t, base, debug.Signature(p, workspace.Options{}), "signature must be stable")

	changed := *p
	changed.CFlags = []string{"-std=c17"}
	assert.NotEqual(t, base, debug.Signature(&changed, workspace.Options{}), "flag change must change signature")

	assert.NotEqual(t, base, debug.Signature(p, workspace.Options{Defines: []string{"X"}}))

	release, err := reg.Resolve(target.New(target.Linux, target.X86_64, target.Release))
	require.NoError(t, err)
	assert.NotEqual(t, base, release.Signature(p, workspace.Options{}))

	arm, err := reg.Resolve(target.New(target.Linux, target.ARM64, target.Debug))
	require.NoError(t, err)
	assert.NotEqual(t, base, arm.Signature(p, workspace.Options{}))
}
