package toolchain

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/Norgate-AV/xbuild/internal/target"
)

// gnuFamily drives gcc. Native builds use the host cc; cross builds use the
// conventional <triple>-gcc driver names.
type gnuFamily struct{}

var gnuTriples = map[target.Platform]map[target.Arch]string{
	target.Linux: {
		target.ARM64:  "aarch64-linux-gnu",
		target.ARM:    "arm-linux-gnueabihf",
		target.X86:    "i686-linux-gnu",
		target.X86_64: "x86_64-linux-gnu",
	},
	target.Windows: {
		target.ARM64:  "aarch64-w64-mingw32",
		target.X86:    "i686-w64-mingw32",
		target.X86_64: "x86_64-w64-mingw32",
	},
}

func (gnuFamily) Name() string { return "gnu" }

func (gnuFamily) Defaults(ctx target.Context, _ Env) (Recipe, error) {
	if ctx.Platform == target.HostPlatform() && ctx.Arch == target.HostArch() {
		return Recipe{Name: "gnu", Family: "gnu", Compiler: "cc", Linker: "cc", Archiver: "ar"}, nil
	}

	triple, ok := gnuTriples[ctx.Platform][ctx.Arch]
	if !ok {
		return Recipe{}, fmt.Errorf("gnu toolchain cannot target %s/%s", ctx.Platform, ctx.Arch)
	}

	return Recipe{
		Name:         "gnu-" + triple,
		Family:       "gnu",
		Compiler:     triple + "-gcc",
		Linker:       triple + "-gcc",
		Archiver:     triple + "-ar",
		TargetTriple: triple,
	}, nil
}

func (gnuFamily) TargetFlags(Recipe) []string { return nil }

// clangFamily drives a single clang binary and selects the target with --target.
type clangFamily struct{}

var clangTriples = map[target.Platform]map[target.Arch]string{
	target.Linux: {
		target.ARM64:  "aarch64-unknown-linux-gnu",
		target.ARM:    "armv7-unknown-linux-gnueabihf",
		target.X86:    "i686-unknown-linux-gnu",
		target.X86_64: "x86_64-unknown-linux-gnu",
	},
	target.Windows: {
		target.ARM64:  "aarch64-w64-windows-gnu",
		target.ARM:    "armv7-w64-windows-gnu",
		target.X86:    "i686-w64-windows-gnu",
		target.X86_64: "x86_64-w64-windows-gnu",
	},
	target.MacOS: {
		target.ARM64:  "arm64-apple-macos11",
		target.X86_64: "x86_64-apple-macos10.15",
	},
}

func (clangFamily) Name() string { return "clang" }

func (clangFamily) Defaults(ctx target.Context, env Env) (Recipe, error) {
	triple, ok := clangTriples[ctx.Platform][ctx.Arch]
	if ctx.Platform == target.Android {
		t, found := ndkTriples[ctx.Arch]
		triple, ok = t+strconv.Itoa(env.APILevel), found
	}

	if !ok {
		return Recipe{}, fmt.Errorf("clang toolchain cannot target %s/%s", ctx.Platform, ctx.Arch)
	}

	return Recipe{
		Name:         "clang-" + triple,
		Family:       "clang",
		Compiler:     "clang",
		Linker:       "clang",
		Archiver:     "llvm-ar",
		TargetTriple: triple,
	}, nil
}

func (clangFamily) TargetFlags(r Recipe) []string {
	if r.TargetTriple == "" {
		return nil
	}

	return []string{"--target=" + r.TargetTriple}
}

// ndkFamily dispatches one logical clang toolchain to the NDK's per-arch
// driver scripts (<triple><api>-clang), which encode the target themselves.
type ndkFamily struct{}

var ndkTriples = map[target.Arch]string{
	target.ARM64:  "aarch64-linux-android",
	target.ARM:    "armv7a-linux-androideabi",
	target.X86:    "i686-linux-android",
	target.X86_64: "x86_64-linux-android",
}

// The sysroot library directory for 32-bit ARM predates the armv7a driver name.
var ndkLibTriples = map[target.Arch]string{
	target.ARM64:  "aarch64-linux-android",
	target.ARM:    "arm-linux-androideabi",
	target.X86:    "i686-linux-android",
	target.X86_64: "x86_64-linux-android",
}

func (ndkFamily) Name() string { return "ndk" }

func (ndkFamily) Defaults(ctx target.Context, env Env) (Recipe, error) {
	if ctx.Platform != target.Android {
		return Recipe{}, fmt.Errorf("ndk toolchain only targets android, not %s", ctx.Platform)
	}

	if env.NDKPath == "" {
		return Recipe{}, fmt.Errorf("ndk_path is not configured")
	}

	triple, ok := ndkTriples[ctx.Arch]
	if !ok {
		return Recipe{}, fmt.Errorf("ndk toolchain cannot target %s", ctx.Arch)
	}

	prebuilt := filepath.Join(env.NDKPath, "toolchains", "llvm", "prebuilt", env.HostTag)
	bin := filepath.Join(prebuilt, "bin")
	driver := filepath.Join(bin, fmt.Sprintf("%s%d-clang", triple, env.APILevel))

	return Recipe{
		Name:         "ndk-" + triple,
		Family:       "ndk",
		Compiler:     driver,
		Linker:       driver,
		Archiver:     filepath.Join(bin, "llvm-ar"),
		BaseFlags:    []string{"-fPIC", "-DANDROID"},
		TargetTriple: fmt.Sprintf("%s%d", triple, env.APILevel),
		RuntimeLibs: []string{
			filepath.Join(prebuilt, "sysroot", "usr", "lib", ndkLibTriples[ctx.Arch], "libc++_shared.so"),
		},
	}, nil
}

func (ndkFamily) TargetFlags(Recipe) []string { return nil }
