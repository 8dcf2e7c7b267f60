// Package toolchain maps abstract build operations plus a Build Context to
// concrete external process invocations.
//
// Resolution is a pure lookup: Registry.Resolve never mutates shared state and
// returns a fresh Resolved value per context. Each compiler family is a
// strategy that supplies default programs, target flags and runtime libraries.
package toolchain

import (
	"fmt"
	"runtime"
	"slices"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// Recipe is the resolved set of programs and base flags for one context.
type Recipe struct {
	Name         string
	Family       string
	Compiler     string
	Linker       string
	Archiver     string
	Wrapper      []string // Launcher prepended to compile commands, e.g. ["ccache"].
	BaseFlags    []string
	LinkFlags    []string
	TargetTriple string
	RuntimeLibs  []string
}

// Env carries the host-side locations families need to build default recipes.
type Env struct {
	NDKPath  string
	APILevel int
	HostTag  string // NDK prebuilt host directory, e.g. "linux-x86_64".
}

// DefaultAPILevel is the minimum Android API level targeted when none is configured
const DefaultAPILevel = 24

// Family is a compiler family strategy.
type Family interface {
	Name() string
	Defaults(ctx target.Context, env Env) (Recipe, error)
	TargetFlags(r Recipe) []string
}

// Registry resolves recipes from workspace toolchain declarations and family defaults.
type Registry struct {
	specs    []workspace.ToolchainSpec
	env      Env
	families map[string]Family
	ids      *identityCache
}

// NewRegistry creates a registry. Later specs override earlier ones of equal specificity.
func NewRegistry(specs []workspace.ToolchainSpec, env Env) *Registry {
	if env.APILevel == 0 {
		env.APILevel = DefaultAPILevel
	}

	if env.HostTag == "" {
		env.HostTag = hostTag()
	}

	return &Registry{
		specs: slices.Clone(specs),
		env:   env,
		families: map[string]Family{
			"gnu":   gnuFamily{},
			"clang": clangFamily{},
			"ndk":   ndkFamily{},
		},
		ids: newIdentityCache(),
	}
}

// Resolve returns the toolchain for ctx.
func (r *Registry) Resolve(ctx target.Context) (*Resolved, error) {
	spec := r.lookup(ctx)

	familyName := defaultFamily(ctx.Platform)
	if spec != nil && spec.Family != "" {
		familyName = spec.Family
	}

	fam, ok := r.families[familyName]
	if !ok {
		return nil, codes.Configuration("unknown toolchain family %q for %s", familyName, ctx)
	}

	recipe, err := fam.Defaults(ctx, r.env)
	if err != nil {
		return nil, codes.Configuration("toolchain for %s: %v", ctx, err)
	}

	if spec != nil {
		overlay(&recipe, spec)
	}

	if recipe.Compiler == "" {
		return nil, codes.Configuration("no compiler configured for %s", ctx)
	}

	if recipe.Linker == "" {
		recipe.Linker = recipe.Compiler
	}

	return &Resolved{Recipe: recipe, Context: ctx, family: fam, ids: r.ids}, nil
}

// lookup prefers an exact (platform, arch) declaration over a platform-wide one.
func (r *Registry) lookup(ctx target.Context) *workspace.ToolchainSpec {
	var platformWide *workspace.ToolchainSpec

	for i := range r.specs {
		s := &r.specs[i]
		if target.Platform(s.Platform) != ctx.Platform {
			continue
		}

		switch target.Arch(s.Arch) {
		case ctx.Arch:
			return s
		case "":
			platformWide = s
		}
	}

	return platformWide
}

func overlay(r *Recipe, s *workspace.ToolchainSpec) {
	if s.Name != "" {
		r.Name = s.Name
	}

	if s.Compiler != "" {
		r.Compiler = s.Compiler
	}

	if s.Linker != "" {
		r.Linker = s.Linker
	} else if s.Compiler != "" {
		r.Linker = s.Compiler
	}

	if s.Archiver != "" {
		r.Archiver = s.Archiver
	}

	if len(s.Wrapper) > 0 {
		r.Wrapper = slices.Clone(s.Wrapper)
	}

	if s.Triple != "" {
		r.TargetTriple = s.Triple
	}

	if len(s.RuntimeLibs) > 0 {
		r.RuntimeLibs = slices.Clone(s.RuntimeLibs)
	}

	r.BaseFlags = append(slices.Clone(r.BaseFlags), s.Flags...)
	r.LinkFlags = append(slices.Clone(r.LinkFlags), s.LinkFlags...)
}

func defaultFamily(p target.Platform) string {
	switch p {
	case target.Android:
		return "ndk"
	case target.MacOS, target.Windows:
		return "clang"
	default:
		return "gnu"
	}
}

func hostTag() string {
	goos := runtime.GOOS
	if goos == "darwin" {
		// The NDK ships a single universal darwin directory.
		return "darwin-x86_64"
	}

	return fmt.Sprintf("%s-x86_64", goos)
}
