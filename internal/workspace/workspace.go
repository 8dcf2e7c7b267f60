// Package workspace holds the resolved project graph the build engine consumes.
//
// A Workspace is normally produced by an external front-end; Load provides a
// minimal YAML/TOML reader so the command line has something to feed the engine.
// Once loaded, a Workspace is treated as immutable for the duration of a build.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/target"
)

// Kind is the type of artifact a project produces.
type Kind string

const (
	Executable Kind = "executable"
	StaticLib  Kind = "static-lib"
	SharedLib  Kind = "shared-lib"
	AppPackage Kind = "app-package"
)

var kinds = []Kind{Executable, StaticLib, SharedLib, AppPackage}

// Valid reports whether k is a known project kind.
func (k Kind) Valid() bool {
	return slices.Contains(kinds, k)
}

// Workspace is the root container of projects and toolchains.
type Workspace struct {
	Name       string          `yaml:"name" toml:"name"`
	Root       string          `yaml:"-" toml:"-"`
	Options    Options         `yaml:"options" toml:"options"`
	Projects   []*Project      `yaml:"projects" toml:"projects"`
	Toolchains []ToolchainSpec `yaml:"toolchains" toml:"toolchains"`
}

// Options apply to every project in the workspace.
type Options struct {
	Defines []string `yaml:"defines" toml:"defines"`
	CFlags  []string `yaml:"cflags" toml:"cflags"`
	LDFlags []string `yaml:"ldflags" toml:"ldflags"`
}

// Project is a buildable unit.
type Project struct {
	Name                 string              `yaml:"name" toml:"name"`
	Kind                 Kind                `yaml:"kind" toml:"kind"`
	Dir                  string              `yaml:"dir" toml:"dir"`
	Sources              []string            `yaml:"sources" toml:"sources"`
	IncludeDirs          []string            `yaml:"include_dirs" toml:"include_dirs"`
	Defines              []string            `yaml:"defines" toml:"defines"`
	CFlags               []string            `yaml:"cflags" toml:"cflags"`
	LDFlags              []string            `yaml:"ldflags" toml:"ldflags"`
	Libs                 []string            `yaml:"libs" toml:"libs"`
	Dependencies         []string            `yaml:"dependencies" toml:"dependencies"`
	PlatformDependencies map[string][]string `yaml:"platform_dependencies" toml:"platform_dependencies"`
	Package              *PackageOptions     `yaml:"package" toml:"package"`
}

// PackageOptions describe the application package produced by an app-package project.
type PackageOptions struct {
	ID            string   `yaml:"id" toml:"id"`
	Version       string   `yaml:"version" toml:"version"`
	Label         string   `yaml:"label" toml:"label"`
	MinSDK        int      `yaml:"min_sdk" toml:"min_sdk"`
	TargetSDK     int      `yaml:"target_sdk" toml:"target_sdk"`
	Manifest      string   `yaml:"manifest" toml:"manifest"`
	Resources     string   `yaml:"resources" toml:"resources"`
	Assets        string   `yaml:"assets" toml:"assets"`
	Classes       []string `yaml:"classes" toml:"classes"`
	Architectures []string `yaml:"architectures" toml:"architectures"`
}

// ToolchainSpec declares or overrides the toolchain used for a platform/architecture pair.
// An empty Arch matches every architecture of the platform.
type ToolchainSpec struct {
	Name        string   `yaml:"name" toml:"name"`
	Platform    string   `yaml:"platform" toml:"platform"`
	Arch        string   `yaml:"arch" toml:"arch"`
	Family      string   `yaml:"family" toml:"family"`
	Compiler    string   `yaml:"compiler" toml:"compiler"`
	Linker      string   `yaml:"linker" toml:"linker"`
	Archiver    string   `yaml:"archiver" toml:"archiver"`
	Wrapper     []string `yaml:"wrapper" toml:"wrapper"`
	Flags       []string `yaml:"flags" toml:"flags"`
	LinkFlags   []string `yaml:"link_flags" toml:"link_flags"`
	Triple      string   `yaml:"triple" toml:"triple"`
	RuntimeLibs []string `yaml:"runtime_libs" toml:"runtime_libs"`
}

// Project returns the project with the given name.
func (w *Workspace) Project(name string) (*Project, bool) {
	for _, p := range w.Projects {
		if p.Name == name {
			return p, true
		}
	}

	return nil, false
}

// Names returns every project name, sorted.
func (w *Workspace) Names() []string {
	names := make([]string, 0, len(w.Projects))
	for _, p := range w.Projects {
		names = append(names, p.Name)
	}

	sort.Strings(names)

	return names
}

// Validate checks the graph for structural problems. Cycles are detected by the resolver.
func (w *Workspace) Validate() error {
	seen := make(map[string]bool, len(w.Projects))

	for _, p := range w.Projects {
		if p == nil || p.Name == "" {
			return codes.Configuration("project without a name")
		}

		if seen[p.Name] {
			return codes.Configuration("duplicate project name %q", p.Name)
		}

		seen[p.Name] = true

		if !p.Kind.Valid() {
			return codes.Configuration("project %s: unknown kind %q", p.Name, p.Kind)
		}

		if p.Kind == AppPackage && p.Package == nil {
			return codes.Configuration("project %s: app-package requires package options", p.Name)
		}

		for platform := range p.PlatformDependencies {
			if !target.Platform(platform).Valid() {
				return codes.Configuration("project %s: unknown platform %q in platform_dependencies", p.Name, platform)
			}
		}
	}

	for _, p := range w.Projects {
		for _, dep := range p.allDependencies() {
			if !seen[dep] {
				return codes.Configuration("project %s: unknown dependency %q", p.Name, dep)
			}

			if dep == p.Name {
				return codes.Configuration("project %s depends on itself", p.Name)
			}
		}
	}

	for i, tc := range w.Toolchains {
		if !target.Platform(tc.Platform).Valid() {
			return codes.Configuration("toolchain %d (%s): unknown platform %q", i, tc.Name, tc.Platform)
		}

		if tc.Arch != "" && !target.Arch(tc.Arch).Valid() {
			return codes.Configuration("toolchain %d (%s): unknown architecture %q", i, tc.Name, tc.Arch)
		}
	}

	return nil
}

// DependenciesFor returns p's dependencies when building for platform, including
// platform-conditional ones.
func (p *Project) DependenciesFor(platform target.Platform) []string {
	deps := slices.Clone(p.Dependencies)
	for _, dep := range p.PlatformDependencies[string(platform)] {
		if !slices.Contains(deps, dep) {
			deps = append(deps, dep)
		}
	}

	return deps
}

func (p *Project) allDependencies() []string {
	deps := slices.Clone(p.Dependencies)
	for _, extra := range p.PlatformDependencies {
		deps = append(deps, extra...)
	}

	return deps
}

// IsLibrary reports whether other projects can link against p.
func (p *Project) IsLibrary() bool {
	return p.Kind == StaticLib || p.Kind == SharedLib
}

// SourceFiles expands p's source patterns to absolute, sorted, unique paths.
//
// Patterns are relative to the project directory and may use "**" as a
// directory wildcard (e.g. "src/**/*.c").
func (p *Project) SourceFiles() ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	for _, pattern := range p.Sources {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(p.Dir, pattern)
		}

		matches, err := glob(pattern)
		if err != nil {
			return nil, codes.Configuration("project %s: bad source pattern %q: %v", p.Name, pattern, err)
		}

		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}

	sort.Strings(files)

	return files, nil
}

// glob is filepath.Glob plus support for a single "**" segment.
func glob(pattern string) ([]string, error) {
	idx := strings.Index(pattern, "**")
	if idx < 0 {
		return filepath.Glob(pattern)
	}

	root := filepath.Clean(pattern[:idx])
	rest := strings.TrimLeft(pattern[idx+2:], `/\`)
	if _, err := filepath.Match(rest, ""); err != nil {
		return nil, err
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}

			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		ok, _ := filepath.Match(rest, rel)
		if !ok {
			ok, _ = filepath.Match(rest, filepath.Base(path))
		}

		if ok {
			matches = append(matches, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	return matches, nil
}
