package toolchain

import (
	_ "crypto/sha256"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// Resolved is a recipe bound to one build context.
type Resolved struct {
	Recipe  Recipe
	Context target.Context

	family Family
	ids    *identityCache
}

// CompileInput describes one source to object compilation.
type CompileInput struct {
	Project *workspace.Project
	Options workspace.Options
	Source  string
	Object  string
	DepFile string // Where the compiler writes its dependency list.
}

// LinkInput describes the final link (or archive) of a project.
type LinkInput struct {
	Project    *workspace.Project
	Options    workspace.Options
	Objects    []string
	StaticLibs []string
	SharedLibs []string
	Output     string
}

// CompileFlags returns the effective compiler flags for p in this context.
// Source and object paths are not part of the result.
func (r *Resolved) CompileFlags(p *workspace.Project, opts workspace.Options) []string {
	var flags []string

	flags = append(flags, r.family.TargetFlags(r.Recipe)...)
	flags = append(flags, r.Recipe.BaseFlags...)
	flags = append(flags, configurationFlags(r.Context.Configuration)...)

	if r.needsPIC(p) && !slices.Contains(flags, "-fPIC") {
		flags = append(flags, "-fPIC")
	}

	for _, dir := range p.IncludeDirs {
		flags = append(flags, "-I"+dir)
	}

	for _, d := range opts.Defines {
		flags = append(flags, "-D"+d)
	}

	for _, d := range p.Defines {
		flags = append(flags, "-D"+d)
	}

	flags = append(flags, opts.CFlags...)
	flags = append(flags, p.CFlags...)

	return flags
}

// Compile returns the command that compiles in.Source into in.Object and
// writes its header dependencies to in.DepFile.
func (r *Resolved) Compile(in CompileInput) Command {
	args := r.CompileFlags(in.Project, in.Options)
	args = append(args, "-MD", "-MF", in.DepFile, "-MT", in.Object, "-c", in.Source, "-o", in.Object)

	if len(r.Recipe.Wrapper) > 0 {
		wrapped := append(slices.Clone(r.Recipe.Wrapper[1:]), r.Recipe.Compiler)
		return Command{Path: r.Recipe.Wrapper[0], Args: append(wrapped, args...)}
	}

	return Command{Path: r.Recipe.Compiler, Args: args}
}

// Link returns the command that produces in.Output from the objects. Static
// libraries are archived rather than linked.
func (r *Resolved) Link(in LinkInput) (Command, error) {
	p := in.Project

	if p.Kind == workspace.StaticLib {
		if r.Recipe.Archiver == "" {
			return Command{}, fmt.Errorf("no archiver configured for %s", r.Context)
		}

		args := append([]string{"rcs", in.Output}, in.Objects...)
		return Command{Path: r.Recipe.Archiver, Args: args}, nil
	}

	var args []string
	args = append(args, r.family.TargetFlags(r.Recipe)...)
	args = append(args, r.Recipe.LinkFlags...)

	if p.Kind == workspace.SharedLib || p.Kind == workspace.AppPackage {
		args = append(args, "-shared")
		if r.Context.Platform == target.Android || r.Context.Platform == target.Linux {
			args = append(args, "-Wl,-soname,"+r.ArtifactName(p))
		}
	}

	args = append(args, in.Options.LDFlags...)
	args = append(args, p.LDFlags...)
	args = append(args, in.Objects...)
	args = append(args, in.StaticLibs...)
	args = append(args, in.SharedLibs...)

	for _, lib := range p.Libs {
		args = append(args, "-l"+lib)
	}

	args = append(args, "-o", in.Output)

	return Command{Path: r.Recipe.Linker, Args: args}, nil
}

// ArtifactName is the file name of p's linked output in this context.
func (r *Resolved) ArtifactName(p *workspace.Project) string {
	platform := r.Context.Platform

	switch p.Kind {
	case workspace.Executable:
		if platform == target.Windows {
			return p.Name + ".exe"
		}

		return p.Name
	case workspace.StaticLib:
		return "lib" + p.Name + ".a"
	default:
		switch platform {
		case target.Windows:
			return p.Name + ".dll"
		case target.MacOS:
			return "lib" + p.Name + ".dylib"
		default:
			return "lib" + p.Name + ".so"
		}
	}
}

// RuntimeLibraries returns the shared libraries every native artifact built
// with this toolchain needs at run time.
func (r *Resolved) RuntimeLibraries() []string {
	return slices.Clone(r.Recipe.RuntimeLibs)
}

// Signature fingerprints the compiler identity and the effective flags used
// for p. Any change to either yields a different digest.
func (r *Resolved) Signature(p *workspace.Project, opts workspace.Options) digest.Digest {
	parts := []string{
		"compiler=" + r.ids.identity(r.Recipe.Compiler),
		"wrapper=" + strings.Join(r.Recipe.Wrapper, " "),
		"triple=" + r.Recipe.TargetTriple,
		"context=" + r.Context.String(),
	}

	parts = append(parts, r.CompileFlags(p, opts)...)

	return digest.FromString(strings.Join(parts, "\x00"))
}

func (r *Resolved) needsPIC(p *workspace.Project) bool {
	if r.Context.Platform == target.Windows {
		return false
	}

	return p.Kind != workspace.Executable
}

func configurationFlags(cfg target.Configuration) []string {
	if cfg == target.Release {
		return []string{"-O2", "-DNDEBUG"}
	}

	return []string{"-O0", "-g"}
}

// identityCache memoises compiler identities (resolved path, size, mtime) per process.
type identityCache struct {
	m sync.Map
}

func newIdentityCache() *identityCache {
	return &identityCache{}
}

func (c *identityCache) identity(program string) string {
	if v, ok := c.m.Load(program); ok {
		return v.(string)
	}

	id := "missing:" + program
	if path, err := exec.LookPath(program); err == nil {
		if info, err := os.Stat(path); err == nil {
			id = fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
		}
	}

	c.m.Store(program, id)

	return id
}
