// Package layout derives every build output path from (configuration, platform, architecture, project).
//
// Two different contexts for the same project never share a directory: objects,
// dependency files, signatures and linked artifacts all live under
// <root>/<configuration>/<platform>/<arch>/<project>/.
package layout

import (
	"path/filepath"
	"strings"

	"github.com/Norgate-AV/xbuild/internal/target"
)

// DefaultBuildDir is the build directory name used when none is configured
const DefaultBuildDir = "build"

const (
	objDir     = "obj"
	outDir     = "out"
	packageDir = "_package"
	extDir     = "_ext"
)

// Layout maps build contexts to paths below Root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root.
func New(root string) Layout {
	return Layout{Root: root}
}

// ProjectDir is the directory holding everything built for project in ctx.
func (l Layout) ProjectDir(ctx target.Context, project string) string {
	return filepath.Join(l.Root, ctx.Dir(), project)
}

// ObjectDir is where project's objects for ctx are written.
func (l Layout) ObjectDir(ctx target.Context, project string) string {
	return filepath.Join(l.ProjectDir(ctx, project), objDir)
}

// ObjectPath returns the object file for source. Sources inside projectDir keep
// their relative structure; anything else is placed under a separate subtree so
// it cannot collide with in-tree sources.
func (l Layout) ObjectPath(ctx target.Context, project, projectDir, source string) string {
	rel, err := filepath.Rel(projectDir, source)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		rel = filepath.Join(extDir, sanitize(source))
	}

	return filepath.Join(l.ObjectDir(ctx, project), rel+".o")
}

// DepPath is the dependency file recorded next to object.
func DepPath(object string) string {
	return object + ".d"
}

// RawDepPath is where the compiler writes its own dependency output for object.
// The cache rewrites it into DepPath once the compile succeeds.
func RawDepPath(object string) string {
	return object + ".d.raw"
}

// SignaturePath is the build signature recorded next to object.
func SignaturePath(object string) string {
	return object + ".sig"
}

// OutputDir is where project's linked artifact for ctx is written.
func (l Layout) OutputDir(ctx target.Context, project string) string {
	return filepath.Join(l.ProjectDir(ctx, project), outDir)
}

// PackageWorkDir holds the packaging intermediates for project. It is scoped by
// configuration and platform; per-architecture inputs stay in their own ProjectDir.
func (l Layout) PackageWorkDir(ctx target.Context, project string) string {
	return filepath.Join(l.Root, string(ctx.Configuration), string(ctx.Platform), packageDir, project)
}

// PackagePath is the canonical output path of project's package.
func (l Layout) PackagePath(ctx target.Context, project, ext string) string {
	return filepath.Join(l.Root, string(ctx.Configuration), string(ctx.Platform), project+ext)
}

func sanitize(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, ":", "")
	return strings.TrimLeft(path, `/\`)
}
