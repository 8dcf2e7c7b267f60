// Package cache decides whether a source must be recompiled for a build context.
//
// The cache holds no index of its own. Every decision is derived from files
// next to the object:
//
//  1. the object itself (<obj>), whose mtime is the reference point
//  2. a dependency file (<obj>.d) listing the source and every header it includes
//  3. a build signature (<obj>.sig) fingerprinting compiler identity and flags
//
// Any missing, unreadable or inconsistent piece forces a recompile. A hit is
// only reported when all three agree.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/depfile"
	"github.com/Norgate-AV/xbuild/internal/layout"
	"github.com/Norgate-AV/xbuild/internal/target"
	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// Reasons reported by Check.
const (
	ReasonUpToDate         = "up to date"
	ReasonObjectMissing    = "object missing"
	ReasonSourceMissing    = "source missing"
	ReasonSourceNewer      = "source newer than object"
	ReasonSignatureMissing = "signature missing"
	ReasonSignatureCorrupt = "signature unreadable"
	ReasonSignatureChanged = "build signature changed"
	ReasonDepfileMissing   = "dependency file missing"
	ReasonDepfileCorrupt   = "dependency file unreadable"
	ReasonDepfileMismatch  = "dependency file does not describe this object"
	ReasonHeaderMissing    = "dependency missing"
	ReasonHeaderNewer      = "dependency newer than object"
)

// Decision is the outcome of a cache check.
type Decision struct {
	Recompile bool
	Reason    string
	Detail    string // Offending path, when there is one.
}

func hit() Decision {
	return Decision{Reason: ReasonUpToDate}
}

func miss(reason, detail string) Decision {
	return Decision{Recompile: true, Reason: reason, Detail: detail}
}

// Cache evaluates and records compilation metadata below a build layout.
type Cache struct {
	layout layout.Layout
}

// New creates a cache for the given layout
func New(l layout.Layout) *Cache {
	return &Cache{layout: l}
}

// Object returns the object path for source in project and ctx.
func (c *Cache) Object(p *workspace.Project, ctx target.Context, source string) string {
	return c.layout.ObjectPath(ctx, p.Name, p.Dir, source)
}

// NeedsRecompile reports whether source must be recompiled for project p in
// ctx, given the current build signature.
func (c *Cache) NeedsRecompile(p *workspace.Project, ctx target.Context, source string, sig digest.Digest) bool {
	return c.Check(c.Object(p, ctx, source), source, sig).Recompile
}

// Check evaluates the cache state of object compiled from source.
func (c *Cache) Check(object, source string, sig digest.Digest) Decision {
	obj, err := os.Stat(object)
	if err != nil {
		return miss(ReasonObjectMissing, object)
	}

	src, err := os.Stat(source)
	if err != nil {
		return miss(ReasonSourceMissing, source)
	}

	// Equal timestamps are ambiguous on coarse filesystems.
	if !src.ModTime().Before(obj.ModTime()) {
		return miss(ReasonSourceNewer, source)
	}

	if d := checkSignature(layout.SignaturePath(object), sig); d.Recompile {
		return d
	}

	rule, err := depfile.ParseFile(layout.DepPath(object))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return miss(ReasonDepfileMissing, layout.DepPath(object))
		}

		return miss(ReasonDepfileCorrupt, err.Error())
	}

	if !slices.Contains(rule.Targets, object) || !slices.Contains(rule.Prereqs, source) {
		return miss(ReasonDepfileMismatch, layout.DepPath(object))
	}

	for _, dep := range rule.Prereqs {
		info, err := os.Stat(dep)
		if err != nil {
			return miss(ReasonHeaderMissing, dep)
		}

		if info.ModTime().After(obj.ModTime()) {
			return miss(ReasonHeaderNewer, dep)
		}
	}

	return hit()
}

func checkSignature(path string, want digest.Digest) Decision {
	got, err := ReadSignature(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return miss(ReasonSignatureMissing, path)
		}

		return miss(ReasonSignatureCorrupt, path)
	}

	if got != want {
		return miss(ReasonSignatureChanged, path)
	}

	return hit()
}

// Record stores the metadata of a successful compile of source into object.
//
// rawDepfile is the dependency file the compiler emitted. It is rewritten in
// canonical form keyed to object, then the signature is written. Relative
// prerequisites are resolved against dir, the directory the compiler ran in.
// If the
// compiler produced no usable dependency file nothing is recorded and a cache
// inconsistency error is returned, so the next build recompiles.
func (c *Cache) Record(object, source, rawDepfile, dir string, sig digest.Digest) error {
	rule, err := depfile.ParseFile(rawDepfile)
	if err != nil {
		c.Invalidate(object)
		return &codes.BuildError{Kind: codes.ErrCacheInconsistency, Err: fmt.Errorf("reading %s: %w", rawDepfile, err)}
	}

	prereqs := make([]string, 0, len(rule.Prereqs)+1)
	for _, p := range rule.Prereqs {
		if !filepath.IsAbs(p) && dir != "" {
			p = filepath.Join(dir, p)
		}

		prereqs = append(prereqs, p)
	}

	if !slices.Contains(prereqs, source) {
		prereqs = append([]string{source}, prereqs...)
	}

	if err := depfile.WriteFile(layout.DepPath(object), object, prereqs); err != nil {
		c.Invalidate(object)
		return &codes.BuildError{Kind: codes.ErrCacheInconsistency, Err: fmt.Errorf("writing dependency file: %w", err)}
	}

	if err := WriteSignature(layout.SignaturePath(object), sig); err != nil {
		c.Invalidate(object)
		return &codes.BuildError{Kind: codes.ErrCacheInconsistency, Err: fmt.Errorf("writing signature: %w", err)}
	}

	if rawDepfile != layout.DepPath(object) {
		os.Remove(rawDepfile)
	}

	return nil
}

// Invalidate removes every piece of metadata recorded for object. The object
// itself is left alone; without metadata it can never be a hit.
func (c *Cache) Invalidate(object string) {
	os.Remove(layout.SignaturePath(object))
	os.Remove(layout.DepPath(object))
	os.Remove(layout.RawDepPath(object))
}
