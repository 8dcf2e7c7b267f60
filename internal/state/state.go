// Package state tracks which (project, build context) pairs have completed in
// the current session.
package state

import (
	"slices"
	"strings"
	"sync"

	"github.com/Norgate-AV/xbuild/internal/target"
)

// Stage distinguishes the steps tracked for a project.
type Stage string

const (
	Native  Stage = "native"  // Compiled and linked for one architecture.
	Package Stage = "package" // Packaged across every required architecture.
)

// Key identifies one project in one build context.
type Key struct {
	Project       string
	Stage         Stage
	Platform      target.Platform
	Arch          target.Arch
	Configuration target.Configuration
}

// KeyFor builds the native key for project in ctx.
func KeyFor(project string, ctx target.Context) Key {
	return Key{Project: project, Stage: Native, Platform: ctx.Platform, Arch: ctx.Arch, Configuration: ctx.Configuration}
}

// PackageKey builds the package key for project. A package spans every
// architecture, so the key carries none.
func PackageKey(project string, ctx target.Context) Key {
	return Key{Project: project, Stage: Package, Platform: ctx.Platform, Configuration: ctx.Configuration}
}

// Context returns the build context encoded in k.
func (k Key) Context() target.Context {
	return target.New(k.Platform, k.Arch, k.Configuration)
}

func (k Key) String() string {
	return k.Project + "@" + k.Scope()
}

// Scope renders the context part of k: "cfg/platform/arch", or
// "cfg/platform/package" for a package key.
func (k Key) Scope() string {
	if k.Stage == Package {
		return string(k.Configuration) + "/" + string(k.Platform) + "/package"
	}

	return k.Context().String()
}

// Tracker is a session-scoped completion ledger. The zero value is not usable; call New.
type Tracker struct {
	mu   sync.Mutex
	done map[Key]bool
}

// New creates an empty tracker
func New() *Tracker {
	return &Tracker{done: make(map[Key]bool)}
}

// Done reports whether k has completed in this session.
func (t *Tracker) Done(k Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.done[k]
}

// MarkDone records that k completed. Callers mark only after a successful
// link or package step.
func (t *Tracker) MarkDone(k Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done[k] = true
}

// Completed returns every completed key, sorted by string form.
func (t *Tracker) Completed() []Key {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]Key, 0, len(t.done))
	for k := range t.done {
		keys = append(keys, k)
	}

	slices.SortFunc(keys, func(a, b Key) int {
		return strings.Compare(a.String(), b.String())
	})

	return keys
}

// Reset forgets every completion.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.done)
}
