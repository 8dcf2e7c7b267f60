// Package target defines the Build Context that every cache, state and path decision is keyed on.
package target

import (
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

// Platform is an operating system family a project is built for.
type Platform string

const (
	Linux   Platform = "linux"
	Windows Platform = "windows"
	MacOS   Platform = "macos"
	Android Platform = "android"
)

// Arch is a target instruction set.
type Arch string

const (
	ARM64  Arch = "arm64"
	ARM    Arch = "arm"
	X86    Arch = "x86"
	X86_64 Arch = "x86_64"
)

// Configuration is a build flavour.
type Configuration string

const (
	Debug   Configuration = "debug"
	Release Configuration = "release"
)

// AllArchs lists every supported architecture in canonical order.
var AllArchs = []Arch{ARM64, ARM, X86, X86_64}

var platforms = []Platform{Linux, Windows, MacOS, Android}

// RequiresPackage reports whether app-package projects on p produce a multi-architecture package.
func (p Platform) RequiresPackage() bool {
	return p == Android
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return slices.Contains(platforms, p)
}

// Valid reports whether a is a known architecture.
func (a Arch) Valid() bool {
	return slices.Contains(AllArchs, a)
}

// ABI returns the directory name used for a's native libraries inside a package.
func (a Arch) ABI() string {
	switch a {
	case ARM64:
		return "arm64-v8a"
	case ARM:
		return "armeabi-v7a"
	default:
		return string(a)
	}
}

// Valid reports whether c is a known configuration.
func (c Configuration) Valid() bool {
	return c == Debug || c == Release
}

// Context is the (platform, architecture, configuration) tuple.
//
// Context is a value type: it is passed explicitly and never mutated in place.
// Use the With* methods to derive a context for another architecture.
type Context struct {
	Platform      Platform
	Arch          Arch
	Configuration Configuration
}

// New returns a Context for the given values.
func New(platform Platform, arch Arch, cfg Configuration) Context {
	return Context{Platform: platform, Arch: arch, Configuration: cfg}
}

// Host returns a context for the machine running the build.
func Host(cfg Configuration) Context {
	return Context{Platform: HostPlatform(), Arch: HostArch(), Configuration: cfg}
}

// WithArch returns a copy of c scoped to arch. The receiver is not modified.
func (c Context) WithArch(arch Arch) Context {
	c.Arch = arch
	return c
}

// WithConfiguration returns a copy of c with a different configuration.
func (c Context) WithConfiguration(cfg Configuration) Context {
	c.Configuration = cfg
	return c
}

// String formats c as configuration/platform/arch.
func (c Context) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Configuration, c.Platform, c.Arch)
}

// Dir returns the relative directory that scopes every artifact built for c.
func (c Context) Dir() string {
	return filepath.Join(string(c.Configuration), string(c.Platform), string(c.Arch))
}

// Validate checks that every field holds a known value.
func (c Context) Validate() error {
	if !c.Configuration.Valid() {
		return fmt.Errorf("invalid configuration: %q", c.Configuration)
	}

	if !c.Platform.Valid() {
		return fmt.Errorf("invalid platform: %q", c.Platform)
	}

	if !c.Arch.Valid() {
		return fmt.Errorf("invalid architecture: %q", c.Arch)
	}

	return nil
}

// ParseArchitectures parses a comma or space separated architecture list.
// "all" expands to every architecture. Unknown names are ignored and duplicates dropped.
func ParseArchitectures(s string) []Arch {
	archs := make([]Arch, 0)

	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		name := strings.ToLower(strings.TrimSpace(field))
		if name == "all" {
			return slices.Clone(AllArchs)
		}

		a := normalizeArch(name)
		if a.Valid() && !slices.Contains(archs, a) {
			archs = append(archs, a)
		}
	}

	return archs
}

func normalizeArch(name string) Arch {
	switch name {
	case "aarch64", "arm64-v8a":
		return ARM64
	case "armv7", "armv7a", "armeabi-v7a":
		return ARM
	case "i686", "386":
		return X86
	case "amd64", "x64":
		return X86_64
	default:
		return Arch(name)
	}
}

// HostPlatform maps runtime.GOOS to a Platform.
func HostPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return Windows
	case "darwin":
		return MacOS
	case "android":
		return Android
	default:
		return Linux
	}
}

// HostArch maps runtime.GOARCH to an Arch.
func HostArch() Arch {
	return normalizeArch(runtime.GOARCH)
}
