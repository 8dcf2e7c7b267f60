package config

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/viper"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/target"
)

// Default configuration values
const (
	DefaultBuildDir      = "build"
	DefaultConfiguration = string(target.Debug)
	DefaultJobs          = 0
	DefaultVerbose       = false
	DefaultAPILevel      = 24
)

// Holds the configuration options for xbuild
type Config struct {
	// Workspace description file or a directory to search upwards from
	Workspace string

	// Root of every build output. Relative paths are taken from the workspace directory
	BuildDir string

	// Build context
	Configuration target.Configuration
	Platform      target.Platform
	Arch          target.Arch

	// Architectures bundled into packages when a project does not list its own
	Architectures []target.Arch

	// Parallel compile jobs, 0 selects one less than the CPU count
	Jobs int

	// Enable verbose output
	Verbose bool

	// Android tooling
	NDKPath        string
	APILevel       int
	BuildToolsPath string
	PlatformJar    string
	Keystore       Keystore
}

// Keystore holds explicit package signing credentials.
type Keystore struct {
	Path     string
	Alias    string
	Password string
}

// Context returns the build context selected by c.
func (c *Config) Context() target.Context {
	return target.New(c.Platform, c.Arch, c.Configuration)
}

// Load reads the configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Workspace:      v.GetString("workspace"),
		BuildDir:       v.GetString("build_dir"),
		Configuration:  target.Configuration(v.GetString("configuration")),
		Platform:       target.Platform(v.GetString("platform")),
		Jobs:           v.GetInt("jobs"),
		Verbose:        v.GetBool("verbose"),
		NDKPath:        v.GetString("ndk_path"),
		APILevel:       v.GetInt("api_level"),
		BuildToolsPath: v.GetString("build_tools_path"),
		PlatformJar:    v.GetString("platform_jar"),
		Keystore: Keystore{
			Path:     v.GetString("keystore.path"),
			Alias:    v.GetString("keystore.alias"),
			Password: v.GetString("keystore.password"),
		},
	}

	// Apply defaults if not set
	if cfg.Configuration == "" {
		cfg.Configuration = target.Debug
	}

	if cfg.Platform == "" {
		cfg.Platform = target.HostPlatform()
	}

	if arch := v.GetString("arch"); arch != "" {
		archs := target.ParseArchitectures(arch)
		if len(archs) != 1 {
			return nil, codes.Configuration("invalid architecture: %q", arch)
		}

		cfg.Arch = archs[0]
	} else {
		cfg.Arch = target.HostArch()
	}

	for _, name := range v.GetStringSlice("architectures") {
		archs := target.ParseArchitectures(name)
		if len(archs) == 0 {
			return nil, codes.Configuration("invalid architecture in architectures: %q", name)
		}

		cfg.Architectures = appendUnique(cfg.Architectures, archs...)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Context().Validate(); err != nil {
		return codes.Configuration("%v", err)
	}

	if c.Jobs < 0 {
		return codes.Configuration("invalid jobs: %d", c.Jobs)
	}

	if c.APILevel < 0 {
		return codes.Configuration("invalid api_level: %d", c.APILevel)
	}

	if c.Workspace == "" {
		c.Workspace = "."
	}

	// Resolve paths
	for _, p := range []*string{&c.Workspace, &c.NDKPath, &c.BuildToolsPath, &c.PlatformJar, &c.Keystore.Path} {
		if *p == "" {
			continue
		}

		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("invalid path %s: %v", *p, err)
		}

		*p = abs
	}

	if c.Keystore.Path != "" && c.Keystore.Alias == "" {
		return codes.Configuration("keystore.alias is required with keystore.path")
	}

	return nil
}

// ResolveBuildDir makes BuildDir absolute relative to the workspace directory.
func (c *Config) ResolveBuildDir(workspaceRoot string) string {
	dir := c.BuildDir
	if dir == "" {
		dir = DefaultBuildDir
	}

	if !filepath.IsAbs(dir) {
		dir = filepath.Join(workspaceRoot, dir)
	}

	c.BuildDir = filepath.Clean(dir)

	return c.BuildDir
}

func appendUnique(archs []target.Arch, more ...target.Arch) []target.Arch {
	for _, a := range more {
		if !slices.Contains(archs, a) {
			archs = append(archs, a)
		}
	}

	return archs
}
