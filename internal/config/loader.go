package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Norgate-AV/xbuild/internal/codes"
)

// Loader handles configuration loading from various sources
type Loader struct {
	v *viper.Viper

	// GlobalDir holds the per-user config file. Defaults to GlobalConfigDir.
	GlobalDir string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{v: viper.New(), GlobalDir: GlobalConfigDir()}
}

// Viper exposes the underlying settings.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadForBuild loads configuration for commands that operate on a workspace.
// Sources are layered: defaults, global config, the nearest local config
// above the workspace, environment, then command flags.
func (l *Loader) LoadForBuild(cmd *cobra.Command) (*Config, error) {
	l.setupViperDefaults()
	l.bindCommandFlags(cmd)
	l.bindEnv()

	if err := l.loadGlobalConfig(); err != nil {
		return nil, err
	}

	if err := l.loadLocalConfig(l.v.GetString("workspace")); err != nil {
		return nil, err
	}

	return Load(l.v)
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	l.v.SetDefault("build_dir", DefaultBuildDir)
	l.v.SetDefault("configuration", DefaultConfiguration)
	l.v.SetDefault("jobs", DefaultJobs)
	l.v.SetDefault("verbose", DefaultVerbose)
	l.v.SetDefault("api_level", DefaultAPILevel)
}

// bindEnv lets XBUILD_* variables override config files.
func (l *Loader) bindEnv() {
	l.v.SetEnvPrefix("xbuild")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	_ = l.v.BindEnv("ndk_path", "XBUILD_NDK_PATH", "ANDROID_NDK_HOME")
}

// loadGlobalConfig loads the per-user configuration
func (l *Loader) loadGlobalConfig() error {
	path := FindGlobalConfig(l.GlobalDir)
	if path == "" {
		return nil
	}

	l.v.SetConfigFile(path)
	if err := l.v.MergeInConfig(); err != nil {
		return codes.Configuration("failed to read %s: %v", path, err)
	}

	return nil
}

// loadLocalConfig merges the nearest .xbuild.* above the workspace location
func (l *Loader) loadLocalConfig(workspace string) error {
	if workspace == "" {
		workspace = "."
	}

	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil
	}

	dir := abs
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	path := FindLocalConfig(dir)
	if path == "" {
		return nil
	}

	l.v.SetConfigFile(path)
	if err := l.v.MergeInConfig(); err != nil {
		return codes.Configuration("failed to read %s: %v", path, err)
	}

	return nil
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	flags := map[string]string{
		"workspace":     "workspace",
		"build_dir":     "build-dir",
		"configuration": "configuration",
		"platform":      "platform",
		"arch":          "arch",
		"architectures": "architectures",
		"jobs":          "jobs",
		"verbose":       "verbose",
	}

	for key, name := range flags {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = l.v.BindPFlag(key, f)
		}
	}
}
