package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/target"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	assert.NotNil(t, loader)
	assert.NotNil(t, loader.Viper())
	assert.Equal(t, GlobalConfigDir(), loader.GlobalDir)
}

func TestLoader_SetupViperDefaults(t *testing.T) {
	loader := NewLoader()
	loader.setupViperDefaults()

	v := loader.Viper()
	assert.Equal(t, "build", v.GetString("build_dir"))
	assert.Equal(t, "debug", v.GetString("configuration"))
	assert.Equal(t, 0, v.GetInt("jobs"))
	assert.Equal(t, false, v.GetBool("verbose"))
	assert.Equal(t, 24, v.GetInt("api_level"))
}

func testCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "build"}
	cmd.Flags().StringP("workspace", "w", "", "")
	cmd.Flags().String("build-dir", "", "")
	cmd.Flags().StringP("configuration", "c", "", "")
	cmd.Flags().StringP("platform", "p", "", "")
	cmd.Flags().StringP("arch", "a", "", "")
	cmd.Flags().StringSlice("architectures", nil, "")
	cmd.Flags().IntP("jobs", "j", 0, "")
	cmd.Flags().BoolP("verbose", "v", false, "")

	return cmd
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoader_LoadForBuild_Layering(t *testing.T) {
	t.Setenv("ANDROID_NDK_HOME", "")
	t.Setenv("XBUILD_NDK_PATH", "")

	global := t.TempDir()
	ws := filepath.Join(t.TempDir(), "repo", "app")
	require.NoError(t, os.MkdirAll(ws, 0o755))

	writeFile(t, filepath.Join(global, "config.yml"), `
configuration: release
jobs: 6
ndk_path: /opt/ndk
keystore:
  path: /keys/release.jks
  alias: upload
`)
	// Found by walking up from the workspace directory.
	writeFile(t, filepath.Join(filepath.Dir(ws), ".xbuild.toml"), `
jobs = 2
platform = "android"
arch = "x86_64"
`)

	cmd := testCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-w", ws, "-a", "arm64"}))

	loader := NewLoader()
	loader.GlobalDir = global

	cfg, err := loader.LoadForBuild(cmd)
	require.NoError(t, err)

	assert.Equal(t, target.Release, cfg.Configuration, "from global")
	assert.Equal(t, 2, cfg.Jobs, "local overrides global")
	assert.Equal(t, target.Android, cfg.Platform, "from local")
	assert.Equal(t, target.ARM64, cfg.Arch, "flag overrides local")
	assert.Equal(t, ws, cfg.Workspace)
	assert.Equal(t, filepath.Clean("/opt/ndk"), filepath.Clean(cfg.NDKPath))
	assert.Equal(t, "upload", cfg.Keystore.Alias)
}

func TestLoader_LoadForBuild_Env(t *testing.T) {
	t.Setenv("XBUILD_JOBS", "5")
	t.Setenv("ANDROID_NDK_HOME", "/sdk/ndk/26")

	loader := NewLoader()
	loader.GlobalDir = t.TempDir()

	cmd := testCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-w", t.TempDir()}))

	cfg, err := loader.LoadForBuild(cmd)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Jobs)
	assert.Equal(t, filepath.Clean("/sdk/ndk/26"), filepath.Clean(cfg.NDKPath))
}

func TestLoader_LoadForBuild_MalformedConfig(t *testing.T) {
	global := t.TempDir()
	writeFile(t, filepath.Join(global, "config.yaml"), "jobs: [unterminated\n")

	loader := NewLoader()
	loader.GlobalDir = global

	cmd := testCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-w", t.TempDir()}))

	_, err := loader.LoadForBuild(cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, codes.ErrConfiguration)
}

func TestLoader_BindCommandFlags(t *testing.T) {
	cmd := testCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-c", "release", "-j", "4", "-v", "--build-dir", "out"}))

	loader := NewLoader()
	loader.bindCommandFlags(cmd)

	v := loader.Viper()
	assert.Equal(t, "release", v.GetString("configuration"))
	assert.Equal(t, 4, v.GetInt("jobs"))
	assert.True(t, v.GetBool("verbose"))
	assert.Equal(t, "out", v.GetString("build_dir"))
}
