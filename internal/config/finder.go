package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Extensions are the config file formats understood, in lookup order.
var Extensions = []string{"yml", "yaml", "json", "toml"}

// FindLocalConfig finds local config file by walking up directories
func FindLocalConfig(dir string) string {
	for {
		for _, ext := range Extensions {
			path := filepath.Join(dir, ".xbuild."+ext)

			if _, err := os.Stat(path); err == nil {
				return path
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}

// GlobalConfigDir returns the per-user configuration directory.
func GlobalConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "xbuild")
}

// FindGlobalConfig returns the first config file in dir, or "".
func FindGlobalConfig(dir string) string {
	for _, ext := range Extensions {
		path := filepath.Join(dir, "config."+ext)

		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
