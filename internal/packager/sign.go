package packager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/Norgate-AV/xbuild/internal/ctxlog"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
)

// Development keystore credentials, matching the platform's debug key convention.
const (
	DevKeystoreAlias    = "androiddebugkey"
	DevKeystorePassword = "android"
)

// Keystore holds signing credentials.
type Keystore struct {
	Path     string
	Alias    string
	Password string
}

// DevKeystorePath returns the default location of the development keystore
// under the XDG data directory, creating parent directories as needed.
func DevKeystorePath() (string, error) {
	return xdg.DataFile(filepath.Join("xbuild", "debug.keystore"))
}

// credentials returns the keystore to sign with. Without explicit credentials a
// development keystore is used, generated on first use.
func (pl *Pipeline) credentials(ctx context.Context) (Keystore, error) {
	if ks := pl.opts.Keystore; ks.Path != "" {
		return ks, nil
	}

	path := pl.opts.DevKeystore
	if path == "" {
		var err error
		if path, err = DevKeystorePath(); err != nil {
			return Keystore{}, fmt.Errorf("locating development keystore: %w", err)
		}
	}

	ks := Keystore{Path: path, Alias: DevKeystoreAlias, Password: DevKeystorePassword}

	if _, err := os.Stat(path); err == nil {
		return ks, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Keystore{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Keystore{}, err
	}

	ctxlog.FromContext(ctx).Info("generating development keystore", "path", path)

	keytool := pl.opts.Tools.Keytool
	if keytool == "" {
		keytool = "keytool"
	}

	_, err := pl.runner.Run(ctx, toolchain.Command{
		Path: keytool,
		Args: []string{
			"-genkeypair",
			"-keystore", path,
			"-storepass", ks.Password,
			"-alias", ks.Alias,
			"-keypass", ks.Password,
			"-keyalg", "RSA",
			"-keysize", "2048",
			"-validity", "10000",
			"-dname", "CN=Android Debug,O=Android,C=US",
		},
	})
	if err != nil {
		return Keystore{}, fmt.Errorf("generating development keystore: %w", err)
	}

	return ks, nil
}

// sign signs unsigned into a temporary file next to dest and renames it onto
// dest only once the signer succeeded. dest is never left partially written.
func (pl *Pipeline) sign(ctx context.Context, unsigned, dest string) error {
	ks, err := pl.credentials(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-*")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()
	tmp.Close()

	_, err = pl.runner.Run(ctx, toolchain.Command{
		Path: pl.tool("apksigner"),
		Args: []string{
			"sign",
			"--ks", ks.Path,
			"--ks-key-alias", ks.Alias,
			"--ks-pass", "pass:" + ks.Password,
			"--key-pass", "pass:" + ks.Password,
			"--out", tmpPath,
			unsigned,
		},
	})
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return nil
}
