package cache

import (
	_ "crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
)

// HashFile returns the content digest of the file at path
func HashFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}

	defer f.Close()

	d, err := digest.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return d, nil
}

// ReadSignature reads a digest written by WriteSignature.
func ReadSignature(path string) (digest.Digest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return digest.Parse(strings.TrimSpace(string(data)))
}

// WriteSignature atomically stores sig at path.
func WriteSignature(path string, sig digest.Digest) error {
	if err := sig.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sig.String()+"\n"), 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
