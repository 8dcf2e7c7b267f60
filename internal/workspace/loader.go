package workspace

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Norgate-AV/xbuild/internal/codes"
)

// FileNames are the workspace description files searched for, in order.
var FileNames = []string{"xbuild.yaml", "xbuild.yml", "xbuild.toml"}

// Find walks up from dir looking for a workspace description file
func Find(dir string) string {
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)

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

// Load reads, resolves and validates the workspace description at path.
func Load(path string) (*Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, codes.Configuration("failed to read workspace: %v", err)
	}

	ws := &Workspace{}
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(ws)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(ws)
	}

	if err != nil {
		return nil, codes.Configuration("failed to parse %s: %v", filepath.Base(abs), err)
	}

	ws.Root = filepath.Dir(abs)
	if ws.Name == "" {
		ws.Name = filepath.Base(ws.Root)
	}

	ws.resolvePaths()

	if err := ws.Validate(); err != nil {
		return nil, err
	}

	return ws, nil
}

// resolvePaths makes every project-relative path absolute.
func (w *Workspace) resolvePaths() {
	for _, p := range w.Projects {
		if p == nil {
			continue
		}

		p.Dir = resolve(w.Root, p.Dir)
		for i, dir := range p.IncludeDirs {
			p.IncludeDirs[i] = resolve(p.Dir, dir)
		}

		if p.Package == nil {
			continue
		}

		opts := p.Package
		if opts.Manifest != "" {
			opts.Manifest = resolve(p.Dir, opts.Manifest)
		}

		if opts.Resources != "" {
			opts.Resources = resolve(p.Dir, opts.Resources)
		}

		if opts.Assets != "" {
			opts.Assets = resolve(p.Dir, opts.Assets)
		}

		for i, c := range opts.Classes {
			opts.Classes[i] = resolve(p.Dir, c)
		}
	}
}

func resolve(base, path string) string {
	if path == "" {
		return base
	}

	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(base, path)
}
