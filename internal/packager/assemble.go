package packager

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/target"
)

// NativeSet is the native content collected for one architecture.
type NativeSet struct {
	Arch    target.Arch
	Library string   // The project's own shared library.
	Shared  []string // Shared libraries of transitive dependencies.
	Runtime []string // Toolchain runtime libraries.
}

// libraries returns every file that goes under lib/<abi>/, own library first.
func (n NativeSet) libraries() []string {
	return slices.Concat([]string{n.Library}, n.Shared, n.Runtime)
}

// assembly describes the inputs of the assemble stage.
type assembly struct {
	project  string
	base     string // Archive produced by the resource stage.
	manifest string // Plain manifest, added only if base lacks one.
	natives  []NativeSet
	classes  []string
}

// assemble merges the resource archive, native libraries and bytecode into out.
// Native libraries are stored uncompressed so they can be page aligned and
// loaded in place. On error out is removed.
func assemble(a assembly, out string) (err error) {
	base, err := zip.OpenReader(a.base)
	if err != nil {
		return fmt.Errorf("opening resource archive: %w", err)
	}

	defer base.Close()

	f, err := os.Create(out)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(f)
	defer func() {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}

		if cerr := f.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			os.Remove(out)
		}
	}()

	entries := newEntrySet()
	if err := copyEntries(zw, &base.Reader, entries); err != nil {
		return err
	}

	// The resource tool normally embeds the manifest already.
	if !entries.has(ManifestName) {
		if err := addFile(zw, entries, ManifestName, a.manifest, zip.Deflate); err != nil {
			return err
		}
	}

	for _, n := range a.natives {
		dir := path.Join("lib", n.Arch.ABI())
		added := make(map[string]string)

		for _, lib := range n.libraries() {
			name := path.Join(dir, filepath.Base(lib))
			if prev, ok := added[name]; ok {
				if prev == lib {
					continue
				}

				return codes.Integrity("%s provided by both %s and %s", name, prev, lib)
			}

			added[name] = lib
			if err := addFile(zw, entries, name, lib, zip.Store); err != nil {
				return err
			}
		}
	}

	for _, dex := range a.classes {
		if err := addFile(zw, entries, filepath.Base(dex), dex, zip.Deflate); err != nil {
			return err
		}
	}

	return nil
}

type entrySet map[string]bool

func newEntrySet() entrySet {
	return make(entrySet)
}

func (s entrySet) has(name string) bool {
	return s[name]
}

// claim registers name, failing if it is already present.
func (s entrySet) claim(name string) error {
	if s[name] {
		if name == ManifestName {
			return codes.Integrity("duplicate manifest entry")
		}

		return codes.Integrity("duplicate entry %s", name)
	}

	s[name] = true

	return nil
}

func copyEntries(zw *zip.Writer, r *zip.Reader, entries entrySet) error {
	for _, f := range r.File {
		if err := entries.claim(f.Name); err != nil {
			return err
		}

		rc, err := f.OpenRaw()
		if err != nil {
			return err
		}

		fh := f.FileHeader
		w, err := zw.CreateRaw(&fh)
		if err != nil {
			return err
		}

		if _, err := io.Copy(w, rc); err != nil {
			return err
		}
	}

	return nil
}

func addFile(zw *zip.Writer, entries entrySet, name, src string, method uint16) error {
	if err := entries.claim(name); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return codes.Integrity("%s: %s is missing", name, src)
		}

		return err
	}

	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	fh, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	fh.Name = name
	fh.Method = method

	w, err := zw.CreateHeader(fh)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, in)

	return err
}

// verify checks the structure of an assembled package: exactly
// one manifest, and for every architecture the own library plus every
// runtime library.
func verify(pkg string, natives []NativeSet) error {
	r, err := zip.OpenReader(pkg)
	if err != nil {
		return codes.Integrity("reading %s: %v", pkg, err)
	}

	defer r.Close()

	present := make(map[string]int)
	for _, f := range r.File {
		present[f.Name]++
	}

	switch n := present[ManifestName]; {
	case n == 0:
		return codes.Integrity("package has no manifest")
	case n > 1:
		return codes.Integrity("package has %d manifest entries", n)
	}

	var missing []string
	for _, ns := range natives {
		dir := path.Join("lib", ns.Arch.ABI())
		for _, lib := range slices.Concat([]string{ns.Library}, ns.Runtime) {
			if present[path.Join(dir, filepath.Base(lib))] == 0 {
				missing = append(missing, path.Join(dir, filepath.Base(lib)))
			}
		}
	}

	if len(missing) > 0 {
		return codes.Integrity("package is missing %s", strings.Join(missing, ", "))
	}

	return nil
}
