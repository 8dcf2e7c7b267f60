// Package fake provides a toolchain.Runner that emulates compilers, archivers
// and linkers by writing files, so builds can be exercised without real tools.
//
// Compiles read the source, follow #include "..." lines through -I
// directories and emit a dependency file. A source containing "#error" fails
// the compile with that line as tool output. Relative paths are taken from
// the command's directory and reported as given, the way a compiler does.
// Archives are updated in place like ar rcs: existing members stay unless
// replaced. Every output is stamped strictly newer than its inputs.
package fake

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Norgate-AV/xbuild/internal/codes"
	"github.com/Norgate-AV/xbuild/internal/depfile"
	"github.com/Norgate-AV/xbuild/internal/toolchain"
)

// Handler emulates one named tool.
type Handler func(cmd toolchain.Command) (string, error)

// Runner records every command and emulates it.
type Runner struct {
	mu       sync.Mutex
	calls    []toolchain.Command
	compiled []string
	linked   []string

	// Tools maps a program base name to its emulation. Unlisted programs are
	// treated as compiler drivers or archivers depending on their arguments.
	Tools map[string]Handler

	// NoDepfile suppresses dependency file output, like a compiler run without -MD.
	NoDepfile bool
}

// New creates an empty fake runner
func New() *Runner {
	return &Runner{Tools: make(map[string]Handler)}
}

// Run implements toolchain.Runner.
func (r *Runner) Run(_ context.Context, cmd toolchain.Command) (*toolchain.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	name := filepath.Base(cmd.Path)
	args := cmd.Args

	// Launchers such as ccache pass the real driver as the first argument.
	if name == "ccache" && len(args) > 0 {
		name, args = filepath.Base(args[0]), args[1:]
	}

	var (
		out string
		err error
	)

	switch h, ok := r.Tools[name]; {
	case ok:
		out, err = h(cmd)
	case slices.Contains(args, "-c"):
		out, err = r.compile(args, cmd.Dir)
	case len(args) > 1 && args[0] == "rcs":
		out, err = r.archive(args)
	default:
		out, err = r.link(args)
	}

	if err != nil {
		return nil, &codes.BuildError{Kind: codes.ErrToolInvocation, Output: out, Err: fmt.Errorf("%s: %w", name, err)}
	}

	return &toolchain.Result{Output: out}, nil
}

// Calls returns every command run so far.
func (r *Runner) Calls() []toolchain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.calls)
}

// Compiled returns the sources compiled successfully so far, sorted.
func (r *Runner) Compiled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.compiled)
	slices.Sort(out)

	return out
}

// Linked returns every link or archive output produced so far, in order.
func (r *Runner) Linked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.linked)
}

// Reset forgets recorded calls.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls, r.compiled, r.linked = nil, nil, nil
}

func (r *Runner) compile(args []string, dir string) (string, error) {
	source := argAfter(args, "-c")
	object := argAfter(args, "-o")
	dep := argAfter(args, "-MF")

	if source == "" || object == "" {
		return "", fmt.Errorf("missing -c or -o")
	}

	var includeDirs []string
	for _, a := range args {
		if inc, ok := strings.CutPrefix(a, "-I"); ok {
			includeDirs = append(includeDirs, inc)
		}
	}

	headers, errLine, err := scan(dir, source, includeDirs)
	if err != nil {
		return "", err
	}

	if errLine != "" {
		return fmt.Sprintf("%s:1: error: %s\n", source, errLine), fmt.Errorf("compilation failed")
	}

	inputs := append([]string{source}, headers...)

	resolved := make([]string, len(inputs))
	for i, in := range inputs {
		resolved[i] = within(dir, in)
	}

	if err := WriteOutput(within(dir, object), "object of "+source+"\n"+strings.Join(args, " "), resolved...); err != nil {
		return "", err
	}

	if dep != "" && !r.NoDepfile {
		if err := depfile.WriteFile(within(dir, dep), object, inputs); err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	r.compiled = append(r.compiled, source)
	r.mu.Unlock()

	return "", nil
}

func (r *Runner) archive(args []string) (string, error) {
	out, objects := args[1], args[2:]
	if err := requireInputs(objects); err != nil {
		return "", err
	}

	members := ArchiveMembers(out)
	for _, o := range objects {
		if !slices.Contains(members, o) {
			members = append(members, o)
		}
	}

	if err := WriteOutput(out, "archive\n"+strings.Join(members, "\n"), objects...); err != nil {
		return "", err
	}

	r.addLinked(out)

	return "", nil
}

func (r *Runner) link(args []string) (string, error) {
	out := argAfter(args, "-o")
	if out == "" {
		return "", fmt.Errorf("missing -o")
	}

	var inputs []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}

		switch filepath.Ext(a) {
		case ".o", ".a", ".so", ".dylib", ".dll":
			if a != out {
				inputs = append(inputs, a)
			}
		}
	}

	if err := requireInputs(inputs); err != nil {
		return "undefined reference", err
	}

	if err := WriteOutput(out, "linked\n"+strings.Join(inputs, "\n"), inputs...); err != nil {
		return "", err
	}

	r.addLinked(out)

	return "", nil
}

// ArchiveMembers returns the members of an archive written by the fake
// archiver, or nil if path is not one.
func ArchiveMembers(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	rest, ok := strings.CutPrefix(string(data), "archive\n")
	if !ok || rest == "" {
		return nil
	}

	return strings.Split(rest, "\n")
}

func (r *Runner) addLinked(out string) {
	r.mu.Lock()
	r.linked = append(r.linked, out)
	r.mu.Unlock()
}

// WriteOutput writes content to path and stamps it newer than every input.
func WriteOutput(path, content string, inputs ...string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}

	stamp := time.Now()
	for _, in := range inputs {
		if info, err := os.Stat(in); err == nil && !info.ModTime().Before(stamp) {
			stamp = info.ModTime().Add(time.Millisecond)
		}
	}

	return os.Chtimes(path, stamp, stamp)
}

func requireInputs(paths []string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("input %s: %w", p, err)
		}
	}

	return nil
}

// scan returns the headers source includes, transitively, and the text of the
// first #error directive if any. Relative paths are looked up under dir.
func scan(dir, source string, includeDirs []string) ([]string, string, error) {
	var (
		headers []string
		seen    = map[string]bool{source: true}
		errLine string
	)

	var visit func(path string) error
	visit = func(path string) error {
		f, err := os.Open(within(dir, path))
		if err != nil {
			return err
		}

		defer f.Close()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())

			if rest, ok := strings.CutPrefix(line, "#error"); ok && errLine == "" {
				errLine = strings.TrimSpace(rest)
			}

			rest, ok := strings.CutPrefix(line, "#include \"")
			if !ok {
				continue
			}

			name, _, _ := strings.Cut(rest, "\"")
			header := locate(dir, name, filepath.Dir(path), includeDirs)
			if header == "" {
				return fmt.Errorf("%s: %s: No such file or directory", path, name)
			}

			if seen[header] {
				continue
			}

			seen[header] = true
			headers = append(headers, header)

			if err := visit(header); err != nil {
				return err
			}
		}

		return sc.Err()
	}

	if err := visit(source); err != nil {
		return nil, "", err
	}

	return headers, errLine, nil
}

func locate(wd, name, dir string, includeDirs []string) string {
	for _, d := range append([]string{dir}, includeDirs...) {
		p := filepath.Join(d, name)
		if _, err := os.Stat(within(wd, p)); err == nil {
			return p
		}
	}

	return ""
}

// within resolves a relative path against the directory a tool runs in.
func within(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(dir, path)
}

func argAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}

	return args[i+1]
}
