// Package depfile reads and writes Makefile-style dependency files as emitted by
// gcc and clang with -MD/-MMD and -MP.
//
// The format is "target: prereq prereq \" with backslash-newline continuations,
// backslash-escaped spaces and '#', and "$$" for a literal dollar sign. Rules
// without prerequisites (the phony header rules written by -MP) are accepted
// and contribute nothing.
package depfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoTarget is returned for input that contains no rule.
var ErrNoTarget = errors.New("depfile: no target")

// Rule is a parsed dependency file.
type Rule struct {
	Targets []string // Outputs named on the left of the first rule.
	Prereqs []string // Every prerequisite, deduplicated, in first-seen order.
}

// Parse reads a dependency file from r.
func Parse(r io.Reader) (*Rule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("depfile: %w", err)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	rule := &Rule{}
	seen := make(map[string]bool)

	for n, line := range logicalLines(text) {
		targets, prereqs, ok, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("depfile: line %d: %w", n+1, err)
		}

		if !ok {
			continue
		}

		if len(rule.Targets) == 0 {
			rule.Targets = targets
		}

		for _, p := range prereqs {
			if !seen[p] {
				seen[p] = true
				rule.Prereqs = append(rule.Prereqs, p)
			}
		}
	}

	if len(rule.Targets) == 0 {
		return nil, ErrNoTarget
	}

	return rule, nil
}

// ParseFile reads the dependency file at path.
func ParseFile(path string) (*Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	return Parse(f)
}

// Write serialises a single rule for target to w.
func Write(w io.Writer, target string, prereqs []string) error {
	bw := bufio.NewWriter(w)

	bw.WriteString(escape(target))
	bw.WriteString(":")
	for _, p := range prereqs {
		bw.WriteString(" \\\n  ")
		bw.WriteString(escape(p))
	}

	bw.WriteString("\n")

	return bw.Flush()
}

// WriteFile atomically writes a rule for target to path.
func WriteFile(path, target string, prereqs []string) error {
	var buf bytes.Buffer
	if err := Write(&buf, target, prereqs); err != nil {
		return err
	}

	return writeAtomic(path, buf.Bytes())
}

// logicalLines joins backslash-newline continuations and splits on the remaining newlines.
func logicalLines(text string) []string {
	var (
		lines []string
		cur   strings.Builder
	)

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && i+1 < len(text) && text[i+1] == '\n':
			cur.WriteByte(' ')
			i++
		case c == '\n':
			lines = append(lines, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}

	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}

	return lines
}

// parseLine splits one logical line into targets and prerequisites.
// ok is false for blank or comment-only lines.
func parseLine(line string) (targets, prereqs []string, ok bool, err error) {
	var (
		word     strings.Builder
		inWord   bool
		sawColon bool
	)

	flush := func() {
		if !inWord {
			return
		}

		if sawColon {
			prereqs = append(prereqs, word.String())
		} else {
			targets = append(targets, word.String())
		}

		word.Reset()
		inWord = false
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && (line[i+1] == ' ' || line[i+1] == '#' || line[i+1] == '\\'):
			word.WriteByte(line[i+1])
			inWord = true
			i++
		case c == '$' && i+1 < len(line) && line[i+1] == '$':
			word.WriteByte('$')
			inWord = true
			i++
		case c == '#':
			i = len(line)
		case c == ' ' || c == '\t':
			flush()
		case c == ':' && !sawColon && (i+1 == len(line) || line[i+1] == ' ' || line[i+1] == '\t'):
			flush()
			sawColon = true
		default:
			word.WriteByte(c)
			inWord = true
		}
	}

	flush()

	if len(targets) == 0 && len(prereqs) == 0 {
		return nil, nil, false, nil
	}

	if !sawColon {
		return nil, nil, false, fmt.Errorf("missing ':' separator")
	}

	if len(targets) == 0 {
		return nil, nil, false, fmt.Errorf("rule has no target")
	}

	return targets, prereqs, true, nil
}

func escape(s string) string {
	r := strings.NewReplacer(" ", `\ `, "#", `\#`, "$", "$$")
	return r.Replace(s)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}
