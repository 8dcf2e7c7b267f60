// Package codes defines the build error kinds and the process exit codes they map to.
package codes

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every failure surfaced by the build engine wraps one of these.
var (
	// ErrConfiguration is a malformed workspace or dependency graph. Fatal before any compilation.
	ErrConfiguration = errors.New("configuration error")

	// ErrToolInvocation is a compiler, linker or packaging tool that is missing or exited non-zero.
	ErrToolInvocation = errors.New("tool invocation failed")

	// ErrCacheInconsistency is missing or corrupt cache metadata. Never fatal; it forces a recompile.
	ErrCacheInconsistency = errors.New("cache metadata inconsistent")

	// ErrPackagingIntegrity is a package that would be malformed or incomplete.
	ErrPackagingIntegrity = errors.New("packaging integrity violated")

	// ErrBuild is any other failure, such as an output directory that cannot be created.
	ErrBuild = errors.New("build failed")
)

// Process exit codes
const (
	ExitSuccess            = 0
	ExitFailure            = 1
	ExitConfiguration      = 2
	ExitToolInvocation     = 3
	ExitPackagingIntegrity = 4
)

// ExitCodes maps exit codes to their descriptions
var ExitCodes = map[int]string{
	ExitSuccess:            "Success",
	ExitFailure:            "General failure",
	ExitConfiguration:      "Invalid workspace or configuration",
	ExitToolInvocation:     "Compiler, linker or packaging tool failed",
	ExitPackagingIntegrity: "Package integrity check failed",
}

// IsSuccess returns true if the exit code indicates a successful build
func IsSuccess(code int) bool {
	return code == ExitSuccess
}

// GetErrorMessage returns the description for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := ExitCodes[code]; ok {
		return msg
	}

	return "Unknown error"
}

// ExitCode classifies err into a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrConfiguration):
		return ExitConfiguration
	case errors.Is(err, ErrPackagingIntegrity):
		return ExitPackagingIntegrity
	case errors.Is(err, ErrToolInvocation):
		return ExitToolInvocation
	default:
		return ExitFailure
	}
}

// BuildError reports a failure together with the project and build context it belongs to.
type BuildError struct {
	Kind    error  // One of the Err* kinds above.
	Project string // Offending project, empty for workspace-level failures.
	Context string // Build context string (configuration/platform/arch).
	Output  string // Captured tool output, if any.
	Err     error  // Underlying cause.
}

func (e *BuildError) Error() string {
	var b strings.Builder

	b.WriteString(e.Kind.Error())
	if e.Project != "" {
		fmt.Fprintf(&b, ": project %s", e.Project)
	}

	if e.Context != "" {
		fmt.Fprintf(&b, " [%s]", e.Context)
	}

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}

	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *BuildError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// Configuration returns a configuration error with a formatted message.
func Configuration(format string, args ...any) error {
	return &BuildError{Kind: ErrConfiguration, Err: fmt.Errorf(format, args...)}
}

// Integrity returns a packaging integrity error with a formatted message.
// The project and context are filled in by Attach.
func Integrity(format string, args ...any) error {
	return &BuildError{Kind: ErrPackagingIntegrity, Err: fmt.Errorf(format, args...)}
}

// Attach fills in the project and context on err if it is a BuildError without them,
// or wraps err as a general build failure otherwise. Tool failures are already
// BuildErrors when they reach here.
func Attach(err error, project, context string) error {
	if err == nil {
		return nil
	}

	var be *BuildError
	if errors.As(err, &be) {
		if be.Project == "" {
			be.Project = project
		}

		if be.Context == "" {
			be.Context = context
		}

		return err
	}

	return &BuildError{Kind: ErrBuild, Project: project, Context: context, Err: err}
}
