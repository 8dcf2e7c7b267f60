package toolchain

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/xbuild/internal/codes"
)

// mockCommander implements Commander interface for testing
type mockCommander struct {
	out []byte
	err error
}

func (m *mockCommander) CombinedOutput() ([]byte, error) {
	return m.out, m.err
}

func TestNewExecRunner(t *testing.T) {
	r := NewExecRunner()
	assert.NotNil(t, r)
	assert.NotNil(t, r.execCommand)
}

func TestExecRunner_Run_Success(t *testing.T) {
	r := NewExecRunner()
	var gotName string
	var gotArgs []string
	r.execCommand = func(_ context.Context, name string, args ...string) Commander {
		gotName, gotArgs = name, args
		return &mockCommander{out: []byte("ok\n")}
	}

	res, err := r.Run(context.Background(), Command{Path: "cc", Args: []string{"-c", "a.c"}})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Output)
	assert.Equal(t, "cc", gotName)
	assert.Equal(t, []string{"-c", "a.c"}, gotArgs)
}

func TestExecRunner_Run_NonExitError(t *testing.T) {
	r := NewExecRunner()
	r.execCommand = func(context.Context, string, ...string) Commander {
		return &mockCommander{err: errors.New("executable file not found in $PATH")}
	}

	_, err := r.Run(context.Background(), Command{Path: "/opt/missing/clang"})
	require.Error(t, err)
	assert.ErrorIs(t, err, codes.ErrToolInvocation)
	assert.Contains(t, err.Error(), "failed to run clang")
	assert.Contains(t, err.Error(), "not found")
}

func TestExecRunner_Run_ExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r := NewExecRunner()
	_, err := r.Run(context.Background(), Command{Path: "sh", Args: []string{"-c", "echo 'main.c:1: error' >&2; exit 3"}})
	require.Error(t, err)

	var be *codes.BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, codes.ErrToolInvocation, be.Kind)
	assert.Contains(t, be.Err.Error(), "exited with code 3")
	assert.Contains(t, be.Output, "main.c:1: error")
}

func TestExecRunner_Run_Dir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	if _, err := exec.LookPath("pwd"); err != nil {
		t.Skip("pwd not available")
	}

	dir := t.TempDir()
	res, err := NewExecRunner().Run(context.Background(), Command{Path: "pwd", Dir: dir})
	require.NoError(t, err)
	assert.Contains(t, res.Output, "/")
}

func TestCommand_String(t *testing.T) {
	cmd := Command{Path: "clang", Args: []string{"-c", "my file.c", "-o", "a.o"}}
	assert.Equal(t, `clang -c "my file.c" -o a.o`, cmd.String())
}
