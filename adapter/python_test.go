package adapter

import (
	"context"
	"io"
	osexec "os/exec"
	"testing"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/exec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor returns a fixed error from Run and records what it saw.
type scriptedExecutor struct {
	err  error
	args []string
	env  map[string]string
	dir  string
}

func (s *scriptedExecutor) WithEnv(env map[string]string) exec.Executor {
	s.env = env
	return s
}

func (s *scriptedExecutor) WithDir(dir string) exec.Executor {
	s.dir = dir
	return s
}

func (s *scriptedExecutor) WithContext(context.Context) exec.Executor { return s }
func (s *scriptedExecutor) WithDisableColors() exec.Executor { return s }
func (s *scriptedExecutor) WithTimeout(string) exec.Executor { return s }
func (s *scriptedExecutor) WithInheritEnv() exec.Executor { return s }
func (s *scriptedExecutor) WithStdout(io.Writer) exec.Executor { return s }
func (s *scriptedExecutor) WithStderr(io.Writer) exec.Executor { return s }
func (s *scriptedExecutor) WithPassthrough() exec.Executor { return s }
func (s *scriptedExecutor) Clone() exec.Executor { return s }

func (s *scriptedExecutor) Run(args ...string) (*exec.Result, error) {
	s.args = args
	if s.err != nil {
		return &exec.Result{ExitCode: -1}, s.err
	}
	return &exec.Result{}, nil
}

func TestPythonEnvironment_IsImportable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     bool
		wantCode platformerrors.ErrorCode
	}{
		{name: "found", want: true},
		{name: "not found", err: &exec.ExecError{ExitCode: 1}},
		{
			name:     "interpreter missing",
			err:      &exec.ExecError{ExitCode: -1, Err: &osexec.Error{Name: "python3", Err: osexec.ErrNotFound}},
			wantCode: platformerrors.CodeInvalidConfig,
		},
		{
			name:     "interpreter crashed",
			err:      &exec.ExecError{ExitCode: 139, Stderr: "Segmentation fault"},
			wantCode: platformerrors.CodeExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exe := &scriptedExecutor{err: tt.err}
			env := NewPythonEnvironment(
				WithPythonExecutor(exe),
				WithInterpreter("python3.12"),
				WithWorkingDir("/docs"),
				WithPythonPath("/docs/src", "/extra"),
			)

			got, err := env.IsImportable(t.Context(), "theme")
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, platformerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			assert.Equal(t, []string{"python3.12", "-c", findSpec, "theme"}, exe.args)
			assert.Equal(t, "/docs", exe.dir)
			assert.Equal(t, "/docs/src:/extra", exe.env["PYTHONPATH"])
		})
	}
}

func TestPythonEnvironment_RealInterpreter(t *testing.T) {
	if _, err := osexec.LookPath("python3"); err != nil {
		t.Skip("python3 not found in PATH")
	}
	env := NewPythonEnvironment(WithWorkingDir(t.TempDir()))

	found, err := env.IsImportable(t.Context(), "json")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = env.IsImportable(t.Context(), "mkdockyard_no_such_module")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = env.IsImportable(t.Context(), "no_such_parent.child")
	require.NoError(t, err)
	assert.False(t, found)
}
