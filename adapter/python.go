package adapter

import (
	"context"
	"errors"
	osexec "os/exec"
	"path/filepath"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/exec"

	"github.com/kay-mw/mkdockyard"
)

// findSpec exits 0 when argv[1] resolves to a module or package, 1 when it
// does not.
const findSpec = `import importlib.util, sys
try:
    found = importlib.util.find_spec(sys.argv[1]) is not None
except (ImportError, ValueError):
    found = False
sys.exit(0 if found else 1)`

// PythonEnvironment answers IsImportable by asking a Python interpreter, the
// way a documentation handler such as mkdocstrings would resolve a name.
type PythonEnvironment struct {
	python   string
	dir      string
	paths    []string
	executor exec.Executor
}

// PythonOption configures a PythonEnvironment.
type PythonOption func(*PythonEnvironment)

// WithInterpreter sets the interpreter binary. Defaults to "python3".
func WithInterpreter(python string) PythonOption {
	return func(p *PythonEnvironment) {
		if python != "" {
			p.python = python
		}
	}
}

// WithWorkingDir runs the interpreter in dir, which Python puts first on
// its module search path.
func WithWorkingDir(dir string) PythonOption {
	return func(p *PythonEnvironment) {
		p.dir = dir
	}
}

// WithPythonPath adds entries to PYTHONPATH.
func WithPythonPath(paths ...string) PythonOption {
	return func(p *PythonEnvironment) {
		p.paths = append(p.paths, paths...)
	}
}

// WithPythonExecutor sets the base executor; it is cloned per invocation.
func WithPythonExecutor(executor exec.Executor) PythonOption {
	return func(p *PythonEnvironment) {
		if executor != nil {
			p.executor = executor
		}
	}
}

// NewPythonEnvironment creates an Environment backed by a Python interpreter.
func NewPythonEnvironment(opts ...PythonOption) *PythonEnvironment {
	p := &PythonEnvironment{
		python:   "python3",
		executor: exec.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsImportable implements Environment.
func (p *PythonEnvironment) IsImportable(ctx context.Context, name string) (bool, error) {
	cmd := exec.NewWrapper(p.executor.Clone(), p.python).
		WithContext(ctx).
		WithInheritEnv()
	if len(p.paths) > 0 {
		cmd = cmd.WithEnv(map[string]string{
			"PYTHONPATH": strings.Join(p.paths, string(filepath.ListSeparator)),
		})
	}
	if p.dir != "" {
		cmd = cmd.WithDir(p.dir)
	}

	_, err := cmd.Run("-c", findSpec, name)
	if err == nil {
		return true, nil
	}

	var execErr *exec.ExecError
	switch {
	case ctx.Err() != nil:
		return false, platformerrors.Wrap(ctx.Err(), mkdockyard.CodeCanceled, "python lookup canceled")
	case errors.As(err, &execErr) && errors.Is(execErr.Err, osexec.ErrNotFound):
		return false, platformerrors.WrapWithContext(err, platformerrors.CodeInvalidConfig,
			"python interpreter not found", map[string]interface{}{"python": p.python})
	case errors.As(err, &execErr) && execErr.ExitCode == 1:
		return false, nil
	default:
		return false, platformerrors.WrapWithContext(err, platformerrors.CodeExecutionFailed,
			"failed to query python environment", map[string]interface{}{"name": name, "python": p.python})
	}
}
