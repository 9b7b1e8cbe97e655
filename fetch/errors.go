package fetch

import (
	"fmt"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/kay-mw/mkdockyard"
)

// Failure records why one descriptor could not be resolved.
type Failure struct {
	Descriptor mkdockyard.Descriptor
	Kind       platformerrors.ErrorCode
	Err        error
}

// Error implements the error interface.
func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Descriptor, f.Err)
}

// Unwrap returns the underlying error.
func (f Failure) Unwrap() error {
	return f.Err
}

// BuildError reports every descriptor that failed during one Resolve call,
// in request order.
type BuildError struct {
	Failures []Failure
}

// Error renders one line per failed descriptor.
func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to resolve %d of the requested repositories:", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  - %s", f.Error())
	}
	return b.String()
}

// Unwrap exposes each failure to errors.Is and errors.As.
func (e *BuildError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Names returns the names of the failed descriptors.
func (e *BuildError) Names() []string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Descriptor.Name
	}
	return names
}
