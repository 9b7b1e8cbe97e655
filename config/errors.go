package config

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
	"github.com/jmgilman/go/errors"
)

// Issue is a single validation problem at a field path.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// String returns "path: message".
func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// extractIssues flattens a CUE error list into issues, one per error.
func extractIssues(err error) []Issue {
	var issues []Issue
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issues = append(issues, Issue{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return issues
}

// invalid builds an INVALID_CONFIGURATION error listing issues.
func invalid(path string, cause error, issues []Issue) error {
	lines := make([]string, len(issues))
	for i, issue := range issues {
		lines[i] = issue.String()
	}

	message := "invalid configuration"
	if len(lines) > 0 {
		message += ": " + strings.Join(lines, "; ")
	}

	ctx := map[string]interface{}{"issues": issues}
	if path != "" {
		ctx["path"] = path
	}

	if cause == nil {
		return errors.WithContextMap(errors.New(errors.CodeInvalidConfig, message), ctx)
	}
	return errors.WrapWithContext(cause, errors.CodeInvalidConfig, message, ctx)
}
