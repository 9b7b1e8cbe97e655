package mkdockyard

import (
	"fmt"
	"path"
	"strings"

	"github.com/jmgilman/go/errors"
)

// Descriptor names one remote repository pinned at one ref.
//
// Two descriptors are cache-equivalent when URL and Ref match; Name only
// identifies the repository to the renderer.
type Descriptor struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
	Ref  string `json:"ref" yaml:"ref"`
}

// String returns "name (url@ref)".
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s@%s)", d.Name, d.URL, d.Ref)
}

// Request is the ordered list of descriptors for one build.
type Request []Descriptor

// DefaultName derives a repository name from its URL: the last path element,
// without a .git suffix, with dashes turned into underscores so the result is
// importable.
//
// Example:
//
//	DefaultName("https://github.com/acme/data-tools.git") // "data_tools"
//	DefaultName("git@github.com:acme/lib")                // "lib"
func DefaultName(rawURL string) string {
	u := strings.TrimRight(rawURL, "/")
	u = strings.TrimSuffix(u, ".git")
	if i := strings.LastIndex(u, ":"); i >= 0 && !strings.Contains(u, "://") {
		u = u[i+1:]
	}
	return strings.ReplaceAll(path.Base(u), "-", "_")
}

// Validate checks the request for empty fields and duplicate names.
// All problems are reported in a single INVALID_CONFIGURATION error.
func (r Request) Validate() error {
	var problems []string
	seen := make(map[string]int, len(r))

	for i, d := range r {
		switch {
		case d.Name == "":
			problems = append(problems, fmt.Sprintf("repos[%d]: name is required", i))
		case seen[d.Name] > 0:
			problems = append(problems, fmt.Sprintf("repos[%d]: duplicate name %q (first used by repos[%d])", i, d.Name, seen[d.Name]-1))
		default:
			seen[d.Name] = i + 1
		}
		if d.URL == "" {
			problems = append(problems, fmt.Sprintf("repos[%d]: url is required", i))
		}
		if d.Ref == "" {
			problems = append(problems, fmt.Sprintf("repos[%d]: ref is required", i))
		}
	}

	if len(problems) == 0 {
		return nil
	}

	return errors.WithContext(
		errors.New(errors.CodeInvalidConfig, "invalid build request: "+strings.Join(problems, "; ")),
		"problems", problems,
	)
}

// Names returns the descriptor names in request order.
func (r Request) Names() []string {
	names := make([]string, len(r))
	for i, d := range r {
		names[i] = d.Name
	}
	return names
}
