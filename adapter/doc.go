// Package adapter connects resolved repositories to a documentation
// renderer.
//
// The renderer is represented by an Environment that can tell whether a
// name is already importable. A repository whose name shadows such a unit
// is rejected with a NAME_COLLISION error instead of silently replacing
// it. SearchPaths produces the list a Python-based handler expects: the
// project's own entries first, then one entry per cached repository.
package adapter
