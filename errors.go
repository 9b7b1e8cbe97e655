package mkdockyard

import (
	"github.com/jmgilman/go/errors"
)

// Cache specific error codes. The generic conditions use errors.CodeNotFound,
// errors.CodeNetwork, errors.CodeTimeout and errors.CodeInvalidConfig.
const (
	// CodeContention indicates another holder owns the lease for a cache key.
	CodeContention errors.ErrorCode = "CONTENTION"

	// CodeDisk indicates a local filesystem failure while materializing an entry.
	CodeDisk errors.ErrorCode = "DISK_ERROR"

	// CodeCollision indicates a repository name shadows a unit the renderer
	// can already import.
	CodeCollision errors.ErrorCode = "NAME_COLLISION"

	// CodeCorruption indicates the index and the cache directory disagree.
	CodeCorruption errors.ErrorCode = "CACHE_CORRUPTION"

	// CodeCanceled indicates the build was canceled before the operation finished.
	CodeCanceled errors.ErrorCode = "CANCELED"
)

// Kind returns the error code carried by err, or errors.CodeUnknown.
func Kind(err error) errors.ErrorCode {
	return errors.GetCode(err)
}

// IsKind reports whether err carries the given code anywhere in its chain.
func IsKind(err error, code errors.ErrorCode) bool {
	for err != nil {
		var pe errors.PlatformError
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Code() == code {
			return true
		}
		err = pe.Unwrap()
	}
	return false
}
