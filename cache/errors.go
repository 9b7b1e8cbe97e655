package cache

import (
	"context"
	"errors"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/kay-mw/mkdockyard"
)

var (
	errClosed       = platformerrors.New(platformerrors.CodeInternal, "cache store is closed")
	errCorruptIndex = errors.New("corrupt index")
)

func diskError(err error, message, path string) error {
	return platformerrors.WrapWithContext(err, mkdockyard.CodeDisk, message, map[string]interface{}{
		"path": path,
	})
}

func keyContext(key Key, rawURL, ref string) map[string]interface{} {
	return map[string]interface{}{
		"key": string(key),
		"url": rawURL,
		"ref": ref,
	}
}

func contentionError(key Key, rawURL, ref string) error {
	return platformerrors.WithContextMap(
		platformerrors.New(mkdockyard.CodeContention, "lease is held by another fetch"),
		keyContext(key, rawURL, ref),
	)
}

func notFoundError(key Key, rawURL, ref string) error {
	return platformerrors.WithContextMap(
		platformerrors.New(platformerrors.CodeNotFound, "no cache entry"),
		keyContext(key, rawURL, ref),
	)
}

// CorruptionError builds the error reported when an entry's directory no
// longer matches its index record.
func CorruptionError(entry Entry, reason string) error {
	return platformerrors.WithContextMap(
		platformerrors.Newf(mkdockyard.CodeCorruption, "cache entry is corrupt: %s", reason),
		map[string]interface{}{
			"key":  string(entry.Key),
			"url":  entry.URL,
			"ref":  entry.Ref,
			"path": entry.Path,
		},
	)
}

// leaseWaitError maps a failed lease wait onto CANCELED or TIMEOUT.
func leaseWaitError(parent, wait context.Context, err error, key Key, rawURL, ref string) error {
	switch {
	case parent.Err() != nil:
		return platformerrors.WrapWithContext(parent.Err(), mkdockyard.CodeCanceled,
			"canceled while waiting for lease", keyContext(key, rawURL, ref))
	case errors.Is(wait.Err(), context.DeadlineExceeded):
		return platformerrors.WithClassification(
			platformerrors.WrapWithContext(wait.Err(), platformerrors.CodeTimeout,
				"timed out waiting for lease", keyContext(key, rawURL, ref)),
			platformerrors.ClassificationPermanent,
		)
	default:
		return diskError(err, "failed to acquire lease", string(key))
	}
}
