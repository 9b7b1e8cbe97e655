package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Key identifies a cache-equivalence class: one repository URL at one ref.
// It is the hex SHA-256 of url, a NUL byte and ref, and doubles as the name of
// the clone slot and lease file on disk.
type Key string

// NewKey derives the cache key for (url, ref).
//
// Example:
//
//	NewKey("https://github.com/my/repo", "v1.0.0") // "3f1c..." (64 hex chars)
func NewKey(rawURL, ref string) Key {
	sum := sha256.Sum256([]byte(rawURL + "\x00" + ref))
	return Key(hex.EncodeToString(sum[:]))
}

// Short returns the first 12 characters of the key for log output.
func (k Key) Short() string {
	if len(k) <= 12 {
		return string(k)
	}
	return string(k[:12])
}

// validKey reports whether s looks like a key. Directory scans skip anything
// else found under the cache root.
func validKey(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// label renders a repository URL as host/path for log messages.
//
// Examples:
//   - https://github.com/my/repo.git → github.com/my/repo
//   - git@github.com:my/repo → github.com/my/repo
func label(rawURL string) string {
	rawURL = strings.TrimSuffix(rawURL, ".git")

	if strings.Contains(rawURL, "@") && strings.Contains(rawURL, ":") && !strings.Contains(rawURL, "://") {
		if _, hostPath, ok := strings.Cut(rawURL, "@"); ok {
			return strings.TrimSuffix(strings.Replace(hostPath, ":", "/", 1), "/")
		}
	}

	if parsed, err := url.Parse(rawURL); err == nil && parsed.Host != "" {
		return strings.TrimSuffix(parsed.Host+parsed.Path, "/")
	}

	return strings.TrimSuffix(rawURL, "/")
}
