// Package ids provides identifier validation and path normalization shared
// by every package that parses configuration or produces findings: rule
// IDs, plugin IDs, check IDs, and repository-relative paths all funnel
// through here so the same rules apply everywhere.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches a single path-safe identifier segment: lowercase
// letters, digits, underscore, and hyphen, starting with a letter, 2-64
// characters long.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)

// namespacedPattern matches a namespaced plugin ID of the form "a/b", where
// both segments independently satisfy idPattern.
var namespacedPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}/[a-z][a-z0-9_-]{1,63}$`)

// Valid reports whether s is a well-formed identifier: ^[a-z][a-z0-9_-]{1,63}$.
func Valid(s string) bool {
	return idPattern.MatchString(s)
}

// ValidNamespaced reports whether s is a well-formed identifier, optionally
// namespaced as "pack/name" where both segments satisfy Valid.
func ValidNamespaced(s string) bool {
	if Valid(s) {
		return true
	}
	return namespacedPattern.MatchString(s)
}

// Check returns an error describing why s is not a valid identifier, or nil
// if it is valid.
func Check(kind, s string) error {
	if !Valid(s) {
		return fmt.Errorf("%s id %q is invalid: must match ^[a-z][a-z0-9_-]{1,63}$", kind, s)
	}
	return nil
}

// CheckNamespaced returns an error describing why s is not a valid
// (optionally namespaced) identifier, or nil if it is valid.
func CheckNamespaced(kind, s string) error {
	if !ValidNamespaced(s) {
		return fmt.Errorf("%s id %q is invalid: must match ^[a-z][a-z0-9_-]{1,63}$ or \"pack/name\" of two such segments", kind, s)
	}
	return nil
}

// NormalizePath converts a possibly-Windows, possibly-dot-prefixed path
// into the POSIX-relative form used as the canonical key in findings,
// baselines, and allowlist entries: backslashes become slashes, a leading
// "./" is stripped, and surrounding whitespace is trimmed. It does not
// resolve ".." segments; callers that need safety against path escape
// should additionally call IsRelativeAndSafe.
func NormalizePath(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.TrimPrefix(s, "./")
	return s
}

// IsRelativeAndSafe reports whether path is relative and contains no
// absolute-path prefix, drive letter, or ".." parent-directory segment.
// It is the Go equivalent of the original checker's component-walk using
// an already-normalized (forward-slash) path.
func IsRelativeAndSafe(path string) bool {
	if path == "" {
		return false
	}
	if strings.HasPrefix(path, "/") {
		return false
	}
	if len(path) >= 2 && path[1] == ':' {
		// drive-letter prefix, e.g. "C:"
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// HasGlobChars reports whether s contains any of the glob metacharacters
// forbidden in allowlist and exception paths: * ? [ ] { }.
func HasGlobChars(s string) bool {
	return strings.ContainsAny(s, "*?[]{}")
}

// Sha256Hex returns the lowercase hex-encoded SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Sha256HexString is a convenience wrapper over Sha256Hex for string input.
func Sha256HexString(s string) string {
	return Sha256Hex([]byte(s))
}
