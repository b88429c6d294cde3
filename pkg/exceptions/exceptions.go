// Package exceptions implements the suppression allow-list engine: a
// fail-closed reader of .agents/mcp/compas/allowlist.toml that partitions
// findings into surviving and suppressed sets. Grounded directly on the
// original engine's apply_allowlist_with_limits algorithm: any single
// invalid entry poisons the whole file (no suppression happens at all),
// while an individually expired or out-of-window entry degrades to its
// own blocking finding without touching the rest of the allow-list.
package exceptions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/ids"
)

// AllowlistRelPath is the fixed location of the allow-list file relative
// to the repository root.
const AllowlistRelPath = ".agents/mcp/compas/allowlist.toml"

const dateLayout = "2006-01-02"

// Result is the outcome of applying the allow-list to a finding list.
type Result struct {
	Violations []gatetypes.Finding
	Suppressed []gatetypes.Finding
}

type allowlistFile struct {
	Exceptions []rawEntry `toml:"exceptions"`
}

type rawEntry struct {
	ID        string  `toml:"id"`
	Rule      string  `toml:"rule"`
	Path      string  `toml:"path"`
	Owner     string  `toml:"owner"`
	Reason    string  `toml:"reason"`
	ExpiresAt *string `toml:"expires_at"`
}

func allowlistInvalid(relPath, msg string) gatetypes.Finding {
	return gatetypes.Blocking("exception.allowlist_invalid", msg, gatetypes.StrPtr(relPath), nil)
}

func expiredException(relPath string, e rawEntry) gatetypes.Finding {
	expires := "<missing>"
	if e.ExpiresAt != nil {
		expires = *e.ExpiresAt
	}
	msg := fmt.Sprintf("allowlist exception expired: id=%s rule=%s path=%s expires_at=%s", e.ID, e.Rule, e.Path, expires)
	return gatetypes.Blocking("exception.expired", msg, gatetypes.StrPtr(relPath), nil)
}

func windowExceededException(relPath string, e rawEntry, maxDays uint32, daysAhead int64) gatetypes.Finding {
	expires := "<missing>"
	if e.ExpiresAt != nil {
		expires = *e.ExpiresAt
	}
	msg := fmt.Sprintf(
		"allowlist exception window exceeds max_exception_window_days: id=%s rule=%s path=%s expires_at=%s days_ahead=%d max_days=%d",
		e.ID, e.Rule, e.Path, expires, daysAhead, maxDays,
	)
	return gatetypes.Blocking("exception.window_exceeded", msg, gatetypes.StrPtr(relPath), nil)
}

// failClosed builds the single-finding-plus-original-input result that
// every validity failure produces.
func failClosed(relPath, msg string, input []gatetypes.Finding) Result {
	violations := make([]gatetypes.Finding, 0, len(input)+1)
	violations = append(violations, allowlistInvalid(relPath, msg))
	violations = append(violations, input...)
	return Result{Violations: violations, Suppressed: nil}
}

// Apply runs ApplyWithLimits with no max exception window.
func Apply(repoRoot string, input []gatetypes.Finding) Result {
	return ApplyWithLimits(repoRoot, input, nil)
}

// ApplyWithLimits parses repoRoot's allow-list file (if any), validates
// every entry, and partitions input into surviving vs suppressed
// findings. maxExceptionWindowDays, when non-nil, bounds how far in the
// future an expires_at may sit.
func ApplyWithLimits(repoRoot string, input []gatetypes.Finding, maxExceptionWindowDays *uint32) Result {
	allowlistPath := filepath.Join(repoRoot, filepath.FromSlash(AllowlistRelPath))

	info, err := os.Stat(allowlistPath)
	if err != nil || info.IsDir() {
		return Result{Violations: input, Suppressed: nil}
	}

	raw, err := os.ReadFile(allowlistPath)
	if err != nil {
		return failClosed(AllowlistRelPath, fmt.Sprintf("failed to read allowlist %s: %v", allowlistPath, err), input)
	}

	var parsed allowlistFile
	if _, err := toml.Decode(string(raw), &parsed); err != nil {
		return failClosed(AllowlistRelPath, fmt.Sprintf("failed to parse allowlist %s: %v", allowlistPath, err), input)
	}

	today := time.Now().UTC()
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	seenIDs := map[string]bool{}
	var entries []rawEntry
	var expired []gatetypes.Finding

	for _, e := range parsed.Exceptions {
		e.ID = strings.TrimSpace(e.ID)
		e.Rule = strings.TrimSpace(e.Rule)
		e.Path = ids.NormalizePath(e.Path)
		e.Owner = strings.TrimSpace(e.Owner)
		e.Reason = strings.TrimSpace(e.Reason)

		if e.ID == "" {
			return failClosed(AllowlistRelPath, "exception entry has empty id", input)
		}
		if seenIDs[e.ID] {
			return failClosed(AllowlistRelPath, fmt.Sprintf("duplicate exception id=%s (ids must be unique)", e.ID), input)
		}
		seenIDs[e.ID] = true

		if e.Rule == "" {
			return failClosed(AllowlistRelPath, fmt.Sprintf("exception id=%s has empty rule", e.ID), input)
		}
		if e.Path == "" {
			return failClosed(AllowlistRelPath, fmt.Sprintf("exception id=%s has empty path", e.ID), input)
		}
		if !ids.IsRelativeAndSafe(e.Path) {
			return failClosed(AllowlistRelPath, fmt.Sprintf("exception id=%s has unsafe/absolute path=%s", e.ID, e.Path), input)
		}
		if ids.HasGlobChars(e.Path) {
			return failClosed(AllowlistRelPath, fmt.Sprintf("exception id=%s uses glob characters in path (globs are forbidden): %s", e.ID, e.Path), input)
		}
		if e.Owner == "" {
			return failClosed(AllowlistRelPath, fmt.Sprintf("exception id=%s has empty owner", e.ID), input)
		}
		if e.Reason == "" {
			return failClosed(AllowlistRelPath, fmt.Sprintf("exception id=%s has empty reason", e.ID), input)
		}

		if e.ExpiresAt != nil {
			expiresStr := strings.TrimSpace(*e.ExpiresAt)
			expiresDate, parseErr := time.Parse(dateLayout, expiresStr)
			if parseErr != nil {
				return failClosed(AllowlistRelPath, fmt.Sprintf("exception id=%s has invalid expires_at=%q: %v", e.ID, expiresStr, parseErr), input)
			}

			if expiresDate.Before(today) {
				expired = append(expired, expiredException(AllowlistRelPath, e))
				continue
			}

			if maxExceptionWindowDays != nil {
				daysAhead := int64(expiresDate.Sub(today).Hours() / 24)
				if daysAhead > int64(*maxExceptionWindowDays) {
					expired = append(expired, windowExceededException(AllowlistRelPath, e, *maxExceptionWindowDays, daysAhead))
					continue
				}
			}
		}

		entries = append(entries, e)
	}

	var violations []gatetypes.Finding
	var suppressed []gatetypes.Finding

	violations = append(violations, expired...)

	for _, v := range input {
		if strings.HasPrefix(v.Code, "exception.") {
			violations = append(violations, v)
			continue
		}
		if v.Path == nil {
			violations = append(violations, v)
			continue
		}

		path := ids.NormalizePath(*v.Path)
		matched := false
		for _, e := range entries {
			if e.Rule == v.Code && e.Path == path {
				matched = true
				break
			}
		}

		if matched {
			suppressed = append(suppressed, v)
		} else {
			violations = append(violations, v)
		}
	}

	return Result{Violations: violations, Suppressed: suppressed}
}
