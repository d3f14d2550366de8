// Package sandbox resolves relative paths strictly within a base
// directory, rejecting traversal. Every filesystem write in the core
// flows through ResolveWithin (spec §4.A).
package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/terrazul-ai/tz/internal/errs"
)

// ResolveWithin normalizes rel against base and requires the result to be
// base itself or a path underneath it. rel may be relative or absolute;
// an absolute rel is accepted only if, once cleaned, it still resolves
// inside base (e.g. a caller passing an already-joined absolute path).
func ResolveWithin(base, rel string) (string, error) {
	cleanBase, err := filepath.Abs(filepath.Clean(base))
	if err != nil {
		return "", errs.Wrap(errs.KindSecurity, "resolve base path", err)
	}

	var candidate string
	if filepath.IsAbs(rel) {
		candidate = filepath.Clean(rel)
	} else {
		candidate = filepath.Clean(filepath.Join(cleanBase, rel))
	}

	if !sameVolume(cleanBase, candidate) {
		return "", errs.New(errs.KindSecurity, "path traversal: volume mismatch for "+rel)
	}

	if candidate == cleanBase {
		return candidate, nil
	}

	withSep := cleanBase
	if !strings.HasSuffix(withSep, string(filepath.Separator)) {
		withSep += string(filepath.Separator)
	}
	if !strings.HasPrefix(candidate, withSep) {
		return "", errs.New(errs.KindSecurity, "path traversal rejected: "+rel)
	}

	return candidate, nil
}

// sameVolume compares Windows drive letters / UNC hosts; on platforms
// without a volume concept filepath.VolumeName returns "" for both sides.
func sameVolume(base, candidate string) bool {
	return strings.EqualFold(filepath.VolumeName(base), filepath.VolumeName(candidate))
}

// IsWithin reports whether rel resolves within base, without erroring —
// for callers that want a bool for a "skipped" decision rather than a
// hard failure.
func IsWithin(base, rel string) bool {
	_, err := ResolveWithin(base, rel)
	return err == nil
}
