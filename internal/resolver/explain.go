package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/terrazul-ai/tz/internal/errs"
)

// explainConflict builds a deterministic VersionConflict error when the
// SAT search is UNSAT (spec §4.G step 4). It looks for a package whose
// merged constraint — the root range if it is itself a root, AND-joined
// with every dependency range any visited package declares on it — is
// satisfied by none of its candidates; that package is the reported
// minimal conflict. Packages are checked in alphabetical order so the
// result is stable across runs. If no single package's merged range
// is empty, the conflict arises from a combinatorial interaction across
// packages and a conflict naming every root is reported instead.
func explainConflict(enum *enumerator, roots map[string]string) error {
	merged := make(map[string][]string)
	requiredBy := make(map[string]map[string]bool)

	addReq := func(pkg, rng, by string) {
		merged[pkg] = append(merged[pkg], rng)
		set, ok := requiredBy[pkg]
		if !ok {
			set = make(map[string]bool)
			requiredBy[pkg] = set
		}
		set[by] = true
	}

	for name, rng := range roots {
		addReq(name, effectiveRange(rng), name)
	}
	for name, cands := range enum.candidates {
		for _, c := range cands {
			for dep, rng := range c.dependencies {
				addReq(dep, effectiveRange(rng), name)
			}
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rng := strings.Join(dedupe(merged[name]), ", ")
		if len(satisfying(enum.candidates[name], rng)) == 0 {
			by := make([]string, 0, len(requiredBy[name]))
			for r := range requiredBy[name] {
				by = append(by, r)
			}
			sort.Strings(by)
			return errs.New(errs.KindVersionConflict, fmt.Sprintf(
				"%s: no version satisfies %s (required by %s)", name, rng, strings.Join(by, ", ")))
		}
	}

	rootNames := make([]string, 0, len(roots))
	for name := range roots {
		rootNames = append(rootNames, name)
	}
	sort.Strings(rootNames)
	return errs.New(errs.KindVersionConflict, fmt.Sprintf(
		"no satisfying assignment exists for roots: %s", strings.Join(rootNames, ", ")))
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
