// Package resolver computes a consistent version assignment for a set of
// root package ranges using semver constraint satisfaction encoded as
// CNF and solved with a DPLL-style procedure (spec §4.G). It generalizes
// the teacher's simple backtracking resolver (internal/packagemanager's
// Resolver) into an explicit boolean-satisfiability formulation so
// conflicts are diagnosable rather than just "no candidate fit".
package resolver

import (
	"sort"
	"strings"

	semver "github.com/Masterminds/semver/v3"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/lockfile"
)

// VersionInfo is one published version of a package, as the registry
// describes it.
type VersionInfo struct {
	Version      string
	Dependencies map[string]string
	Yanked       bool
	YankedReason string
}

// Index looks up the published versions of a package by name. The
// registry client (internal/registry) and an in-memory fixture both
// implement it.
type Index interface {
	Versions(name string) ([]VersionInfo, error)
}

// MapIndex is a fixed in-memory Index, used by tests and offline mode.
type MapIndex map[string][]VersionInfo

func (m MapIndex) Versions(name string) ([]VersionInfo, error) {
	return m[name], nil
}

// ResolvedPackage is one entry of a successful resolution.
type ResolvedPackage struct {
	Version      string
	Dependencies map[string]string
}

// Result is the output of Resolve: a full version assignment plus any
// non-fatal warnings (e.g. a yanked version retained for lockfile
// continuity).
type Result struct {
	Packages map[string]ResolvedPackage
	Warnings []errs.Warning
}

// Options controls resolution behavior beyond the root ranges themselves.
type Options struct {
	// PreferLatest, when true, always prefers the newest satisfying
	// version even if the prior lockfile pinned an older one that still
	// satisfies every effective range.
	PreferLatest bool
	// Prior is the lockfile from the previous install, used for both the
	// yanked-retention exception and resolution continuity. May be nil.
	Prior *lockfile.Lockfile
}

// candidate is one (name, version) pair under consideration, with its
// dependencies and whether it survived yank filtering only because the
// prior lockfile pinned it.
type candidate struct {
	name         string
	version      string
	semverValue  *semver.Version
	dependencies map[string]string
	retainedYank bool
}

// Resolve computes a version assignment satisfying roots and every
// transitive dependency range, per spec §4.G.
func Resolve(idx Index, roots map[string]string, opts Options) (*Result, error) {
	priorPins := make(map[string]string)
	if opts.Prior != nil {
		for name, e := range opts.Prior.Packages {
			priorPins[name] = e.Version
		}
	}

	enum := newEnumerator(idx, priorPins)
	var warnings []errs.Warning

	rootNames := sortedKeys(roots)
	for _, name := range rootNames {
		if err := enum.visit(name); err != nil {
			return nil, err
		}
	}

	// Edge case: no candidates for a root after yank filtering.
	for _, name := range rootNames {
		cands := enum.candidates[name]
		if len(cands) == 0 {
			return nil, errs.New(errs.KindNoCandidates, "no published versions for "+name)
		}
		rng := effectiveRange(roots[name])
		if satisfying(cands, rng) == nil {
			return nil, errs.New(errs.KindNoCandidates, "no candidates satisfy "+name+"@"+rng)
		}
	}

	for _, name := range sortedSetKeys(enum.retainedYankWarnings) {
		warnings = append(warnings, errs.Warning{
			Kind:    errs.KindVersionYanked,
			Message: "retaining yanked version for " + name + " to preserve lockfile continuity",
		})
	}

	builder := newCNFBuilder(enum.candidates)
	for _, name := range rootNames {
		rng := effectiveRange(roots[name])
		builder.addRootClause(name, rng, []string{name})
	}
	// enum.visit already walked every dependency name reachable from the
	// roots, so every depName below already has a candidate set.
	for name, cands := range enum.candidates {
		for _, c := range cands {
			for depName, depRange := range c.dependencies {
				builder.addImplicationClause(name, c.version, depName, effectiveRange(depRange), []string{name})
			}
		}
	}

	order := builder.decisionOrder(priorPins, opts.PreferLatest)
	assignment, ok := solve(builder.cnf, order)
	if !ok {
		return nil, explainConflict(enum, roots)
	}

	selected := make(map[string]ResolvedPackage)
	for _, v := range builder.cnf.trueVars(assignment) {
		selected[v.name] = ResolvedPackage{
			Version:      v.version,
			Dependencies: enum.dependenciesOf(v.name, v.version),
		}
	}

	// The CNF enumerates a candidate's dependencies for every version of
	// every package the roots could reach, not just the versions the
	// solver actually selected. A package reachable only through a
	// non-selected version's dependency edge (e.g. an older sibling
	// version that depended on something the selected version dropped)
	// still gets its own clauses and can end up assigned true without
	// anything *selected* actually requiring it. Walk the dependency
	// graph of the selected versions only, starting from the roots, and
	// keep just what that walk reaches.
	result := &Result{Packages: make(map[string]ResolvedPackage), Warnings: warnings}
	for _, name := range reachableFromRoots(rootNames, selected) {
		result.Packages[name] = selected[name]
	}
	return result, nil
}

// reachableFromRoots walks selected's recorded Dependencies edges
// starting at roots, returning every package name actually required by
// the selected assignment (spec §4.G).
func reachableFromRoots(rootNames []string, selected map[string]ResolvedPackage) []string {
	visited := make(map[string]bool)
	var order []string
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		pkg, ok := selected[name]
		if !ok {
			return
		}
		order = append(order, name)
		for _, dep := range sortedKeys(pkg.Dependencies) {
			visit(dep)
		}
	}
	for _, name := range rootNames {
		visit(name)
	}
	return order
}

// effectiveRange treats an empty range as unconstrained, per spec §4.G
// edge cases ("a root range is `*`... treat as `>=0.0.0 <∞`").
func effectiveRange(rng string) string {
	rng = strings.TrimSpace(rng)
	if rng == "" || rng == "*" {
		return "*"
	}
	return rng
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedSetKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
