package resolver

import (
	semver "github.com/Masterminds/semver/v3"

	"github.com/terrazul-ai/tz/internal/errs"
)

// enumerator performs the transitive registry walk (spec §4.G step 1):
// starting from the roots, pull every reachable package's version list
// and apply the yanked-version policy before any clause is built.
type enumerator struct {
	idx        Index
	priorPins  map[string]string
	candidates map[string][]candidate
	visited    map[string]bool

	retainedYankWarnings map[string]bool
}

func newEnumerator(idx Index, priorPins map[string]string) *enumerator {
	return &enumerator{
		idx:                  idx,
		priorPins:            priorPins,
		candidates:           make(map[string][]candidate),
		visited:              make(map[string]bool),
		retainedYankWarnings: make(map[string]bool),
	}
}

// visit pulls name's version list (if not already visited), applies yank
// filtering, and recurses into every dependency name its versions
// declare.
func (e *enumerator) visit(name string) error {
	if e.visited[name] {
		return nil
	}
	e.visited[name] = true

	infos, err := e.idx.Versions(name)
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "fetch versions for "+name, err)
	}

	pin := e.priorPins[name]
	var kept []candidate
	for _, info := range infos {
		sv, err := semver.NewVersion(info.Version)
		if err != nil {
			continue // malformed registry data is skipped, not fatal
		}
		if info.Yanked {
			if info.Version == pin {
				e.retainedYankWarnings[name] = true
				kept = append(kept, candidate{name: name, version: info.Version, semverValue: sv, dependencies: info.Dependencies, retainedYank: true})
			}
			continue
		}
		kept = append(kept, candidate{name: name, version: info.Version, semverValue: sv, dependencies: info.Dependencies})
	}
	e.candidates[name] = kept

	depNames := make(map[string]bool)
	for _, c := range kept {
		for dep := range c.dependencies {
			depNames[dep] = true
		}
	}
	for dep := range depNames {
		if err := e.visit(dep); err != nil {
			return err
		}
	}
	return nil
}

func (e *enumerator) dependenciesOf(name, version string) map[string]string {
	for _, c := range e.candidates[name] {
		if c.version == version {
			return c.dependencies
		}
	}
	return nil
}

// satisfying returns the subset of cands whose version matches rng, or
// nil if none do.
func satisfying(cands []candidate, rng string) []candidate {
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return nil
	}
	var out []candidate
	for _, c := range cands {
		if constraint.Check(c.semverValue) {
			out = append(out, c)
		}
	}
	return out
}
