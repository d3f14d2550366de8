package resolver

import (
	"sort"

	semver "github.com/Masterminds/semver/v3"
)

// variable is one boolean (name, version) selection variable.
type variable struct {
	name    string
	version string
}

// cnf is the boolean formula built from the candidate set: one variable
// per (name, version), clauses expressed as signed 1-based variable
// indices (positive literal means the variable must be true to satisfy
// the clause via that term, negative means false).
type cnf struct {
	vars     []variable
	varIndex map[variable]int // value is the 1-based index into vars
	clauses  [][]int
}

func newCNF() *cnf {
	return &cnf{varIndex: make(map[variable]int)}
}

func (c *cnf) varID(name, version string) int {
	v := variable{name: name, version: version}
	if id, ok := c.varIndex[v]; ok {
		return id
	}
	c.vars = append(c.vars, v)
	id := len(c.vars)
	c.varIndex[v] = id
	return id
}

func (c *cnf) addClause(lits ...int) {
	if len(lits) == 0 {
		return
	}
	c.clauses = append(c.clauses, lits)
}

// cnfBuilder assembles clauses from the enumerated candidate set and
// records which package required which (explainConflict does not read
// this record).
type cnfBuilder struct {
	cnf        *cnf
	candidates map[string][]candidate
	requirers  map[string]map[string]bool // package -> set of requiring package/root names
}

func newCNFBuilder(candidates map[string][]candidate) *cnfBuilder {
	b := &cnfBuilder{cnf: newCNF(), candidates: candidates, requirers: make(map[string]map[string]bool)}
	for name, cands := range candidates {
		ids := make([]int, 0, len(cands))
		for _, c := range cands {
			ids = append(ids, b.cnf.varID(name, c.version))
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				b.cnf.addClause(-ids[i], -ids[j])
			}
		}
	}
	return b
}

func (b *cnfBuilder) markRequirer(pkg string, requiredBy []string) {
	set, ok := b.requirers[pkg]
	if !ok {
		set = make(map[string]bool)
		b.requirers[pkg] = set
	}
	for _, r := range requiredBy {
		set[r] = true
	}
}

// addRootClause adds the disjunction over name's candidates satisfying
// rng (spec §4.G step 2, "root obligation").
func (b *cnfBuilder) addRootClause(name, rng string, requiredBy []string) {
	b.markRequirer(name, requiredBy)
	cands := satisfying(b.candidates[name], rng)
	lits := make([]int, 0, len(cands))
	for _, c := range cands {
		lits = append(lits, b.cnf.varID(name, c.version))
	}
	b.cnf.addClause(lits...)
}

// addImplicationClause adds (¬parent ∨ w1 ∨ … ∨ wk) for a dependency
// edge (spec §4.G step 2, "dependency implication").
func (b *cnfBuilder) addImplicationClause(parentName, parentVersion, depName, depRange string, requiredBy []string) {
	b.markRequirer(depName, requiredBy)
	parentLit := -b.cnf.varID(parentName, parentVersion)
	cands := satisfying(b.candidates[depName], depRange)
	lits := []int{parentLit}
	for _, c := range cands {
		lits = append(lits, b.cnf.varID(depName, c.version))
	}
	b.cnf.addClause(lits...)
}

// decisionOrder returns variable indices in the order the solver should
// try assigning them true: packages alphabetically, and within a package
// the prior-pinned version first (unless preferLatest), then semver
// descending with prereleases ranked below releases at equal precedence,
// then lexical ascending as the final tie-break (spec §4.G step 3/5).
func (b *cnfBuilder) decisionOrder(priorPins map[string]string, preferLatest bool) []int {
	names := make([]string, 0, len(b.candidates))
	for name := range b.candidates {
		names = append(names, name)
	}
	sort.Strings(names)

	var order []int
	for _, name := range names {
		cands := append([]candidate(nil), b.candidates[name]...)
		pin := priorPins[name]
		sort.SliceStable(cands, func(i, j int) bool {
			if !preferLatest && pin != "" {
				if cands[i].version == pin {
					return true
				}
				if cands[j].version == pin {
					return false
				}
			}
			return rankLess(cands[j].semverValue, cands[i].semverValue, cands[j].version, cands[i].version)
		})
		for _, c := range cands {
			order = append(order, b.cnf.varID(name, c.version))
		}
	}
	return order
}

// rankLess reports whether a ranks below b, i.e. is tried after b when
// the latest candidate is tried first: lower semver precedence, then
// prerelease below release at equal precedence, then the lexically
// greater string below the smaller one.
func rankLess(a, b *semver.Version, aStr, bStr string) bool {
	if c := a.Compare(b); c != 0 {
		return c < 0
	}
	aPre, bPre := a.Prerelease() != "", b.Prerelease() != ""
	if aPre != bPre {
		return aPre // prerelease ranks below (i.e. "less preferred" / sorts later when wanting latest first)
	}
	return aStr > bStr
}

// solve runs a DPLL-style procedure: unit propagation to a fixpoint,
// then decisions in the supplied order (try true, then false), with
// chronological backtracking on conflict.
func solve(c *cnf, order []int) ([]int8, bool) {
	assignment := make([]int8, len(c.vars)+1) // 1-based; -1 = unknown
	for i := range assignment {
		assignment[i] = -1
	}
	return dpll(c, order, assignment, 0)
}

func dpll(c *cnf, order []int, assignment []int8, pos int) ([]int8, bool) {
	a, ok := propagate(c, assignment)
	if !ok {
		return nil, false
	}
	assignment = a

	for pos < len(order) && assignment[order[pos]] != -1 {
		pos++
	}
	if pos == len(order) {
		return assignment, true
	}

	v := order[pos]
	for _, tryTrue := range []bool{true, false} {
		trial := append([]int8(nil), assignment...)
		if tryTrue {
			trial[v] = 1
		} else {
			trial[v] = 0
		}
		if res, ok := dpll(c, order, trial, pos+1); ok {
			return res, true
		}
	}
	return nil, false
}

// propagate applies unit propagation to a fixpoint, returning the
// updated assignment and false if a clause became empty (conflict).
func propagate(c *cnf, assignment []int8) ([]int8, bool) {
	out := append([]int8(nil), assignment...)
	changed := true
	for changed {
		changed = false
		for _, clause := range c.clauses {
			status, unit := evalClause(clause, out)
			switch status {
			case clauseFalse:
				return nil, false
			case clauseUnit:
				lit := unit
				id := lit
				val := int8(1)
				if id < 0 {
					id = -id
					val = 0
				}
				if out[id] == -1 {
					out[id] = val
					changed = true
				}
			}
		}
	}
	return out, true
}

type clauseStatus int

const (
	clauseSatisfied clauseStatus = iota
	clauseFalse
	clauseUnit
	clauseUndetermined
)

func evalClause(clause []int, assignment []int8) (clauseStatus, int) {
	unknownCount := 0
	var lastUnknown int
	for _, lit := range clause {
		id := lit
		wantTrue := true
		if id < 0 {
			id = -id
			wantTrue = false
		}
		switch assignment[id] {
		case -1:
			unknownCount++
			lastUnknown = lit
		case 1:
			if wantTrue {
				return clauseSatisfied, 0
			}
		case 0:
			if !wantTrue {
				return clauseSatisfied, 0
			}
		}
	}
	if unknownCount == 0 {
		return clauseFalse, 0
	}
	if unknownCount == 1 {
		return clauseUnit, lastUnknown
	}
	return clauseUndetermined, 0
}

// trueVars returns the (name, version) pairs assigned true.
func (c *cnf) trueVars(assignment []int8) []variable {
	var out []variable
	for i, v := range c.vars {
		if assignment[i+1] == 1 {
			out = append(out, v)
		}
	}
	return out
}
