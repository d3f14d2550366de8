package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/lockfile"
)

// WhyCommand walks the lockfile's dependency graph backward from a
// package to its roots, the supplemented-feature equivalent of the
// teacher's `cmd/orizon/pkg/commands/why.go`/`graph.go`, adapted to
// scoped package names and this module's lockfile shape (no resolver
// decision trail to replay — the lockfile's recorded `dependencies`
// edges are sufficient to explain why a package is installed).
type WhyCommand struct{ BaseCommand }

// NewWhyCommand builds the `tz why` handler.
func NewWhyCommand() *WhyCommand {
	return &WhyCommand{NewBaseCommand(
		"explain why a package is installed",
		"tz why <@owner/name>",
	)}
}

// Execute implements CommandHandler.
func (c *WhyCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("why", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse why flags", err)
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return errs.New(errs.KindInvalidArgument, "usage: "+c.Usage())
	}
	target := rest[0]

	lf, err := lockfile.Read(app.Env.ProjectRoot)
	if err != nil {
		return err
	}
	if lf == nil || len(lf.Packages) == 0 {
		return errs.New(errs.KindInvalidArgument, "no lockfile (run `tz install` first)")
	}
	if _, ok := lf.Packages[target]; !ok {
		return errs.New(errs.KindInvalidArgument, target+" is not installed")
	}

	m, err := loadProjectManifest(app.Env.ProjectRoot)
	if err != nil {
		return err
	}

	var paths [][]string
	for _, dep := range sortedDepNames(m.Dependencies) {
		paths = append(paths, requirementPaths(lf, dep, target, []string{m.Package.Name}, map[string]bool{})...)
	}
	if len(paths) == 0 {
		fmt.Fprintf(app.Stdout, "%s is not reachable from %s\n", target, m.Package.Name)
		return nil
	}
	sort.Slice(paths, func(i, j int) bool { return pathKey(paths[i]) < pathKey(paths[j]) })
	for _, p := range paths {
		fmt.Fprintln(app.Stdout, formatPath(p))
	}
	return nil
}

// requirementPaths finds every simple path in the lockfile's dependency
// graph from node to target, expressed root-first (prefix holds the
// path taken so far, starting with the project's own package name).
func requirementPaths(lf *lockfile.Lockfile, node, target string, prefix []string, visiting map[string]bool) [][]string {
	if visiting[node] {
		return nil
	}
	visiting = cloneVisiting(visiting)
	visiting[node] = true
	path := append(append([]string{}, prefix...), node)

	if node == target {
		return [][]string{path}
	}

	entry, ok := lf.Packages[node]
	if !ok {
		return nil
	}
	var out [][]string
	for _, dep := range sortedDepNames(entry.Dependencies) {
		out = append(out, requirementPaths(lf, dep, target, path, visiting)...)
	}
	return out
}

func cloneVisiting(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedDepNames(deps map[string]string) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func formatPath(path []string) string {
	out := path[0]
	for _, seg := range path[1:] {
		out += " -> " + seg
	}
	return out
}

func pathKey(path []string) string {
	return formatPath(path)
}
