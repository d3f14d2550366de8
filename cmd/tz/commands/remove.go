package commands

import (
	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/lockfile"
	"github.com/terrazul-ai/tz/internal/shim"
	"github.com/terrazul-ai/tz/internal/symlink"
)

// RemoveCommand drops a dependency from agents.toml and re-prunes the
// lockfile (spec §4.H's prune step, driven without a full resolve).
type RemoveCommand struct{ BaseCommand }

// NewRemoveCommand builds the `tz remove` handler.
func NewRemoveCommand() *RemoveCommand {
	return &RemoveCommand{NewBaseCommand(
		"remove a dependency from agents.toml",
		"tz remove <@owner/name>",
	)}
}

// Execute implements CommandHandler.
func (c *RemoveCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("remove", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse remove flags", err)
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return errs.New(errs.KindInvalidArgument, "usage: "+c.Usage())
	}
	name := rest[0]

	m, err := loadProjectManifest(app.Env.ProjectRoot)
	if err != nil {
		return err
	}
	if _, ok := m.Dependencies[name]; !ok {
		return errs.New(errs.KindInvalidArgument, name+" is not a dependency of this project")
	}
	delete(m.Dependencies, name)
	if err := writeProjectManifest(app.Env.ProjectRoot, m); err != nil {
		return err
	}

	lf, err := lockfile.Read(app.Env.ProjectRoot)
	if err != nil {
		return err
	}
	if lf != nil {
		roots := make([]string, 0, len(m.Dependencies)+1)
		roots = append(roots, m.Package.Name)
		for dep := range m.Dependencies {
			roots = append(roots, dep)
		}
		pruned, removed := lockfile.Prune(lf, roots)
		if err := lockfile.Write(pruned, app.Env.ProjectRoot); err != nil {
			return err
		}
		for _, p := range removed {
			shim.Infof("removed unreferenced package %s", p)
		}
	}

	if err := unlinkPackage(app, name); err != nil {
		return err
	}

	shim.Successf("removed %s", name)
	return nil
}

// unlinkPackage deletes the `.claude/agents/…`-style links a previous
// `tz render` created for name (spec §4.M's removeSymlinks), leaving
// links belonging to every other package untouched.
func unlinkPackage(app *App, name string) error {
	actions, err := symlink.LoadActions(app.Env.ProjectRoot)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}
	remaining, err := symlink.New(app.Env.ProjectRoot).RemoveSymlinks(actions, name)
	if err != nil {
		return err
	}
	if len(remaining) == len(actions) {
		return nil
	}
	return symlink.SaveActions(app.Env.ProjectRoot, remaining)
}
