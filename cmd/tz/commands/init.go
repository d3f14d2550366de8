package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/manifest"
	"github.com/terrazul-ai/tz/internal/shim"
)

// InitCommand writes a starter agents.toml in the project directory.
type InitCommand struct{ BaseCommand }

// NewInitCommand builds the `tz init` handler.
func NewInitCommand() *InitCommand {
	return &InitCommand{NewBaseCommand(
		"create a starter agents.toml in the current project",
		"tz init [--name <@owner/name>] [--force]",
	)}
}

// Execute implements CommandHandler.
func (c *InitCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	name := fs.String("name", "", "scoped package name, e.g. @acme/starter")
	force := fs.Bool("force", false, "overwrite an existing agents.toml")
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse init flags", err)
	}

	path := filepath.Join(app.Env.ProjectRoot, "agents.toml")
	if _, err := os.Stat(path); err == nil && !*force {
		return errs.New(errs.KindInvalidArgument, "agents.toml already exists (use --force to overwrite)")
	}

	pkgName := *name
	if pkgName == "" {
		pkgName = "@local/" + filepath.Base(app.Env.ProjectRoot)
	}

	m := &manifest.Manifest{
		Package: manifest.PackageInfo{Name: pkgName, Version: "0.1.0"},
	}
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := manifest.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.KindStorage, "write agents.toml", err)
	}

	shim.Successf("created %s", path)
	return nil
}
