package commands

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/manager"
	"github.com/terrazul-ai/tz/internal/manifest"
	"github.com/terrazul-ai/tz/internal/shim"
)

// AddCommand declares a new dependency in agents.toml and installs it.
type AddCommand struct{ BaseCommand }

// NewAddCommand builds the `tz add` handler.
func NewAddCommand() *AddCommand {
	return &AddCommand{NewBaseCommand(
		"add a dependency to agents.toml and install it",
		"tz add <@owner/name>[@range]",
	)}
}

// Execute implements CommandHandler.
func (c *AddCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse add flags", err)
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return errs.New(errs.KindInvalidArgument, "usage: "+c.Usage())
	}
	name, rng := splitNameRange(rest[0])
	if rng == "" {
		rng = "^0.0.0"
	}

	m, err := loadProjectManifest(app.Env.ProjectRoot)
	if err != nil {
		return err
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string]string{}
	}
	m.Dependencies[name] = rng
	if err := writeProjectManifest(app.Env.ProjectRoot, m); err != nil {
		return err
	}

	result, err := app.Manager.InstallFromConfig(cliContext(), app.Env.ProjectRoot, m, manager.Options{})
	if err != nil {
		return err
	}
	shim.Successf("added %s@%s (%d package(s) installed)", name, rng, len(result.Lockfile.Packages))
	return nil
}

func splitNameRange(spec string) (name, rng string) {
	if !strings.HasPrefix(spec, "@") {
		return spec, ""
	}
	rest := spec[1:]
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		return "@" + rest[:i], rest[i+1:]
	}
	return spec, ""
}

func writeProjectManifest(projectRoot string, m *manifest.Manifest) error {
	data, err := manifest.Marshal(m)
	if err != nil {
		return err
	}
	path := filepath.Join(projectRoot, "agents.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.KindStorage, "write agents.toml", err)
	}
	return nil
}
