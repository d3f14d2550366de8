package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/manager"
	"github.com/terrazul-ai/tz/internal/manifest"
	"github.com/terrazul-ai/tz/internal/shim"
)

// InstallCommand resolves and materializes every dependency declared in
// the project's agents.toml (spec §4.H).
type InstallCommand struct{ BaseCommand }

// NewInstallCommand builds the `tz install` handler.
func NewInstallCommand() *InstallCommand {
	return &InstallCommand{NewBaseCommand(
		"resolve and install every dependency in agents.toml",
		"tz install [--offline] [--frozen-lockfile] [--force] [--prefer-latest]",
	)}
}

// Execute implements CommandHandler.
func (c *InstallCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("install", pflag.ContinueOnError)
	offline := fs.Bool("offline", false, "resolve only from the existing lockfile")
	frozen := fs.Bool("frozen-lockfile", false, "fail if resolution would change the lockfile")
	force := fs.Bool("force", false, "refetch packages already present in the store")
	preferLatest := fs.Bool("prefer-latest", false, "prefer the newest satisfying version over lockfile continuity")
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse install flags", err)
	}

	m, err := loadProjectManifest(app.Env.ProjectRoot)
	if err != nil {
		return err
	}

	bar := shim.NewSpinner(app.Progress, "Resolving dependencies")
	result, err := app.Manager.InstallFromConfig(cliContext(), app.Env.ProjectRoot, m, manager.Options{
		Offline: *offline, FrozenLockfile: *frozen, Force: *force, PreferLatest: *preferLatest,
	})
	shim.Finish(bar)
	if err != nil {
		return err
	}

	shim.Successf("installed %d package(s)", len(result.Lockfile.Packages))
	for _, w := range result.Warnings {
		shim.Warning(w.Message)
	}
	for _, p := range result.Pruned {
		shim.Infof("removed unreferenced package %s", p)
	}
	return nil
}

func loadProjectManifest(projectRoot string) (*manifest.Manifest, error) {
	path := filepath.Join(projectRoot, "agents.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindFileNotFound, "no agents.toml in "+projectRoot+" (run `tz init` first)")
		}
		return nil, errs.Wrap(errs.KindStorage, "read agents.toml", err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
