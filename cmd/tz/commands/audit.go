package commands

import (
	"sort"

	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/lockfile"
	"github.com/terrazul-ai/tz/internal/manifest"
	"github.com/terrazul-ai/tz/internal/shim"
)

// AuditCommand cross-checks every lockfile entry against the registry's
// currently-declared state for that version and against the project's
// configured host tools, the supplemented feature named in
// SPEC_FULL.md alongside `tz why`.
type AuditCommand struct{ BaseCommand }

// NewAuditCommand builds the `tz audit` handler.
func NewAuditCommand() *AuditCommand {
	return &AuditCommand{NewBaseCommand(
		"check installed packages for integrity drift, yanked versions, and missing exports",
		"tz audit",
	)}
}

// Execute implements CommandHandler.
func (c *AuditCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse audit flags", err)
	}

	lf, err := lockfile.Read(app.Env.ProjectRoot)
	if err != nil {
		return err
	}
	if lf == nil || len(lf.Packages) == 0 {
		shim.Info("no packages installed (run `tz install`)")
		return nil
	}

	configuredHosts := make(map[string]bool, len(app.Config.Profile.Tools))
	for _, tp := range app.Config.Profile.Tools {
		configuredHosts[tp.Type] = true
	}

	names := make([]string, 0, len(lf.Packages))
	for name := range lf.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	findings := 0
	for _, name := range names {
		entry := lf.Packages[name]

		if entry.Yanked {
			shim.Warningf("%s@%s is installed but yanked: %s", name, entry.Version, entry.YankedReason)
			findings++
		}

		owner, slug := manifest.Owner(name), manifest.Local(name)
		versions, err := app.Client.Versions(cliContext(), owner, slug)
		if err != nil {
			shim.Warningf("%s: could not reach registry to audit integrity (%v)", name, err)
			continue
		}
		current, ok := versions[entry.Version]
		if !ok {
			shim.Warningf("%s@%s: version no longer listed by the registry", name, entry.Version)
			findings++
			continue
		}
		if current.Integrity != "" && entry.Integrity != "" && current.Integrity != entry.Integrity {
			shim.Errorf("%s@%s: integrity drift — lockfile has %s, registry now reports %s", name, entry.Version, entry.Integrity, current.Integrity)
			findings++
		}
		if current.Yanked && !entry.Yanked {
			shim.Warningf("%s@%s has since been yanked: %s", name, entry.Version, current.YankedReason)
			findings++
		}

		if len(configuredHosts) == 0 {
			continue
		}
		exported, err := exportedHosts(app, name, entry.Version)
		if err != nil {
			continue
		}
		for host := range configuredHosts {
			if !exported[host] {
				shim.Infof("%s does not export anything for configured tool %q", name, host)
			}
		}
	}

	if findings == 0 {
		shim.Success("audit found no integrity or yank drift")
	}
	return nil
}

func exportedHosts(app *App, name, version string) (map[string]bool, error) {
	m, err := loadProjectManifest(app.Store.PackagePath(name, version))
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(m.Exports))
	for host := range m.Exports {
		out[host] = true
	}
	return out, nil
}
