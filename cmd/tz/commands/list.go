package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/lockfile"
	"github.com/terrazul-ai/tz/internal/shim"
)

// ListCommand prints the packages pinned in agents-lock.toml.
type ListCommand struct{ BaseCommand }

// NewListCommand builds the `tz list` handler.
func NewListCommand() *ListCommand {
	return &ListCommand{NewBaseCommand(
		"list packages pinned in agents-lock.toml",
		"tz list",
	)}
}

// Execute implements CommandHandler.
func (c *ListCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse list flags", err)
	}

	lf, err := lockfile.Read(app.Env.ProjectRoot)
	if err != nil {
		return err
	}
	if lf == nil || len(lf.Packages) == 0 {
		shim.Info("no packages installed (run `tz install`)")
		return nil
	}

	names := make([]string, 0, len(lf.Packages))
	for name := range lf.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry := lf.Packages[name]
		flag := ""
		if entry.Yanked {
			flag = " " + shim.DimText("(yanked: "+entry.YankedReason+")")
		}
		fmt.Fprintf(app.Stdout, "%s@%s%s\n", name, entry.Version, flag)
	}
	return nil
}
