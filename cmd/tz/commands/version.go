package commands

import "fmt"

// VersionCommand prints the tz CLI version.
type VersionCommand struct{ BaseCommand }

// NewVersionCommand builds the `tz version` handler.
func NewVersionCommand() *VersionCommand {
	return &VersionCommand{NewBaseCommand("print the tz version", "tz version")}
}

// Execute implements CommandHandler.
func (c *VersionCommand) Execute(app *App, args []string) error {
	fmt.Fprintln(app.Stdout, "tz "+app.CLIVersion)
	return nil
}
