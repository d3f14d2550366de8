// Package commands implements tz's subcommands. Each subcommand is a
// CommandHandler the top-level dispatcher in cmd/tz looks up by name,
// grounded on the teacher's cmd/orizon/pkg/types/types.go
// (CommandHandler) and cmd/orizon/pkg/commands/base.go (BaseCommand) —
// generalized from Orizon's RegistryContext (registry + signature
// store) to tz's App (registry client, store, manager, template
// renderer, and the shim collaborators a command needs).
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/terrazul-ai/tz/internal/config"
	"github.com/terrazul-ai/tz/internal/env"
	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/manager"
	"github.com/terrazul-ai/tz/internal/obslog"
	"github.com/terrazul-ai/tz/internal/obsmetrics"
	"github.com/terrazul-ai/tz/internal/registry"
	"github.com/terrazul-ai/tz/internal/shim"
	"github.com/terrazul-ai/tz/internal/store"
)

// App bundles every collaborator a subcommand may need. It is built
// once in cmd/tz/main.go and passed to every CommandHandler.
type App struct {
	Env        *env.Environment
	Config     *config.Config
	ConfigRoot string
	Client     *registry.Client
	Store      *store.Store
	Manager    *manager.Manager
	Metrics    *obsmetrics.Metrics
	Log        *obslog.Logger

	Stdout   io.Writer
	Stderr   io.Writer
	JSON     bool
	Progress shim.ProgressConfig

	CLIVersion string
}

// CommandHandler is the interface every tz subcommand implements.
type CommandHandler interface {
	Execute(app *App, args []string) error
	Description() string
	Usage() string
}

// BaseCommand provides the description/usage plumbing every subcommand
// embeds, mirroring the teacher's BaseCommand.
type BaseCommand struct {
	description string
	usage       string
}

// NewBaseCommand builds a BaseCommand carrying description and usage.
func NewBaseCommand(description, usage string) BaseCommand {
	return BaseCommand{description: description, usage: usage}
}

func (c *BaseCommand) Description() string { return c.description }
func (c *BaseCommand) Usage() string       { return c.usage }

// PrintUsage writes the command's usage string to stderr.
func (c *BaseCommand) PrintUsage(app *App) {
	fmt.Fprintln(app.Stderr, c.Usage())
}

// Fail wraps err as a CLI-reportable error without terminating the
// process; cmd/tz's dispatcher is the single place that calls os.Exit.
func Fail(kind errs.Kind, message string, err error) error {
	return errs.Wrap(kind, message, err)
}

// cliContext is the background context every command runs under. tz
// has no request-scoped cancellation source of its own, and cmd/tz
// installs no signal handler, so Ctrl-C ends the process directly.
func cliContext() context.Context {
	return context.Background()
}
