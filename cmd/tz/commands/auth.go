package commands

import (
	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/internal/config"
	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/shim"
)

// LoginCommand drives the device-auth handshake (spec §4.E) and
// persists the issued token into ~/.tz/config.json.
type LoginCommand struct{ BaseCommand }

// NewLoginCommand builds the `tz login` handler.
func NewLoginCommand() *LoginCommand {
	return &LoginCommand{NewBaseCommand(
		"authenticate against the registry via a browser flow",
		"tz login",
	)}
}

// Execute implements CommandHandler.
func (c *LoginCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse login flags", err)
	}

	flow := shim.NewLoginFlow(app.Client, app.Progress)
	token, err := flow.Run(cliContext())
	if err != nil {
		return err
	}

	env := app.Config.ActiveEnvironment()
	env.Token = token.Token
	env.Username = token.Subject
	env.TokenExpiry = token.ExpiresAt
	if app.Config.Environments == nil {
		app.Config.Environments = map[string]config.Environment{}
	}
	app.Config.Environments[app.Config.Environment] = env
	app.Config.Token = token.Token
	app.Config.Username = token.Subject
	app.Config.TokenExpiry = token.ExpiresAt

	if err := config.Save(app.ConfigRoot, app.Config); err != nil {
		return err
	}
	shim.Successf("logged in as %s", token.Subject)
	return nil
}

// LogoutCommand revokes the current token and clears it from the local
// config.
type LogoutCommand struct{ BaseCommand }

// NewLogoutCommand builds the `tz logout` handler.
func NewLogoutCommand() *LogoutCommand {
	return &LogoutCommand{NewBaseCommand(
		"revoke the current session and forget its token",
		"tz logout",
	)}
}

// Execute implements CommandHandler.
func (c *LogoutCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("logout", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse logout flags", err)
	}

	if app.Config.TokenID != "" {
		if err := app.Client.RevokeToken(cliContext(), app.Config.TokenID); err != nil {
			shim.Warningf("could not revoke token server-side: %v", err)
		}
	}

	env := app.Config.ActiveEnvironment()
	env.Token, env.TokenID, env.TokenExpiry, env.Username = "", "", "", ""
	if app.Config.Environments != nil {
		app.Config.Environments[app.Config.Environment] = env
	}
	app.Config.Token, app.Config.TokenID, app.Config.TokenExpiry, app.Config.Username = "", "", "", ""

	if err := config.Save(app.ConfigRoot, app.Config); err != nil {
		return err
	}
	shim.Success("logged out")
	return nil
}

// WhoamiCommand reports the authenticated identity, if any.
type WhoamiCommand struct{ BaseCommand }

// NewWhoamiCommand builds the `tz whoami` handler.
func NewWhoamiCommand() *WhoamiCommand {
	return &WhoamiCommand{NewBaseCommand(
		"print the currently authenticated identity",
		"tz whoami",
	)}
}

// Execute implements CommandHandler.
func (c *WhoamiCommand) Execute(app *App, args []string) error {
	env := app.Config.ActiveEnvironment()
	if env.Token == "" {
		shim.Info("not logged in (run `tz login`)")
		return nil
	}
	info, err := app.Client.AuthIntrospect(cliContext())
	if err != nil {
		return err
	}
	shim.Infof("logged in as %s against %s", info.Subject, env.Registry)
	return nil
}
