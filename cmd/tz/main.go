// Command tz is the AI-agent configuration package manager's CLI: the
// thin binary that wires internal/manager, internal/template,
// internal/config, internal/obsmetrics, and internal/shim together
// behind a set of subcommands. Grounded on the teacher's cmd/orizon/
// main.go top-level `switch sub { ... }` dispatch shape, generalized
// from Orizon's build/test/pkg-subcommand tree onto tz's own
// install/add/remove/render/login subcommand set.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/cmd/tz/commands"
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

// cliVersion is the tz release version baked into builds via
// -ldflags "-X main.cliVersion=...". Local/dev builds keep the
// "0.1.0-dev" default.
var cliVersion = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func registrySubcommands() map[string]commands.CommandHandler {
	return map[string]commands.CommandHandler{
		"init":    commands.NewInitCommand(),
		"install": commands.NewInstallCommand(),
		"add":     commands.NewAddCommand(),
		"remove":  commands.NewRemoveCommand(),
		"list":    commands.NewListCommand(),
		"render":  commands.NewRenderCommand(),
		"login":   commands.NewLoginCommand(),
		"logout":  commands.NewLogoutCommand(),
		"whoami":  commands.NewWhoamiCommand(),
		"version": commands.NewVersionCommand(),
		"why":     commands.NewWhyCommand(),
		"audit":   commands.NewAuditCommand(),
	}
}

func run(args []string) int {
	global := pflag.NewFlagSet("tz", pflag.ContinueOnError)
	noColor := global.Bool("no-color", false, "disable colored output")
	quiet := global.Bool("quiet", false, "suppress progress indicators")
	jsonOut := global.Bool("json", false, "emit machine-readable output where supported")
	metricsAddr := global.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs, e.g. :9090")
	global.Usage = func() { printTopLevelUsage() }
	global.SetInterspersed(false)
	if err := global.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return errs.ExitCode(errs.KindInvalidArgument)
	}

	rest := global.Args()
	if len(rest) == 0 {
		printTopLevelUsage()
		return 0
	}
	name, subArgs := rest[0], rest[1:]

	handlers := registrySubcommands()
	if name == "help" || name == "-h" || name == "--help" {
		printTopLevelUsage()
		return 0
	}
	handler, ok := handlers[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "tz: unknown command %q\n\n", name)
		printTopLevelUsage()
		return errs.ExitCode(errs.KindInvalidArgument)
	}

	shim.InitColors(*noColor)

	app, stopMetrics, err := buildApp(*noColor, *quiet, *jsonOut, *metricsAddr)
	if err != nil {
		shim.Error(err.Error())
		return errs.ExitCode(errs.KindOf(err))
	}
	defer stopMetrics()

	if err := handler.Execute(app, subArgs); err != nil {
		shim.Error(err.Error())
		return errs.ExitCode(errs.KindOf(err))
	}
	return 0
}

func printTopLevelUsage() {
	fmt.Fprintln(os.Stderr, "usage: tz <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "commands:")
	handlers := registrySubcommands()
	for _, name := range []string{"init", "install", "add", "remove", "list", "render", "login", "logout", "whoami", "version", "why", "audit"} {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, handlers[name].Description())
	}
}

// buildApp wires every collaborator a subcommand might need. The
// returned stop func tears down the optional metrics HTTP server.
func buildApp(noColor, quiet, jsonOut bool, metricsAddr string) (*commands.App, func(), error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, func() {}, errs.Wrap(errs.KindStorage, "determine working directory", err)
	}
	environment, err := env.New(cwd)
	if err != nil {
		return nil, func() {}, errs.Wrap(errs.KindStorage, "determine home directory", err)
	}

	configRoot, err := config.Root()
	if err != nil {
		return nil, func() {}, err
	}
	cfg, err := config.Load(configRoot)
	if err != nil {
		return nil, func() {}, err
	}

	active := cfg.ActiveEnvironment()
	token := active.Token
	if v, ok := config.TokenFromEnvVar(); ok {
		token = v
	}
	client, err := registry.New(active.Registry, token)
	if err != nil {
		return nil, func() {}, err
	}

	st, err := store.New(environment.StoreRoot("tz"))
	if err != nil {
		return nil, func() {}, err
	}

	reg := prometheus.NewRegistry()
	metrics := obsmetrics.New(reg)
	stop := func() {}
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: obsmetrics.Handler(reg)}
		go func() { _ = srv.ListenAndServe() }()
		stop = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
	}

	mgr := manager.New(client, st, obslog.Default(), nil, cliVersion)
	mgr.Metrics = metrics

	app := &commands.App{
		Env:        environment,
		Config:     cfg,
		ConfigRoot: configRoot,
		Client:     client,
		Store:      st,
		Manager:    mgr,
		Metrics:    metrics,
		Log:        obslog.Default(),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		JSON:       jsonOut,
		Progress:   shim.NewProgressConfig(quiet, noColor),
		CLIVersion: cliVersion,
	}
	return app, stop, nil
}
