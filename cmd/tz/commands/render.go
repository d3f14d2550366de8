package commands

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/pflag"

	"github.com/terrazul-ai/tz/internal/config"
	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/inject"
	"github.com/terrazul-ai/tz/internal/lockfile"
	"github.com/terrazul-ai/tz/internal/shim"
	snippetcache "github.com/terrazul-ai/tz/internal/snippet/cache"
	"github.com/terrazul-ai/tz/internal/symlink"
	"github.com/terrazul-ai/tz/internal/template"
)

// RenderCommand materializes every installed package's host exports
// into the project tree (spec §4.K): templates, settings/mcp JSON, and
// subagent/command/skill/prompt directory trees.
type RenderCommand struct{ BaseCommand }

// NewRenderCommand builds the `tz render` handler.
func NewRenderCommand() *RenderCommand {
	return &RenderCommand{NewBaseCommand(
		"render installed packages' host exports into this project",
		"tz render [--force] [--dry-run] [--no-cache]",
	)}
}

// Execute implements CommandHandler.
func (c *RenderCommand) Execute(app *App, args []string) error {
	fs := pflag.NewFlagSet("render", pflag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite existing files without backing them up")
	dryRun := fs.Bool("dry-run", false, "report what would be written without touching disk")
	noCache := fs.Bool("no-cache", false, "re-run every askUser/askAgent snippet instead of reusing cached answers")
	if err := fs.Parse(args); err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "parse render flags", err)
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

	pkgs := make([]template.Package, 0, len(names))
	for _, name := range names {
		entry := lf.Packages[name]
		pkgs = append(pkgs, template.Package{
			Name:    name,
			Version: entry.Version,
			Dir:     app.Store.PackagePath(name, entry.Version),
		})
	}

	cache, err := snippetcache.New(app.Env.ProjectRoot)
	if err != nil {
		return err
	}

	profiles := map[string]config.ToolProfile{}
	for _, tp := range app.Config.Profile.Tools {
		profiles[tp.Type] = tp
	}

	opts := template.Options{
		Force:         *force,
		DryRun:        *dryRun,
		NoCache:       *noCache,
		ContextFiles:  app.Config.Context.Files,
		Prompter:      shim.NewTTYPrompter(),
		Runner:        &shim.CLIAgentRunner{Profiles: profiles},
		Cache:         cache,
		Metrics:       app.Metrics,
		OnTemplateStart: func(pkg, host, dest string) {
			shim.Infof("%s -> %s", pkg, dest)
		},
	}

	result, err := template.Plan(cliContext(), app.Env.ProjectRoot, pkgs, opts)
	if err != nil {
		return err
	}

	for _, dest := range result.Written {
		shim.Successf("wrote %s", dest)
	}
	for _, dest := range result.BackedUp {
		shim.Warningf("backed up existing file to %s", dest)
	}
	for _, skip := range result.Skipped {
		shim.Infof("skipped %s (%s)", skip.Dest, skip.Reason)
	}

	if *dryRun {
		for _, de := range result.DirExports {
			shim.Infof("would link %s -> %s", de.HostDest, de.StagingSource)
		}
		return nil
	}

	if err := injectContextFiles(app, names, result); err != nil {
		return err
	}
	if err := linkDirExports(app, names, result); err != nil {
		return err
	}
	return nil
}

// injectContextFiles maintains the managed head block (spec §4.L) in
// every host context file a package rendered to, per result.RenderedFiles
// filtered to the configured CLAUDE.md/AGENTS.md/GEMINI.md basenames.
// Directory exports never match these basenames, so they're naturally
// excluded per §4.L's "directory exports are excluded" rule.
func injectContextFiles(app *App, pkgNames []string, result *template.Result) error {
	ctxFiles := app.Config.Context.Files
	contextBasenames := map[string]bool{
		ctxFiles.Claude: true,
		ctxFiles.Codex:  true,
		ctxFiles.Gemini: true,
	}

	entriesByDest := map[string][]inject.Entry{}
	var destOrder []string
	for _, name := range pkgNames {
		for _, dest := range result.RenderedFiles[name] {
			if !contextBasenames[filepath.Base(dest)] {
				continue
			}
			relDest, err := filepath.Rel(app.Env.ProjectRoot, dest)
			if err != nil {
				relDest = dest
			}
			if _, ok := entriesByDest[dest]; !ok {
				destOrder = append(destOrder, dest)
			}
			entriesByDest[dest] = append(entriesByDest[dest], inject.Entry{PackageName: name, RelPath: relDest})
		}
	}

	for _, dest := range destOrder {
		current, err := os.ReadFile(dest)
		if err != nil {
			return errs.Wrap(errs.KindStorage, "read rendered context file "+dest, err)
		}
		updated, changed := inject.Inject(string(current), entriesByDest[dest])
		if !changed {
			continue
		}
		if err := os.WriteFile(dest, []byte(updated), 0o644); err != nil {
			return errs.Wrap(errs.KindStorage, "inject package context block into "+dest, err)
		}
		shim.Successf("injected package context block into %s", dest)
	}
	return nil
}

// linkDirExports materializes the `.claude/agents/…`-style link trees
// (spec §4.M) for every directory export the render pass staged, and
// persists the resulting action list so a later `tz remove` can find and
// clean up exactly what a render created.
func linkDirExports(app *App, pkgNames []string, result *template.Result) error {
	if len(result.DirExports) == 0 {
		return nil
	}

	existing, err := symlink.LoadActions(app.Env.ProjectRoot)
	if err != nil {
		return err
	}
	rendered := map[string]bool{}
	for _, name := range pkgNames {
		rendered[name] = true
	}
	kept := existing[:0:0]
	for _, a := range existing {
		if !rendered[a.Package] {
			kept = append(kept, a)
		}
	}

	mgr := symlink.New(app.Env.ProjectRoot)
	for _, de := range result.DirExports {
		action, err := mgr.Link(de.Package, de.HostDest, de.StagingSource)
		if err != nil {
			return err
		}
		kept = append(kept, action)
		shim.Successf("linked %s -> %s", action.Dest, action.Source)
	}

	return symlink.SaveActions(app.Env.ProjectRoot, kept)
}
