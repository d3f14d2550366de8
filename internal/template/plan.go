// Package template's plan.go implements the rendering orchestration of
// spec §4.K: for each selected package, resolve its agents.toml exports
// to destination paths, execute embedded snippets (internal/snippet,
// internal/snippet/exec), evaluate the remaining Handlebars-superset
// expressions (engine.go), and apply the overwrite policy. It is
// grounded on the teacher's internal/packagemanager/manager.go for the
// "collect per-package work, then fan out a flat result" shape, adapted
// here to a sequential walk since rendering must see a stable,
// previously-rendered FindByIDSrc before later files can query it.
package template

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/terrazul-ai/tz/internal/config"
	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/manifest"
	"github.com/terrazul-ai/tz/internal/obsmetrics"
	"github.com/terrazul-ai/tz/internal/sandbox"
	"github.com/terrazul-ai/tz/internal/snippet"
	snippetcache "github.com/terrazul-ai/tz/internal/snippet/cache"
	snippetexec "github.com/terrazul-ai/tz/internal/snippet/exec"
)

// hostDirs names the per-host dotdir tz writes settings/directory
// exports under. Claude Code, Codex CLI, and Gemini CLI each use their
// own project-root dotdir for this; there is no spec-mandated name, so
// this fixes one (see DESIGN.md's Open Question decisions).
var hostDirs = map[manifest.HostName]string{
	manifest.HostClaude: ".claude",
	manifest.HostCodex:  ".codex",
	manifest.HostGemini: ".gemini",
}

// dirExportKinds names the four directory-tree export fields, in a
// fixed order so FindByIDSrc population is deterministic.
var dirExportKinds = []string{"subagentsDir", "commandsDir", "skillsDir", "promptsDir"}

// stagingDir holds rendered directory-export content before
// internal/symlink points the host-visible tree at it (spec §4.M:
// symlinks "point into rendered package outputs").
const stagingDir = ".tz/rendered"

// Package identifies one installed package's extracted tree for the
// renderer to read agents.toml and export sources from.
type Package struct {
	Name    string
	Version string
	Dir     string // extracted package root (contains agents.toml)
}

// Options controls a Plan/Render pass (spec §4.K).
type Options struct {
	Force        bool
	DryRun       bool
	Tool         string
	ToolSafeMode bool
	NoCache      bool

	ContextFiles config.ContextFiles // zero value uses config.Default().Context.Files

	Prompter snippetexec.UserPrompter
	Runner   snippetexec.AgentRunner
	Cache    *snippetcache.Store
	Metrics  *obsmetrics.Metrics

	OnTemplateStart func(pkg, host, dest string)
	OnSnippetEvent  func(pkg string, ev snippetexec.Event)
}

// SkippedEntry records a destination the renderer declined to write and
// why (spec §4.K: "skipped {dest, reason}").
type SkippedEntry struct {
	Dest   string
	Reason string
}

// DirExport records one directory-tree export's staged rendered output
// and the host-visible path it belongs at, so the caller can point
// internal/symlink's Manager at it (spec §4.M: "pointing into rendered
// package outputs").
type DirExport struct {
	Package string
	Host    string
	// HostDest is project-root relative, e.g. ".claude/agents/reviewer.md".
	HostDest string
	// StagingSource is the absolute path to the rendered file content.
	StagingSource string
}

// Result is the full output of a render pass (spec §4.K's "Output
// metadata").
type Result struct {
	Written       []string
	Skipped       []SkippedEntry
	BackedUp      []string
	RenderedFiles map[string][]string // package name -> destinations written or planned
	PackageFiles  map[string][]string // package name -> source files considered
	Snippets      map[string][]string // package name -> snippet IDs executed
	DirExports    []DirExport         // subagent/command/skill/prompt files awaiting a symlink
}

func newResult() *Result {
	return &Result{
		RenderedFiles: map[string][]string{},
		PackageFiles:  map[string][]string{},
		Snippets:      map[string][]string{},
	}
}

// Plan renders and (unless opts.DryRun) writes every export of every
// package in pkgs against projectRoot.
func Plan(ctx context.Context, projectRoot string, pkgs []Package, opts Options) (*Result, error) {
	ctxFiles := opts.ContextFiles
	if ctxFiles == (config.ContextFiles{}) {
		ctxFiles = config.Default().Context.Files
	}

	result := newResult()
	findByID := map[string][]map[string]any{}

	// Directory exports populate findByID before any file export (the
	// template/settings/mcpServers exports) is rendered, so `findById`
	// can reference subagents/commands/skills/prompts from the same or
	// an earlier package.
	for _, pkg := range pkgs {
		m, err := loadManifest(pkg)
		if err != nil {
			return nil, err
		}
		for hostStr, block := range m.Exports {
			host := manifest.HostName(hostStr)
			dir := hostDirs[host]
			if err := renderDirExports(ctx, projectRoot, pkg, host, dir, block, opts, result, findByID); err != nil {
				return nil, err
			}
		}
	}

	for _, pkg := range pkgs {
		m, err := loadManifest(pkg)
		if err != nil {
			return nil, err
		}
		renderCtx := Context{ProjectRoot: projectRoot, Vars: map[string]string{}, FindByIDSrc: findByID}
		for _, host := range sortedHosts(m.Exports) {
			block := m.Exports[string(host)]
			dir := hostDirs[host]
			if block.Template != "" {
				dest := filepath.Join(projectRoot, contextFileName(host, ctxFiles))
				if err := renderFile(ctx, projectRoot, pkg, host, block.Template, dest, renderCtx, opts, result); err != nil {
					return nil, err
				}
			}
			if block.Settings != "" {
				dest := filepath.Join(projectRoot, dir, "settings.json")
				if err := renderFile(ctx, projectRoot, pkg, host, block.Settings, dest, renderCtx, opts, result); err != nil {
					return nil, err
				}
			}
			if block.SettingsLocal != "" {
				dest := filepath.Join(projectRoot, dir, "settings.local.json")
				if err := renderFile(ctx, projectRoot, pkg, host, block.SettingsLocal, dest, renderCtx, opts, result); err != nil {
					return nil, err
				}
			}
			if block.MCPServers != "" {
				dest := filepath.Join(projectRoot, dir, "mcp.json")
				if err := renderFile(ctx, projectRoot, pkg, host, block.MCPServers, dest, renderCtx, opts, result); err != nil {
					return nil, err
				}
			}
		}
	}

	return result, nil
}

func loadManifest(pkg Package) (*manifest.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(pkg.Dir, "agents.toml"))
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidPackage, "read agents.toml for "+pkg.Name, err)
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

func sortedHosts(exports map[string]manifest.ExportBlock) []manifest.HostName {
	names := make([]string, 0, len(exports))
	for h := range exports {
		names = append(names, h)
	}
	sort.Strings(names)
	out := make([]manifest.HostName, len(names))
	for i, n := range names {
		out[i] = manifest.HostName(n)
	}
	return out
}

// contextFileName maps a host to its fixed project-root context file
// basename (spec §4.K's "template → a single host-specific context
// file at project root").
func contextFileName(host manifest.HostName, files config.ContextFiles) string {
	switch host {
	case manifest.HostClaude:
		return orDefault(files.Claude, "CLAUDE.md")
	case manifest.HostCodex:
		return orDefault(files.Codex, "AGENTS.md")
	case manifest.HostGemini:
		return orDefault(files.Gemini, "GEMINI.md")
	default:
		return strings.ToUpper(string(host)) + ".md"
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// renderDirExports walks the four directory-tree export fields for one
// package/host, rendering every file and recording {id, path} entries
// under findByID[kind] for later findById() lookups.
func renderDirExports(ctx context.Context, projectRoot string, pkg Package, host manifest.HostName, hostDir string, block manifest.ExportBlock, opts Options, result *Result, findByID map[string][]map[string]any) error {
	sources := map[string]string{
		"subagentsDir": block.SubagentsDir,
		"commandsDir":  block.CommandsDir,
		"skillsDir":    block.SkillsDir,
		"promptsDir":   block.PromptsDir,
	}
	destSub := map[string]string{
		"subagentsDir": "agents",
		"commandsDir":  "commands",
		"skillsDir":    "skills",
		"promptsDir":   "prompts",
	}

	for _, kind := range dirExportKinds {
		rel := sources[kind]
		if rel == "" {
			continue
		}
		srcDir := filepath.Join(pkg.Dir, rel)
		entries, err := listFilesSorted(srcDir)
		if err != nil {
			return err
		}
		renderCtx := Context{ProjectRoot: projectRoot, Vars: map[string]string{}, FindByIDSrc: findByID}
		for _, relFile := range entries {
			result.PackageFiles[pkg.Name] = append(result.PackageFiles[pkg.Name], filepath.Join(srcDir, relFile))

			destRel := relFile
			basename := filepath.Base(destRel)
			if strings.HasSuffix(basename, ".hbs") {
				destRel = filepath.Join(filepath.Dir(destRel), strings.TrimSuffix(basename, ".hbs"))
			}
			hostDest := filepath.Join(projectRoot, hostDir, destSub[kind], destRel)
			stagingDest := filepath.Join(projectRoot, stagingDir, manifest.Owner(pkg.Name), manifest.Local(pkg.Name), destSub[kind], destRel)

			if err := renderFile(ctx, projectRoot, pkg, host, filepath.Join(rel, relFile), stagingDest, renderCtx, opts, result); err != nil {
				return err
			}

			id := strings.TrimSuffix(filepath.Base(destRel), filepath.Ext(destRel))
			hostDestRelToRoot, relErr := filepath.Rel(projectRoot, hostDest)
			if relErr != nil {
				hostDestRelToRoot = hostDest
			}
			findByID[kind] = append(findByID[kind], map[string]any{"id": id, "path": hostDestRelToRoot})

			result.DirExports = append(result.DirExports, DirExport{
				Package:       pkg.Name,
				Host:          string(host),
				HostDest:      hostDestRelToRoot,
				StagingSource: stagingDest,
			})
		}
	}
	return nil
}

// listFilesSorted returns every regular file under dir, relative to
// dir, in deterministic lexical order. A missing dir is not an error:
// an export field naming a directory the package doesn't ship is
// simply empty.
func listFilesSorted(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindStorage, "walk export directory "+dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// renderFile runs the full pipeline for one source->destination pair:
// sandbox the destination, read the source, parse and execute
// snippets, evaluate the remaining template expressions, and apply the
// overwrite policy.
func renderFile(ctx context.Context, projectRoot string, pkg Package, host manifest.HostName, srcRel, dest string, renderCtx Context, opts Options, result *Result) error {
	destRel, relErr := filepath.Rel(projectRoot, dest)
	if relErr != nil {
		destRel = dest
	}
	resolvedDest, err := sandbox.ResolveWithin(projectRoot, destRel)
	if err != nil {
		result.Skipped = append(result.Skipped, SkippedEntry{Dest: dest, Reason: "destination escapes project root"})
		return nil
	}

	if opts.OnTemplateStart != nil {
		opts.OnTemplateStart(pkg.Name, string(host), resolvedDest)
	}

	srcPath := filepath.Join(pkg.Dir, srcRel)
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return errs.Wrap(errs.KindFileNotFound, "read export source "+srcRel+" for "+pkg.Name, err)
	}
	result.PackageFiles[pkg.Name] = appendUnique(result.PackageFiles[pkg.Name], srcPath)

	snippets, err := snippet.Parse(string(raw))
	if err != nil {
		return errs.Wrap(errs.KindInvalidPackage, "parse snippets in "+srcRel+" for "+pkg.Name, err)
	}

	substituted := string(raw)
	if len(snippets) > 0 {
		env := &snippetexec.Env{
			Prompter:       opts.Prompter,
			Runner:         opts.Runner,
			Cache:          opts.Cache,
			PackageName:    pkg.Name,
			PackageVersion: pkg.Version,
			PackageDir:     pkg.Dir,
			NoCache:        opts.NoCache,
			Metrics:        opts.Metrics,
		}
		if opts.OnSnippetEvent != nil {
			env.OnEvent = func(ev snippetexec.Event) { opts.OnSnippetEvent(pkg.Name, ev) }
		}
		snippetResults, err := snippetexec.Run(ctx, env, snippets)
		if err != nil {
			return err
		}
		substituted = substituteSnippets(string(raw), snippets, snippetResults)
		for name, v := range snippetResults.ByVar {
			renderCtx.Vars[name] = v
		}
		for _, s := range snippets {
			result.Snippets[pkg.Name] = append(result.Snippets[pkg.Name], s.ID)
		}
	}

	rendered, err := Render(substituted, renderCtx)
	if err != nil {
		return errs.Wrap(errs.KindInvalidPackage, "render "+srcRel+" for "+pkg.Name, err)
	}

	result.RenderedFiles[pkg.Name] = append(result.RenderedFiles[pkg.Name], resolvedDest)
	return applyOverwritePolicy(resolvedDest, []byte(rendered), opts, result)
}

// substituteSnippets replaces each snippet's raw `{{ askUser(...) }}`/
// `{{ askAgent(...) }}` span with its resolved value, working from the
// end of the source backward so earlier spans' indices stay valid.
func substituteSnippets(src string, snippets []snippet.Snippet, results *snippetexec.Results) string {
	ordered := make([]snippet.Snippet, len(snippets))
	copy(ordered, snippets)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StartIndex > ordered[j].StartIndex })

	out := src
	for _, s := range ordered {
		value := results.ByID[s.ID]
		out = out[:s.StartIndex] + value + out[s.EndIndex:]
	}
	return out
}

// applyOverwritePolicy implements spec §4.K's four-way overwrite rule.
func applyOverwritePolicy(dest string, content []byte, opts Options, result *Result) error {
	existing, err := os.ReadFile(dest)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindStorage, "read existing destination "+dest, err)
	}

	if exists && string(existing) == string(content) {
		result.Skipped = append(result.Skipped, SkippedEntry{Dest: dest, Reason: "unchanged"})
		return nil
	}

	needsBackup := exists && !opts.Force
	if opts.DryRun {
		result.Written = append(result.Written, dest)
		if needsBackup {
			result.BackedUp = append(result.BackedUp, dest+".bak")
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errs.Wrap(errs.KindStorage, "create destination directory for "+dest, err)
	}

	if needsBackup {
		if err := os.WriteFile(dest+".bak", existing, 0o644); err != nil {
			return errs.Wrap(errs.KindStorage, "back up "+dest, err)
		}
		result.BackedUp = append(result.BackedUp, dest+".bak")
	}

	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return errs.Wrap(errs.KindStorage, "write "+dest, err)
	}
	result.Written = append(result.Written, dest)
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
