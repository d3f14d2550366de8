// Package manager orchestrates install: resolve → download → verify →
// extract → lockfile update (spec §4.H). It is grounded on the
// teacher's internal/packagemanager/manager.go — same errgroup-bounded
// concurrent fetch loop, same ORIZON_MAX_CONCURRENCY-style environment
// override (here TZ_MAX_CONCURRENCY) — adapted from Orizon's CID/Find
// protocol onto tz's resolve-then-download-by-name-and-version flow.
package manager

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/integrity"
	"github.com/terrazul-ai/tz/internal/lockfile"
	"github.com/terrazul-ai/tz/internal/manifest"
	"github.com/terrazul-ai/tz/internal/obslog"
	"github.com/terrazul-ai/tz/internal/obsmetrics"
	"github.com/terrazul-ai/tz/internal/registry"
	"github.com/terrazul-ai/tz/internal/resolver"
	"github.com/terrazul-ai/tz/internal/store"
)

// Options controls installFromConfig behavior (spec §4.H).
type Options struct {
	Offline        bool
	FrozenLockfile bool
	Force          bool
	PreferLatest   bool
}

// Manager ties the resolver, registry client, and content-addressed
// store together to perform installs.
type Manager struct {
	Registry   *registry.Client
	Store      *store.Store
	Log        *obslog.Logger
	Metrics    *obsmetrics.Metrics
	Now        func() time.Time
	CLIVersion string
}

// New constructs a Manager. log and now may be nil/zero to use defaults.
func New(reg *registry.Client, st *store.Store, log *obslog.Logger, now func() time.Time, cliVersion string) *Manager {
	if log == nil {
		log = obslog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{Registry: reg, Store: st, Log: log, Metrics: obsmetrics.Noop(), Now: now, CLIVersion: cliVersion}
}

// InstallResult summarizes a completed install.
type InstallResult struct {
	Lockfile *lockfile.Lockfile
	Warnings []errs.Warning
	Pruned   []string
}

// InstallFromConfig resolves and materializes every root dependency in m,
// updating the project lockfile (spec §4.H).
func (mgr *Manager) InstallFromConfig(ctx context.Context, projectDir string, m *manifest.Manifest, opts Options) (result *InstallResult, err error) {
	mgr.Metrics.InstallStarted()
	installStart := time.Now()
	defer func() {
		mgr.Metrics.InstallFinished(time.Since(installStart).Seconds(), err)
	}()

	prior, err := lockfile.Read(projectDir)
	if err != nil {
		return nil, err
	}

	var res *resolver.Result
	resolveStart := time.Now()
	if opts.Offline {
		res, err = resolveOffline(m.Dependencies, prior)
	} else {
		idx := registry.Index{Client: mgr.Registry, Ctx: ctx}
		res, err = resolver.Resolve(idx, m.Dependencies, resolver.Options{Prior: prior, PreferLatest: opts.PreferLatest})
	}
	mgr.Metrics.ResolveFinished(time.Since(resolveStart).Seconds(), errs.KindOf(err) == errs.KindVersionConflict)
	if err != nil {
		return nil, err
	}

	if opts.FrozenLockfile {
		if err := checkFrozen(prior, res); err != nil {
			return nil, err
		}
	}

	updates, err := mgr.fetchAll(ctx, res, opts.Force)
	if err != nil {
		return nil, err
	}

	merged := lockfile.Merge(prior, updates, mgr.Now(), mgr.CLIVersion)
	roots := make([]string, 0, len(m.Dependencies)+1)
	roots = append(roots, m.Package.Name)
	for name := range m.Dependencies {
		roots = append(roots, name)
	}
	pruned, removed := lockfile.Prune(merged, roots)
	if err := lockfile.Write(pruned, projectDir); err != nil {
		return nil, err
	}

	return &InstallResult{Lockfile: pruned, Warnings: res.Warnings, Pruned: removed}, nil
}

// SinglePackageResult is returned by InstallSinglePackage.
type SinglePackageResult struct {
	Integrity    string
	TarballBytes []byte
	ExtractedAt  string
}

// InstallSinglePackage downloads, stores, and extracts one package
// version outside of a full resolution pass. No command in cmd/tz calls
// it; `tz add` goes through InstallFromConfig.
func (mgr *Manager) InstallSinglePackage(ctx context.Context, name, version string, force bool) (*SinglePackageResult, error) {
	owner, slug := splitScopedName(name)
	loc, err := mgr.Registry.TarballURL(ctx, owner, slug, version)
	if err != nil {
		return nil, err
	}

	data, err := mgr.Registry.DownloadTarball(ctx, loc)
	if err != nil {
		return nil, err
	}

	digest := integrity.SHA256Bytes(data)
	if loc.Integrity != "" {
		if got := digest.LockString(); got != loc.Integrity {
			return nil, errs.New(errs.KindIntegrity, fmt.Sprintf("integrity mismatch for %s@%s: registry declared %s, got %s", name, version, loc.Integrity, got))
		}
	}

	if _, _, err := mgr.Store.Store(data); err != nil {
		return nil, err
	}
	extractedPath, _, err := mgr.Store.ExtractTarball(data, name, version)
	if err != nil {
		return nil, err
	}

	return &SinglePackageResult{
		Integrity:    digest.LockString(),
		TarballBytes: data,
		ExtractedAt:  extractedPath,
	}, nil
}

// fetchAll downloads, verifies, and extracts every resolved package
// whose store entry is missing or whose caller forced a refetch,
// bounded by ioConcurrency().
func (mgr *Manager) fetchAll(ctx context.Context, res *resolver.Result, force bool) (map[string]lockfile.Entry, error) {
	out := make(map[string]lockfile.Entry, len(res.Packages))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, ioConcurrency())

	for name, pkg := range res.Packages {
		name, pkg := name, pkg
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			entry, err := mgr.fetchOne(gctx, name, pkg, force)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (mgr *Manager) fetchOne(ctx context.Context, name string, pkg resolver.ResolvedPackage, force bool) (lockfile.Entry, error) {
	packagePath := mgr.Store.PackagePath(name, pkg.Version)
	if !force {
		if info, err := os.Stat(packagePath); err == nil && info.IsDir() {
			mgr.Log.Debug("reusing store entry", obslog.F("package", name), obslog.F("version", pkg.Version))
			mgr.Metrics.StoreHit()
			return lockfile.Entry{Version: pkg.Version, Dependencies: pkg.Dependencies}, nil
		}
	}

	owner, slug := splitScopedName(name)
	loc, err := mgr.Registry.TarballURL(ctx, owner, slug, pkg.Version)
	if err != nil {
		return lockfile.Entry{}, err
	}
	data, err := mgr.Registry.DownloadTarball(ctx, loc)
	if err != nil {
		return lockfile.Entry{}, err
	}
	mgr.Metrics.StoreMiss(len(data))

	digest := integrity.SHA256Bytes(data)
	if loc.Integrity != "" && digest.LockString() != loc.Integrity {
		return lockfile.Entry{}, errs.New(errs.KindIntegrity, fmt.Sprintf("integrity mismatch for %s@%s", name, pkg.Version))
	}

	if _, _, err := mgr.Store.Store(data); err != nil {
		return lockfile.Entry{}, err
	}
	if _, _, err := mgr.Store.ExtractTarball(data, name, pkg.Version); err != nil {
		return lockfile.Entry{}, err
	}

	return lockfile.Entry{
		Version:      pkg.Version,
		Resolved:     lockfile.StripQuery(loc.URL),
		Integrity:    digest.LockString(),
		Dependencies: pkg.Dependencies,
	}, nil
}

// resolveOffline synthesizes a resolution by walking the existing
// lockfile from manifest roots, failing if any required package is
// absent (spec §4.H step 1).
func resolveOffline(roots map[string]string, prior *lockfile.Lockfile) (*resolver.Result, error) {
	if prior == nil {
		return nil, errs.New(errs.KindNoCandidates, "offline install requested but no lockfile is present")
	}
	result := &resolver.Result{Packages: make(map[string]resolver.ResolvedPackage)}
	var walk func(name string) error
	walk = func(name string) error {
		if _, ok := result.Packages[name]; ok {
			return nil
		}
		entry, ok := prior.Packages[name]
		if !ok {
			return errs.New(errs.KindNoCandidates, "offline install missing lockfile entry for "+name)
		}
		result.Packages[name] = resolver.ResolvedPackage{Version: entry.Version, Dependencies: entry.Dependencies}
		for dep := range entry.Dependencies {
			if err := walk(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for name := range roots {
		if err := walk(name); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// checkFrozen enforces spec §4.H step 3: every resolved (name, version)
// must equal the existing lockfile entry; any mismatch or extraneous
// entry fails the install.
func checkFrozen(prior *lockfile.Lockfile, res *resolver.Result) error {
	if prior == nil {
		return errs.New(errs.KindInvalidArgument, "frozen-lockfile install requested but no lockfile is present")
	}
	for name, pkg := range res.Packages {
		entry, ok := prior.Packages[name]
		if !ok || entry.Version != pkg.Version {
			return errs.New(errs.KindInvalidArgument, "frozen lockfile mismatch for "+name)
		}
	}
	for name := range prior.Packages {
		if _, ok := res.Packages[name]; !ok {
			return errs.New(errs.KindInvalidArgument, "frozen lockfile has extraneous entry "+name)
		}
	}
	return nil
}

func splitScopedName(name string) (owner, slug string) {
	trimmed := name
	if len(trimmed) > 0 && trimmed[0] == '@' {
		trimmed = trimmed[1:]
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == '/' {
			return trimmed[:i], trimmed[i+1:]
		}
	}
	return trimmed, ""
}

// ioConcurrency returns the bounded-download concurrency: TZ_MAX_CONCURRENCY
// if set, else GOMAXPROCS*4 capped at 5.
func ioConcurrency() int {
	if v := os.Getenv("TZ_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	n := runtime.GOMAXPROCS(0) * 4
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	return n
}
