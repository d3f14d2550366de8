package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/terrazul-ai/tz/internal/lockfile"
	"github.com/terrazul-ai/tz/internal/manifest"
)

func seedChainLockfile(t *testing.T, app *App) {
	t.Helper()
	m := &manifest.Manifest{
		Package:      manifest.PackageInfo{Name: "@t/project", Version: "0.0.0"},
		Dependencies: map[string]string{"@t/mid": "^1.0.0"},
	}
	if err := writeProjectManifest(app.Env.ProjectRoot, m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	lf := lockfile.New(time.Now(), "0.1.0-test")
	lf.Packages["@t/mid"] = lockfile.Entry{Version: "1.0.0", Dependencies: map[string]string{"@t/leaf": "^2.0.0"}}
	lf.Packages["@t/leaf"] = lockfile.Entry{Version: "2.0.0"}
	if err := lockfile.Write(lf, app.Env.ProjectRoot); err != nil {
		t.Fatalf("seed lockfile: %v", err)
	}
}

func TestWhyCommandWalksTransitiveChain(t *testing.T) {
	app := newTestApp(t, nil)
	seedChainLockfile(t, app)

	out := &bytes.Buffer{}
	app.Stdout = out
	if err := NewWhyCommand().Execute(app, []string{"@t/leaf"}); err != nil {
		t.Fatalf("why: %v", err)
	}
	if !strings.Contains(out.String(), "@t/project -> @t/mid -> @t/leaf") {
		t.Fatalf("unexpected why output: %q", out.String())
	}
}

func TestWhyCommandRejectsUninstalledPackage(t *testing.T) {
	app := newTestApp(t, nil)
	seedChainLockfile(t, app)
	if err := NewWhyCommand().Execute(app, []string{"@t/nope"}); err == nil {
		t.Fatalf("expected error for an uninstalled package")
	}
}
