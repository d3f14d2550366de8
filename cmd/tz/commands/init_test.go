package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/terrazul-ai/tz/internal/manifest"
)

func TestInitCommandWritesStarterManifest(t *testing.T) {
	app := newTestApp(t, nil)
	cmd := NewInitCommand()

	if err := cmd.Execute(app, []string{"--name", "@acme/starter"}); err != nil {
		t.Fatalf("init: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(app.Env.ProjectRoot, "agents.toml"))
	if err != nil {
		t.Fatalf("read agents.toml: %v", err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		t.Fatalf("parse agents.toml: %v", err)
	}
	if m.Package.Name != "@acme/starter" {
		t.Fatalf("unexpected package name: %s", m.Package.Name)
	}
}

func TestInitCommandRefusesToOverwriteWithoutForce(t *testing.T) {
	app := newTestApp(t, nil)
	cmd := NewInitCommand()
	if err := cmd.Execute(app, nil); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := cmd.Execute(app, nil); err == nil {
		t.Fatalf("expected second init without --force to fail")
	}
	if err := cmd.Execute(app, []string{"--force"}); err != nil {
		t.Fatalf("init --force: %v", err)
	}
}
