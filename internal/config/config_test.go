package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "default" {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Username = "ada"
	cfg.Token = "secret"

	if err := Save(root, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Username != "ada" || got.Token != "secret" {
		t.Fatalf("unexpected round-tripped config: %+v", got)
	}
}

func TestSaveEnforcesPosixMode0600(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX mode bits are not meaningful on windows")
	}
	root := t.TempDir()
	if err := Save(root, Default()); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(Path(root))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %o", info.Mode().Perm())
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	root := t.TempDir()
	if err := Save(root, Default()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, FileName+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("expected no leftover temp file")
	}
}

func TestActiveEnvironmentFallsBackToTopLevelFields(t *testing.T) {
	cfg := &Config{Registry: "https://r.example.com", Token: "t", Environment: "default"}
	env := cfg.ActiveEnvironment()
	if env.Registry != "https://r.example.com" || env.Token != "t" {
		t.Fatalf("unexpected fallback environment: %+v", env)
	}
}

func TestActiveEnvironmentPrefersNamedEntry(t *testing.T) {
	cfg := &Config{
		Environment: "staging",
		Environments: map[string]Environment{
			"staging": {Registry: "https://staging.example.com"},
		},
	}
	env := cfg.ActiveEnvironment()
	if env.Registry != "https://staging.example.com" {
		t.Fatalf("expected named environment to win, got %+v", env)
	}
}

func TestTokenFromEnvVar(t *testing.T) {
	os.Unsetenv("TZ_TOKEN")
	os.Unsetenv("TERRAZUL_TOKEN")
	if _, ok := TokenFromEnvVar(); ok {
		t.Fatalf("expected no token when unset")
	}
	t.Setenv("TZ_TOKEN", "from-env")
	v, ok := TokenFromEnvVar()
	if !ok || v != "from-env" {
		t.Fatalf("expected token from TZ_TOKEN, got (%q, %v)", v, ok)
	}
}
