package commands

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/terrazul-ai/tz/internal/config"
	"github.com/terrazul-ai/tz/internal/env"
	"github.com/terrazul-ai/tz/internal/integrity"
	"github.com/terrazul-ai/tz/internal/manager"
	"github.com/terrazul-ai/tz/internal/registry"
	"github.com/terrazul-ai/tz/internal/store"
)

// buildTarGz mirrors internal/manager's test helper: a minimal in-memory
// tarball of a package's agents.toml (and whatever else a test needs).
func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Size: int64(len(body)), Mode: 0o644}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// newStarterServer serves a single @t/starter package at version 1.0.0,
// the same shape internal/manager's own tests use.
func newStarterServer(t *testing.T, tarball []byte) *httptest.Server {
	t.Helper()
	digest := integrity.SHA256Bytes(tarball)
	var tarballURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/packages/v1/t/starter/versions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]registry.VersionEntry{
			"1.0.0": {Dependencies: map[string]string{}},
		})
	})
	mux.HandleFunc("/packages/v1/t/starter/tarball/1.0.0", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(registry.TarballLocation{URL: tarballURL, Integrity: digest.LockString()})
	})
	mux.HandleFunc("/cdn/starter-1.0.0.tgz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(tarball)
	})
	srv := httptest.NewServer(mux)
	tarballURL = srv.URL + "/cdn/starter-1.0.0.tgz?X-Signature=abc"
	return srv
}

// newTestApp builds an App wired against srv (or no registry at all, when
// srv is nil) rooted at a fresh temp project directory.
func newTestApp(t *testing.T, srv *httptest.Server) *App {
	t.Helper()
	base := "http://127.0.0.1:0"
	if srv != nil {
		base = srv.URL
	}
	reg, err := registry.New(base, "")
	if err != nil {
		t.Fatalf("new registry client: %v", err)
	}
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	mgr := manager.New(reg, st, nil, func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }, "0.1.0-test")

	projectRoot := t.TempDir()
	environment := &env.Environment{ProjectRoot: projectRoot, Home: t.TempDir(), Now: time.Now, Spawn: env.ExecSpawner{}, GOOS: "linux"}

	return &App{
		Env:        environment,
		Config:     config.Default(),
		ConfigRoot: t.TempDir(),
		Client:     reg,
		Store:      st,
		Manager:    mgr,
		Stdout:     &bytes.Buffer{},
		Stderr:     &bytes.Buffer{},
		CLIVersion: "0.1.0-test",
	}
}
