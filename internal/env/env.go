// Package env carries the ambient state every collaborator needs instead
// of letting each package read os.Getenv/time.Now/os.Getwd directly. This
// is the REDESIGN FLAGS §9 fix for "global mutable state pervades the
// source": a single explicit value, threaded through constructors, makes
// the whole core testable with fakes.
package env

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// Spawner runs an external process and returns its stdout. It is
// the seam component N's tool-runner shim plugs into; tests supply a fake.
type Spawner interface {
	Run(ctx context.Context, name string, args []string, dir string, env []string) ([]byte, error)
}

// ExecSpawner runs real OS processes via os/exec.
type ExecSpawner struct{}

func (ExecSpawner) Run(ctx context.Context, name string, args []string, dir string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}
	return cmd.Output()
}

// Environment is the explicit context every subsystem depends on.
type Environment struct {
	// ProjectRoot is the directory containing agents.toml.
	ProjectRoot string
	// Home is the user's home directory, containing the per-user store.
	Home string
	// Now returns the current time; overridable in tests.
	Now func() time.Time
	// Spawn runs external processes (agent tool invocations).
	Spawn Spawner
	// GOOS allows tests to exercise the Windows fallback path on any host.
	GOOS string
}

// New builds an Environment rooted at projectRoot using real OS state.
func New(projectRoot string) (*Environment, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}
	return &Environment{
		ProjectRoot: abs,
		Home:        home,
		Now:         time.Now,
		Spawn:       ExecSpawner{},
		GOOS:        runtime.GOOS,
	}, nil
}

// StoreRoot returns the per-user cache root, "~/.<prefix>/".
func (e *Environment) StoreRoot(prefix string) string {
	return filepath.Join(e.Home, "."+prefix)
}
