// Package config reads and writes the user configuration file
// (`~/.tz/config.json`, spec §6), enforcing POSIX mode 0600. It follows
// the teacher's encoding/json-based codec style (internal/packagemanager
// uses encoding/json throughout, e.g. lockfile.go, fileregistry.go) —
// unlike agents.toml/agents-lock.toml, config.json is plain JSON per
// spec §6, so there is no reason to hand-roll a TOML encoder here.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"github.com/terrazul-ai/tz/internal/errs"
)

// FileName is the config file's base name under the config root.
const FileName = "config.json"

// ToolProfile is one entry in profile.tools.
type ToolProfile struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Model   string            `json:"model,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Profile is the profile.* section.
type Profile struct {
	Tools []ToolProfile `json:"tools,omitempty"`
}

// ContextFiles names the host-specific context file per tool.
type ContextFiles struct {
	Claude  string `json:"claude,omitempty"`
	Codex   string `json:"codex,omitempty"`
	Gemini  string `json:"gemini,omitempty"`
	Cursor  string `json:"cursor,omitempty"`
	Copilot string `json:"copilot,omitempty"`
}

// ContextSettings is the context.* section.
type ContextSettings struct {
	Files    ContextFiles `json:"files"`
	MaxTurns int          `json:"maxTurns,omitempty"`
}

// CacheSettings is the cache.* section.
type CacheSettings struct {
	TTL     int `json:"ttl"`
	MaxSize int `json:"maxSize"`
}

// Environment is one named registry/token pair under environments.*.
type Environment struct {
	Registry    string `json:"registry"`
	Token       string `json:"token,omitempty"`
	TokenID     string `json:"tokenId,omitempty"`
	TokenExpiry string `json:"tokenExpiry,omitempty"`
	Username    string `json:"username,omitempty"`
}

// Config is the fully decoded ~/.tz/config.json document.
type Config struct {
	Registry     string                 `json:"registry"`
	Token        string                 `json:"token,omitempty"`
	TokenID      string                 `json:"tokenId,omitempty"`
	TokenExpiry  string                 `json:"tokenExpiry,omitempty"`
	Username     string                 `json:"username,omitempty"`
	Environment  string                 `json:"environment"`
	Environments map[string]Environment `json:"environments,omitempty"`
	Cache        CacheSettings          `json:"cache"`
	Telemetry    bool                   `json:"telemetry"`
	Profile      Profile                `json:"profile,omitempty"`
	Context      ContextSettings        `json:"context,omitempty"`
}

// Default returns the baseline configuration a fresh `tz` install
// writes on first run.
func Default() *Config {
	return &Config{
		Registry:    "https://registry.terrazul.dev",
		Environment: "default",
		Environments: map[string]Environment{
			"default": {Registry: "https://registry.terrazul.dev"},
		},
		Cache:     CacheSettings{TTL: 300, MaxSize: 100 * 1024 * 1024},
		Telemetry: false,
		Context: ContextSettings{
			Files: ContextFiles{Claude: "CLAUDE.md", Codex: "AGENTS.md", Gemini: "GEMINI.md"},
		},
	}
}

// Root returns the config root directory: $HOME/.tz (or
// %USERPROFILE%\.tz on Windows).
func Root() (string, error) {
	home := os.Getenv("HOME")
	if runtime.GOOS == "windows" {
		if up := os.Getenv("USERPROFILE"); up != "" {
			home = up
		}
	}
	if home == "" {
		return "", errs.New(errs.KindConfigInvalid, "cannot determine home directory: HOME/USERPROFILE is unset")
	}
	return filepath.Join(home, ".tz"), nil
}

// Path returns the full path to config.json under root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Load reads and decodes config.json from root. A missing file returns
// Default(), nil — first run has no config yet.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(Path(root))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errs.Wrap(errs.KindStorage, "read config.json", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Wrap(errs.KindConfigInvalid, "parse config.json", err)
	}
	return &cfg, nil
}

// Save writes cfg to root/config.json atomically (temp file + rename)
// and enforces POSIX mode 0600 on the final file.
func Save(root string, cfg *Config) error {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return errs.Wrap(errs.KindStorage, "create config root", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindConfigInvalid, "marshal config.json", err)
	}
	data = append(data, '\n')

	target := Path(root)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.KindStorage, "write config.json", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.KindStorage, "chmod config.json", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return errs.Wrap(errs.KindStorage, "rename config.json", err)
	}
	return nil
}

// ActiveEnvironment resolves the environment entry named by
// cfg.Environment, falling back to the top-level registry/token fields
// when environments has no entry by that name (for example a config
// predating multi-environment support).
func (c *Config) ActiveEnvironment() Environment {
	if env, ok := c.Environments[c.Environment]; ok {
		return env
	}
	return Environment{Registry: c.Registry, Token: c.Token, TokenID: c.TokenID, TokenExpiry: c.TokenExpiry, Username: c.Username}
}

// TokenFromEnvVar returns a single, read-only registry token override
// from the environment (spec §6: "a single *_TOKEN override, read-only,
// not persisted"), checked in a fixed priority order.
func TokenFromEnvVar() (string, bool) {
	for _, name := range []string{"TZ_TOKEN", "TERRAZUL_TOKEN"} {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}
