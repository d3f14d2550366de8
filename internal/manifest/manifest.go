// Package manifest decodes and validates agents.toml: package identity,
// dependencies, compatibility, profiles, and per-host exports (spec §3,
// §6). Every manifest loaded from an extracted package passes through
// Validate before the rest of the core touches it.
package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/terrazul-ai/tz/internal/errs"
)

// HostName identifies a supported host tool.
type HostName string

const (
	HostClaude HostName = "claude"
	HostCodex  HostName = "codex"
	HostGemini HostName = "gemini"
)

var validHosts = map[HostName]bool{HostClaude: true, HostCodex: true, HostGemini: true}

// scopedNamePattern matches "@owner/local".
var scopedNamePattern = regexp.MustCompile(`^@[a-z0-9][a-z0-9._-]*/[a-z0-9][a-z0-9._-]*$`)

// ExportBlock is one [exports.<host>] table.
type ExportBlock struct {
	Template      string `toml:"template,omitempty"`
	Settings      string `toml:"settings,omitempty"`
	SettingsLocal string `toml:"settingsLocal,omitempty"`
	MCPServers    string `toml:"mcpServers,omitempty"`
	SubagentsDir  string `toml:"subagentsDir,omitempty"`
	CommandsDir   string `toml:"commandsDir,omitempty"`
	SkillsDir     string `toml:"skillsDir,omitempty"`
	PromptsDir    string `toml:"promptsDir,omitempty"`
}

// PackageInfo is the [package] table.
type PackageInfo struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description,omitempty"`
	License     string `toml:"license,omitempty"`
	Tool        string `toml:"tool,omitempty"`
}

// Manifest is the fully decoded contents of agents.toml.
type Manifest struct {
	Package       PackageInfo            `toml:"package"`
	Dependencies  map[string]string      `toml:"dependencies,omitempty"`
	Compatibility map[string]string      `toml:"compatibility,omitempty"`
	Profiles      map[string][]string    `toml:"profiles,omitempty"`
	Exports       map[string]ExportBlock `toml:"exports,omitempty"`
	Tasks         map[string]string      `toml:"tasks,omitempty"`
}

// Parse decodes raw TOML bytes into a Manifest without validating it.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errs.Wrap(errs.KindInvalidPackage, "parse agents.toml", err)
	}
	return &m, nil
}

// Marshal serializes a Manifest back to TOML bytes.
func Marshal(m *Manifest) ([]byte, error) {
	b, err := toml.Marshal(m)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidPackage, "marshal agents.toml", err)
	}
	return b, nil
}

// Validate checks structural invariants the rest of the core relies on:
// a well-formed scoped name, a parseable version, known export hosts, and
// profile entries that reference declared dependencies or the package
// itself.
func (m *Manifest) Validate() error {
	if !scopedNamePattern.MatchString(m.Package.Name) {
		return errs.New(errs.KindInvalidPackage, fmt.Sprintf("package name %q must match @owner/name", m.Package.Name))
	}
	if strings.TrimSpace(m.Package.Version) == "" {
		return errs.New(errs.KindInvalidPackage, "package.version is required")
	}
	if _, err := semver.NewVersion(m.Package.Version); err != nil {
		return errs.New(errs.KindInvalidPackage, fmt.Sprintf("package.version %q is not a valid version", m.Package.Version))
	}
	if m.Package.Tool != "" && !validHosts[HostName(m.Package.Tool)] {
		return errs.New(errs.KindInvalidPackage, fmt.Sprintf("package.tool %q is not a supported host", m.Package.Tool))
	}
	for host := range m.Exports {
		if !validHosts[HostName(host)] {
			return errs.New(errs.KindInvalidPackage, fmt.Sprintf("exports.%s targets an unknown host", host))
		}
	}
	known := map[string]bool{m.Package.Name: true}
	for dep := range m.Dependencies {
		known[dep] = true
	}
	for profile, members := range m.Profiles {
		for _, dep := range members {
			if !known[dep] {
				return errs.New(errs.KindInvalidPackage, fmt.Sprintf("profile %q references undeclared package %q", profile, dep))
			}
		}
	}
	return nil
}

// Owner returns the owner portion of a scoped package name, without the
// leading "@" ("@owner/name" -> "owner").
func Owner(name string) string {
	if i := strings.Index(name, "/"); i > 0 {
		return strings.TrimPrefix(name[:i], "@")
	}
	return ""
}

// Local returns the "<local>" portion of a scoped package name.
func Local(name string) string {
	if i := strings.Index(name, "/"); i >= 0 && i+1 < len(name) {
		return name[i+1:]
	}
	return ""
}

// StoreDirName returns the "<scope>_<name>" directory component used
// under store/<scope>_<name>/<version>/ (spec §3).
func StoreDirName(name string) string {
	return Owner(name) + "_" + Local(name)
}
