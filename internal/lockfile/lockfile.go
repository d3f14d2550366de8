// Package lockfile reads, writes, merges, and prunes agents-lock.toml: the
// deterministic, integrity-bearing snapshot of a resolution (spec §4.F,
// §6). Encoding is hand-rolled with explicitly sorted keys rather than
// handed to a generic map marshaler, because TOML libraries do not
// guarantee map key order and spec §8 requires a byte-stable document.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/integrity"
)

const (
	// FileName is the lockfile's fixed location under the project root.
	FileName = "agents-lock.toml"
	// FormatVersion is the lockfile schema version (spec §6).
	FormatVersion = 1
)

// Entry is one [packages."<name>"] block.
type Entry struct {
	Version      string
	Resolved     string
	Integrity    string
	Dependencies map[string]string
	Yanked       bool
	YankedReason string
}

// Lockfile is the full deterministic document.
type Lockfile struct {
	Version     int
	GeneratedAt time.Time
	CLIVersion  string
	Packages    map[string]Entry
}

// New creates an empty lockfile stamped with now and cliVersion.
func New(now time.Time, cliVersion string) *Lockfile {
	return &Lockfile{
		Version:     FormatVersion,
		GeneratedAt: now,
		CLIVersion:  cliVersion,
		Packages:    make(map[string]Entry),
	}
}

// rawDoc mirrors the on-disk shape for decoding only; encoding is manual.
type rawDoc struct {
	Version  int                  `toml:"version"`
	Metadata rawMetadata          `toml:"metadata"`
	Packages map[string]rawPkgRow `toml:"packages"`
}

type rawMetadata struct {
	GeneratedAt string `toml:"generated_at"`
	CLIVersion  string `toml:"cli_version"`
}

type rawPkgRow struct {
	Version      string            `toml:"version"`
	Resolved     string            `toml:"resolved"`
	Integrity    string            `toml:"integrity"`
	Dependencies map[string]string `toml:"dependencies,omitempty"`
	Yanked       bool              `toml:"yanked"`
	YankedReason string            `toml:"yanked_reason,omitempty"`
}

// Read loads agents-lock.toml from projectDir. A missing file is not an
// error; it returns (nil, nil).
func Read(projectDir string) (*Lockfile, error) {
	path := filepath.Join(projectDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindStorage, "read lockfile", err)
	}

	var raw rawDoc
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrap(errs.KindConfigInvalid, "parse lockfile", err)
	}

	generated, _ := time.Parse(time.RFC3339, raw.Metadata.GeneratedAt)
	lf := &Lockfile{
		Version:     raw.Version,
		GeneratedAt: generated,
		CLIVersion:  raw.Metadata.CLIVersion,
		Packages:    make(map[string]Entry, len(raw.Packages)),
	}
	for name, row := range raw.Packages {
		lf.Packages[name] = Entry{
			Version:      row.Version,
			Resolved:     row.Resolved,
			Integrity:    row.Integrity,
			Dependencies: row.Dependencies,
			Yanked:       row.Yanked,
			YankedReason: row.YankedReason,
		}
	}
	return lf, nil
}

// Write serializes lf deterministically and atomically replaces
// agents-lock.toml under projectDir (write to a sibling temp file, then
// rename, per spec §5/§7 atomicity requirements).
func Write(lf *Lockfile, projectDir string) error {
	data := Encode(lf)
	path := filepath.Join(projectDir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.KindStorage, "write lockfile temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.KindStorage, "rename lockfile into place", err)
	}
	return nil
}

// Encode renders lf as the canonical TOML byte sequence: sorted package
// names, sorted dependency keys, stable field order per entry.
func Encode(lf *Lockfile) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "version = %d\n\n", lf.Version)
	fmt.Fprintf(&b, "[metadata]\n")
	fmt.Fprintf(&b, "generated_at = %s\n", tomlString(lf.GeneratedAt.UTC().Format(time.RFC3339)))
	fmt.Fprintf(&b, "cli_version = %s\n", tomlString(lf.CLIVersion))

	names := make([]string, 0, len(lf.Packages))
	for name := range lf.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := lf.Packages[name]
		fmt.Fprintf(&b, "\n[packages.%s]\n", tomlString(name))
		fmt.Fprintf(&b, "version = %s\n", tomlString(e.Version))
		fmt.Fprintf(&b, "resolved = %s\n", tomlString(e.Resolved))
		fmt.Fprintf(&b, "integrity = %s\n", tomlString(e.Integrity))
		fmt.Fprintf(&b, "yanked = %s\n", strconv.FormatBool(e.Yanked))
		if e.Yanked && e.YankedReason != "" {
			fmt.Fprintf(&b, "yanked_reason = %s\n", tomlString(e.YankedReason))
		}
		if len(e.Dependencies) > 0 {
			depNames := make([]string, 0, len(e.Dependencies))
			for d := range e.Dependencies {
				depNames = append(depNames, d)
			}
			sort.Strings(depNames)
			fmt.Fprintf(&b, "\n[packages.%s.dependencies]\n", tomlString(name))
			for _, d := range depNames {
				fmt.Fprintf(&b, "%s = %s\n", tomlString(d), tomlString(e.Dependencies[d]))
			}
		}
	}
	return []byte(b.String())
}

// tomlString renders s as a TOML basic string literal.
func tomlString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Merge returns a new Lockfile containing existing's entries with updates
// applied on top; entries not present in updates are retained unchanged.
func Merge(existing *Lockfile, updates map[string]Entry, now time.Time, cliVersion string) *Lockfile {
	out := New(now, cliVersion)
	if existing != nil {
		for name, e := range existing.Packages {
			out.Packages[name] = e
		}
	}
	for name, e := range updates {
		out.Packages[name] = e
	}
	return out
}

// Remove returns a new Lockfile with the named packages removed.
func Remove(lf *Lockfile, names []string) *Lockfile {
	out := &Lockfile{Version: lf.Version, GeneratedAt: lf.GeneratedAt, CLIVersion: lf.CLIVersion, Packages: make(map[string]Entry, len(lf.Packages))}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	for name, e := range lf.Packages {
		if !drop[name] {
			out.Packages[name] = e
		}
	}
	return out
}

// Prune removes every entry not reachable from roots by following
// Dependencies edges, returning the pruned lockfile and the removed names
// in sorted order.
func Prune(lf *Lockfile, roots []string) (*Lockfile, []string) {
	reachable := make(map[string]bool)
	var visit func(string)
	visit = func(name string) {
		if reachable[name] {
			return
		}
		entry, ok := lf.Packages[name]
		if !ok {
			return
		}
		reachable[name] = true
		for dep := range entry.Dependencies {
			visit(dep)
		}
	}
	for _, r := range roots {
		visit(r)
	}

	out := &Lockfile{Version: lf.Version, GeneratedAt: lf.GeneratedAt, CLIVersion: lf.CLIVersion, Packages: make(map[string]Entry)}
	var removed []string
	for name, e := range lf.Packages {
		if reachable[name] {
			out.Packages[name] = e
		} else {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return out, removed
}

// CreateIntegrityHash returns the lockfile integrity string for tarball
// bytes, per spec §4.B.
func CreateIntegrityHash(data []byte) string {
	return integrity.SHA256Bytes(data).LockString()
}

// StripQuery removes the query string from a tarball URL before it is
// persisted to the lockfile (spec §3: signed URLs are ephemeral).
func StripQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
