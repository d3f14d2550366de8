// Package cache is the persistent snippet-result cache described in
// spec §4.J/§6: a single `agents-cache.toml` file, nested as
// `packages."<name>"."<version>"."<snippet_hash>"`. It is grounded on
// the teacher's internal/packagemanager/filesigstore.go — a
// mutex-guarded read-modify-write on-disk store — adapted from a
// one-file-per-CID JSON layout to one shared TOML document, and from
// append-only signature lists to upsert-by-hash entries.
package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/terrazul-ai/tz/internal/errs"
)

// FileName is the on-disk cache file name; `tz render` roots it at the
// project root.
const FileName = "agents-cache.toml"

// Entry is one cached snippet result (spec §6 persisted-state fields).
type Entry struct {
	ID            string `toml:"id"`
	Type          string `toml:"type"` // "askUser" or "askAgent"
	PromptExcerpt string `toml:"promptExcerpt"`
	Value         string `toml:"value"`
	Timestamp     string `toml:"timestamp"` // RFC 3339
	Tool          string `toml:"tool,omitempty"`
}

type versionTable map[string]Entry        // snippet hash -> entry
type packageTable map[string]versionTable // package version -> versionTable

type document struct {
	Version  int                     `toml:"version"`
	Packages map[string]packageTable `toml:"packages"`
}

// Store is a mutex-guarded cache backed by one TOML file.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store whose file lives at filepath.Join(root, FileName),
// creating root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errs.New(errs.KindInvalidArgument, "cache store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindStorage, "create cache root", err)
	}
	return &Store{path: filepath.Join(root, FileName)}, nil
}

// Get returns the cached entry for (packageName, packageVersion, hash),
// or (Entry{}, false) on a miss.
func (s *Store) Get(packageName, packageVersion, hash string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return Entry{}, false, err
	}
	versions, ok := doc.Packages[packageName]
	if !ok {
		return Entry{}, false, nil
	}
	entries, ok := versions[packageVersion]
	if !ok {
		return Entry{}, false, nil
	}
	entry, ok := entries[hash]
	return entry, ok, nil
}

// Put upserts entry under (packageName, packageVersion, hash). Callers
// must only invoke Put after a successful snippet execution — the cache
// is never written on error, so a failed call never corrupts a prior
// good entry.
func (s *Store) Put(packageName, packageVersion, hash string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	if doc.Packages == nil {
		doc.Packages = map[string]packageTable{}
	}
	versions, ok := doc.Packages[packageName]
	if !ok {
		versions = packageTable{}
		doc.Packages[packageName] = versions
	}
	entries, ok := versions[packageVersion]
	if !ok {
		entries = versionTable{}
		versions[packageVersion] = entries
	}
	entries[hash] = entry
	return s.writeLocked(doc)
}

// Invalidate removes every cached entry for (packageName,
// packageVersion). The install path does not call it, so entries for a
// package's earlier versions stay in the file after an update.
func (s *Store) Invalidate(packageName, packageVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	if versions, ok := doc.Packages[packageName]; ok {
		delete(versions, packageVersion)
		if len(versions) == 0 {
			delete(doc.Packages, packageName)
		}
	}
	return s.writeLocked(doc)
}

func (s *Store) readLocked() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Version: 1, Packages: map[string]packageTable{}}, nil
		}
		return document{}, errs.Wrap(errs.KindStorage, "read snippet cache", err)
	}
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return document{}, errs.Wrap(errs.KindStorage, "decode snippet cache", err)
	}
	if doc.Packages == nil {
		doc.Packages = map[string]packageTable{}
	}
	return doc, nil
}

func (s *Store) writeLocked(doc document) error {
	pkgNames := sortedKeys(mapKeysPkg(doc.Packages))

	var b strings.Builder
	b.WriteString("version = 1\n")
	for _, pkgName := range pkgNames {
		versions := doc.Packages[pkgName]
		versionNames := sortedKeys(mapKeysVersion(versions))
		for _, v := range versionNames {
			entries := versions[v]
			hashes := sortedKeys(mapKeysEntry(entries))
			for _, h := range hashes {
				e := entries[h]
				b.WriteByte('\n')
				b.WriteString("[packages.")
				b.WriteString(tomlKey(pkgName))
				b.WriteByte('.')
				b.WriteString(tomlKey(v))
				b.WriteByte('.')
				b.WriteString(tomlKey(h))
				b.WriteString("]\n")
				b.WriteString("id = " + tomlString(e.ID) + "\n")
				b.WriteString("type = " + tomlString(e.Type) + "\n")
				b.WriteString("promptExcerpt = " + tomlString(e.PromptExcerpt) + "\n")
				b.WriteString("value = " + tomlString(e.Value) + "\n")
				b.WriteString("timestamp = " + tomlString(e.Timestamp) + "\n")
				if e.Tool != "" {
					b.WriteString("tool = " + tomlString(e.Tool) + "\n")
				}
			}
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindStorage, "create cache dir", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return errs.Wrap(errs.KindStorage, "write snippet cache", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errs.Wrap(errs.KindStorage, "rename snippet cache", err)
	}
	return nil
}

func mapKeysPkg(m map[string]packageTable) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func mapKeysVersion(m packageTable) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func mapKeysEntry(m versionTable) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedKeys(keys []string) []string {
	sort.Strings(keys)
	return keys
}

func tomlKey(k string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(k) + `"`
}

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
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
