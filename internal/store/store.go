// Package store implements the per-user content-addressed cache and
// package store (spec §3, §4.C): raw tarball bytes keyed by SHA-256
// digest under cache/sha256/<xx>/<rest>, and extracted package trees
// under store/<scope>_<name>/<version>/. Both are append-only /
// immutable once written; extraction races for the same (name, version)
// are serialized with golang.org/x/sync/singleflight so only one
// extraction runs and the rest observe the finished directory.
package store

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/integrity"
	"github.com/terrazul-ai/tz/internal/manifest"
	"github.com/terrazul-ai/tz/internal/tarextract"
)

// Outcome tells a caller whether bytes were already cached.
type Outcome string

const (
	OutcomeCacheHit Outcome = "cache_hit"
	OutcomeStored   Outcome = "stored"
)

// Store roots every operation at a per-user cache directory
// (~/.<prefix>/ per spec §3).
type Store struct {
	root  string
	group singleflight.Group
}

// New returns a Store rooted at root, creating cache/ and store/
// subdirectories if needed.
func New(root string) (*Store, error) {
	for _, sub := range []string{"cache", "store"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, errs.Wrap(errs.KindStorage, "create store directory", err)
		}
	}
	return &Store{root: root}, nil
}

// CachePath returns the path raw tarball bytes for digest would occupy.
func (s *Store) CachePath(d integrity.Digest) string {
	hex := d.Hex()
	return filepath.Join(s.root, "cache", "sha256", hex[:2], hex[2:])
}

// PackagePath returns the deterministic extracted-tree path for
// (name, version).
func (s *Store) PackagePath(name, version string) string {
	return filepath.Join(s.root, "store", manifest.StoreDirName(name), version)
}

// Store writes data atomically to its content-addressed cache path,
// returning the digest and whether it was already present.
func (s *Store) Store(data []byte) (integrity.Digest, Outcome, error) {
	d := integrity.SHA256Bytes(data)
	path := s.CachePath(d)
	if _, err := os.Stat(path); err == nil {
		return d, OutcomeCacheHit, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return d, "", errs.Wrap(errs.KindStorage, "create cache shard directory", err)
	}
	tmp := path + ".tmp-" + randomSuffix()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return d, "", errs.Wrap(errs.KindStorage, "write cache temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return d, "", errs.Wrap(errs.KindStorage, "rename cache file into place", err)
	}
	return d, OutcomeStored, nil
}

// ExtractTarball extracts tarball bytes for (name, version) into the
// store, guarded per-(name,version) so concurrent installers for the
// same package coordinate: only one extraction runs, the rest wait and
// then observe the already-extracted directory. Extraction happens in a
// sibling temp directory and is renamed into place atomically; a failed
// extraction leaves no partial directory at PackagePath.
func (s *Store) ExtractTarball(tarball []byte, name, version string) (string, Outcome, error) {
	key := manifest.StoreDirName(name) + "@" + version
	dest := s.PackagePath(name, version)

	v, err, _ := s.group.Do(key, func() (any, error) {
		if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
			return OutcomeCacheHit, nil
		}

		parent := filepath.Dir(dest)
		if mkErr := os.MkdirAll(parent, 0o755); mkErr != nil {
			return nil, errs.Wrap(errs.KindStorage, "create store parent directory", mkErr)
		}
		staging, mkErr := os.MkdirTemp(parent, filepath.Base(dest)+".staging-*")
		if mkErr != nil {
			return nil, errs.Wrap(errs.KindStorage, "create staging directory", mkErr)
		}

		if _, extractErr := tarextract.Extract(bytes.NewReader(tarball), staging); extractErr != nil {
			_ = os.RemoveAll(staging)
			return nil, extractErr
		}

		if renameErr := os.Rename(staging, dest); renameErr != nil {
			_ = os.RemoveAll(staging)
			if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
				return OutcomeCacheHit, nil
			}
			return nil, errs.Wrap(errs.KindStorage, "rename staged package into store", renameErr)
		}
		return OutcomeStored, nil
	})
	if err != nil {
		return dest, "", err
	}
	return dest, v.(Outcome), nil
}

// randomSuffix avoids colliding temp file names across concurrent
// Store calls without depending on a random source banned from this
// codebase's deterministic-build discipline; os.Getpid plus the
// wall-clock nanoseconds is unique enough for a same-host temp name.
func randomSuffix() string {
	return filepath.Base(os.TempDir()) + "-" + itoa(os.Getpid()) + "-" + itoa(int(time.Now().UnixNano()%1_000_000_000))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// LinkRegistry is the local-development link registry persisted at
// links.json under the store root (spec §3 supplemented feature): a
// package name mapped to a local filesystem path used in place of the
// store copy, analogous to `npm link`.
type LinkRegistry struct {
	Links map[string]string `json:"links"`
}

const linksFileName = "links.json"

// ReadLinks loads links.json from the store root; a missing file yields
// an empty registry.
func (s *Store) ReadLinks() (*LinkRegistry, error) {
	data, err := os.ReadFile(filepath.Join(s.root, linksFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &LinkRegistry{Links: map[string]string{}}, nil
		}
		return nil, errs.Wrap(errs.KindStorage, "read links.json", err)
	}
	var reg LinkRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, errs.Wrap(errs.KindConfigInvalid, "parse links.json", err)
	}
	if reg.Links == nil {
		reg.Links = map[string]string{}
	}
	return &reg, nil
}

// WriteLinks atomically persists the link registry.
func (s *Store) WriteLinks(reg *LinkRegistry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindConfigInvalid, "marshal links.json", err)
	}
	path := filepath.Join(s.root, linksFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.KindStorage, "write links.json temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.KindStorage, "rename links.json into place", err)
	}
	return nil
}

// Link registers name to point at localPath for local development.
func (s *Store) Link(name, localPath string) error {
	reg, err := s.ReadLinks()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return errs.Wrap(errs.KindInvalidArgument, "resolve local link path", err)
	}
	reg.Links[name] = abs
	return s.WriteLinks(reg)
}

// Unlink removes name from the local-development link registry.
func (s *Store) Unlink(name string) error {
	reg, err := s.ReadLinks()
	if err != nil {
		return err
	}
	delete(reg.Links, name)
	return s.WriteLinks(reg)
}

// ResolvedPackagePath returns the linked local path for name if one is
// registered, else the normal store PackagePath for (name, version).
func (s *Store) ResolvedPackagePath(name, version string) (string, error) {
	reg, err := s.ReadLinks()
	if err != nil {
		return "", err
	}
	if local, ok := reg.Links[name]; ok {
		return local, nil
	}
	return s.PackagePath(name, version), nil
}

// Open returns a reader over the raw cached tarball bytes for digest.
func (s *Store) Open(d integrity.Digest) (io.ReadCloser, error) {
	f, err := os.Open(s.CachePath(d))
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, "open cached tarball", err)
	}
	return f, nil
}
