package lockfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleLockfile() *Lockfile {
	lf := New(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), "0.5.0")
	lf.Packages["@t/base"] = Entry{
		Version:   "1.0.0",
		Resolved:  "https://registry.example/tarballs/t/base/1.0.0.tgz",
		Integrity: "sha256-abc123",
	}
	lf.Packages["@t/starter"] = Entry{
		Version:      "1.1.0",
		Resolved:     "https://registry.example/tarballs/t/starter/1.1.0.tgz",
		Integrity:    "sha256-def456",
		Dependencies: map[string]string{"@t/base": "1.0.0"},
	}
	return lf
}

func TestEncodeIsDeterministic(t *testing.T) {
	lf := sampleLockfile()
	a := Encode(lf)
	b := Encode(lf)
	if string(a) != string(b) {
		t.Fatalf("encode not deterministic:\n%s\n---\n%s", a, b)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lf := sampleLockfile()
	if err := Write(lf, dir); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName+".tmp")); err == nil {
		t.Fatalf("temp file leaked")
	}

	got, err := Read(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Version != FormatVersion {
		t.Fatalf("unexpected version: %d", got.Version)
	}
	if len(got.Packages) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(got.Packages))
	}
	if got.Packages["@t/starter"].Dependencies["@t/base"] != "1.0.0" {
		t.Fatalf("dependency not round-tripped: %+v", got.Packages["@t/starter"])
	}
}

func TestReadMissingFileReturnsNilNil(t *testing.T) {
	dir := t.TempDir()
	lf, err := Read(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lf != nil {
		t.Fatalf("expected nil lockfile for missing file")
	}
}

func TestMergeKeepsUntouchedEntries(t *testing.T) {
	existing := sampleLockfile()
	updates := map[string]Entry{
		"@t/base": {Version: "1.0.1", Resolved: existing.Packages["@t/base"].Resolved, Integrity: "sha256-new"},
	}
	merged := Merge(existing, updates, time.Now().UTC(), "0.5.1")
	if merged.Packages["@t/base"].Version != "1.0.1" {
		t.Fatalf("update not applied")
	}
	if merged.Packages["@t/starter"].Version != "1.1.0" {
		t.Fatalf("untouched entry lost: %+v", merged.Packages["@t/starter"])
	}
}

func TestRemove(t *testing.T) {
	lf := sampleLockfile()
	out := Remove(lf, []string{"@t/base"})
	if _, ok := out.Packages["@t/base"]; ok {
		t.Fatalf("expected @t/base to be removed")
	}
	if _, ok := out.Packages["@t/starter"]; !ok {
		t.Fatalf("expected @t/starter to remain")
	}
}

func TestPruneDropsUnreachable(t *testing.T) {
	lf := sampleLockfile()
	lf.Packages["@t/orphan"] = Entry{Version: "0.1.0"}

	pruned, removed := Prune(lf, []string{"@t/starter"})
	if _, ok := pruned.Packages["@t/orphan"]; ok {
		t.Fatalf("expected orphan to be pruned")
	}
	if _, ok := pruned.Packages["@t/base"]; !ok {
		t.Fatalf("expected transitive dependency to survive")
	}
	if len(removed) != 1 || removed[0] != "@t/orphan" {
		t.Fatalf("unexpected removed set: %v", removed)
	}
}

func TestStripQuery(t *testing.T) {
	in := "https://cdn.example/t/base-1.0.0.tgz?X-Amz-Signature=abc&X-Amz-Expires=60"
	if got := StripQuery(in); got != "https://cdn.example/t/base-1.0.0.tgz" {
		t.Fatalf("got %q", got)
	}
	if got := StripQuery("https://cdn.example/plain.tgz"); got != "https://cdn.example/plain.tgz" {
		t.Fatalf("unexpected mutation of query-less URL: %q", got)
	}
}

func TestCreateIntegrityHashIsStable(t *testing.T) {
	data := []byte("tarball-bytes")
	if CreateIntegrityHash(data) != CreateIntegrityHash(data) {
		t.Fatalf("integrity hash not stable")
	}
}
