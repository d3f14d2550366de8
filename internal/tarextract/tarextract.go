// Package tarextract safely unpacks a gzip+tar package archive onto disk
// (spec §4.D). It rejects everything that could let an entry escape the
// destination or overwrite something unexpected: absolute paths, ".."
// segments, symlinks, hardlinks, device/FIFO/socket entries, and
// duplicate names. Every resolved target is re-checked through
// internal/sandbox before it is touched.
package tarextract

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/sandbox"
)

// regularFileMode and dirMode replace the modes recorded in an untrusted
// archive, so no executable bit carries over: regular files land 0o644,
// directories 0o755.
const (
	regularFileMode = 0o644
	dirMode         = 0o755
)

// Result reports what an extraction produced.
type Result struct {
	FileCount int
	TotalSize int64
}

// Extract reads a gzip-compressed tar stream from r and writes its
// contents under destDir, which must already exist. Every entry is
// resolved relative to destDir via sandbox.ResolveWithin; any entry that
// fails validation aborts the whole extraction with no partial side
// effects beyond what has already been written (callers extract into a
// temp directory and rename on success, per internal/store).
func Extract(r io.Reader, destDir string) (Result, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindInvalidPackage, "open gzip stream", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	seen := make(map[string]bool)
	var res Result

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, errs.Wrap(errs.KindInvalidPackage, "read tar entry", err)
		}

		name, err := normalizeEntryName(header.Name)
		if err != nil {
			return res, err
		}
		if name == "" {
			continue // root entry "." or "./"
		}
		if seen[name] {
			return res, errs.New(errs.KindSecurity, "duplicate archive entry: "+name)
		}
		seen[name] = true

		target, err := sandbox.ResolveWithin(destDir, name)
		if err != nil {
			return res, errs.Wrap(errs.KindSecurity, "archive entry escapes destination: "+header.Name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode); err != nil {
				return res, errs.Wrap(errs.KindStorage, "create directory from archive", err)
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
				return res, errs.Wrap(errs.KindStorage, "create parent directory", err)
			}
			n, err := writeRegularFile(target, tr)
			if err != nil {
				return res, err
			}
			res.FileCount++
			res.TotalSize += n
		case tar.TypeSymlink, tar.TypeLink:
			return res, errs.New(errs.KindSecurity, "archive contains link entry: "+header.Name)
		case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
			return res, errs.New(errs.KindSecurity, "archive contains device entry: "+header.Name)
		default:
			return res, errs.New(errs.KindSecurity, fmt.Sprintf("archive entry %q has unsupported type %v", header.Name, header.Typeflag))
		}
	}

	return res, nil
}

func writeRegularFile(target string, r io.Reader) (int64, error) {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, regularFileMode)
	if err != nil {
		return 0, errs.Wrap(errs.KindStorage, "create file from archive", err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errs.Wrap(errs.KindStorage, "write file from archive", err)
	}
	return n, nil
}

// normalizeEntryName rejects absolute paths and ".." traversal and
// normalizes separators to the slash form tar archives always use, then
// returns a "/"-joined name suitable for sandbox.ResolveWithin on any
// platform.
func normalizeEntryName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	if name == "." || name == "" {
		return "", nil
	}
	if strings.HasPrefix(name, "/") {
		return "", errs.New(errs.KindSecurity, "archive entry has absolute path: "+name)
	}
	parts := strings.Split(name, "/")
	for _, p := range parts {
		if p == ".." {
			return "", errs.New(errs.KindSecurity, "archive entry traverses parent directory: "+name)
		}
	}
	return filepath.Join(parts...), nil
}

// ListNames drains a gzip+tar stream and returns the normalized entry
// names it would produce, without writing anything.
func ListNames(r io.Reader) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidPackage, "open gzip stream", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var names []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidPackage, "read tar entry", err)
		}
		name, err := normalizeEntryName(header.Name)
		if err != nil {
			return nil, err
		}
		if name == "" {
			continue
		}
		names = append(names, filepath.ToSlash(name))
	}
	sort.Strings(names)
	return names, nil
}
