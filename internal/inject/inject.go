// Package inject maintains the idempotent, marker-delimited package-list
// block at the head of host context files (CLAUDE.md, AGENTS.md) per
// spec §4.L. The teacher has no equivalent (Orizon has no render/context
// step); this is built directly from the spec's rules in the teacher's
// small-single-purpose-function style, using only stdlib string
// handling.
package inject

import (
	"sort"
	"strings"
)

const (
	beginMarker = "<!-- terrazul:begin -->"
	endMarker   = "<!-- terrazul:end -->"
	comment     = "<!-- Terrazul package context - auto-managed, do not edit -->"
)

// Entry is one package reference line to list in the managed block.
type Entry struct {
	PackageName string // e.g. "@t/starter"
	RelPath     string // path to the package's context file, relative to the host file's directory
}

// BuildBlock renders the managed head block for entries, sorted
// alphabetically by package name (spec §4.L).
func BuildBlock(entries []Entry) string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PackageName < sorted[j].PackageName })

	var b strings.Builder
	b.WriteString(beginMarker)
	b.WriteByte('\n')
	b.WriteString(comment)
	b.WriteByte('\n')
	for _, e := range sorted {
		b.WriteByte('@')
		b.WriteString(strings.TrimSuffix(e.RelPath, "/"))
		b.WriteByte('\n')
	}
	b.WriteString(endMarker)
	return b.String()
}

// Inject applies the idempotent head-block rule to content and returns
// the new file content plus whether it changed. Only a block whose
// begin marker sits at byte offset 0 is recognized as managed; a marker
// appearing later in the document is left untouched as ordinary text.
func Inject(content string, entries []Entry) (newContent string, changed bool) {
	block := BuildBlock(entries)

	if strings.HasPrefix(content, beginMarker) {
		end := strings.Index(content, endMarker)
		if end < 0 {
			// Malformed: a begin marker with no matching end marker.
			// Don't guess at where managed content stops — prepend a
			// fresh block above the untouched original instead of
			// risking data loss.
			return block + "\n\n" + content, true
		}
		existingBlock := content[:end+len(endMarker)]
		rest := content[end+len(endMarker):]
		if existingBlock == block {
			return content, false
		}
		return block + rest, true
	}

	if content == "" {
		return block + "\n", true
	}
	return block + "\n\n" + content, true
}

// Remove strips the head block if present, preserving everything else
// and normalizing the result to end with exactly one trailing newline
// (spec §4.L).
func Remove(content string) (newContent string, changed bool) {
	if !strings.HasPrefix(content, beginMarker) {
		return content, false
	}
	end := strings.Index(content, endMarker)
	if end < 0 {
		return content, false
	}
	rest := content[end+len(endMarker):]
	rest = strings.TrimPrefix(rest, "\n\n")
	rest = strings.TrimPrefix(rest, "\n")
	if rest == "" {
		return "", true
	}
	return normalizeTrailingNewline(rest), true
}

func normalizeTrailingNewline(s string) string {
	return strings.TrimRight(s, "\n") + "\n"
}
