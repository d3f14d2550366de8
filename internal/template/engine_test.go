package template

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRenderSubstitutesVariable(t *testing.T) {
	ctx := Context{Vars: map[string]string{"name": "Ada"}}
	out, err := Render("Hello {{ name }}!", ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Hello Ada!" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRenderUnescapedTripleBraceSkipsHTMLEscaping(t *testing.T) {
	ctx := Context{Vars: map[string]string{"raw": "<b>bold</b>"}}
	out, err := Render("{{{ raw }}}", ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "<b>bold</b>" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRenderEscapesPlainExpression(t *testing.T) {
	ctx := Context{Vars: map[string]string{"raw": "<b>bold</b>"}}
	out, err := Render("{{ raw }}", ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "&lt;b&gt;bold&lt;/b&gt;" {
		t.Fatalf("expected HTML-escaped output, got %q", out)
	}
}

func TestRenderSkipsControlFlowExpressions(t *testing.T) {
	out, err := Render("{{#if x}}body{{/if}}", Context{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "body" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHelperEqAndNot(t *testing.T) {
	out, err := Render(`{{ eq('a', 'a') }} {{ not(eq('a', 'b')) }}`, Context{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "true true" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHelperOrReturnsFirstTruthy(t *testing.T) {
	ctx := Context{Vars: map[string]string{"a": "", "b": "fallback"}}
	out, err := Render("{{ or(a, b) }}", ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "fallback" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHelperIncludes(t *testing.T) {
	out, err := Render(`{{ includes('claude', 'claude codex gemini') }}`, Context{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "true" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHelperExistsResolvesWithinProjectRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "present.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	ctx := Context{ProjectRoot: dir}
	out, err := Render(`{{ exists('present.txt') }} {{ exists('missing.txt') }}`, ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "true false" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHelperExistsRejectsAbsoluteAndEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	ctx := Context{ProjectRoot: dir}
	out, err := Render(`{{ exists('/etc/passwd') }} {{ exists('../../etc/passwd') }}`, ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "false false" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHelperFindByID(t *testing.T) {
	ctx := Context{
		FindByIDSrc: map[string][]map[string]any{
			"tasks": {
				{"id": "t1", "label": "First"},
				{"id": "t2", "label": "Second"},
			},
		},
	}
	out, err := Render(`{{ findById(tasks, 't2', 'label') }}`, ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Second" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHelperJSONPrettyPrints(t *testing.T) {
	out, err := Render(`{{{ json('hello') }}}`, Context{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != `"hello"` {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRenderUnknownHelperErrors(t *testing.T) {
	_, err := Render("{{ bogus(1) }}", Context{})
	if err == nil {
		t.Fatalf("expected error for unknown helper")
	}
}
