package snippet

import (
	"testing"

	"github.com/terrazul-ai/tz/internal/errs"
)

func TestParseAskUserBasic(t *testing.T) {
	src := `before {{ var answer = askUser('What is your name?', { default: 'Ada', placeholder: 'name' }) }} after`
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(snips) != 1 {
		t.Fatalf("expected 1 snippet, got %d", len(snips))
	}
	s := snips[0]
	if s.Kind != KindAskUser || s.VarName != "answer" {
		t.Fatalf("unexpected snippet: %+v", s)
	}
	if s.Prompt != "What is your name?" {
		t.Fatalf("unexpected prompt: %q", s.Prompt)
	}
	if s.Options["default"] != "Ada" || s.Options["placeholder"] != "name" {
		t.Fatalf("unexpected options: %+v", s.Options)
	}
	if s.ID != "snippet_0" {
		t.Fatalf("unexpected id: %s", s.ID)
	}
}

func TestParseAskAgentTripleQuotedIsTextKind(t *testing.T) {
	src := "{{ var plan = askAgent(\"\"\"\n    Summarize the repo.\n    List top risks.\n    \"\"\", { tool: 'claude', json: true }) }}"
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(snips) != 1 {
		t.Fatalf("expected 1 snippet, got %d", len(snips))
	}
	s := snips[0]
	if s.PromptKind != PromptText {
		t.Fatalf("expected text prompt kind, got %s", s.PromptKind)
	}
	if s.Options["tool"] != "claude" {
		t.Fatalf("unexpected tool option: %+v", s.Options)
	}
}

func TestParseAskAgentFilePathPrompt(t *testing.T) {
	src := `{{ askAgent('./prompts/summary.md', { tool: 'codex' }) }}`
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snips[0].PromptKind != PromptFile {
		t.Fatalf("expected file prompt kind, got %s", snips[0].PromptKind)
	}
}

func TestParseAskAgentKnownExtensionWithoutSlashIsFilePrompt(t *testing.T) {
	src := `{{ askAgent('review.md', { tool: 'codex' }) }}`
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snips[0].PromptKind != PromptFile {
		t.Fatalf("expected file prompt kind, got %s", snips[0].PromptKind)
	}
}

func TestParseAskAgentPathPrefixWithoutExtensionIsFilePrompt(t *testing.T) {
	src := `{{ askAgent('./prompts/review', { tool: 'codex' }) }}`
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snips[0].PromptKind != PromptFile {
		t.Fatalf("expected file prompt kind, got %s", snips[0].PromptKind)
	}
}

func TestParseSkipsControlFlowExpressions(t *testing.T) {
	src := `{{#if ready}}{{ var x = askUser('q') }}{{/if}}`
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(snips) != 1 {
		t.Fatalf("expected control-flow braces to be skipped, got %d snippets", len(snips))
	}
}

func TestParseBraceInsideStringLiteralDoesNotEndExpression(t *testing.T) {
	src := `{{ askUser('contains }} literal') }}`
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(snips) != 1 {
		t.Fatalf("expected 1 snippet, got %d", len(snips))
	}
	if snips[0].Prompt != "contains }} literal" {
		t.Fatalf("unexpected prompt: %q", snips[0].Prompt)
	}
}

func TestParseUnescapedTripleBraceForm(t *testing.T) {
	src := `{{{ askUser('raw') }}}`
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(snips) != 1 || snips[0].Prompt != "raw" {
		t.Fatalf("unexpected result: %+v", snips)
	}
	if snips[0].Raw != src {
		t.Fatalf("expected raw to round-trip original source, got %q", snips[0].Raw)
	}
}

func TestParseDuplicateVarNameFails(t *testing.T) {
	src := `{{ var a = askUser('one') }} {{ var a = askUser('two') }}`
	_, err := Parse(src)
	if errs.KindOf(err) != errs.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for duplicate var name, got %v", err)
	}
}

func TestParseAskUserRejectsUnknownOption(t *testing.T) {
	src := `{{ askUser('q', { bogus: 1 }) }}`
	_, err := Parse(src)
	if errs.KindOf(err) != errs.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for unknown askUser option, got %v", err)
	}
}

func TestParseAskAgentRejectsUnknownTool(t *testing.T) {
	src := `{{ askAgent('q', { tool: 'bogus' }) }}`
	_, err := Parse(src)
	if errs.KindOf(err) != errs.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for unknown tool, got %v", err)
	}
}

func TestParseAskAgentRejectsNonPositiveTimeout(t *testing.T) {
	src := `{{ askAgent('q', { timeoutMs: -5 }) }}`
	_, err := Parse(src)
	if errs.KindOf(err) != errs.KindInvalidArgument {
		t.Fatalf("expected InvalidArgument for non-positive timeoutMs, got %v", err)
	}
}

func TestParseDedentsTripleQuotedLiteral(t *testing.T) {
	src := "{{ askAgent(\"\"\"\n    line one\n    line two\n    \"\"\") }}"
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snips[0].Prompt != "line one\nline two" {
		t.Fatalf("unexpected dedented prompt: %q", snips[0].Prompt)
	}
}

func TestParseBacktickLiteralAllowsNewlines(t *testing.T) {
	src := "{{ askAgent(`first\nsecond`) }}"
	snips, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snips[0].Prompt != "first\nsecond" {
		t.Fatalf("unexpected prompt: %q", snips[0].Prompt)
	}
}

func TestParseReturnsNoSnippetsForPlainTemplate(t *testing.T) {
	snips, err := Parse("# Just a heading\n\nNo snippets here.")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(snips) != 0 {
		t.Fatalf("expected no snippets, got %d", len(snips))
	}
}
