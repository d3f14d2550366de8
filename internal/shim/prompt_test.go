package shim

import (
	"bytes"
	"context"
	"strings"
	"testing"

	snippetexec "github.com/terrazul-ai/tz/internal/snippet/exec"
)

func TestTTYPrompterNonInteractiveUsesDefault(t *testing.T) {
	p := &TTYPrompter{In: strings.NewReader(""), Out: &bytes.Buffer{}}
	got, err := p.PromptUser(context.Background(), "Project name?", snippetexec.UserPromptOptions{Default: "Acme"})
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if got != "Acme" {
		t.Fatalf("expected default, got %q", got)
	}
}

func TestTTYPrompterNonInteractiveWithoutDefaultErrors(t *testing.T) {
	p := &TTYPrompter{In: strings.NewReader(""), Out: &bytes.Buffer{}}
	_, err := p.PromptUser(context.Background(), "Project name?", snippetexec.UserPromptOptions{})
	if err == nil {
		t.Fatal("expected error without a TTY or default")
	}
}
