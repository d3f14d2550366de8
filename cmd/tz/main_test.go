package main

import (
	"testing"

	"github.com/terrazul-ai/tz/internal/errs"
)

func TestRegistrySubcommandsCoversTopLevelUsageList(t *testing.T) {
	handlers := registrySubcommands()
	want := []string{"init", "install", "add", "remove", "list", "render", "login", "logout", "whoami", "version", "why", "audit"}
	if len(handlers) != len(want) {
		t.Fatalf("expected %d subcommands, got %d", len(want), len(handlers))
	}
	for _, name := range want {
		h, ok := handlers[name]
		if !ok {
			t.Fatalf("missing subcommand %q", name)
		}
		if h.Description() == "" {
			t.Fatalf("subcommand %q has empty description", name)
		}
		if h.Usage() == "" {
			t.Fatalf("subcommand %q has empty usage", name)
		}
	}
}

func TestRunUnknownCommandReturnsInvalidArgumentExitCode(t *testing.T) {
	code := run([]string{"bogus"})
	if code != errs.ExitCode(errs.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument exit code for unknown command, got %d", code)
	}
}

func TestRunNoArgsPrintsUsageAndSucceeds(t *testing.T) {
	if code := run(nil); code != 0 {
		t.Fatalf("expected exit code 0 with no args, got %d", code)
	}
}

func TestRunHelpSucceeds(t *testing.T) {
	if code := run([]string{"help"}); code != 0 {
		t.Fatalf("expected exit code 0 for help, got %d", code)
	}
	if code := run([]string{"--help"}); code != 0 {
		t.Fatalf("expected exit code 0 for --help, got %d", code)
	}
}
