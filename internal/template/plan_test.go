package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	snippetexec "github.com/terrazul-ai/tz/internal/snippet/exec"
)

type fakePrompter struct{ answers map[string]string }

func (f *fakePrompter) PromptUser(_ context.Context, question string, _ snippetexec.UserPromptOptions) (string, error) {
	return f.answers[question], nil
}

type fakeRunner struct{}

func (fakeRunner) RunAgent(_ context.Context, _ snippetexec.AgentRequest) (string, error) {
	return "agent reply", nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func setupPackage(t *testing.T, storeRoot string) Package {
	t.Helper()
	pkgDir := filepath.Join(storeRoot, "@t_starter", "1.0.0")
	writeFile(t, filepath.Join(pkgDir, "agents.toml"), `
[package]
name = "@t/starter"
version = "1.0.0"

[exports.claude]
template = "CLAUDE.md.hbs"
`)
	writeFile(t, filepath.Join(pkgDir, "CLAUDE.md.hbs"), "Project: {{ var name = askUser(\"What is your project called?\") }}\n")
	return Package{Name: "@t/starter", Version: "1.0.0", Dir: pkgDir}
}

func TestPlanRendersTemplateExportWithSnippet(t *testing.T) {
	projectRoot := t.TempDir()
	storeRoot := t.TempDir()
	pkg := setupPackage(t, storeRoot)

	opts := Options{
		Prompter: &fakePrompter{answers: map[string]string{"What is your project called?": "Acme"}},
		Runner:   fakeRunner{},
		NoCache:  true,
	}
	result, err := Plan(context.Background(), projectRoot, []Package{pkg}, opts)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	dest := filepath.Join(projectRoot, "CLAUDE.md")
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read rendered file: %v", err)
	}
	if string(data) != "Project: Acme\n" {
		t.Fatalf("unexpected rendered content: %q", string(data))
	}
	if len(result.Written) != 1 || result.Written[0] != dest {
		t.Fatalf("expected dest in written, got %+v", result.Written)
	}
	if len(result.Snippets["@t/starter"]) != 1 {
		t.Fatalf("expected one snippet recorded, got %+v", result.Snippets)
	}
}

func TestPlanSkipsUnchangedDestination(t *testing.T) {
	projectRoot := t.TempDir()
	storeRoot := t.TempDir()
	pkg := setupPackage(t, storeRoot)
	writeFile(t, filepath.Join(projectRoot, "CLAUDE.md"), "Project: Acme\n")

	opts := Options{
		Prompter: &fakePrompter{answers: map[string]string{"What is your project called?": "Acme"}},
		Runner:   fakeRunner{},
		NoCache:  true,
	}
	result, err := Plan(context.Background(), projectRoot, []Package{pkg}, opts)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(result.Written) != 0 {
		t.Fatalf("expected no writes for unchanged content, got %+v", result.Written)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Reason != "unchanged" {
		t.Fatalf("expected one 'unchanged' skip, got %+v", result.Skipped)
	}
}

func TestPlanBacksUpExistingDifferentContentWithoutForce(t *testing.T) {
	projectRoot := t.TempDir()
	storeRoot := t.TempDir()
	pkg := setupPackage(t, storeRoot)
	writeFile(t, filepath.Join(projectRoot, "CLAUDE.md"), "old content\n")

	opts := Options{
		Prompter: &fakePrompter{answers: map[string]string{"What is your project called?": "Acme"}},
		Runner:   fakeRunner{},
		NoCache:  true,
	}
	result, err := Plan(context.Background(), projectRoot, []Package{pkg}, opts)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	backupPath := filepath.Join(projectRoot, "CLAUDE.md.bak")
	data, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(data) != "old content\n" {
		t.Fatalf("unexpected backup content: %q", string(data))
	}
	if len(result.BackedUp) != 1 {
		t.Fatalf("expected one backup recorded, got %+v", result.BackedUp)
	}
}

func TestPlanDryRunMakesNoWrites(t *testing.T) {
	projectRoot := t.TempDir()
	storeRoot := t.TempDir()
	pkg := setupPackage(t, storeRoot)

	opts := Options{
		Prompter: &fakePrompter{answers: map[string]string{"What is your project called?": "Acme"}},
		Runner:   fakeRunner{},
		NoCache:  true,
		DryRun:   true,
	}
	result, err := Plan(context.Background(), projectRoot, []Package{pkg}, opts)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(result.Written) != 1 {
		t.Fatalf("expected plan to report one write, got %+v", result.Written)
	}
	if _, err := os.Stat(filepath.Join(projectRoot, "CLAUDE.md")); !os.IsNotExist(err) {
		t.Fatalf("expected no file written in dry run")
	}
}

func TestPlanRendersDirectoryExportAndPopulatesFindByID(t *testing.T) {
	projectRoot := t.TempDir()
	storeRoot := t.TempDir()
	pkgDir := filepath.Join(storeRoot, "@t_agents", "1.0.0")
	writeFile(t, filepath.Join(pkgDir, "agents.toml"), `
[package]
name = "@t/agents"
version = "1.0.0"

[exports.claude]
subagentsDir = "subagents"
template = "CLAUDE.md.hbs"
`)
	writeFile(t, filepath.Join(pkgDir, "subagents", "reviewer.md"), "You are a reviewer.\n")
	writeFile(t, filepath.Join(pkgDir, "CLAUDE.md.hbs"), "Agents: {{ findById(subagentsDir, \"reviewer\", \"path\") }}\n")
	pkg := Package{Name: "@t/agents", Version: "1.0.0", Dir: pkgDir}

	opts := Options{NoCache: true}
	result, err := Plan(context.Background(), projectRoot, []Package{pkg}, opts)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	agentDest := filepath.Join(projectRoot, ".tz", "rendered", "t", "agents", "agents", "reviewer.md")
	if _, err := os.Stat(agentDest); err != nil {
		t.Fatalf("expected staged rendered agent file, got err: %v", err)
	}

	claudeMD, err := os.ReadFile(filepath.Join(projectRoot, "CLAUDE.md"))
	if err != nil {
		t.Fatalf("read CLAUDE.md: %v", err)
	}
	want := "Agents: " + filepath.Join(".claude", "agents", "reviewer.md") + "\n"
	if string(claudeMD) != want {
		t.Fatalf("expected findById to resolve rendered agent path, got %q want %q", string(claudeMD), want)
	}
}

func TestPlanNoOpsOnPackageWithoutExports(t *testing.T) {
	projectRoot := t.TempDir()
	storeRoot := t.TempDir()
	pkgDir := filepath.Join(storeRoot, "@t_evil", "1.0.0")
	writeFile(t, filepath.Join(pkgDir, "agents.toml"), `
[package]
name = "@t/evil"
version = "1.0.0"
`)
	pkg := Package{Name: "@t/evil", Version: "1.0.0", Dir: pkgDir}

	result, err := Plan(context.Background(), projectRoot, []Package{pkg}, Options{NoCache: true})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(result.Written) != 0 {
		t.Fatalf("expected no writes for a package with no exports, got %+v", result.Written)
	}
}
