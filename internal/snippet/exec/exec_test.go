package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/terrazul-ai/tz/internal/snippet"
	"github.com/terrazul-ai/tz/internal/snippet/cache"
)

type fakePrompter struct {
	calls  int
	answer string
}

func (f *fakePrompter) PromptUser(ctx context.Context, question string, opts UserPromptOptions) (string, error) {
	f.calls++
	return f.answer, nil
}

type fakeRunner struct {
	calls      int
	lastPrompt string
	stdout     string
	err        error
}

func (f *fakeRunner) RunAgent(ctx context.Context, req AgentRequest) (string, error) {
	f.calls++
	f.lastPrompt = req.Prompt
	return f.stdout, f.err
}

func newEnv(t *testing.T, prompter *fakePrompter, runner *fakeRunner) *Env {
	t.Helper()
	st, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatalf("new cache store: %v", err)
	}
	return &Env{
		Prompter:       prompter,
		Runner:         runner,
		Cache:          st,
		PackageName:    "@t/starter",
		PackageVersion: "1.0.0",
		PackageDir:     t.TempDir(),
	}
}

func TestRunAskUserThenAskAgentOrder(t *testing.T) {
	prompter := &fakePrompter{answer: "Ada"}
	runner := &fakeRunner{stdout: `{"result": "hello Ada"}`}
	env := newEnv(t, prompter, runner)

	snippets := []snippet.Snippet{
		{ID: "snippet_1", Kind: snippet.KindAskAgent, Prompt: "greet {{ name }}", Options: map[string]any{}},
		{ID: "snippet_0", Kind: snippet.KindAskUser, VarName: "name", Prompt: "what is your name?"},
	}

	res, err := Run(context.Background(), env, snippets)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ByVar["name"] != "Ada" {
		t.Fatalf("expected askUser result bound to var, got %+v", res.ByVar)
	}
	if res.ByID["snippet_1"] != "hello Ada" {
		t.Fatalf("expected interpolated + auto_json result, got %q", res.ByID["snippet_1"])
	}
	if runner.lastPrompt != "greet Ada\n\nAnswer in a single turn; do not ask follow-up questions." {
		t.Fatalf("unexpected prompt sent to agent: %q", runner.lastPrompt)
	}
}

func TestRunAskUserCacheHitSkipsPrompting(t *testing.T) {
	prompter := &fakePrompter{answer: "first"}
	runner := &fakeRunner{}
	env := newEnv(t, prompter, runner)

	s := []snippet.Snippet{{ID: "snippet_0", Kind: snippet.KindAskUser, VarName: "x", Prompt: "q"}}
	if _, err := Run(context.Background(), env, s); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if prompter.calls != 1 {
		t.Fatalf("expected 1 prompt call, got %d", prompter.calls)
	}

	prompter.answer = "second"
	res, err := Run(context.Background(), env, s)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if prompter.calls != 1 {
		t.Fatalf("expected cache hit to skip re-prompting, calls=%d", prompter.calls)
	}
	if res.ByVar["x"] != "first" {
		t.Fatalf("expected cached value 'first', got %q", res.ByVar["x"])
	}
}

func TestRunAskAgentRequiresJSONWhenRequested(t *testing.T) {
	prompter := &fakePrompter{}
	runner := &fakeRunner{stdout: "not json"}
	env := newEnv(t, prompter, runner)

	s := []snippet.Snippet{{ID: "snippet_0", Kind: snippet.KindAskAgent, Prompt: "q", Options: map[string]any{"json": true}}}
	if _, err := Run(context.Background(), env, s); err == nil {
		t.Fatalf("expected error when json:true but output is not JSON")
	}
}

func TestRunAskAgentFallsBackToTrimmedText(t *testing.T) {
	prompter := &fakePrompter{}
	runner := &fakeRunner{stdout: "  plain text output  \n"}
	env := newEnv(t, prompter, runner)

	s := []snippet.Snippet{{ID: "snippet_0", Kind: snippet.KindAskAgent, Prompt: "q"}}
	res, err := Run(context.Background(), env, s)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ByID["snippet_0"] != "plain text output" {
		t.Fatalf("unexpected fallback result: %q", res.ByID["snippet_0"])
	}
}

func TestRunAskAgentStripsANSIEscapes(t *testing.T) {
	prompter := &fakePrompter{}
	runner := &fakeRunner{stdout: "\x1b[32mgreen text\x1b[0m"}
	env := newEnv(t, prompter, runner)

	s := []snippet.Snippet{{ID: "snippet_0", Kind: snippet.KindAskAgent, Prompt: "q"}}
	res, err := Run(context.Background(), env, s)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ByID["snippet_0"] != "green text" {
		t.Fatalf("expected ANSI stripped, got %q", res.ByID["snippet_0"])
	}
}

func TestRunAskAgentDoesNotAppendDirectiveTwice(t *testing.T) {
	prompter := &fakePrompter{}
	runner := &fakeRunner{stdout: "ok"}
	env := newEnv(t, prompter, runner)

	s := []snippet.Snippet{{ID: "snippet_0", Kind: snippet.KindAskAgent, Prompt: "q. Do not ask follow-up questions."}}
	if _, err := Run(context.Background(), env, s); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.lastPrompt != "q. Do not ask follow-up questions." {
		t.Fatalf("expected directive not duplicated, got %q", runner.lastPrompt)
	}
}

func TestRunAskAgentErrorDoesNotCorruptCache(t *testing.T) {
	prompter := &fakePrompter{}
	runner := &fakeRunner{err: errors.New("boom")}
	env := newEnv(t, prompter, runner)

	s := []snippet.Snippet{{ID: "snippet_0", Kind: snippet.KindAskAgent, Prompt: "q"}}
	if _, err := Run(context.Background(), env, s); err == nil {
		t.Fatalf("expected error from failing runner")
	}

	key, _ := askAgentCacheKey("q", map[string]any{})
	if _, ok, _ := env.Cache.Get(env.PackageName, env.PackageVersion, key); ok {
		t.Fatalf("expected no cache entry after a failed agent call")
	}
}
