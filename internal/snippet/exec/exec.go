// Package exec runs the snippets component I parses: all askUser calls
// first, then all askAgent calls, per spec §4.J's two-pass contract. It
// is grounded on the teacher's internal/packagemanager/manager.go for
// its "collect, then fan out" two-phase shape, and reuses
// internal/snippet/cache for persistence the way the teacher's
// FileSignatureStore backs httpregistry.go's auth flow.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/integrity"
	"github.com/terrazul-ai/tz/internal/obsmetrics"
	"github.com/terrazul-ai/tz/internal/snippet"
	"github.com/terrazul-ai/tz/internal/snippet/cache"
)

// UserPrompter is the external TUI interface askUser snippets call
// through. internal/shim supplies the production implementation.
type UserPrompter interface {
	PromptUser(ctx context.Context, question string, opts UserPromptOptions) (string, error)
}

// UserPromptOptions carries the askUser option-block fields.
type UserPromptOptions struct {
	Default     string
	Placeholder string
}

// AgentRequest is passed to the external tool runner for askAgent.
type AgentRequest struct {
	Tool         string
	Prompt       string
	Cwd          string
	SafeMode     bool
	TimeoutMs    int
	SystemPrompt string
}

// AgentRunner invokes an external coding-agent CLI and returns its raw
// stdout. internal/shim supplies the production implementation.
type AgentRunner interface {
	RunAgent(ctx context.Context, req AgentRequest) (stdout string, err error)
}

// Env bundles the collaborators and addressing context a render pass
// needs to execute snippets.
type Env struct {
	Prompter       UserPrompter
	Runner         AgentRunner
	Cache          *cache.Store
	PackageName    string
	PackageVersion string
	PackageDir     string // root used to resolve kind=file prompt paths
	NoCache        bool
	OnEvent        func(Event)
	Now            func() time.Time   // defaults to time.Now; overridable for tests
	Metrics        *obsmetrics.Metrics // defaults to a private no-op registry
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Env) metrics() *obsmetrics.Metrics {
	if e.Metrics == nil {
		e.Metrics = obsmetrics.Noop()
	}
	return e.Metrics
}

// Event reports snippet-execution progress to an optional caller hook
// (spec §4.K's onSnippetEvent).
type Event struct {
	SnippetID string
	Phase     string // "start", "cache_hit", "done", "error"
	Message   string
}

func (e *Env) emit(ev Event) {
	if e.OnEvent != nil {
		e.OnEvent(ev)
	}
}

// Results maps snippet ID to its resolved value, and variable name (when
// present) to the same value so later snippets can interpolate it.
type Results struct {
	ByID  map[string]string
	ByVar map[string]string
}

var singleTurnDirectivePattern = regexp.MustCompile(`(?i)do not ask follow-?up`)
var ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
var varInterpPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

const singleTurnDirective = "\n\nAnswer in a single turn; do not ask follow-up questions."

// Run executes every snippet in order-of-appearance, askUser snippets
// first and then askAgent snippets, and returns their resolved values.
func Run(ctx context.Context, env *Env, snippets []snippet.Snippet) (*Results, error) {
	results := &Results{ByID: map[string]string{}, ByVar: map[string]string{}}
	inMemory := map[string]string{}

	for _, s := range snippets {
		if s.Kind != snippet.KindAskUser {
			continue
		}
		value, err := runAskUser(ctx, env, s, inMemory)
		if err != nil {
			env.emit(Event{SnippetID: s.ID, Phase: "error", Message: err.Error()})
			return nil, err
		}
		results.ByID[s.ID] = value
		if s.VarName != "" {
			results.ByVar[s.VarName] = value
		}
	}

	for _, s := range snippets {
		if s.Kind != snippet.KindAskAgent {
			continue
		}
		value, err := runAskAgent(ctx, env, s, results, inMemory)
		if err != nil {
			env.emit(Event{SnippetID: s.ID, Phase: "error", Message: err.Error()})
			return nil, err
		}
		results.ByID[s.ID] = value
		if s.VarName != "" {
			results.ByVar[s.VarName] = value
		}
	}

	return results, nil
}

func runAskUser(ctx context.Context, env *Env, s snippet.Snippet, inMemory map[string]string) (value string, err error) {
	start := time.Now()
	cacheHit := false
	defer func() { env.metrics().SnippetExecuted(time.Since(start).Seconds(), cacheHit, err) }()

	opts := UserPromptOptions{}
	if v, ok := s.Options["default"]; ok {
		opts.Default = fmt.Sprint(v)
	}
	if v, ok := s.Options["placeholder"]; ok {
		opts.Placeholder = fmt.Sprint(v)
	}

	key, err := askUserCacheKey(s.Prompt, s.Options)
	if err != nil {
		return "", err
	}
	if v, ok := inMemory[key]; ok {
		cacheHit = true
		return v, nil
	}

	if !env.NoCache && env.Cache != nil {
		if entry, ok, err := env.Cache.Get(env.PackageName, env.PackageVersion, key); err == nil && ok {
			cacheHit = true
			env.emit(Event{SnippetID: s.ID, Phase: "cache_hit"})
			inMemory[key] = entry.Value
			return entry.Value, nil
		}
	}

	env.emit(Event{SnippetID: s.ID, Phase: "start"})
	value, err = env.Prompter.PromptUser(ctx, s.Prompt, opts)
	if err != nil {
		return "", errs.Wrap(errs.KindToolOutputParse, "prompt user for "+s.ID, err)
	}

	if !env.NoCache && env.Cache != nil {
		entry := cache.Entry{ID: s.ID, Type: string(snippet.KindAskUser), PromptExcerpt: excerpt(s.Prompt), Value: value, Timestamp: env.now().UTC().Format(time.RFC3339)}
		if err := env.Cache.Put(env.PackageName, env.PackageVersion, key, entry); err != nil {
			return "", err
		}
	}
	inMemory[key] = value
	env.emit(Event{SnippetID: s.ID, Phase: "done"})
	return value, nil
}

func runAskAgent(ctx context.Context, env *Env, s snippet.Snippet, results *Results, inMemory map[string]string) (value string, err error) {
	start := time.Now()
	cacheHit := false
	defer func() { env.metrics().SnippetExecuted(time.Since(start).Seconds(), cacheHit, err) }()

	promptText, promptPart, err := resolveAgentPrompt(env, s)
	if err != nil {
		return "", err
	}
	promptText = interpolate(promptText, results.ByVar)

	key, err := askAgentCacheKey(promptPart, s.Options)
	if err != nil {
		return "", err
	}
	if v, ok := inMemory[key]; ok {
		cacheHit = true
		return v, nil
	}
	if !env.NoCache && env.Cache != nil {
		if entry, ok, err := env.Cache.Get(env.PackageName, env.PackageVersion, key); err == nil && ok {
			cacheHit = true
			env.emit(Event{SnippetID: s.ID, Phase: "cache_hit"})
			inMemory[key] = entry.Value
			return entry.Value, nil
		}
	}

	if !singleTurnDirectivePattern.MatchString(promptText) {
		promptText += singleTurnDirective
	}

	req := AgentRequest{Prompt: promptText, Cwd: env.PackageDir}
	if v, ok := s.Options["tool"]; ok {
		req.Tool = fmt.Sprint(v)
	}
	if v, ok := s.Options["safeMode"]; ok {
		if b, ok := v.(bool); ok {
			req.SafeMode = b
		}
	}
	if v, ok := s.Options["timeoutMs"]; ok {
		if n, ok := toInt(v); ok {
			req.TimeoutMs = n
		}
	}
	if v, ok := s.Options["systemPrompt"]; ok {
		req.SystemPrompt = fmt.Sprint(v)
	}

	env.emit(Event{SnippetID: s.ID, Phase: "start"})
	rawStdout, err := env.Runner.RunAgent(ctx, req)
	if err != nil {
		return "", errs.Wrap(errs.KindToolOutputParse, "run agent for "+s.ID, err)
	}

	wantJSON, _ := s.Options["json"].(bool)
	value, err = parseAgentOutput(rawStdout, wantJSON)
	if err != nil {
		return "", err
	}

	if !env.NoCache && env.Cache != nil {
		tool, _ := s.Options["tool"].(string)
		entry := cache.Entry{ID: s.ID, Type: string(snippet.KindAskAgent), PromptExcerpt: excerpt(promptText), Value: value, Timestamp: env.now().UTC().Format(time.RFC3339), Tool: tool}
		if err := env.Cache.Put(env.PackageName, env.PackageVersion, key, entry); err != nil {
			return "", err
		}
	}
	inMemory[key] = value
	env.emit(Event{SnippetID: s.ID, Phase: "done"})
	return value, nil
}

// excerpt truncates a prompt for storage in the cache's promptExcerpt
// field, keeping the persisted cache file human-scannable.
func excerpt(s string) string {
	const maxLen = 120
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// resolveAgentPrompt returns the literal prompt text to send to the
// agent and the cache "promptPart" identity (spec §4.J).
func resolveAgentPrompt(env *Env, s snippet.Snippet) (promptText, promptPart string, err error) {
	if s.PromptKind != snippet.PromptFile {
		return s.Prompt, s.Prompt, nil
	}
	path := s.Prompt
	if !filepath.IsAbs(path) {
		path = filepath.Join(env.PackageDir, path)
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return "", "", errs.Wrap(errs.KindFileNotFound, "read askAgent prompt file "+s.Prompt, readErr)
	}
	digest := integrity.SHA256Bytes(data).Hex()
	if len(digest) > 16 {
		digest = digest[:16]
	}
	return string(data), "file:" + s.Prompt + ":" + digest, nil
}

// interpolate substitutes `{{ varName }}` references with earlier
// askUser results.
func interpolate(text string, vars map[string]string) string {
	return varInterpPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := varInterpPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// parseAgentOutput applies spec §4.J's output-parsing contract.
func parseAgentOutput(raw string, wantJSON bool) (string, error) {
	clean := strings.TrimSpace(ansiEscapePattern.ReplaceAllString(raw, ""))

	if wantJSON {
		var v any
		if err := json.Unmarshal([]byte(clean), &v); err != nil {
			return "", errs.Wrap(errs.KindToolOutputParse, "agent output was not valid JSON", err)
		}
		return clean, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(clean), &obj); err == nil {
		if v, ok := obj["result"]; ok {
			return fmt.Sprint(v), nil
		}
		if v, ok := obj["result_parsed"]; ok {
			return fmt.Sprint(v), nil
		}
	}
	return clean, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// askUserCacheKey and askAgentCacheKey build the content-addressed cache
// keys from spec §4.J.
func askUserCacheKey(question string, opts map[string]any) (string, error) {
	optsJSON, err := canonicalJSON(opts)
	if err != nil {
		return "", err
	}
	return integrity.SHA256Bytes([]byte("askUser:" + question + ":" + optsJSON)).Hex(), nil
}

func askAgentCacheKey(promptPart string, opts map[string]any) (string, error) {
	optsJSON, err := canonicalJSON(opts)
	if err != nil {
		return "", err
	}
	return integrity.SHA256Bytes([]byte("askAgent:" + promptPart + ":" + optsJSON)).Hex(), nil
}

// canonicalJSON marshals opts with sorted keys so the cache key is
// deterministic regardless of map iteration order.
func canonicalJSON(opts map[string]any) (string, error) {
	if len(opts) == 0 {
		return "{}", nil
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidArgument, "marshal snippet option key", err)
		}
		vb, err := json.Marshal(opts[k])
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidArgument, "marshal snippet option value", err)
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String(), nil
}
