// Package snippet is the pure parser for the `{{ askUser(...) }}` /
// `{{ askAgent(...) }}` mini-grammar embedded in templates (spec §4.I).
// It performs no I/O and prompts no one; it only recognizes snippet call
// sites inside a Handlebars-superset source string. The state-machine
// string scanner is grounded on the teacher's hand-written parsers
// elsewhere in the pack's CLI tooling (string-literal-aware scanning
// rather than a regexp), generalized to the quoting forms spec §4.I
// requires: single, triple-double, and backtick.
package snippet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/terrazul-ai/tz/internal/errs"
)

// Kind distinguishes the two call forms.
type Kind string

const (
	KindAskUser  Kind = "askUser"
	KindAskAgent Kind = "askAgent"
)

// PromptKind is the inferred shape of an askAgent prompt.
type PromptKind string

const (
	PromptText PromptKind = "text"
	PromptFile PromptKind = "file"
)

// Snippet is one parsed call site.
type Snippet struct {
	ID         string // "snippet_" + parse-order index
	Kind       Kind
	Raw        string // the literal {{ ... }} or {{{ ... }}} source
	StartIndex int
	EndIndex   int
	VarName    string // set for "var X = ..." assignments
	Prompt     string
	PromptKind PromptKind // only meaningful for askAgent
	Options    map[string]any
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// filePathExtensions are the suffixes that mark a bare string as a file
// path reference for askAgent prompt-kind inference.
var filePathExtensions = []string{".txt", ".md", ".prompt", ".json", ".hbs", ".yaml", ".yml"}

// Parse scans src and returns every recognized snippet call site in
// source order. Non-snippet Handlebars expressions (including
// control-flow `#`/`/`/`!` forms) are left untouched.
func Parse(src string) ([]Snippet, error) {
	var out []Snippet
	seenVars := make(map[string]bool)
	i := 0
	order := 0

	for i < len(src) {
		start, end, unescaped, ok := findExpression(src, i)
		if !ok {
			break
		}
		body := src[start:end]
		trimmed := strings.TrimSpace(stripWhitespaceControl(body))
		i = end

		if trimmed == "" {
			continue
		}
		if c := trimmed[0]; c == '#' || c == '/' || c == '!' {
			continue
		}

		call, varName, ok := matchCall(trimmed)
		if !ok {
			continue
		}

		if varName != "" {
			if !identPattern.MatchString(varName) {
				return nil, errs.New(errs.KindInvalidArgument, "invalid snippet variable name: "+varName)
			}
			if seenVars[varName] {
				return nil, errs.New(errs.KindInvalidArgument, "duplicate snippet variable name: "+varName)
			}
			seenVars[varName] = true
		}

		snip, err := parseCall(call, varName, order)
		if err != nil {
			return nil, err
		}
		snip.Raw = bracketWrap(body, unescaped)
		snip.StartIndex = start - boundaryLen(unescaped)
		snip.EndIndex = end + boundaryLen(unescaped)
		out = append(out, snip)
		order++
	}

	return out, nil
}

func boundaryLen(unescaped bool) int {
	if unescaped {
		return 3
	}
	return 2
}

func bracketWrap(body string, unescaped bool) string {
	if unescaped {
		return "{{{" + body + "}}}"
	}
	return "{{" + body + "}}"
}

// findExpression locates the next {{ ... }} or {{{ ... }}} span starting
// at or after from, honoring string-literal state so braces inside a
// string never end the expression early. It returns the inner body span
// (excluding the braces themselves).
func findExpression(src string, from int) (start, end int, unescaped bool, ok bool) {
	idx := strings.Index(src[from:], "{{")
	if idx < 0 {
		return 0, 0, false, false
	}
	open := from + idx
	bodyStart := open + 2
	triple := strings.HasPrefix(src[bodyStart:], "{")
	if triple {
		bodyStart++
	}

	closer := "}}"
	if triple {
		closer = "}}}"
	}

	pos := bodyStart
	var quote byte
	tripleQuote := false
	for pos < len(src) {
		c := src[pos]
		switch {
		case quote != 0:
			if tripleQuote {
				if strings.HasPrefix(src[pos:], `"""`) {
					tripleQuote = false
					quote = 0
					pos += 3
					continue
				}
			} else if c == '\\' && pos+1 < len(src) {
				pos += 2
				continue
			} else if c == quote {
				quote = 0
			}
			pos++
		case c == '\'' || c == '`':
			quote = c
			pos++
		case c == '"':
			if strings.HasPrefix(src[pos:], `"""`) {
				quote = '"'
				tripleQuote = true
				pos += 3
			} else {
				quote = '"'
				pos++
			}
		case strings.HasPrefix(src[pos:], closer):
			return bodyStart, pos, triple, true
		default:
			pos++
		}
	}
	return 0, 0, false, false
}

// stripWhitespaceControl removes leading/trailing `~`/`-` Handlebars
// whitespace-control markers.
func stripWhitespaceControl(body string) string {
	body = strings.TrimSpace(body)
	body = strings.TrimLeft(body, "~-")
	body = strings.TrimRight(body, "~-")
	return body
}

var callPattern = regexp.MustCompile(`(?s)^(?:var\s+([A-Za-z0-9_]+)\s*=\s*)?(askUser|askAgent)\s*\((.*)\)$`)

// matchCall recognizes `var X = askUser(...)`/`askAgent(...)` and plain
// `askUser(...)`/`askAgent(...)` forms.
func matchCall(trimmed string) (call string, varName string, ok bool) {
	m := callPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return "", "", false
	}
	return m[2] + "(" + m[3] + ")", m[1], true
}

func parseCall(call, varName string, order int) (Snippet, error) {
	kind := Kind(call[:strings.IndexByte(call, '(')])
	argsSrc := call[strings.IndexByte(call, '(')+1 : len(call)-1]

	promptLit, rest, err := readStringLiteral(argsSrc)
	if err != nil {
		return Snippet{}, err
	}

	var opts map[string]any
	rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ","))
	if rest != "" {
		opts, err = parseOptions(rest)
		if err != nil {
			return Snippet{}, err
		}
	}
	if err := validateOptions(kind, opts); err != nil {
		return Snippet{}, err
	}

	snip := Snippet{
		ID:      fmt.Sprintf("snippet_%d", order),
		Kind:    kind,
		VarName: varName,
		Prompt:  promptLit,
		Options: opts,
	}
	if kind == KindAskAgent {
		snip.PromptKind = inferPromptKind(argsSrc, promptLit)
	}
	return snip, nil
}

// readStringLiteral reads one string literal (single, triple-double, or
// backtick) from the head of s, returning its decoded value and the
// remainder of s after the closing quote.
func readStringLiteral(s string) (value string, rest string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", errs.New(errs.KindInvalidArgument, "snippet call is missing its prompt string")
	}
	switch {
	case strings.HasPrefix(s, `"""`):
		return readDelimited(s, `"""`, true)
	case strings.HasPrefix(s, "'"):
		return readDelimited(s, "'", false)
	case strings.HasPrefix(s, "`"):
		return readDelimited(s, "`", true)
	default:
		return "", "", errs.New(errs.KindInvalidArgument, "snippet prompt must be a quoted string literal")
	}
}

func readDelimited(s, delim string, allowNewlines bool) (value, rest string, err error) {
	body := s[len(delim):]
	var out strings.Builder
	pos := 0
	for pos < len(body) {
		if strings.HasPrefix(body[pos:], delim) {
			decoded := out.String()
			if delim == `"""` {
				decoded = dedent(decoded)
			}
			return decoded, body[pos+len(delim):], nil
		}
		c := body[pos]
		if c == '\\' && pos+1 < len(body) {
			switch body[pos+1] {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case 'r':
				out.WriteByte('\r')
			case '\\':
				out.WriteByte('\\')
			case '\'':
				out.WriteByte('\'')
			case '`':
				out.WriteByte('`')
			case '"':
				out.WriteByte('"')
			default:
				out.WriteByte('\\')
				out.WriteByte(body[pos+1])
			}
			pos += 2
			continue
		}
		if c == '\n' && !allowNewlines {
			return "", "", errs.New(errs.KindInvalidArgument, "single-quoted snippet literal cannot contain a newline")
		}
		out.WriteByte(c)
		pos++
	}
	return "", "", errs.New(errs.KindInvalidArgument, "unterminated string literal in snippet call")
}

// dedent removes the common leading-whitespace indent from every line of
// a triple-quoted literal, per spec §4.I.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= 1 {
		return strings.TrimSpace(s)
	}
	common := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if common == -1 || indent < common {
			common = indent
		}
	}
	if common <= 0 {
		return strings.Trim(s, "\n")
	}
	for i, line := range lines {
		if len(line) >= common {
			lines[i] = line[common:]
		}
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

// parseOptions decodes an option-block argument (a YAML-like object
// literal) into a generic map.
func parseOptions(src string) (map[string]any, error) {
	src = strings.TrimSpace(src)
	if !strings.HasPrefix(src, "{") {
		// Indented-block form: turn each "key: value" line into proper
		// YAML block-mapping input by dedenting it as a whole document.
		src = dedentBlock(src)
	}
	var out map[string]any
	if err := yaml.Unmarshal([]byte(src), &out); err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "parse snippet options block", err)
	}
	return out, nil
}

// dedentBlock removes the common leading indent from a multi-line
// option block so it parses as a top-level YAML mapping.
func dedentBlock(src string) string {
	lines := strings.Split(src, "\n")
	common := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if common == -1 || indent < common {
			common = indent
		}
	}
	if common <= 0 {
		return src
	}
	for i, line := range lines {
		if len(line) >= common {
			lines[i] = line[common:]
		}
	}
	return strings.Join(lines, "\n")
}

var askUserKeys = map[string]bool{"default": true, "placeholder": true}
var askAgentKeys = map[string]bool{"json": true, "tool": true, "safeMode": true, "timeoutMs": true, "systemPrompt": true}
var validTools = map[string]bool{"claude": true, "codex": true, "gemini": true}

func validateOptions(kind Kind, opts map[string]any) error {
	switch kind {
	case KindAskUser:
		for k := range opts {
			if !askUserKeys[k] {
				return errs.New(errs.KindInvalidArgument, "askUser does not accept option "+k)
			}
		}
	case KindAskAgent:
		for k, v := range opts {
			if !askAgentKeys[k] {
				return errs.New(errs.KindInvalidArgument, "askAgent does not accept option "+k)
			}
			switch k {
			case "tool":
				s, ok := v.(string)
				if !ok || !validTools[s] {
					return errs.New(errs.KindInvalidArgument, "askAgent tool must be one of claude, codex, gemini")
				}
			case "timeoutMs":
				n, ok := toFloat(v)
				if !ok || n <= 0 {
					return errs.New(errs.KindInvalidArgument, "askAgent timeoutMs must be a positive number")
				}
			}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// inferPromptKind implements spec §4.I's askAgent prompt-kind rule.
func inferPromptKind(argsSrc, prompt string) PromptKind {
	if strings.HasPrefix(strings.TrimSpace(argsSrc), `"""`) || strings.Contains(prompt, "\n") {
		return PromptText
	}
	if strings.Contains(prompt, " ") || strings.Contains(prompt, "{{") {
		return PromptText
	}
	looksLikePath := strings.HasPrefix(prompt, "./") || strings.HasPrefix(prompt, "../") || strings.Contains(prompt, "/")
	hasKnownExt := false
	for _, ext := range filePathExtensions {
		if strings.HasSuffix(prompt, ext) {
			hasKnownExt = true
			break
		}
	}
	if looksLikePath || hasKnownExt {
		return PromptFile
	}
	return PromptText
}
