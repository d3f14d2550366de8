// Package template is the Handlebars-superset plan & render engine
// (spec §4.K). No example in the corpus implements a Handlebars
// evaluator (there is no raymond/handlebars dependency anywhere in the
// pack), so this is hand-written in the teacher's explicit-error,
// no-panic style rather than grounded on a specific file — the same
// engineering posture the resolver's SAT solver takes for its novel
// core. The tokenizer treats `{{{ expr }}}` as unescaped and `{{ expr }}`
// as HTML-escaped-if-a-string, and recognizes a fixed helper-call
// grammar (`helper(arg, arg, ...)`) plus bare variable references.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/terrazul-ai/tz/internal/errs"
	"github.com/terrazul-ai/tz/internal/sandbox"
)

// exprPattern matches `{{{ ... }}}` or `{{ ... }}`, mirroring the
// snippet parser's brace recognition but without string-literal-aware
// scanning: template expressions here are single-line variable/helper
// references, never prompt text, so a simple non-greedy match is safe.
var exprPattern = regexp.MustCompile(`\{\{\{(.*?)\}\}\}|\{\{([^{}]*)\}\}`)

// Context is the variable environment a render evaluates against:
// snippet results (by ID and by variable name) plus the project root
// used by the exists() helper.
type Context struct {
	Vars        map[string]string
	ProjectRoot string
	FindByIDSrc map[string][]map[string]any // named lists usable with findById()
}

// Render evaluates every `{{ }}`/`{{{ }}}` expression in src against ctx.
func Render(src string, ctx Context) (string, error) {
	var outerErr error
	result := exprPattern.ReplaceAllStringFunc(src, func(match string) string {
		if outerErr != nil {
			return match
		}
		sub := exprPattern.FindStringSubmatch(match)
		unescaped := sub[1] != ""
		expr := sub[1]
		if !unescaped {
			expr = sub[2]
		}
		expr = strings.TrimSpace(stripWhitespaceControl(expr))
		if expr == "" {
			return ""
		}
		if c := expr[0]; c == '#' || c == '/' || c == '!' {
			return ""
		}

		value, err := eval(expr, ctx)
		if err != nil {
			outerErr = err
			return match
		}
		rendered := toDisplayString(value)
		if !unescaped {
			rendered = htmlEscape(rendered)
		}
		return rendered
	})
	if outerErr != nil {
		return "", outerErr
	}
	return result, nil
}

func stripWhitespaceControl(expr string) string {
	expr = strings.TrimLeft(expr, "~-")
	expr = strings.TrimRight(expr, "~-")
	return expr
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func toDisplayString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// eval resolves a single expression: a helper call, a bare variable
// reference, or a quoted literal.
func eval(expr string, ctx Context) (any, error) {
	if name, args, ok := parseCall(expr); ok {
		return callHelper(name, args, ctx)
	}
	return resolveAtom(expr, ctx)
}

var callPattern = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\((.*)\)$`)

func parseCall(expr string) (name string, args []string, ok bool) {
	m := callPattern.FindStringSubmatch(expr)
	if m == nil {
		return "", nil, false
	}
	return m[1], splitArgs(m[2]), true
}

// splitArgs splits a helper call's argument list on top-level commas,
// respecting single/double-quoted string literals so a comma inside a
// literal does not split an argument.
func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var args []string
	var cur strings.Builder
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
				continue
			}
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			cur.WriteByte(c)
		case c == '(':
			depth++
			cur.WriteByte(c)
		case c == ')':
			depth--
			cur.WriteByte(c)
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	args = append(args, strings.TrimSpace(cur.String()))
	return args
}

// resolveAtom resolves a bare variable reference or quoted/numeric/bool
// literal to a value.
func resolveAtom(atom string, ctx Context) (any, error) {
	atom = strings.TrimSpace(atom)
	switch {
	case atom == "true":
		return true, nil
	case atom == "false":
		return false, nil
	case atom == "":
		return "", nil
	case len(atom) >= 2 && (atom[0] == '\'' || atom[0] == '"') && atom[len(atom)-1] == atom[0]:
		return unquote(atom[1 : len(atom)-1]), nil
	}
	if n, err := strconv.ParseFloat(atom, 64); err == nil {
		return n, nil
	}
	if v, ok := ctx.Vars[atom]; ok {
		return v, nil
	}
	return "", nil
}

func unquote(s string) string {
	r := strings.NewReplacer(`\'`, `'`, `\"`, `"`, `\\`, `\`, `\n`, "\n")
	return r.Replace(s)
}

// callHelper dispatches to the sandboxed helper set (spec §4.K).
func callHelper(name string, rawArgs []string, ctx Context) (any, error) {
	args := make([]any, len(rawArgs))
	for i, a := range rawArgs {
		v, err := eval(a, ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch name {
	case "exists":
		if len(args) != 1 {
			return nil, errs.New(errs.KindInvalidArgument, "exists() takes exactly one argument")
		}
		return helperExists(toDisplayString(args[0]), ctx), nil
	case "eq":
		if len(args) != 2 {
			return nil, errs.New(errs.KindInvalidArgument, "eq() takes exactly two arguments")
		}
		return helperEq(args[0], args[1]), nil
	case "not":
		if len(args) != 1 {
			return nil, errs.New(errs.KindInvalidArgument, "not() takes exactly one argument")
		}
		return !truthy(args[0]), nil
	case "or":
		if len(args) != 2 {
			return nil, errs.New(errs.KindInvalidArgument, "or() takes exactly two arguments")
		}
		if truthy(args[0]) {
			return args[0], nil
		}
		return args[1], nil
	case "includes":
		if len(args) != 2 {
			return nil, errs.New(errs.KindInvalidArgument, "includes() takes exactly two arguments")
		}
		return helperIncludes(toDisplayString(args[0]), toDisplayString(args[1])), nil
	case "findById":
		if len(args) != 3 {
			return nil, errs.New(errs.KindInvalidArgument, "findById() takes exactly three arguments")
		}
		return helperFindByID(rawArgs[0], toDisplayString(args[1]), toDisplayString(args[2]), ctx), nil
	case "json":
		if len(args) != 1 {
			return nil, errs.New(errs.KindInvalidArgument, "json() takes exactly one argument")
		}
		b, err := json.MarshalIndent(args[0], "", "  ")
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidArgument, "json() could not marshal argument", err)
		}
		return string(b), nil
	default:
		return nil, errs.New(errs.KindInvalidArgument, "unknown template helper: "+name)
	}
}

func helperExists(relPath string, ctx Context) bool {
	if relPath == "" || filepath.IsAbs(relPath) {
		return false
	}
	resolved, err := sandbox.ResolveWithin(ctx.ProjectRoot, relPath)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(resolved)
	return statErr == nil
}

func helperEq(a, b any) bool {
	return toDisplayString(a) == toDisplayString(b)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func helperIncludes(value, spaceSeparatedList string) bool {
	for _, item := range strings.Fields(spaceSeparatedList) {
		if item == value {
			return true
		}
	}
	return false
}

func helperFindByID(listName, id, field string, ctx Context) string {
	list, ok := ctx.FindByIDSrc[listName]
	if !ok {
		return ""
	}
	for _, entry := range list {
		if fmt.Sprint(entry["id"]) == id {
			if v, ok := entry[field]; ok {
				return fmt.Sprint(v)
			}
			return ""
		}
	}
	return ""
}
