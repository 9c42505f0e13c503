// Package template implements the pure-function Template Renderer
// contract: syntax validation, variable substitution, and used-variable
// extraction over a tree-shaped variable store. The template language
// itself is intentionally minimal — the engine treats the renderer as
// a black box (spec 4.E); this package satisfies that contract without
// adopting a full templating engine.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// varRef matches {{ dotted.path }} references, trimming surrounding
// whitespace inside the braces.
var varRef = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// SyntaxError is returned by Validate.
type SyntaxError struct {
	Msg string
}

func (e *SyntaxError) Error() string { return "template syntax: " + e.Msg }

// ProcessingError is returned by Render.
type ProcessingError struct {
	Msg string
}

func (e *ProcessingError) Error() string { return "template processing: " + e.Msg }

// Validate checks that every {{ ... }} delimiter is balanced and that
// every variable reference is a well-formed dotted path.
func Validate(text string) error {
	openCount := strings.Count(text, "{{")
	closeCount := strings.Count(text, "}}")
	if openCount != closeCount {
		return &SyntaxError{Msg: fmt.Sprintf("unbalanced delimiters: %d '{{' vs %d '}}'", openCount, closeCount)}
	}

	// Walk raw delimiters to catch malformed references the regex would
	// silently skip (e.g. "{{ }}" or "{{ 1bad.path }}").
	idx := 0
	for {
		start := strings.Index(text[idx:], "{{")
		if start == -1 {
			break
		}
		start += idx
		end := strings.Index(text[start:], "}}")
		if end == -1 {
			return &SyntaxError{Msg: "unterminated '{{' delimiter"}
		}
		end += start
		inner := strings.TrimSpace(text[start+2 : end])
		if inner == "" {
			return &SyntaxError{Msg: "empty variable reference"}
		}
		if !validPathRE.MatchString(inner) {
			return &SyntaxError{Msg: fmt.Sprintf("invalid variable reference %q", inner)}
		}
		idx = end + 2
	}
	return nil
}

var validPathRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ExtractVariableNames returns the set of dotted variable paths
// referenced by text.
func ExtractVariableNames(text string) map[string]bool {
	names := make(map[string]bool)
	for _, m := range varRef.FindAllStringSubmatch(text, -1) {
		names[m[1]] = true
	}
	return names
}

// Render substitutes every {{ path }} reference in text with the
// string form of the value found in vars, or fails with
// ProcessingError if a referenced path is missing.
func Render(text string, vars Value) (string, error) {
	var missing []string
	out := varRef.ReplaceAllStringFunc(text, func(m string) string {
		sub := varRef.FindStringSubmatch(m)
		path := sub[1]
		v, ok := vars.Lookup(strings.Split(path, "."))
		if !ok {
			missing = append(missing, path)
			return m
		}
		return v.String()
	})
	if len(missing) > 0 {
		return "", &ProcessingError{Msg: fmt.Sprintf("undefined variable(s): %s", strings.Join(missing, ", "))}
	}
	return out, nil
}

// Value is a generic tree value: Scalar | List | Map, mirroring the
// spec's variable-store shape.
type Value struct {
	scalar string
	isNil  bool
	list   []Value
	m      map[string]Value
	kind   valueKind
}

type valueKind int

const (
	kindScalar valueKind = iota
	kindList
	kindMap
)

// Scalar builds a leaf Value from any primitive.
func Scalar(v interface{}) Value {
	if v == nil {
		return Value{kind: kindScalar, isNil: true}
	}
	switch t := v.(type) {
	case string:
		return Value{kind: kindScalar, scalar: t}
	case bool:
		return Value{kind: kindScalar, scalar: strconv.FormatBool(t)}
	case int:
		return Value{kind: kindScalar, scalar: strconv.Itoa(t)}
	case int64:
		return Value{kind: kindScalar, scalar: strconv.FormatInt(t, 10)}
	case float64:
		return Value{kind: kindScalar, scalar: strconv.FormatFloat(t, 'g', -1, 64)}
	default:
		return Value{kind: kindScalar, scalar: fmt.Sprintf("%v", t)}
	}
}

// List builds a list Value.
func List(vals ...Value) Value {
	return Value{kind: kindList, list: vals}
}

// Map builds a map Value.
func Map(m map[string]Value) Value {
	return Value{kind: kindMap, m: m}
}

// FromAny converts an arbitrary JSON-like Go value (string, number,
// bool, nil, []interface{}, map[string]interface{}) into a Value tree.
func FromAny(v interface{}) Value {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, val := range t {
			m[k] = FromAny(val)
		}
		return Map(m)
	case []interface{}:
		list := make([]Value, len(t))
		for i, val := range t {
			list[i] = FromAny(val)
		}
		return List(list...)
	default:
		return Scalar(t)
	}
}

func (v Value) String() string {
	switch v.kind {
	case kindScalar:
		if v.isNil {
			return ""
		}
		return v.scalar
	case kindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return strings.Join(parts, ", ")
	case kindMap:
		return "[object]"
	}
	return ""
}

// Lookup resolves a dotted path (already split into segments) against
// this Value, descending into maps only.
func (v Value) Lookup(path []string) (Value, bool) {
	if len(path) == 0 {
		return v, true
	}
	if v.kind != kindMap {
		return Value{}, false
	}
	child, ok := v.m[path[0]]
	if !ok {
		return Value{}, false
	}
	return child.Lookup(path[1:])
}

// Merge combines a,b,c... in order, where later maps override earlier
// ones key-by-key (shallow at the top level, per spec 4.E's "later
// overrides earlier" semantics). Non-map inputs are ignored.
func Merge(values ...Value) Value {
	merged := make(map[string]Value)
	for _, v := range values {
		if v.kind != kindMap {
			continue
		}
		for k, val := range v.m {
			merged[k] = val
		}
	}
	return Map(merged)
}
