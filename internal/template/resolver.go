// Package template substitutes placeholder expressions in node input
// templates against the run context and prior node outputs.
//
// Two lookup sources exist: {{ context.<path> }} reads the caller-supplied
// run context, {{ nodes.<id>.output.<path> }} reads the recorded output of an
// earlier node. Lookups are typed dotted-path accesses over JSON maps; there
// is deliberately no expression language.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_\-]+(?:\.[a-zA-Z0-9_\-]+)*)\s*\}\}`)

// NodeScope exposes one finished node to the resolver.
type NodeScope struct {
	Output map[string]interface{}
}

// Scope carries the two lookup sources for one resolution pass.
type Scope struct {
	Context map[string]interface{}
	Nodes   map[string]NodeScope
}

// Resolve returns a copy of tmpl with every placeholder substituted. A value
// that consists of exactly one placeholder is replaced by the typed value it
// resolves to; placeholders embedded in a longer string are stringified in
// place. Any unresolvable placeholder aborts the pass with a
// *models.TemplateResolutionError.
func Resolve(tmpl map[string]interface{}, scope Scope) (map[string]interface{}, error) {
	if tmpl == nil {
		return map[string]interface{}{}, nil
	}
	out, err := resolveValue(tmpl, scope)
	if err != nil {
		return nil, err
	}
	return out.(map[string]interface{}), nil
}

func resolveValue(v interface{}, scope Scope) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, scope)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			resolved, err := resolveValue(inner, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			resolved, err := resolveValue(inner, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, scope Scope) (interface{}, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string placeholder keeps the looked-up value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		return lookup(path, scope)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		val, err := lookup(s[m[2]:m[3]], scope)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%v", val)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func lookup(path string, scope Scope) (interface{}, error) {
	segs := strings.Split(path, ".")

	switch segs[0] {
	case "context":
		return walk(scope.Context, segs[1:], path)
	case "nodes":
		if len(segs) < 3 || segs[2] != "output" {
			return nil, &models.TemplateResolutionError{Placeholder: path}
		}
		node, ok := scope.Nodes[segs[1]]
		if !ok {
			return nil, &models.TemplateResolutionError{Placeholder: path}
		}
		if len(segs) == 3 {
			return node.Output, nil
		}
		return walk(node.Output, segs[3:], path)
	default:
		return nil, &models.TemplateResolutionError{Placeholder: path}
	}
}

func walk(cur map[string]interface{}, segs []string, path string) (interface{}, error) {
	var v interface{} = cur
	for _, seg := range segs {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, &models.TemplateResolutionError{Placeholder: path}
		}
		v, ok = m[seg]
		if !ok {
			return nil, &models.TemplateResolutionError{Placeholder: path}
		}
	}
	if v == nil {
		return nil, &models.TemplateResolutionError{Placeholder: path}
	}
	return v, nil
}
