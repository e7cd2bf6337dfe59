package template

import (
	"strings"
)

// Engine is the entry point described by §4.2: render_string, render_structure
// and evaluate_when, all sharing the same variable namespace and lookup table.
type Engine struct {
	lookup LookupFunc
}

// NewEngine builds a template engine whose lookups resolve relative paths
// against baseDir (normally the playbook's own directory).
func NewEngine(baseDir string) *Engine {
	return &Engine{lookup: NewLookup(baseDir)}
}

const maxResolvePasses = 10

// RenderString renders a single string, repeatedly re-rendering the result
// against the same vars until a pass produces no change or the pass cap is
// hit (§4.2 "Iterative resolution"). This lets a variable's value itself
// contain a reference to another templated variable.
func (e *Engine) RenderString(text string, vars Vars) (string, error) {
	cur := text
	for i := 0; i < maxResolvePasses; i++ {
		next, err := e.renderOnce(cur, vars)
		if err != nil {
			return "", err
		}
		if next == cur {
			return next, nil
		}
		cur = next
	}
	return cur, nil
}

func (e *Engine) renderOnce(text string, vars Vars) (string, error) {
	blocks, err := parseTemplate(text)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := e.execBlocks(blocks, vars, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// EvaluateExpr evaluates a single expression, with or without surrounding
// {{ }} delimiters, and returns its native (non-stringified) value. Used
// where a caller needs a typed result rather than rendered text — the
// runner's `loop:` resolution being the motivating case, since a loop
// source is usually a variable reference that must stay a list, not
// become its string representation.
func (e *Engine) EvaluateExpr(expr string, vars Vars) (any, error) {
	expr = strings.TrimSpace(expr)
	expr = strings.TrimPrefix(expr, "{{")
	expr = strings.TrimSuffix(expr, "}}")
	expr = strings.TrimSpace(expr)
	return e.evalExprValue(expr, vars)
}

// RenderStructure recursively renders every string leaf of an arbitrary
// YAML-decoded tree (map[string]any / []any / scalars), preserving the
// concrete type of non-string scalars untouched.
func (e *Engine) RenderStructure(v any, vars Vars) (any, error) {
	switch t := v.(type) {
	case string:
		return e.RenderString(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			rv, err := e.RenderStructure(val, vars)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			rv, err := e.RenderStructure(val, vars)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// EvaluateWhen implements the `when` clause semantics: a bare boolean
// expression (no {{}} delimiters), or a list of expressions implicitly
// AND-ed together.
func (e *Engine) EvaluateWhen(expr any, vars Vars) (bool, error) {
	switch t := expr.(type) {
	case nil:
		return true, nil
	case string:
		return e.evaluateBoolExpr(t, vars)
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return false, newError("when", "list form of 'when' requires string elements")
			}
			ok2, err := e.evaluateBoolExpr(s, vars)
			if err != nil {
				return false, err
			}
			if !ok2 {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, newError("when", "unsupported 'when' value type")
	}
}

func (e *Engine) evaluateBoolExpr(expr string, vars Vars) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	n, err := parseExpr(expr)
	if err != nil {
		return false, err
	}
	ctx := &evalCtx{vars: vars, lookup: e.lookup, expr: expr}
	v, err := ctx.eval(n)
	if err != nil {
		return false, err
	}
	if err := requireDefined(expr, v); err != nil {
		return false, err
	}
	return truthy(v), nil
}
