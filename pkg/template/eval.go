package template

import (
	"fmt"
	"strings"
)

// undefined marks a name lookup that resolved to nothing. It is never
// returned to a caller; every path that can produce it is required to
// either consume it (the `default` filter, the `defined`/`undefined`
// tests) or turn it into a TemplateError.
type undefined struct{ name string }

// Vars is the variable namespace an expression is evaluated against. It is
// a plain map so callers (the runner's HostContext, the inventory's
// HostVars) can hand over their own merged view without copying.
type Vars map[string]any

type evalCtx struct {
	vars   Vars
	lookup LookupFunc
	expr   string
}

func (c *evalCtx) eval(n node) (any, error) {
	switch t := n.(type) {
	case *litNode:
		return t.val, nil
	case *identNode:
		v, ok := c.vars[t.name]
		if !ok {
			return undefined{name: t.name}, nil
		}
		return v, nil
	case *attrNode:
		base, err := c.eval(t.base)
		if err != nil {
			return nil, err
		}
		if u, ok := base.(undefined); ok {
			return undefined{name: u.name + "." + t.attr}, nil
		}
		return attrOf(base, t.attr), nil
	case *indexNode:
		base, err := c.eval(t.base)
		if err != nil {
			return nil, err
		}
		idx, err := c.eval(t.index)
		if err != nil {
			return nil, err
		}
		if u, ok := base.(undefined); ok {
			return u, nil
		}
		return indexOf(base, idx), nil
	case *listNode:
		out := make([]any, 0, len(t.items))
		for _, it := range t.items {
			v, err := c.eval(it)
			if err != nil {
				return nil, err
			}
			if u, ok := v.(undefined); ok {
				return nil, newError(c.expr, "'%s' is undefined", u.name)
			}
			out = append(out, v)
		}
		return out, nil
	case *dictNode:
		out := map[string]any{}
		for i, k := range t.keys {
			kv, err := c.eval(k)
			if err != nil {
				return nil, err
			}
			vv, err := c.eval(t.vals[i])
			if err != nil {
				return nil, err
			}
			out[toString(kv)] = vv
		}
		return out, nil
	case *unaryNode:
		return c.evalUnary(t)
	case *binNode:
		return c.evalBin(t)
	case *condNode:
		cv, err := c.eval(t.cond)
		if err != nil {
			return nil, err
		}
		if truthy(cv) {
			return c.eval(t.then)
		}
		return c.eval(t.els)
	case *filterNode:
		return c.evalFilter(t)
	case *testNode:
		return c.evalTest(t)
	case *callNode:
		return c.evalCall(t)
	default:
		return nil, fmt.Errorf("unsupported expression node %T", n)
	}
}

func (c *evalCtx) evalUnary(t *unaryNode) (any, error) {
	if t.op == "not" {
		x, err := c.eval(t.x)
		if err != nil {
			return nil, err
		}
		if err := requireDefined(c.expr, x); err != nil {
			return nil, err
		}
		return !truthy(x), nil
	}
	x, err := c.eval(t.x)
	if err != nil {
		return nil, err
	}
	if err := requireDefined(c.expr, x); err != nil {
		return nil, err
	}
	f, ok := toFloat(x)
	if !ok {
		return nil, newError(c.expr, "unary %s applied to non-numeric value", t.op)
	}
	if t.op == "-" {
		return -f, nil
	}
	return f, nil
}

func (c *evalCtx) evalBin(t *binNode) (any, error) {
	// short-circuit and/or before resolving undefined operands
	if t.op == "and" {
		x, err := c.eval(t.x)
		if err != nil {
			return nil, err
		}
		if err := requireDefined(c.expr, x); err != nil {
			return nil, err
		}
		if !truthy(x) {
			return false, nil
		}
		y, err := c.eval(t.y)
		if err != nil {
			return nil, err
		}
		if err := requireDefined(c.expr, y); err != nil {
			return nil, err
		}
		return truthy(y), nil
	}
	if t.op == "or" {
		x, err := c.eval(t.x)
		if err != nil {
			return nil, err
		}
		if err := requireDefined(c.expr, x); err != nil {
			return nil, err
		}
		if truthy(x) {
			return true, nil
		}
		y, err := c.eval(t.y)
		if err != nil {
			return nil, err
		}
		if err := requireDefined(c.expr, y); err != nil {
			return nil, err
		}
		return truthy(y), nil
	}

	x, err := c.eval(t.x)
	if err != nil {
		return nil, err
	}
	y, err := c.eval(t.y)
	if err != nil {
		return nil, err
	}
	if t.op == "in" {
		if err := requireDefined(c.expr, y); err != nil {
			return nil, err
		}
		return contains(y, x), nil
	}
	if err := requireDefined(c.expr, x); err != nil {
		return nil, err
	}
	if err := requireDefined(c.expr, y); err != nil {
		return nil, err
	}

	switch t.op {
	case "==":
		return looseEqual(x, y), nil
	case "!=":
		return !looseEqual(x, y), nil
	case "<", "<=", ">", ">=":
		xf, xok := toFloat(x)
		yf, yok := toFloat(y)
		if xok && yok {
			switch t.op {
			case "<":
				return xf < yf, nil
			case "<=":
				return xf <= yf, nil
			case ">":
				return xf > yf, nil
			default:
				return xf >= yf, nil
			}
		}
		xs, ys := toString(x), toString(y)
		switch t.op {
		case "<":
			return xs < ys, nil
		case "<=":
			return xs <= ys, nil
		case ">":
			return xs > ys, nil
		default:
			return xs >= ys, nil
		}
	case "~":
		return toString(x) + toString(y), nil
	case "+":
		if xf, xok := toFloat(x); xok {
			if yf, yok := toFloat(y); yok {
				return xf + yf, nil
			}
		}
		if xl, ok := x.([]any); ok {
			if yl, ok := y.([]any); ok {
				return append(append([]any{}, xl...), yl...), nil
			}
		}
		return toString(x) + toString(y), nil
	case "-":
		xf, xok := toFloat(x)
		yf, yok := toFloat(y)
		if !xok || !yok {
			return nil, newError(c.expr, "operator - requires numeric operands")
		}
		return xf - yf, nil
	case "*":
		xf, xok := toFloat(x)
		yf, yok := toFloat(y)
		if !xok || !yok {
			return nil, newError(c.expr, "operator * requires numeric operands")
		}
		return xf * yf, nil
	case "/":
		xf, xok := toFloat(x)
		yf, yok := toFloat(y)
		if !xok || !yok {
			return nil, newError(c.expr, "operator / requires numeric operands")
		}
		if yf == 0 {
			return nil, newError(c.expr, "division by zero")
		}
		return xf / yf, nil
	case "%":
		xf, xok := toFloat(x)
		yf, yok := toFloat(y)
		if !xok || !yok {
			return nil, newError(c.expr, "operator %% requires numeric operands")
		}
		if yf == 0 {
			return nil, newError(c.expr, "modulo by zero")
		}
		return float64(int64(xf) % int64(yf)), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", t.op)
}

func (c *evalCtx) evalFilter(t *filterNode) (any, error) {
	x, err := c.eval(t.x)
	if err != nil {
		return nil, err
	}
	fn, ok := filters[t.name]
	if !ok {
		return nil, newError(c.expr, "unknown filter %q", t.name)
	}
	if t.name != "default" {
		if err := requireDefined(c.expr, x); err != nil {
			return nil, err
		}
	}
	args := make([]any, 0, len(t.args))
	for _, a := range t.args {
		v, err := c.eval(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	out, err := fn(x, args)
	if err != nil {
		return nil, newError(c.expr, "filter %q: %w", t.name, err)
	}
	return out, nil
}

func (c *evalCtx) evalTest(t *testNode) (any, error) {
	x, err := c.eval(t.x)
	if err != nil {
		return nil, err
	}
	fn, ok := tests[t.name]
	if !ok {
		return nil, newError(c.expr, "unknown test %q", t.name)
	}
	if t.name != "defined" && t.name != "undefined" {
		if err := requireDefined(c.expr, x); err != nil {
			return nil, err
		}
	}
	args := make([]any, 0, len(t.args))
	for _, a := range t.args {
		v, err := c.eval(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	result, err := fn(x, args)
	if err != nil {
		return nil, newError(c.expr, "test %q: %w", t.name, err)
	}
	if t.negate {
		return !result, nil
	}
	return result, nil
}

func (c *evalCtx) evalCall(t *callNode) (any, error) {
	if c.lookup == nil {
		return nil, newError(c.expr, "lookups are not available in this context")
	}
	args := make([]any, 0, len(t.args))
	for _, a := range t.args {
		v, err := c.eval(a)
		if err != nil {
			return nil, err
		}
		if err := requireDefined(c.expr, v); err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	out, err := c.lookup(t.name, args)
	if err != nil {
		return nil, newError(c.expr, "lookup %q: %w", t.name, err)
	}
	return out, nil
}

func requireDefined(expr string, v any) error {
	if u, ok := v.(undefined); ok {
		return newError(expr, "'%s' is undefined", u.name)
	}
	return nil
}

func attrOf(base any, attr string) any {
	switch m := base.(type) {
	case map[string]any:
		if v, ok := m[attr]; ok {
			return v
		}
		return undefined{name: attr}
	case Vars:
		if v, ok := m[attr]; ok {
			return v
		}
		return undefined{name: attr}
	case map[string]string:
		if v, ok := m[attr]; ok {
			return v
		}
		return undefined{name: attr}
	default:
		return undefined{name: attr}
	}
}

func indexOf(base, idx any) any {
	switch b := base.(type) {
	case []any:
		i, ok := toFloat(idx)
		if !ok {
			return undefined{name: "index"}
		}
		n := int(i)
		if n < 0 {
			n += len(b)
		}
		if n < 0 || n >= len(b) {
			return undefined{name: "index"}
		}
		return b[n]
	case map[string]any:
		if v, ok := b[toString(idx)]; ok {
			return v
		}
		return undefined{name: toString(idx)}
	case string:
		i, ok := toFloat(idx)
		if !ok {
			return undefined{name: "index"}
		}
		r := []rune(b)
		n := int(i)
		if n < 0 {
			n += len(r)
		}
		if n < 0 || n >= len(r) {
			return undefined{name: "index"}
		}
		return string(r[n])
	default:
		return undefined{name: "index"}
	}
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, v := range h {
			if looseEqual(v, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := h[toString(needle)]
		return ok
	case string:
		return strings.Contains(h, toString(needle))
	default:
		return false
	}
}
