package template

import (
	"strings"
)

// tplBlock is a parsed segment of a template body: literal text, a `{{ }}`
// expression, or a `{% %}` control block (if/for) with its own nested body.
type tplBlock interface{}

type textBlock struct{ text string }

type exprBlock struct{ expr string }

type ifBlock struct {
	branches []ifBranch // evaluated in order; first true cond wins
	elseBody []tplBlock
}

type ifBranch struct {
	cond string
	body []tplBlock
}

type forBlock struct {
	varName string
	listExp string
	body    []tplBlock
}

// rawTag is an intermediate tag the tokenizer emits before the block parser
// assembles if/for nesting.
type rawTag struct {
	kind string // "text", "expr", "if", "elif", "else", "endif", "for", "endfor"
	text string // literal text, or expression/condition source
}

func tokenizeTemplate(src string) ([]rawTag, error) {
	var tags []rawTag
	i := 0
	n := len(src)
	for i < n {
		exprStart := strings.Index(src[i:], "{{")
		stmtStart := strings.Index(src[i:], "{%")
		switch {
		case exprStart < 0 && stmtStart < 0:
			tags = append(tags, rawTag{kind: "text", text: src[i:]})
			i = n
		case stmtStart < 0 || (exprStart >= 0 && exprStart < stmtStart):
			if exprStart > 0 {
				tags = append(tags, rawTag{kind: "text", text: src[i : i+exprStart]})
			}
			rest := src[i+exprStart+2:]
			end := strings.Index(rest, "}}")
			if end < 0 {
				return nil, newError(src, "unterminated '{{' expression")
			}
			tags = append(tags, rawTag{kind: "expr", text: strings.TrimSpace(rest[:end])})
			i += exprStart + 2 + end + 2
		default:
			if stmtStart > 0 {
				tags = append(tags, rawTag{kind: "text", text: src[i : i+stmtStart]})
			}
			rest := src[i+stmtStart+2:]
			end := strings.Index(rest, "%}")
			if end < 0 {
				return nil, newError(src, "unterminated '{%%' statement")
			}
			body := strings.TrimSpace(rest[:end])
			tags = append(tags, parseStatementTag(body))
			i += stmtStart + 2 + end + 2
		}
	}
	return tags, nil
}

func parseStatementTag(body string) rawTag {
	switch {
	case body == "else":
		return rawTag{kind: "else"}
	case body == "endif":
		return rawTag{kind: "endif"}
	case body == "endfor":
		return rawTag{kind: "endfor"}
	case strings.HasPrefix(body, "if "):
		return rawTag{kind: "if", text: strings.TrimSpace(strings.TrimPrefix(body, "if "))}
	case strings.HasPrefix(body, "elif "):
		return rawTag{kind: "elif", text: strings.TrimSpace(strings.TrimPrefix(body, "elif "))}
	case strings.HasPrefix(body, "for "):
		return rawTag{kind: "for", text: strings.TrimSpace(strings.TrimPrefix(body, "for "))}
	default:
		return rawTag{kind: "text", text: "{% " + body + " %}"}
	}
}

// parseTemplate tokenizes and structures a template body into a tplBlock tree.
func parseTemplate(src string) ([]tplBlock, error) {
	tags, err := tokenizeTemplate(src)
	if err != nil {
		return nil, err
	}
	blocks, rest, err := buildBlocks(tags)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, newError(src, "unexpected closing tag %q", rest[0].kind)
	}
	return blocks, nil
}

// buildBlocks consumes tags until it hits a tag it doesn't own (else/endif/
// endfor) or runs out, returning what it built plus the unconsumed remainder.
func buildBlocks(tags []rawTag) ([]tplBlock, []rawTag, error) {
	var out []tplBlock
	for len(tags) > 0 {
		t := tags[0]
		switch t.kind {
		case "text":
			out = append(out, textBlock{text: t.text})
			tags = tags[1:]
		case "expr":
			out = append(out, exprBlock{expr: t.text})
			tags = tags[1:]
		case "else", "endif", "endfor":
			return out, tags, nil
		case "if":
			blk, rest, err := buildIf(t.text, tags[1:])
			if err != nil {
				return nil, nil, err
			}
			out = append(out, blk)
			tags = rest
		case "for":
			blk, rest, err := buildFor(t.text, tags[1:])
			if err != nil {
				return nil, nil, err
			}
			out = append(out, blk)
			tags = rest
		default:
			return nil, nil, newError(t.text, "unexpected tag %q", t.kind)
		}
	}
	return out, nil, nil
}

func buildIf(cond string, tags []rawTag) (*ifBlock, []rawTag, error) {
	blk := &ifBlock{}
	branch := ifBranch{cond: cond}
	for {
		body, rest, err := buildBlocks(tags)
		if err != nil {
			return nil, nil, err
		}
		branch.body = body
		if len(rest) == 0 {
			return nil, nil, newError(cond, "missing 'endif'")
		}
		switch rest[0].kind {
		case "elif":
			blk.branches = append(blk.branches, branch)
			branch = ifBranch{cond: rest[0].text}
			tags = rest[1:]
		case "else":
			blk.branches = append(blk.branches, branch)
			elseBody, rest2, err := buildBlocks(rest[1:])
			if err != nil {
				return nil, nil, err
			}
			if len(rest2) == 0 || rest2[0].kind != "endif" {
				return nil, nil, newError(cond, "missing 'endif'")
			}
			blk.elseBody = elseBody
			return blk, rest2[1:], nil
		case "endif":
			blk.branches = append(blk.branches, branch)
			return blk, rest[1:], nil
		}
	}
}

func buildFor(header string, tags []rawTag) (*forBlock, []rawTag, error) {
	parts := strings.SplitN(header, " in ", 2)
	if len(parts) != 2 {
		return nil, nil, newError(header, "malformed 'for' loop header")
	}
	varName := strings.TrimSpace(parts[0])
	listExp := strings.TrimSpace(parts[1])

	body, rest, err := buildBlocks(tags)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) == 0 || rest[0].kind != "endfor" {
		return nil, nil, newError(header, "missing 'endfor'")
	}
	return &forBlock{varName: varName, listExp: listExp, body: body}, rest[1:], nil
}

func (e *Engine) execBlocks(blocks []tplBlock, vars Vars, sb *strings.Builder) error {
	for _, b := range blocks {
		if err := e.execBlock(b, vars, sb); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) execBlock(b tplBlock, vars Vars, sb *strings.Builder) error {
	switch t := b.(type) {
	case textBlock:
		sb.WriteString(t.text)
		return nil
	case exprBlock:
		v, err := e.evalExprValue(t.expr, vars)
		if err != nil {
			return err
		}
		sb.WriteString(toString(v))
		return nil
	case *ifBlock:
		for _, branch := range t.branches {
			ok, err := e.evaluateBoolExpr(branch.cond, vars)
			if err != nil {
				return err
			}
			if ok {
				return e.execBlocks(branch.body, vars, sb)
			}
		}
		return e.execBlocks(t.elseBody, vars, sb)
	case *forBlock:
		n, err := parseExpr(t.listExp)
		if err != nil {
			return err
		}
		ctx := &evalCtx{vars: vars, lookup: e.lookup, expr: t.listExp}
		listVal, err := ctx.eval(n)
		if err != nil {
			return err
		}
		if err := requireDefined(t.listExp, listVal); err != nil {
			return err
		}
		list, ok := listVal.([]any)
		if !ok {
			return newError(t.listExp, "'for' loop target is not a list")
		}
		for _, item := range list {
			loopVars := make(Vars, len(vars)+1)
			for k, v := range vars {
				loopVars[k] = v
			}
			loopVars[t.varName] = item
			if err := e.execBlocks(t.body, loopVars, sb); err != nil {
				return err
			}
		}
		return nil
	default:
		return newError("", "unknown template block type %T", b)
	}
}

func (e *Engine) evalExprValue(expr string, vars Vars) (any, error) {
	n, err := parseExpr(expr)
	if err != nil {
		return nil, err
	}
	ctx := &evalCtx{vars: vars, lookup: e.lookup, expr: expr}
	v, err := ctx.eval(n)
	if err != nil {
		return nil, err
	}
	if err := requireDefined(expr, v); err != nil {
		return nil, err
	}
	return v, nil
}
