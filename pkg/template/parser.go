package template

import "fmt"

// parser implements a small recursive-descent parser over the token stream
// produced by lex. Precedence (loosest to tightest): ternary, or, and, not,
// comparison/in, concat (~), additive, multiplicative, filter (|), is-test,
// unary, postfix (.attr / [index] / (call)), primary.
type parser struct {
	toks []token
	pos  int
	expr string
}

func parseExpr(expr string) (node, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, newError(expr, "%w", err)
	}
	p := &parser{toks: toks, expr: expr}
	n, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, newError(expr, "unexpected token %q", p.cur().text)
	}
	return n, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance()    { p.pos++ }
func (p *parser) isIdent(s string) bool {
	return p.cur().kind == tokIdent && p.cur().text == s
}

func (p *parser) parseTernary() (node, error) {
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.isIdent("if") {
		p.advance()
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.isIdent("else") {
			return nil, newError(p.expr, "expected 'else' in conditional expression")
		}
		p.advance()
		els, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		return &condNode{cond: cond, then: then, els: els}, nil
	}
	return then, nil
}

func (p *parser) parseOr() (node, error) {
	x, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isIdent("or") {
		p.advance()
		y, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		x = &binNode{op: "or", x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseAnd() (node, error) {
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isIdent("and") {
		p.advance()
		y, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		x = &binNode{op: "and", x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isIdent("not") {
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", x: x}, nil
	}
	return p.parseComparison()
}

var compOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseComparison() (node, error) {
	x, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		if p.cur().kind == tokOp && compOps[p.cur().text] {
			op := p.cur().text
			p.advance()
			y, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			x = &binNode{op: op, x: x, y: y}
			continue
		}
		if p.isIdent("in") {
			p.advance()
			y, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			x = &binNode{op: "in", x: x, y: y}
			continue
		}
		if p.isIdent("not") && p.peekIsIdent(1, "in") {
			p.advance()
			p.advance()
			y, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			x = &unaryNode{op: "not", x: &binNode{op: "in", x: x, y: y}}
			continue
		}
		break
	}
	return x, nil
}

func (p *parser) peekIsIdent(offset int, s string) bool {
	idx := p.pos + offset
	if idx >= len(p.toks) {
		return false
	}
	return p.toks[idx].kind == tokIdent && p.toks[idx].text == s
}

func (p *parser) parseConcat() (node, error) {
	x, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && p.cur().text == "~" {
		p.advance()
		y, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		x = &binNode{op: "~", x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseAdditive() (node, error) {
	x, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && (p.cur().text == "+" || p.cur().text == "-") {
		op := p.cur().text
		p.advance()
		y, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		x = &binNode{op: op, x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	x, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOp && (p.cur().text == "*" || p.cur().text == "/" || p.cur().text == "%") {
		op := p.cur().text
		p.advance()
		y, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		x = &binNode{op: op, x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseFilter() (node, error) {
	x, err := p.parseIs()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokPipe {
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, newError(p.expr, "expected filter name after '|'")
		}
		name := p.cur().text
		p.advance()
		var args []node
		if p.cur().kind == tokLParen {
			args, err = p.parseArgs()
			if err != nil {
				return nil, err
			}
		}
		x = &filterNode{x: x, name: name, args: args}
	}
	return x, nil
}

func (p *parser) parseIs() (node, error) {
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.isIdent("is") {
		p.advance()
		negate := false
		if p.isIdent("not") {
			negate = true
			p.advance()
		}
		if p.cur().kind != tokIdent {
			return nil, newError(p.expr, "expected test name after 'is'")
		}
		name := p.cur().text
		p.advance()
		var args []node
		if p.cur().kind == tokLParen {
			args, err = p.parseArgs()
			if err != nil {
				return nil, err
			}
		}
		return &testNode{x: x, name: name, negate: negate, args: args}, nil
	}
	return x, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.cur().kind == tokOp && (p.cur().text == "-" || p.cur().text == "+") {
		op := p.cur().text
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, x: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokDot:
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, newError(p.expr, "expected attribute name after '.'")
			}
			x = &attrNode{base: x, attr: p.cur().text}
			p.advance()
		case tokLBracket:
			p.advance()
			idx, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if p.cur().kind != tokRBracket {
				return nil, newError(p.expr, "expected ']'")
			}
			p.advance()
			x = &indexNode{base: x, index: idx}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.advance()
		return &litNode{val: t.num}, nil
	case tokString:
		p.advance()
		return &litNode{val: t.text}, nil
	case tokLParen:
		p.advance()
		x, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, newError(p.expr, "expected ')'")
		}
		p.advance()
		return x, nil
	case tokLBracket:
		p.advance()
		var items []node
		for p.cur().kind != tokRBracket {
			if len(items) > 0 {
				if p.cur().kind != tokComma {
					return nil, newError(p.expr, "expected ',' in list literal")
				}
				p.advance()
				if p.cur().kind == tokRBracket {
					break
				}
			}
			item, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		p.advance()
		return &listNode{items: items}, nil
	case tokLBrace:
		p.advance()
		var keys, vals []node
		for p.cur().kind != tokRBrace {
			if len(keys) > 0 {
				if p.cur().kind != tokComma {
					return nil, newError(p.expr, "expected ',' in dict literal")
				}
				p.advance()
				if p.cur().kind == tokRBrace {
					break
				}
			}
			k, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if p.cur().kind != tokColon {
				return nil, newError(p.expr, "expected ':' in dict literal")
			}
			p.advance()
			v, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			vals = append(vals, v)
		}
		p.advance()
		return &dictNode{keys: keys, vals: vals}, nil
	case tokIdent:
		name := t.text
		if name == "true" || name == "True" {
			p.advance()
			return &litNode{val: true}, nil
		}
		if name == "false" || name == "False" {
			p.advance()
			return &litNode{val: false}, nil
		}
		if name == "none" || name == "None" || name == "null" {
			p.advance()
			return &litNode{val: nil}, nil
		}
		p.advance()
		if p.cur().kind == tokLParen {
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &callNode{name: name, args: args}, nil
		}
		return &identNode{name: name}, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

func (p *parser) parseArgs() ([]node, error) {
	p.advance() // consume '('
	var args []node
	for p.cur().kind != tokRParen {
		if len(args) > 0 {
			if p.cur().kind != tokComma {
				return nil, newError(p.expr, "expected ',' in argument list")
			}
			p.advance()
			if p.cur().kind == tokRParen {
				break
			}
		}
		arg, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.advance() // consume ')'
	return args, nil
}
