package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/canvas-contracts/canvas/internal/graph"
	"github.com/canvas-contracts/canvas/internal/ir"
)

// The condition sub-language used by If-node `condition` properties and by
// breakpoint conditions. Deliberately minimal: literals, input references,
// comparisons, boolean connectives, parentheses. Arithmetic belongs in the
// graph, not in condition strings.
//
// Grammar (precedence low to high):
//
//	expr    = orExpr
//	orExpr  = andExpr { "||" andExpr }
//	andExpr = cmpExpr { "&&" cmpExpr }
//	cmpExpr = unary [ ("==" | "!=" | "<" | "<=" | ">" | ">=") unary ]
//	unary   = "!" unary | primary
//	primary = int | "true" | "false" | string | ident | "(" expr ")"

// Expr is a parsed condition expression.
type Expr interface{ exprNode() }

// ExprLit is a literal value.
type ExprLit struct{ Val ir.Value }

// ExprIdent references a named input by identifier.
type ExprIdent struct{ Name string }

// ExprUnary is logical negation.
type ExprUnary struct{ X Expr }

// ExprBinary is a comparison or boolean connective.
type ExprBinary struct {
	Op   ir.BinKind
	L, R Expr
}

func (*ExprLit) exprNode()    {}
func (*ExprIdent) exprNode()  {}
func (*ExprUnary) exprNode()  {}
func (*ExprBinary) exprNode() {}

type exprToken struct {
	kind string // "int", "str", "ident", "op", "eof"
	text string
}

type exprParser struct {
	toks []exprToken
	pos  int
}

// ParseExpr parses a condition expression.
func ParseExpr(src string) (Expr, error) {
	toks, err := lexExpr(src)
	if err != nil {
		return nil, err
	}
	p := &exprParser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != "eof" {
		return nil, fmt.Errorf("unexpected %q after expression", p.peek().text)
	}
	return e, nil
}

func lexExpr(src string) ([]exprToken, error) {
	var toks []exprToken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')':
			toks = append(toks, exprToken{"op", string(c)})
			i++
		case c == '"':
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != '"' {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, exprToken{"str", sb.String()})
			i = j + 1
		case strings.ContainsRune("=!<>&|", rune(c)):
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch two {
			case "==", "!=", "<=", ">=", "&&", "||":
				toks = append(toks, exprToken{"op", two})
				i += 2
			default:
				switch c {
				case '<', '>', '!':
					toks = append(toks, exprToken{"op", string(c)})
					i++
				default:
					return nil, fmt.Errorf("unexpected character %q", string(c))
				}
			}
		case c == '-' || (c >= '0' && c <= '9'):
			j := i
			if c == '-' {
				j++
			}
			for j < len(src) && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			if j == i || (c == '-' && j == i+1) {
				return nil, fmt.Errorf("malformed number at %q", src[i:])
			}
			toks = append(toks, exprToken{"int", src[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_') {
				j++
			}
			toks = append(toks, exprToken{"ident", src[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	toks = append(toks, exprToken{kind: "eof"})
	return toks, nil
}

func (p *exprParser) peek() exprToken { return p.toks[p.pos] }

func (p *exprParser) accept(kind, text string) bool {
	t := p.peek()
	if t.kind == kind && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("op", "||") {
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &ExprBinary{Op: ir.BinOr, L: l, R: r}
	}
	return l, nil
}

func (p *exprParser) parseAnd() (Expr, error) {
	l, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.accept("op", "&&") {
		r, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		l = &ExprBinary{Op: ir.BinAnd, L: l, R: r}
	}
	return l, nil
}

var cmpOps = map[string]ir.BinKind{
	"==": ir.BinEq, "!=": ir.BinNe,
	"<": ir.BinLt, "<=": ir.BinLe,
	">": ir.BinGt, ">=": ir.BinGe,
}

func (p *exprParser) parseCmp() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == "op" {
		if op, ok := cmpOps[t.text]; ok {
			p.pos++
			r, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &ExprBinary{Op: op, L: l, R: r}, nil
		}
	}
	return l, nil
}

func (p *exprParser) parseUnary() (Expr, error) {
	if p.accept("op", "!") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ExprUnary{X: x}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case "int":
		p.pos++
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", t.text)
		}
		return &ExprLit{Val: ir.Int(n)}, nil
	case "str":
		p.pos++
		return &ExprLit{Val: ir.Str(t.text)}, nil
	case "ident":
		p.pos++
		switch t.text {
		case "true":
			return &ExprLit{Val: ir.Bool(true)}, nil
		case "false":
			return &ExprLit{Val: ir.Bool(false)}, nil
		}
		return &ExprIdent{Name: t.text}, nil
	case "op":
		if t.text == "(" {
			p.pos++
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.accept("op", ")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return e, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}

// CheckExpr type-checks an expression against the given variable kinds and
// returns the expression's result kind. Comparisons other than ==/!= are
// numeric only; ==/!= also accept booleans. Strings appear only as literals
// compared against string variables.
func CheckExpr(e Expr, vars map[string]graph.ValueKind) (graph.ValueKind, error) {
	switch n := e.(type) {
	case *ExprLit:
		return n.Val.Kind(), nil
	case *ExprIdent:
		k, ok := vars[n.Name]
		if !ok {
			return "", fmt.Errorf("unknown input %q", n.Name)
		}
		return k, nil
	case *ExprUnary:
		k, err := CheckExpr(n.X, vars)
		if err != nil {
			return "", err
		}
		if k != graph.KindBoolean {
			return "", fmt.Errorf("! requires a boolean operand, got %s", k)
		}
		return graph.KindBoolean, nil
	case *ExprBinary:
		lk, err := CheckExpr(n.L, vars)
		if err != nil {
			return "", err
		}
		rk, err := CheckExpr(n.R, vars)
		if err != nil {
			return "", err
		}
		switch n.Op {
		case ir.BinAnd, ir.BinOr:
			if lk != graph.KindBoolean || rk != graph.KindBoolean {
				return "", fmt.Errorf("%s requires boolean operands, got %s and %s", n.Op, lk, rk)
			}
			return graph.KindBoolean, nil
		case ir.BinEq, ir.BinNe:
			if lk != rk {
				return "", fmt.Errorf("cannot compare %s with %s", lk, rk)
			}
			if lk == graph.KindBytes {
				return "", fmt.Errorf("bytes comparison is not supported in conditions")
			}
			return graph.KindBoolean, nil
		case ir.BinLt, ir.BinLe, ir.BinGt, ir.BinGe:
			if lk != graph.KindNumber || rk != graph.KindNumber {
				return "", fmt.Errorf("%s requires numeric operands, got %s and %s", n.Op, lk, rk)
			}
			return graph.KindBoolean, nil
		default:
			return "", fmt.Errorf("unknown operator %s", n.Op)
		}
	default:
		return "", fmt.Errorf("unknown expression node %T", e)
	}
}

// EvalExpr evaluates an expression against concrete values. Used for
// breakpoint conditions; the caller is expected to have run CheckExpr.
func EvalExpr(e Expr, vars map[string]ir.Value) (ir.Value, error) {
	switch n := e.(type) {
	case *ExprLit:
		return n.Val, nil
	case *ExprIdent:
		v, ok := vars[n.Name]
		if !ok {
			return nil, fmt.Errorf("unknown input %q", n.Name)
		}
		return v, nil
	case *ExprUnary:
		v, err := EvalExpr(n.X, vars)
		if err != nil {
			return nil, err
		}
		b, ok := v.(ir.Bool)
		if !ok {
			return nil, fmt.Errorf("! requires a boolean operand")
		}
		return ir.Bool(!b), nil
	case *ExprBinary:
		l, err := EvalExpr(n.L, vars)
		if err != nil {
			return nil, err
		}
		// Short-circuit the connectives.
		if n.Op == ir.BinAnd || n.Op == ir.BinOr {
			lb, ok := l.(ir.Bool)
			if !ok {
				return nil, fmt.Errorf("%s requires boolean operands", n.Op)
			}
			if n.Op == ir.BinAnd && !bool(lb) {
				return ir.Bool(false), nil
			}
			if n.Op == ir.BinOr && bool(lb) {
				return ir.Bool(true), nil
			}
			r, err := EvalExpr(n.R, vars)
			if err != nil {
				return nil, err
			}
			rb, ok := r.(ir.Bool)
			if !ok {
				return nil, fmt.Errorf("%s requires boolean operands", n.Op)
			}
			return rb, nil
		}
		r, err := EvalExpr(n.R, vars)
		if err != nil {
			return nil, err
		}
		return evalCompare(n.Op, l, r)
	default:
		return nil, fmt.Errorf("unknown expression node %T", e)
	}
}

func evalCompare(op ir.BinKind, l, r ir.Value) (ir.Value, error) {
	switch op {
	case ir.BinEq, ir.BinNe:
		if l.Kind() != r.Kind() {
			return nil, fmt.Errorf("cannot compare %s with %s", l.Kind(), r.Kind())
		}
		eq := l == r
		if lv, ok := l.(ir.Str); ok {
			eq = lv == r.(ir.Str)
		}
		if op == ir.BinNe {
			eq = !eq
		}
		return ir.Bool(eq), nil
	case ir.BinLt, ir.BinLe, ir.BinGt, ir.BinGe:
		ln, lok := l.(ir.Int)
		rn, rok := r.(ir.Int)
		if !lok || !rok {
			return nil, fmt.Errorf("%s requires numeric operands", op)
		}
		var out bool
		switch op {
		case ir.BinLt:
			out = ln < rn
		case ir.BinLe:
			out = ln <= rn
		case ir.BinGt:
			out = ln > rn
		case ir.BinGe:
			out = ln >= rn
		}
		return ir.Bool(out), nil
	default:
		return nil, fmt.Errorf("unknown operator %s", op)
	}
}
