package predicate

import (
	"fmt"
	"strconv"
	"strings"
)

type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
)

// Outcome of evaluating a predicate against a resolver.
type Outcome int

const (
	False Outcome = iota
	True
	// Absent: a known optional field is not provided by the feed; the predicate is left out of scoring.
	Absent
	// Unknown: a field path is not recognised; the predicate counts as failed.
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case True:
		return "true"
	case Absent:
		return "absent"
	case Unknown:
		return "unknown"
	}
	return "false"
}

// Expr is a parsed predicate.
type Expr interface {
	Eval(r Resolver) Outcome
	// Fields lists every field path the expression reads.
	Fields() []string
	String() string
}

type comparison struct {
	field string
	op    Op
	rhs   Value
	// rhsField is set for field-to-field comparisons.
	rhsField string
}

type negation struct {
	inner Expr
}

// Parse compiles one predicate string of the fixed grammar:
//
//	expr    := field op literal | field op field | field "!=" "None" | "not" "(" expr ")"
//	literal := number | quoted_string | True | False | None
func Parse(src string) (Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	expr, err := p.expr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %q after expression", tok.text)
	}
	return expr, nil
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &ParseError{Expr: p.src, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expr() (Expr, error) {
	tok := p.next()
	switch tok.kind {
	case tokNot:
		if open := p.next(); open.kind != tokLParen {
			return nil, p.errorf(open, "expected ( after not")
		}
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected )")
		}
		return &negation{inner: inner}, nil
	case tokField:
		return p.comparison(tok)
	case tokEOF:
		return nil, p.errorf(tok, "empty expression")
	}
	return nil, p.errorf(tok, "expected field or not, got %q", tok.text)
}

func (p *parser) comparison(field token) (Expr, error) {
	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, p.errorf(opTok, "expected comparison operator after %s", field.text)
	}
	cmp := &comparison{field: field.text, op: Op(opTok.text)}

	rhs := p.next()
	switch rhs.kind {
	case tokNumber:
		cmp.rhs = Number(rhs.num)
	case tokString:
		cmp.rhs = String(rhs.text)
	case tokTrue:
		cmp.rhs = Bool(true)
	case tokFalse:
		cmp.rhs = Bool(false)
	case tokNone:
		if cmp.op != OpEQ && cmp.op != OpNE {
			return nil, p.errorf(opTok, "None only supports == and !=")
		}
		cmp.rhs = None()
	case tokField:
		cmp.rhsField = rhs.text
	default:
		return nil, p.errorf(rhs, "expected literal or field after %s", opTok.text)
	}
	return cmp, nil
}

func (c *comparison) Fields() []string {
	if c.rhsField != "" {
		return []string{c.field, c.rhsField}
	}
	return []string{c.field}
}

func (c *comparison) String() string {
	rhs := c.rhsField
	if rhs == "" {
		rhs = c.rhs.literal()
	}
	return fmt.Sprintf("%s %s %s", c.field, c.op, rhs)
}

func (c *comparison) Eval(r Resolver) Outcome {
	left, res := r.Resolve(c.field)
	if res == Unrecognised {
		return Unknown
	}

	if c.rhsField == "" && c.rhs.Kind == KindNone {
		present := res == Resolved && left.Kind != KindNone
		if (c.op == OpEQ) != present {
			return True
		}
		return False
	}
	if res == Missing {
		return Absent
	}

	right := c.rhs
	if c.rhsField != "" {
		var rres Resolution
		right, rres = r.Resolve(c.rhsField)
		switch rres {
		case Unrecognised:
			return Unknown
		case Missing:
			return Absent
		}
	}

	if compare(left, c.op, right) {
		return True
	}
	return False
}

func compare(left Value, op Op, right Value) bool {
	if left.Kind != right.Kind {
		return false
	}
	switch left.Kind {
	case KindNumber:
		switch op {
		case OpGT:
			return left.Num > right.Num
		case OpLT:
			return left.Num < right.Num
		case OpGE:
			return left.Num >= right.Num
		case OpLE:
			return left.Num <= right.Num
		case OpEQ:
			return left.Num == right.Num
		case OpNE:
			return left.Num != right.Num
		}
	case KindString:
		switch op {
		case OpEQ:
			return strings.EqualFold(left.Str, right.Str)
		case OpNE:
			return !strings.EqualFold(left.Str, right.Str)
		}
	case KindBool:
		switch op {
		case OpEQ:
			return left.Bool == right.Bool
		case OpNE:
			return left.Bool != right.Bool
		}
	case KindNone:
		switch op {
		case OpEQ:
			return true
		case OpNE:
			return false
		}
	}
	return false
}

func (n *negation) Fields() []string {
	return n.inner.Fields()
}

func (n *negation) String() string {
	return "not (" + n.inner.String() + ")"
}

func (n *negation) Eval(r Resolver) Outcome {
	switch out := n.inner.Eval(r); out {
	case True:
		return False
	case False:
		return True
	default:
		return out
	}
}

type Kind int

const (
	KindNone Kind = iota
	KindNumber
	KindString
	KindBool
)

type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

func Number(v float64) Value { return Value{Kind: KindNumber, Num: v} }
func String(v string) Value  { return Value{Kind: KindString, Str: v} }
func Bool(v bool) Value      { return Value{Kind: KindBool, Bool: v} }
func None() Value            { return Value{Kind: KindNone} }

func (v Value) literal() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	case KindBool:
		if v.Bool {
			return "True"
		}
		return "False"
	}
	return "None"
}
