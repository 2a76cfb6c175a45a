package predicate

import (
	"fmt"
	"strconv"
	"strings"

	"signal-workshop/internal/domain"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokField
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokNot
	tokTrue
	tokFalse
	tokNone
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// ParseError reports where an expression stopped making sense.
type ParseError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("predicate %q at %d: %s", e.Expr, e.Pos, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return domain.ErrPredicateParse
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func tokenize(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		ch := src[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			out = append(out, token{kind: tokLParen, text: "(", pos: i})
			i++
		case ch == ')':
			out = append(out, token{kind: tokRParen, text: ")", pos: i})
			i++
		case ch == '>' || ch == '<' || ch == '=' || ch == '!':
			start := i
			if i+1 < len(src) && src[i+1] == '=' {
				i += 2
			} else {
				i++
			}
			op := src[start:i]
			if op == "=" || op == "!" {
				return nil, &ParseError{Expr: src, Pos: start, Msg: fmt.Sprintf("unknown operator %q", op)}
			}
			out = append(out, token{kind: tokOp, text: op, pos: start})
		case ch == '\'' || ch == '"':
			start := i
			quote := ch
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					sb.WriteByte(src[i+1])
					i += 2
					continue
				}
				if src[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, &ParseError{Expr: src, Pos: start, Msg: "unterminated string"}
			}
			out = append(out, token{kind: tokString, text: sb.String(), pos: start})
		case isDigit(ch) || ch == '.' || ((ch == '-' || ch == '+') && i+1 < len(src) && (isDigit(src[i+1]) || src[i+1] == '.')):
			start := i
			i++
			for i < len(src) && (isDigit(src[i]) || src[i] == '.' || src[i] == 'e' || src[i] == 'E' ||
				((src[i] == '-' || src[i] == '+') && (src[i-1] == 'e' || src[i-1] == 'E'))) {
				i++
			}
			num, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, &ParseError{Expr: src, Pos: start, Msg: fmt.Sprintf("bad number %q", src[start:i])}
			}
			out = append(out, token{kind: tokNumber, text: src[start:i], num: num, pos: start})
		case isIdentStart(ch):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			// dotted path segments may start with a digit (mtf_trends.1H)
			for i+1 < len(src) && src[i] == '.' && isIdentPart(src[i+1]) {
				i++
				for i < len(src) && isIdentPart(src[i]) {
					i++
				}
			}
			word := src[start:i]
			out = append(out, keywordOrField(word, start))
		default:
			return nil, &ParseError{Expr: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", ch)}
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(src)})
	return out, nil
}

func keywordOrField(word string, pos int) token {
	switch word {
	case "not":
		return token{kind: tokNot, text: word, pos: pos}
	case "True":
		return token{kind: tokTrue, text: word, pos: pos}
	case "False":
		return token{kind: tokFalse, text: word, pos: pos}
	case "None":
		return token{kind: tokNone, text: word, pos: pos}
	}
	return token{kind: tokField, text: word, pos: pos}
}
