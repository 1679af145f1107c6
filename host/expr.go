// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"errors"
	"strconv"
	"strings"
)

// Console expressions evaluate to 64-bit unsigned values.
//
//	literals     123  0x7f  $7f  0b101  'A'  0xffff_0000_0000_f800
//	identifiers  pc  .  steps  r3  r3.lo  r3.hi  r3.w0 .. r3.w3
//	memory       [addr]   the 64-bit word the bus returns for addr
//	unary        -  ~  +
//	binary       * / %   + -   << >>   &   ^   |   (tightest first)
//
// In hex mode, bare numbers are hexadecimal. A word made only of hex
// digits is then a number, so "ff" evaluates to 255 while "pc" is still
// an identifier.

var (
	errExprParse    = errors.New("expression syntax error")
	errDivideByZero = errors.New("division by zero")
)

// A resolver supplies the values of identifiers and memory words.
type resolver interface {
	resolveIdentifier(s string) (uint64, error)
	readWord(addr uint64) uint64
}

type tokenKind byte

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
)

type token struct {
	kind tokenKind
	text string
	num  uint64
}

// Binary operator precedence. Higher binds tighter; all are left
// associative.
var precedence = map[string]int{
	"|":  1,
	"^":  2,
	"&":  3,
	"<<": 4,
	">>": 4,
	"+":  5,
	"-":  5,
	"*":  6,
	"/":  6,
	"%":  6,
}

type exprParser struct {
	hexMode bool
}

func newExprParser() *exprParser {
	return &exprParser{}
}

// Parse evaluates expr, consulting r for identifiers and memory.
func (p *exprParser) Parse(expr string, r resolver) (uint64, error) {
	e := &exprEval{src: expr, hexMode: p.hexMode, r: r}
	if err := e.advance(); err != nil {
		return 0, err
	}

	v, err := e.binary(0)
	if err != nil {
		return 0, err
	}
	if e.tok.kind != tokEOF {
		return 0, errExprParse
	}
	return v, nil
}

// exprEval holds the state of a single evaluation.
type exprEval struct {
	src     string
	pos     int
	hexMode bool
	r       resolver
	tok     token
}

func (e *exprEval) binary(minPrec int) (uint64, error) {
	lhs, err := e.unary()
	if err != nil {
		return 0, err
	}

	for e.tok.kind == tokOp {
		op := e.tok.text
		prec := precedence[op]
		if prec <= minPrec {
			break
		}
		if err := e.advance(); err != nil {
			return 0, err
		}

		rhs, err := e.binary(prec)
		if err != nil {
			return 0, err
		}
		if lhs, err = apply(op, lhs, rhs); err != nil {
			return 0, err
		}
	}
	return lhs, nil
}

func (e *exprEval) unary() (uint64, error) {
	if e.tok.kind == tokOp {
		op := e.tok.text
		switch op {
		case "-", "~", "+":
		default:
			return 0, errExprParse
		}
		if err := e.advance(); err != nil {
			return 0, err
		}
		v, err := e.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "-":
			return -v, nil
		case "~":
			return ^v, nil
		}
		return v, nil
	}
	return e.primary()
}

func (e *exprEval) primary() (uint64, error) {
	tok := e.tok
	switch tok.kind {
	case tokNumber:
		return tok.num, e.advance()

	case tokIdent:
		v, err := e.r.resolveIdentifier(tok.text)
		if err != nil {
			return 0, err
		}
		return v, e.advance()

	case tokLParen, tokLBracket:
		if err := e.advance(); err != nil {
			return 0, err
		}
		v, err := e.binary(0)
		if err != nil {
			return 0, err
		}
		closing := tokRParen
		if tok.kind == tokLBracket {
			closing = tokRBracket
		}
		if e.tok.kind != closing {
			return 0, errExprParse
		}
		if tok.kind == tokLBracket {
			v = e.r.readWord(v)
		}
		return v, e.advance()
	}
	return 0, errExprParse
}

func apply(op string, a, b uint64) (uint64, error) {
	switch op {
	case "*":
		return a * b, nil
	case "/", "%":
		if b == 0 {
			return 0, errDivideByZero
		}
		if op == "/" {
			return a / b, nil
		}
		return a % b, nil
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "<<":
		return a << b, nil
	case ">>":
		return a >> b, nil
	case "&":
		return a & b, nil
	case "^":
		return a ^ b, nil
	case "|":
		return a | b, nil
	}
	return 0, errExprParse
}

// advance scans the next token into e.tok.
func (e *exprEval) advance() error {
	for e.pos < len(e.src) && (e.src[e.pos] == ' ' || e.src[e.pos] == '\t') {
		e.pos++
	}
	if e.pos == len(e.src) {
		e.tok = token{kind: tokEOF}
		return nil
	}

	s := e.src[e.pos:]
	c := s[0]
	switch {
	case c == '$' || isDigit(c):
		return e.scanNumber(s)

	case c == '\'':
		if len(s) < 3 || s[2] != '\'' {
			return errExprParse
		}
		e.tok = token{kind: tokNumber, num: uint64(s[1])}
		e.pos += 3
		return nil

	case isIdentStart(c):
		n := scan(s, isIdentChar)
		if e.hexMode && scan(s, isHexGroup) == n {
			return e.scanNumber(s)
		}
		e.tok = token{kind: tokIdent, text: s[:n]}
		e.pos += n
		return nil

	case strings.HasPrefix(s, "<<") || strings.HasPrefix(s, ">>"):
		e.tok = token{kind: tokOp, text: s[:2]}
		e.pos += 2
		return nil

	case strings.IndexByte("+-*/%&|^~", c) >= 0:
		e.tok = token{kind: tokOp, text: s[:1]}

	case c == '(':
		e.tok = token{kind: tokLParen}
	case c == ')':
		e.tok = token{kind: tokRParen}
	case c == '[':
		e.tok = token{kind: tokLBracket}
	case c == ']':
		e.tok = token{kind: tokRBracket}

	default:
		return errExprParse
	}
	e.pos++
	return nil
}

// scanNumber scans a numeric literal. Underscores may separate digit
// groups.
func (e *exprEval) scanNumber(s string) error {
	base, digits, prefix := 10, isDigit, 0
	if e.hexMode {
		base, digits = 16, isHexDigit
	}

	switch {
	case s[0] == '$':
		base, digits, prefix = 16, isHexDigit, 1
	case strings.HasPrefix(s, "0x"):
		base, digits, prefix = 16, isHexDigit, 2
	case strings.HasPrefix(s, "0b") && !e.hexMode:
		base, digits, prefix = 2, isBinaryDigit, 2
	}

	n := prefix + scan(s[prefix:], func(c byte) bool { return digits(c) || c == '_' })
	num := strings.ReplaceAll(s[prefix:n], "_", "")
	if num == "" {
		return errExprParse
	}

	v, err := strconv.ParseUint(num, base, 64)
	if err != nil {
		return errExprParse
	}

	// A number running straight into a letter is malformed.
	if n < len(s) && isIdentChar(s[n]) {
		return errExprParse
	}

	e.tok = token{kind: tokNumber, num: v}
	e.pos += n
	return nil
}

func scan(s string, fn func(c byte) bool) int {
	i := 0
	for i < len(s) && fn(s[i]) {
		i++
	}
	return i
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isHexGroup(c byte) bool {
	return isHexDigit(c) || c == '_'
}

func isBinaryDigit(c byte) bool {
	return c == '0' || c == '1'
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '.'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
