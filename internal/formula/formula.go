// Package formula evaluates user-supplied max-price expressions.
//
// The grammar is deliberately tiny: numeric literals, the identifier
// current_price, and + - * / ( ). Anything else is rejected before
// evaluation, so a formula can never reach code execution.
package formula

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFormula is returned for any malformed or unsafe expression.
// Callers are expected to fall back to a default such as
// "current_price * 1.9".
var ErrInvalidFormula = errors.New("invalid pricing formula")

// DefaultMaxPrice is the safe fallback applied when a configured
// formula fails to evaluate.
func DefaultMaxPrice(currentPrice float64) float64 {
	return currentPrice * 1.9
}

// Evaluate computes a formula against the supplied current price.
func Evaluate(expr string, currentPrice float64) (float64, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &parser{tokens: tokens, price: currentPrice}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.tokens) {
		return 0, fmt.Errorf("%w: unexpected token %q", ErrInvalidFormula, p.tokens[p.pos])
	}
	return v, nil
}

// tokenize pads every recognized symbol with spaces and splits on
// whitespace, then validates each resulting token against the
// allow-list. A token like "1.9;" fails the numeric check here, so
// injected statements never reach the parser.
func tokenize(expr string) ([]string, error) {
	r := strings.NewReplacer(
		"(", " ( ", ")", " ) ",
		"+", " + ", "-", " - ",
		"*", " * ", "/", " / ",
	)
	tokens := strings.Fields(r.Replace(expr))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidFormula)
	}
	for _, t := range tokens {
		switch t {
		case "+", "-", "*", "/", "(", ")", "current_price":
			continue
		}
		if _, err := strconv.ParseFloat(t, 64); err != nil {
			return nil, fmt.Errorf("%w: unsupported token %q", ErrInvalidFormula, t)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []string
	pos    int
	price  float64
}

func (p *parser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	if t != "" {
		p.pos++
	}
	return t
}

// parseExpr handles + and -.
func (p *parser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case "+":
			p.next()
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v += rhs
		case "-":
			p.next()
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v -= rhs
		default:
			return v, nil
		}
	}
}

// parseTerm handles * and /.
func (p *parser) parseTerm() (float64, error) {
	v, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case "*":
			p.next()
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			v *= rhs
		case "/":
			p.next()
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("%w: division by zero", ErrInvalidFormula)
			}
			v /= rhs
		default:
			return v, nil
		}
	}
}

// parseFactor handles literals, current_price, unary minus, and
// parenthesized subexpressions.
func (p *parser) parseFactor() (float64, error) {
	switch t := p.next(); t {
	case "":
		return 0, fmt.Errorf("%w: unexpected end of expression", ErrInvalidFormula)
	case "-":
		v, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -v, nil
	case "(":
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.next() != ")" {
			return 0, fmt.Errorf("%w: unbalanced parentheses", ErrInvalidFormula)
		}
		return v, nil
	case "current_price":
		return p.price, nil
	default:
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: unsupported token %q", ErrInvalidFormula, t)
		}
		return v, nil
	}
}
