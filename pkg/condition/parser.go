package condition

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// comparison operators, longest first so "===" wins over "==".
var comparisonOps = []string{"===", "!==", "==", "!=", "<=", ">=", "<", ">"}

// parser is a recursive-descent parser over the token stream. Evaluation
// happens during the descent; atom failures resolve to false (fail-closed)
// while structural errors propagate so the evaluator can fail open.
type parser struct {
	tokens []string
	pos    int
	ctx    *Context
	logger *slog.Logger
}

func (p *parser) peek() (string, bool) {
	if p.pos >= len(p.tokens) {
		return "", false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (string, bool) {
	token, ok := p.peek()
	if ok {
		p.pos++
	}
	return token, ok
}

// parseExpression evaluates the full token stream.
func (p *parser) parseExpression() (bool, error) {
	result, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if token, ok := p.peek(); ok {
		return false, fmt.Errorf("unexpected token %q", token)
	}
	return result, nil
}

// parseOr handles OR / ||, the lowest-precedence operator.
func (p *parser) parseOr() (bool, error) {
	result, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for {
		token, ok := p.peek()
		if !ok || !isOrToken(token) {
			return result, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		result = result || right
	}
}

// parseAnd handles AND / &&.
func (p *parser) parseAnd() (bool, error) {
	result, err := p.parseNot()
	if err != nil {
		return false, err
	}
	for {
		token, ok := p.peek()
		if !ok || !isAndToken(token) {
			return result, nil
		}
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return false, err
		}
		result = result && right
	}
}

// parseNot handles NOT / !, the highest-precedence operator.
func (p *parser) parseNot() (bool, error) {
	if token, ok := p.peek(); ok && isNotToken(token) {
		p.pos++
		result, err := p.parseNot()
		if err != nil {
			return false, err
		}
		return !result, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles parenthesised groups and comparisons.
func (p *parser) parsePrimary() (bool, error) {
	token, ok := p.peek()
	if !ok {
		return false, fmt.Errorf("unexpected end of expression")
	}

	if token == "(" {
		p.pos++
		result, err := p.parseOr()
		if err != nil {
			return false, err
		}
		closing, ok := p.next()
		if !ok || closing != ")" {
			return false, fmt.Errorf("missing closing parenthesis")
		}
		return result, nil
	}
	if token == ")" {
		return false, fmt.Errorf("unexpected closing parenthesis")
	}

	return p.parseComparison()
}

// parseComparison evaluates "<ref> <op> <literal>" or a lone atom.
func (p *parser) parseComparison() (bool, error) {
	left, _ := p.next()

	op, ok := p.peek()
	if ok && isComparisonOp(op) {
		p.pos++
		right, ok := p.next()
		if !ok {
			return false, fmt.Errorf("missing right operand after %q", op)
		}
		return p.compare(left, op, right), nil
	}

	return p.evalAtom(left), nil
}

// evalAtom evaluates a standalone token: a function call or a truthy
// variable lookup. Unrecognised atoms warn and return false.
func (p *parser) evalAtom(token string) bool {
	if call, ok := parseFunctionCall(token); ok {
		return p.evalFunctionCall(call)
	}

	if isReference(token) {
		value, found := p.ctx.resolve(token)
		if !found {
			return false
		}
		return truthy(value)
	}

	p.logger.Warn("unrecognised condition atom evaluates to false", "token", token)
	return false
}

// compare evaluates a binary comparison. Missing paths resolve to undefined
// and any comparison against undefined yields false.
func (p *parser) compare(left, op, right string) bool {
	leftVal, found := p.resolveOperand(left)
	if !found {
		return false
	}
	rightVal, found := p.resolveOperand(right)
	if !found {
		return false
	}

	switch op {
	case "==", "===":
		return looseEqual(leftVal, rightVal)
	case "!=", "!==":
		return !looseEqual(leftVal, rightVal)
	case "<", "<=", ">", ">=":
		return numericCompare(leftVal, rightVal, op)
	}
	return false
}

// resolveOperand resolves a comparison operand: a literal when it parses as
// one, otherwise a variable reference.
func (p *parser) resolveOperand(token string) (any, bool) {
	if value, ok := parseLiteral(token); ok {
		return value, true
	}
	if isReference(token) {
		return p.ctx.resolve(token)
	}
	p.logger.Warn("unrecognised condition operand evaluates to false", "token", token)
	return nil, false
}

// evalFunctionCall evaluates an atomic function-call token. Only
// providers.includes is recognised; anything else warns and fails closed.
func (p *parser) evalFunctionCall(call functionCall) bool {
	if call.receiver == "providers" && call.name == "includes" {
		if len(call.args) != 1 {
			p.logger.Warn("providers.includes expects one argument", "args", len(call.args))
			return false
		}
		for _, provider := range p.ctx.Providers {
			if provider == call.args[0] {
				return true
			}
		}
		return false
	}

	p.logger.Warn("unrecognised function call evaluates to false",
		"function", call.receiver+"."+call.name)
	return false
}

// functionCall is a parsed atomic call token like providers.includes('x').
type functionCall struct {
	receiver string
	name     string
	args     []string
}

// parseFunctionCall splits "receiver.name('arg', …)" into its parts.
func parseFunctionCall(token string) (functionCall, bool) {
	open := strings.IndexByte(token, '(')
	if open < 0 || !strings.HasSuffix(token, ")") {
		return functionCall{}, false
	}
	head := token[:open]
	dot := strings.LastIndexByte(head, '.')
	if dot <= 0 || dot == len(head)-1 {
		return functionCall{}, false
	}

	call := functionCall{
		receiver: head[:dot],
		name:     head[dot+1:],
	}
	inner := strings.TrimSpace(token[open+1 : len(token)-1])
	if inner != "" {
		for _, arg := range strings.Split(inner, ",") {
			arg = strings.TrimSpace(arg)
			if value, ok := parseLiteral(arg); ok {
				call.args = append(call.args, fmt.Sprintf("%v", value))
			} else {
				call.args = append(call.args, arg)
			}
		}
	}
	return call, true
}

// parseLiteral parses quoted strings, booleans, and numbers.
func parseLiteral(token string) (any, bool) {
	if len(token) >= 2 {
		first, last := token[0], token[len(token)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return token[1 : len(token)-1], true
		}
	}
	switch token {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n, true
	}
	return nil, false
}

// looseEqual compares values with the coercions the condition language
// documents: numbers compare numerically across integer widths, and
// booleans compare as both actual bool and string coercion (for env vars).
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return false
	}

	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			return an == bn
		}
	}

	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
		if bs, ok := b.(string); ok {
			return strconv.FormatBool(ab) == bs
		}
	}
	if bb, ok := b.(bool); ok {
		if as, ok := a.(string); ok {
			return as == strconv.FormatBool(bb)
		}
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}

	return a == b
}

// numericCompare applies an ordering operator; non-numeric operands yield
// false.
func numericCompare(a, b any, op string) bool {
	an, aok := toFloat(a)
	bn, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case "<":
		return an < bn
	case "<=":
		return an <= bn
	case ">":
		return an > bn
	case ">=":
		return an >= bn
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// truthy reports JS-style truthiness for bare identifier lookups.
func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != "" && value != "false" && value != "0"
	case int:
		return value != 0
	case int64:
		return value != 0
	case float64:
		return value != 0
	default:
		return true
	}
}

func isOrToken(token string) bool  { return token == "OR" || token == "||" }
func isAndToken(token string) bool { return token == "AND" || token == "&&" }
func isNotToken(token string) bool { return token == "NOT" || token == "!" }

func isComparisonOp(token string) bool {
	for _, op := range comparisonOps {
		if token == op {
			return true
		}
	}
	return false
}
