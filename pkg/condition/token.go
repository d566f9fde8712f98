// Package condition implements the boolean condition language evaluated
// against a typed workflow context. Expressions combine comparisons over
// config.*, step.output.*, env.*, and artifacts.* surfaces with AND/OR/NOT
// (precedence NOT > AND > OR), parentheses, and atomic function calls such
// as providers.includes('x').
package condition

import (
	"fmt"
	"strings"
	"unicode"
)

// Tokenize splits an expression into tokens.
//
// Rules:
//   - Quotes toggle literal mode; inside literals all characters are copied
//     verbatim.
//   - Outside literals, a '(' immediately following ".identifier" opens a
//     function call and is consumed into the current token until the
//     matching ')'. Function calls are atomic tokens.
//   - Otherwise '(' and ')' are separate tokens.
//   - A '!' opening a token is a negation token of its own unless it starts
//     the "!=" or "!==" operator.
//   - Whitespace outside quotes and function calls separates tokens.
func Tokenize(expr string) ([]string, error) {
	var tokens []string
	var current strings.Builder

	inQuote := false
	var quoteChar rune
	funcDepth := 0

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	runes := []rune(expr)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if inQuote {
			current.WriteRune(ch)
			if ch == quoteChar {
				inQuote = false
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"':
			inQuote = true
			quoteChar = ch
			current.WriteRune(ch)

		case funcDepth > 0:
			current.WriteRune(ch)
			if ch == '(' {
				funcDepth++
			} else if ch == ')' {
				funcDepth--
				if funcDepth == 0 {
					flush()
				}
			}

		case ch == '(':
			if isFunctionHead(current.String()) {
				funcDepth = 1
				current.WriteRune(ch)
			} else {
				flush()
				tokens = append(tokens, "(")
			}

		case ch == ')':
			flush()
			tokens = append(tokens, ")")

		// A '!' starting a token is negation unless it begins "!=" / "!==".
		case ch == '!' && current.Len() == 0 && (i+1 >= len(runes) || runes[i+1] != '='):
			tokens = append(tokens, "!")

		case unicode.IsSpace(ch):
			flush()

		default:
			current.WriteRune(ch)
		}
	}

	if inQuote {
		return nil, fmt.Errorf("unterminated string literal in %q", expr)
	}
	if funcDepth > 0 {
		return nil, fmt.Errorf("unterminated function call in %q", expr)
	}
	flush()

	return tokens, nil
}

// isFunctionHead reports whether a pending token ends with ".identifier",
// which makes a following '(' open an atomic function call.
func isFunctionHead(token string) bool {
	dot := strings.LastIndexByte(token, '.')
	if dot < 0 || dot == len(token)-1 {
		return false
	}
	for _, ch := range token[dot+1:] {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			return false
		}
	}
	return true
}
