// Package mini is a deliberately small line-oriented JavaScript-like
// interpreter used only to exercise the DAP concurrency core end-to-end.
// It is not a JavaScript engine: it understands
// var declarations, number/string literals, simple binary arithmetic,
// console.log calls, debugger statements, and zero-argument function
// declarations/calls (enough to produce multi-frame stack traces).
package mini

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
	tokKeyword
)

type token struct {
	kind tokenKind
	text string
	num  float64
	line int
}

var keywords = map[string]bool{
	"var": true, "function": true, "debugger": true, "return": true,
}

// lex tokenizes source, tracking 1-based line numbers for DAP frames.
func lex(source string) ([]token, error) {
	var toks []token
	line := 1
	runes := []rune(source)
	i, n := 0, len(runes)

	for i < n {
		c := runes[i]

		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '/' && i+1 < n && runes[i+1] == '/':
			for i < n && runes[i] != '\n' {
				i++
			}
		case c >= '0' && c <= '9':
			start := i
			for i < n && (runes[i] >= '0' && runes[i] <= '9' || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			val, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad number literal %q", line, text)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: val, line: line})
		case c == '"' || c == '\'':
			quote := c
			start := i + 1
			i++
			for i < n && runes[i] != quote {
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("line %d: unterminated string literal", line)
			}
			toks = append(toks, token{kind: tokString, text: string(runes[start:i]), line: line})
			i++
		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(runes[i]) {
				i++
			}
			text := string(runes[start:i])
			kind := tokIdent
			if keywords[text] {
				kind = tokKeyword
			}
			toks = append(toks, token{kind: kind, text: text, line: line})
		case strings.ContainsRune("(){};,.=+-*/", c):
			toks = append(toks, token{kind: tokPunct, text: string(c), line: line})
			i++
		default:
			return nil, fmt.Errorf("line %d: unexpected character %q", line, string(c))
		}
	}

	toks = append(toks, token{kind: tokEOF, line: line})
	return toks, nil
}

func isIdentStart(c rune) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
