package pql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokNamed      // :name
	tokPositional // ?N
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// is reports whether the token is the keyword kw, case-insensitively.
func (t token) is(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

var twoCharPunct = []string{"<>", "!=", "<=", ">=", "||"}

// lex splits query text into tokens. Identifiers keep their dots, so
// m.team.name is one token.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, w := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += w
		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(src) {
				r, w := utf8.DecodeRuneInString(src[j:])
				if r != '_' && r != '.' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				j += w
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		case unicode.IsDigit(r):
			j := i
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: i})
			i = j
		case r == '\'':
			j := i + 1
			for {
				if j >= len(src) {
					return nil, &Error{Pos: i, Message: "unterminated string literal"}
				}
				if src[j] == '\'' {
					if j+1 < len(src) && src[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			toks = append(toks, token{kind: tokString, text: src[i : j+1], pos: i})
			i = j + 1
		case r == ':':
			j := i + 1
			for j < len(src) && (src[j] == '_' || isDigit(src[j]) || isLetter(src[j])) {
				j++
			}
			if j == i+1 {
				return nil, &Error{Pos: i, Token: ":", Message: "parameter name expected"}
			}
			toks = append(toks, token{kind: tokNamed, text: src[i+1 : j], pos: i})
			i = j
		case r == '?':
			j := i + 1
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			if j == i+1 {
				return nil, &Error{Pos: i, Token: "?", Message: "positional parameters need an index, e.g. ?1"}
			}
			toks = append(toks, token{kind: tokPositional, text: src[i+1 : j], pos: i})
			i = j
		default:
			matched := false
			for _, p := range twoCharPunct {
				if strings.HasPrefix(src[i:], p) {
					toks = append(toks, token{kind: tokPunct, text: p, pos: i})
					i += 2
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if !strings.ContainsRune("=<>(),+-*/%", r) {
				return nil, &Error{Pos: i, Token: string(r), Message: "unexpected character"}
			}
			toks = append(toks, token{kind: tokPunct, text: string(r), pos: i})
			i += w
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
