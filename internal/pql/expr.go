package pql

import (
	"strconv"
	"strings"

	"github.com/roach88/repoql/internal/querysql"
)

// reserved words can never be aliases or entity names.
var reserved = map[string]bool{
	"select": true, "from": true, "where": true, "order": true, "by": true,
	"join": true, "left": true, "inner": true, "outer": true, "fetch": true,
	"as": true, "new": true, "distinct": true, "update": true, "set": true,
	"delete": true, "and": true, "or": true, "not": true, "in": true,
	"is": true, "null": true, "like": true, "between": true, "escape": true,
	"true": true, "false": true, "asc": true, "desc": true, "case": true,
	"when": true, "then": true, "else": true, "end": true,
}

// keywords may appear in conditions, assignments and sort keys.
var keywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "is": true,
	"null": true, "like": true, "between": true, "escape": true,
	"true": true, "false": true, "asc": true, "desc": true, "nulls": true,
	"first": true, "last": true, "case": true, "when": true, "then": true,
	"else": true, "end": true, "current_date": true, "current_time": true,
	"current_timestamp": true,
}

// functions may appear when followed by an argument list.
var functions = map[string]bool{
	"lower": true, "upper": true, "length": true, "abs": true, "sqrt": true,
	"mod": true, "coalesce": true, "nullif": true, "concat": true,
	"substring": true, "trim": true, "locate": true, "count": true,
	"min": true, "max": true, "sum": true, "avg": true,
}

// sqlWriter joins translated tokens with single spaces, except around
// parentheses and commas.
type sqlWriter struct {
	b       strings.Builder
	noSpace bool
}

func (w *sqlWriter) word(s string) {
	if w.b.Len() > 0 && !w.noSpace {
		w.b.WriteByte(' ')
	}
	w.b.WriteString(s)
	w.noSpace = false
}

func (w *sqlWriter) open(call bool) {
	if call {
		w.b.WriteByte('(')
	} else {
		w.word("(")
	}
	w.noSpace = true
}

func (w *sqlWriter) tight(s string) {
	w.b.WriteString(s)
	w.noSpace = false
}

// expr translates tokens up to EOF or a stop keyword at nesting depth 0.
// Paths become column references and parameters become placeholders.
func (p *parser) expr(stops ...string) (string, error) {
	var w sqlWriter
	depth := 0
	for {
		tok := p.peek()
		if tok.kind == tokEOF {
			break
		}
		if depth == 0 && tok.kind == tokIdent && isStop(tok, stops) {
			break
		}
		p.next()
		switch tok.kind {
		case tokNumber, tokString:
			w.word(tok.text)
		case tokNamed, tokPositional:
			if err := p.param(tok); err != nil {
				return "", err
			}
			w.word("?")
		case tokPunct:
			switch tok.text {
			case "(":
				depth++
				w.open(false)
			case ")":
				depth--
				if depth < 0 {
					return "", errorf(tok, "unbalanced parenthesis")
				}
				w.tight(")")
			case ",":
				w.tight(",")
			case "!=":
				w.word("<>")
			default:
				w.word(tok.text)
			}
		case tokIdent:
			lower := strings.ToLower(tok.text)
			switch {
			case strings.Contains(tok.text, ".") || tok.text == p.rootAlias || p.aliasIndex(tok.text) >= 0:
				r, err := p.path(tok)
				if err != nil {
					return "", err
				}
				w.word(r.sql)
			case functions[lower] && p.peek().isPunct("("):
				p.next()
				depth++
				w.word(strings.ToUpper(lower))
				w.open(true)
			case lower == "in":
				w.word("IN")
				if next := p.peek(); next.kind == tokNamed || next.kind == tokPositional {
					p.next()
					if err := p.param(next); err != nil {
						return "", err
					}
					w.word("(?)")
				}
			case keywords[lower]:
				w.word(strings.ToUpper(lower))
			default:
				return "", errorf(tok, "unknown identifier %q", tok.text)
			}
		}
	}
	if depth != 0 {
		return "", errorf(p.peek(), "unbalanced parenthesis")
	}
	return w.b.String(), nil
}

func isStop(tok token, stops []string) bool {
	for _, s := range stops {
		if tok.is(s) {
			return true
		}
	}
	return false
}

// param records a placeholder.
func (p *parser) param(tok token) error {
	var b querysql.Bind
	if tok.kind == tokNamed {
		p.q.named = true
		b.Name = tok.text
	} else {
		n, err := strconv.Atoi(tok.text)
		if err != nil || n < 1 {
			return errorf(tok, "positional parameters start at ?1")
		}
		p.positional = true
		b.Param = n - 1
	}
	p.q.binds = append(p.q.binds, b)
	if p.section == sectionWhere {
		p.q.filter = append(p.q.filter, b)
	}
	return nil
}
