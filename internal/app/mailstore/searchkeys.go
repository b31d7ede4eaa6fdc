package mailstore

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/emersion/go-imap/v2"
)

// isExpression reports whether expr uses the operator syntax of ParseFilter
// rather than plain IMAP SEARCH keys. Double-quoted strings are ignored, and
// a lone ! or ' only counts at the start of a token, so atoms such as
// hello! or o'brien stay plain keys.
func isExpression(expr string) bool {
	quoted := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case c == '\\' && quoted:
			i++
		case c == '"':
			quoted = !quoted
		case quoted:
		case i+1 < len(expr) && isOperator(expr[i:i+2]):
			return true
		case (c == '!' || c == '\'') && tokenStart(expr, i):
			return true
		}
	}

	return false
}

func isOperator(s string) bool {
	switch s {
	case "&&", "||", "==", "!=":
		return true
	}

	return false
}

func tokenStart(expr string, i int) bool {
	return i == 0 || expr[i-1] == ' ' || expr[i-1] == '\t' || expr[i-1] == '('
}

type searchToken struct {
	text   string
	quoted bool
}

func (t searchToken) is(s string) bool {
	return !t.quoted && t.text == s
}

// tokenizeSearch splits IMAP SEARCH keys into atoms, quoted strings
// and parentheses.
func tokenizeSearch(s string) ([]searchToken, error) {
	var tokens []searchToken

	rs := []rune(s)
	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++

		case c == '(' || c == ')':
			tokens = append(tokens, searchToken{text: string(c)})
			i++

		case c == '"':
			var sb strings.Builder
			i++
			for ; i < len(rs) && rs[i] != '"'; i++ {
				if rs[i] == '\\' && i+1 < len(rs) {
					i++
				}
				sb.WriteRune(rs[i])
			}
			if i == len(rs) {
				return nil, errors.New("missing closing quote")
			}
			i++
			tokens = append(tokens, searchToken{text: sb.String(), quoted: true})

		default:
			start := i
			for i < len(rs) && !unicode.IsSpace(rs[i]) && rs[i] != '(' && rs[i] != ')' && rs[i] != '"' {
				i++
			}
			tokens = append(tokens, searchToken{text: string(rs[start:i])})
		}
	}

	return tokens, nil
}

// parseSearchKeys compiles a list of IMAP SEARCH keys (RFC 3501 §6.4.4).
// Consecutive keys are ANDed; NOT, OR and parenthesized groups nest.
func parseSearchKeys(expr string) (*imap.SearchCriteria, error) {
	tokens, err := tokenizeSearch(expr)
	if err != nil {
		return nil, err
	}

	p := &searchKeyParser{tokens: tokens}
	criteria := &imap.SearchCriteria{}
	for !p.done() {
		c, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		criteria.And(c)
	}

	return criteria, nil
}

type searchKeyParser struct {
	tokens []searchToken
	pos    int
}

func (p *searchKeyParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *searchKeyParser) next() (searchToken, bool) {
	if p.done() {
		return searchToken{}, false
	}

	t := p.tokens[p.pos]
	p.pos++
	return t, true
}

// value reads the argument of key.
func (p *searchKeyParser) value(key string) (string, error) {
	t, ok := p.next()
	if !ok || t.is("(") || t.is(")") {
		return "", fmt.Errorf("search key %s requires a value", key)
	}

	return t.text, nil
}

func (p *searchKeyParser) parseKey() (*imap.SearchCriteria, error) {
	t, ok := p.next()
	if !ok {
		return nil, errors.New("unexpected end of search keys")
	}
	if t.quoted {
		return nil, fmt.Errorf("unexpected string %q", t.text)
	}

	switch key := strings.ToUpper(t.text); key {
	case "(":
		group := &imap.SearchCriteria{}
		for {
			if p.done() {
				return nil, errors.New("missing closing parenthesis")
			}
			if p.tokens[p.pos].is(")") {
				p.pos++
				return group, nil
			}

			c, err := p.parseKey()
			if err != nil {
				return nil, err
			}
			group.And(c)
		}

	case ")":
		return nil, errors.New("unexpected ')'")

	case "NOT":
		c, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		return negate(c), nil

	case "OR":
		left, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		right, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		return &imap.SearchCriteria{Or: [][2]imap.SearchCriteria{{*left, *right}}}, nil

	case "KEYWORD", "UNKEYWORD":
		v, err := p.value(key)
		if err != nil {
			return nil, err
		}
		if key == "KEYWORD" {
			return &imap.SearchCriteria{Flag: []imap.Flag{imap.Flag(v)}}, nil
		}
		return &imap.SearchCriteria{NotFlag: []imap.Flag{imap.Flag(v)}}, nil

	case "HEADER":
		field, err := p.value(key)
		if err != nil {
			return nil, err
		}
		v, err := p.value(key)
		if err != nil {
			return nil, err
		}
		return &imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{{Key: field, Value: v}},
		}, nil

	case "FROM", "TO", "CC", "BCC", "SUBJECT", "BODY", "TEXT",
		"SINCE", "BEFORE", "ON", "SENTSINCE", "SENTBEFORE", "SENTON",
		"LARGER", "SMALLER":
		v, err := p.value(key)
		if err != nil {
			return nil, err
		}
		return valueCriteria(key, v)

	default:
		return keyCriteria(key)
	}
}
