package mailstore

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/emersion/go-imap/v2"
)

/*
	Search criteria syntax

	Expression:
		Term || Expression
		Term

	Term:
		Unary && Term
		Unary Term        (juxtaposition is AND, as in IMAP SEARCH)
		Unary

	Unary:
		!Unary
		Primary

	Primary:
		ALL
		FlagToken                       SEEN, UNSEEN, FLAGGED, ...
		Key 'value'                     FROM 'a@b.c', SINCE '2024-01-31'
		Key == 'value'
		Key != 'value'
		( Expression )

	Key is a header name, BODY, TEXT, one of the date keys SINCE, BEFORE, ON,
	SENTSINCE, SENTBEFORE, SENTON, or one of the size keys LARGER, SMALLER
	(values like '1MB').
*/

// ParseFilter compiles a search criteria expression into IMAP search criteria.
// An empty expression matches all messages.
//
// Expressions without any of the operators ! && || == != and without single
// quotes are read as plain IMAP SEARCH keys instead (see parseSearchKeys),
// so "UNSEEN SINCE 1-Jan-2024" and "OR FROM alice@example.com SEEN" work too.
func ParseFilter(expr string) (*imap.SearchCriteria, error) {
	if !isExpression(expr) {
		return parseSearchKeys(expr)
	}

	p := &filterParser{input: []rune(expr)}

	p.skipSpace()
	if p.eof() {
		return &imap.SearchCriteria{}, nil
	}

	criteria, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if !p.eof() {
		return nil, fmt.Errorf("unexpected '%c' at position %d", p.peek(), p.pos)
	}

	return criteria, nil
}

type filterParser struct {
	input []rune
	pos   int
}

func (p *filterParser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *filterParser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *filterParser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.peek()) {
		p.pos++
	}
}

// consume advances past op when the input continues with it.
func (p *filterParser) consume(op string) bool {
	p.skipSpace()

	ops := []rune(op)
	if p.pos+len(ops) > len(p.input) {
		return false
	}
	for i, c := range ops {
		if p.input[p.pos+i] != c {
			return false
		}
	}

	p.pos += len(ops)
	return true
}

func (p *filterParser) parseExpression() (*imap.SearchCriteria, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	if !p.consume("||") {
		return left, nil
	}

	right, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	return &imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{*left, *right}},
	}, nil
}

func (p *filterParser) parseTerm() (*imap.SearchCriteria, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.consume("&&"):
		case p.startsPrimary():
		default:
			return left, nil
		}

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left.And(right)
	}
}

// startsPrimary reports whether the next token opens another operand
// of an implicit AND.
func (p *filterParser) startsPrimary() bool {
	p.skipSpace()

	c := p.peek()
	return c == '(' || unicode.IsLetter(c) || (c == '!' && p.pos+1 < len(p.input) && p.input[p.pos+1] != '=')
}

func (p *filterParser) parseUnary() (*imap.SearchCriteria, error) {
	p.skipSpace()

	if p.peek() == '!' {
		p.pos++

		c, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return negate(c), nil
	}

	return p.parsePrimary()
}

func (p *filterParser) parsePrimary() (*imap.SearchCriteria, error) {
	p.skipSpace()

	if p.eof() {
		return nil, errors.New("unexpected end of expression")
	}

	if p.peek() == '(' {
		p.pos++

		c, err := p.parseExpression()
		if err != nil {
			return nil, err
		}

		if !p.consume(")") {
			return nil, errors.New("missing closing parenthesis")
		}

		return c, nil
	}

	key := strings.ToUpper(p.parseToken())
	if key == "" {
		return nil, fmt.Errorf("unexpected '%c' at position %d", p.peek(), p.pos)
	}

	negated := false
	switch {
	case p.consume("=="):
	case p.consume("!="):
		negated = true
	default:
		p.skipSpace()
		if c := p.peek(); c != '\'' && c != '"' {
			return keyCriteria(key)
		}
	}

	value, err := p.parseQuoted()
	if err != nil {
		return nil, err
	}

	c, err := valueCriteria(key, value)
	if err != nil {
		return nil, err
	}

	if negated {
		return negate(c), nil
	}
	return c, nil
}

func (p *filterParser) parseToken() string {
	var sb strings.Builder

	for !p.eof() {
		c := p.peek()
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '-' {
			break
		}

		sb.WriteRune(c)
		p.pos++
	}

	return sb.String()
}

func (p *filterParser) parseQuoted() (string, error) {
	p.skipSpace()

	quote := p.peek()
	if quote != '\'' && quote != '"' {
		return "", fmt.Errorf("expected starting quote but got '%c'", quote)
	}
	p.pos++

	var sb strings.Builder
	for !p.eof() {
		c := p.peek()
		p.pos++

		if c == quote {
			return sb.String(), nil
		}
		sb.WriteRune(c)
	}

	return "", errors.New("missing closing quote")
}

func keyCriteria(key string) (*imap.SearchCriteria, error) {
	if key == "ALL" {
		return &imap.SearchCriteria{}, nil
	}

	flag, ok := flagTokens[key]
	if !ok {
		return nil, fmt.Errorf("unknown search key %q", key)
	}

	if strings.HasPrefix(key, "UN") {
		return &imap.SearchCriteria{NotFlag: []imap.Flag{flag}}, nil
	}
	return &imap.SearchCriteria{Flag: []imap.Flag{flag}}, nil
}

func valueCriteria(key, value string) (*imap.SearchCriteria, error) {
	switch key {
	case "BODY":
		return &imap.SearchCriteria{Body: []string{value}}, nil

	case "TEXT":
		return &imap.SearchCriteria{Text: []string{value}}, nil

	case "SINCE", "BEFORE", "ON":
		day, err := parseSearchDate(value)
		if err != nil {
			return nil, fmt.Errorf("parse %s date: %w", key, err)
		}

		switch key {
		case "SINCE":
			return &imap.SearchCriteria{Since: day}, nil
		case "BEFORE":
			return &imap.SearchCriteria{Before: day}, nil
		default:
			return &imap.SearchCriteria{Since: day, Before: day.AddDate(0, 0, 1)}, nil
		}

	case "SENTSINCE", "SENTBEFORE", "SENTON":
		day, err := parseSearchDate(value)
		if err != nil {
			return nil, fmt.Errorf("parse %s date: %w", key, err)
		}

		switch key {
		case "SENTSINCE":
			return &imap.SearchCriteria{SentSince: day}, nil
		case "SENTBEFORE":
			return &imap.SearchCriteria{SentBefore: day}, nil
		default:
			return &imap.SearchCriteria{SentSince: day, SentBefore: day.AddDate(0, 0, 1)}, nil
		}

	case "LARGER", "SMALLER":
		size, err := humanize.ParseBytes(value)
		if err != nil {
			return nil, fmt.Errorf("parse %s size: %w", key, err)
		}

		if key == "LARGER" {
			return &imap.SearchCriteria{Larger: int64(size)}, nil
		}
		return &imap.SearchCriteria{Smaller: int64(size)}, nil
	}

	if _, ok := flagTokens[key]; ok || key == "ALL" {
		return nil, fmt.Errorf("search key %q takes no value", key)
	}

	return &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: key, Value: value}},
	}, nil
}

var searchDateLayouts = []string{"2006-01-02", "2-Jan-2006", "02-Jan-2006"}

func parseSearchDate(s string) (time.Time, error) {
	for _, layout := range searchDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported date %q", s)
}

// negate inverts c. A single flag is inverted in place, anything else
// is wrapped into NOT: !(SEEN && FLAGGED) is not UNSEEN UNFLAGGED.
func negate(c *imap.SearchCriteria) *imap.SearchCriteria {
	flagsOnly := imap.SearchCriteria{Flag: c.Flag, NotFlag: c.NotFlag}
	if len(c.Flag)+len(c.NotFlag) == 1 && reflect.DeepEqual(flagsOnly, *c) {
		return &imap.SearchCriteria{Flag: c.NotFlag, NotFlag: c.Flag}
	}

	return &imap.SearchCriteria{Not: []imap.SearchCriteria{*c}}
}

var flagTokens = map[string]imap.Flag{
	"JUNK":       imap.FlagJunk,
	"SEEN":       imap.FlagSeen,
	"UNSEEN":     imap.FlagSeen,
	"DRAFT":      imap.FlagDraft,
	"UNDRAFT":    imap.FlagDraft,
	"DELETED":    imap.FlagDeleted,
	"UNDELETED":  imap.FlagDeleted,
	"FLAGGED":    imap.FlagFlagged,
	"UNFLAGGED":  imap.FlagFlagged,
	"ANSWERED":   imap.FlagAnswered,
	"UNANSWERED": imap.FlagAnswered,
	"IMPORTANT":  imap.FlagImportant,
	"FORWARDED":  imap.FlagForwarded,
	"PHISHING":   imap.FlagPhishing,
}
