package clients

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// EntityPredicate matches an entity by its annotations.
type EntityPredicate func(strs map[string]string, nums map[string]uint64) bool

// ParseEntityQuery compiles the annotation query language used by the store:
//
//	expr  := and ("||" and)*
//	and   := term ("&&" term)*
//	term  := "(" expr ")" | key op value
//	op    := "=" | "!=" | "<" | "<=" | ">" | ">="
//	value := "quoted string" | unsigned integer
//
// String values only support = and !=.
func ParseEntityQuery(query string) (EntityPredicate, error) {
	tokens, err := tokenizeQuery(query)
	if err != nil {
		return nil, err
	}
	p := &queryParser{tokens: tokens}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("query: unexpected %q", p.tokens[p.pos].text)
	}
	return pred, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type queryToken struct {
	kind tokenKind
	text string
}

func tokenizeQuery(s string) ([]queryToken, error) {
	var tokens []queryToken
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, queryToken{tokLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, queryToken{tokRParen, ")"})
			i++
		case strings.HasPrefix(s[i:], "&&"):
			tokens = append(tokens, queryToken{tokAnd, "&&"})
			i += 2
		case strings.HasPrefix(s[i:], "||"):
			tokens = append(tokens, queryToken{tokOr, "||"})
			i += 2
		case strings.HasPrefix(s[i:], "!="), strings.HasPrefix(s[i:], "<="), strings.HasPrefix(s[i:], ">="):
			tokens = append(tokens, queryToken{tokOp, s[i : i+2]})
			i += 2
		case c == '=' || c == '<' || c == '>':
			tokens = append(tokens, queryToken{tokOp, string(c)})
			i++
		case c == '"':
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("query: unterminated string at %d", i)
			}
			tokens = append(tokens, queryToken{tokString, s[i+1 : i+1+end]})
			i += end + 2
		case unicode.IsDigit(c):
			j := i
			for j < len(s) && unicode.IsDigit(rune(s[j])) {
				j++
			}
			tokens = append(tokens, queryToken{tokNumber, s[i:j]})
			i = j
		case unicode.IsLetter(c) || c == '_' || c == '$':
			j := i
			for j < len(s) && (unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j])) || s[j] == '_' || s[j] == '$') {
				j++
			}
			tokens = append(tokens, queryToken{tokIdent, s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("query: unexpected character %q at %d", c, i)
		}
	}
	return tokens, nil
}

type queryParser struct {
	tokens []queryToken
	pos    int
}

func (p *queryParser) peek() (queryToken, bool) {
	if p.pos >= len(p.tokens) {
		return queryToken{}, false
	}
	return p.tokens[p.pos], true
}

func (p *queryParser) next() (queryToken, error) {
	t, ok := p.peek()
	if !ok {
		return queryToken{}, fmt.Errorf("query: unexpected end of input")
	}
	p.pos++
	return t, nil
}

func (p *queryParser) parseOr() (EntityPredicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(s map[string]string, n map[string]uint64) bool { return l(s, n) || right(s, n) }
	}
}

func (p *queryParser) parseAnd() (EntityPredicate, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(s map[string]string, n map[string]uint64) bool { return l(s, n) && right(s, n) }
	}
}

func (p *queryParser) parseTerm() (EntityPredicate, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	if t.kind == tokLParen {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, err := p.next()
		if err != nil || closing.kind != tokRParen {
			return nil, fmt.Errorf("query: expected )")
		}
		return inner, nil
	}
	if t.kind != tokIdent {
		return nil, fmt.Errorf("query: expected annotation key, got %q", t.text)
	}
	key := t.text

	op, err := p.next()
	if err != nil || op.kind != tokOp {
		return nil, fmt.Errorf("query: expected operator after %s", key)
	}
	val, err := p.next()
	if err != nil {
		return nil, err
	}

	switch val.kind {
	case tokString:
		want := val.text
		switch op.text {
		case "=":
			return func(s map[string]string, _ map[string]uint64) bool { v, ok := s[key]; return ok && v == want }, nil
		case "!=":
			return func(s map[string]string, _ map[string]uint64) bool { v, ok := s[key]; return ok && v != want }, nil
		default:
			return nil, fmt.Errorf("query: operator %s not supported for strings", op.text)
		}
	case tokNumber:
		want, err := strconv.ParseUint(val.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("query: invalid number %q", val.text)
		}
		cmp := numericComparators[op.text]
		return func(_ map[string]string, n map[string]uint64) bool {
			v, ok := n[key]
			return ok && cmp(v, want)
		}, nil
	default:
		return nil, fmt.Errorf("query: expected value after %s %s", key, op.text)
	}
}

var numericComparators = map[string]func(a, b uint64) bool{
	"=":  func(a, b uint64) bool { return a == b },
	"!=": func(a, b uint64) bool { return a != b },
	"<":  func(a, b uint64) bool { return a < b },
	"<=": func(a, b uint64) bool { return a <= b },
	">":  func(a, b uint64) bool { return a > b },
	">=": func(a, b uint64) bool { return a >= b },
}
