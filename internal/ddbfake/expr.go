package ddbfake

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokName
	tokValue
	tokIdent
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '#' || c == ':':
			j := i + 1
			for j < len(src) && isIdentChar(rune(src[j])) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("empty placeholder at offset %d", i)
			}
			kind := tokName
			if c == ':' {
				kind = tokValue
			}
			toks = append(toks, token{kind: kind, text: src[i:j]})
			i = j
		case unicode.IsDigit(c):
			j := i
			for j < len(src) && unicode.IsDigit(rune(src[j])) {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j]})
			i = j
		case isIdentChar(c):
			j := i
			for j < len(src) && isIdentChar(rune(src[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j]})
			i = j
		case c == '<' || c == '>':
			if i+1 < len(src) && (src[i+1] == '=' || (c == '<' && src[i+1] == '>')) {
				toks = append(toks, token{kind: tokPunct, text: src[i : i+2]})
				i += 2
				continue
			}
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		case strings.ContainsRune("()=,.[]+-", c):
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

func isIdentChar(c rune) bool {
	return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c)
}

// parser holds the state shared by condition and update parsing.
type parser struct {
	toks   []token
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
}

func newParser(src string, names map[string]string, values map[string]types.AttributeValue) (*parser, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks, names: names, values: values}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return fmt.Errorf("expected %q, found %q", s, p.peek().text)
	}
	p.next()
	return nil
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.kind != tokEOF {
		return fmt.Errorf("unexpected trailing %q", t.text)
	}
	return nil
}

// item is the row an expression is evaluated against.
type item = map[string]types.AttributeValue

// condition is a compiled boolean expression.
type condition func(item) bool

// operand resolves to an attribute value, or nil when the path is absent.
type operand func(item) types.AttributeValue

// compileCondition parses a condition, filter or key condition expression.
func compileCondition(src string, names map[string]string, values map[string]types.AttributeValue) (condition, error) {
	p, err := newParser(src, names, values)
	if err != nil {
		return nil, err
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return cond, nil
}

func (p *parser) parseOr() (condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(it item) bool { return l(it) || right(it) }
	}
	return left, nil
}

func (p *parser) parseAnd() (condition, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(it item) bool { return l(it) && right(it) }
	}
	return left, nil
}

func (p *parser) parseNot() (condition, error) {
	if p.isKeyword("NOT") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return func(it item) bool { return !inner(it) }, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (condition, error) {
	if p.isPunct("(") {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil
	}

	t := p.peek()
	if t.kind == tokIdent && p.toks[p.pos+1].text == "(" && !strings.EqualFold(t.text, "size") {
		return p.parseFunction()
	}
	return p.parseComparison()
}

func (p *parser) parseFunction() (condition, error) {
	name := strings.ToLower(p.next().text)
	args, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	switch name {
	case "attribute_exists", "attribute_not_exists":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes one argument", name)
		}
		want := name == "attribute_exists"
		return func(it item) bool { return (args[0](it) != nil) == want }, nil
	case "begins_with":
		if len(args) != 2 {
			return nil, fmt.Errorf("begins_with takes two arguments")
		}
		return func(it item) bool { return beginsWith(args[0](it), args[1](it)) }, nil
	case "contains":
		if len(args) != 2 {
			return nil, fmt.Errorf("contains takes two arguments")
		}
		return func(it item) bool { return contains(args[0](it), args[1](it)) }, nil
	case "attribute_type":
		if len(args) != 2 {
			return nil, fmt.Errorf("attribute_type takes two arguments")
		}
		return func(it item) bool {
			want, ok := args[1](it).(*types.AttributeValueMemberS)
			return ok && typeName(args[0](it)) == want.Value
		}, nil
	}
	return nil, fmt.Errorf("unsupported function %q", name)
}

func (p *parser) parseArgs() ([]operand, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []operand
	for {
		op, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		args = append(args, op)
		if p.isPunct(",") {
			p.next()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) parseComparison() (condition, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if p.isKeyword("BETWEEN") {
		p.next()
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if !p.isKeyword("AND") {
			return nil, fmt.Errorf("BETWEEN requires AND")
		}
		p.next()
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return func(it item) bool {
			v := left(it)
			lc, ok1 := compare(v, low(it))
			hc, ok2 := compare(v, high(it))
			return ok1 && ok2 && lc >= 0 && hc <= 0
		}, nil
	}

	if p.isKeyword("IN") {
		p.next()
		list, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return func(it item) bool {
			v := left(it)
			for _, candidate := range list {
				if equal(v, candidate(it)) {
					return true
				}
			}
			return false
		}, nil
	}

	t := p.next()
	if t.kind != tokPunct {
		return nil, fmt.Errorf("expected comparator, found %q", t.text)
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch t.text {
	case "=":
		return func(it item) bool { return equal(left(it), right(it)) }, nil
	case "<>":
		return func(it item) bool {
			l, r := left(it), right(it)
			return l != nil && r != nil && !equal(l, r)
		}, nil
	case "<", "<=", ">", ">=":
		op := t.text
		return func(it item) bool {
			c, ok := compare(left(it), right(it))
			if !ok {
				return false
			}
			switch op {
			case "<":
				return c < 0
			case "<=":
				return c <= 0
			case ">":
				return c > 0
			default:
				return c >= 0
			}
		}, nil
	}
	return nil, fmt.Errorf("unsupported comparator %q", t.text)
}

// parseOperand parses a path, a value placeholder or size(path).
func (p *parser) parseOperand() (operand, error) {
	t := p.peek()
	switch {
	case t.kind == tokValue:
		p.next()
		v, ok := p.values[t.text]
		if !ok {
			return nil, fmt.Errorf("undefined value %s", t.text)
		}
		return func(item) types.AttributeValue { return v }, nil
	case t.kind == tokIdent && strings.EqualFold(t.text, "size") && p.toks[p.pos+1].text == "(":
		p.next()
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if len(args) != 1 {
			return nil, fmt.Errorf("size takes one argument")
		}
		return func(it item) types.AttributeValue { return size(args[0](it)) }, nil
	}
	name, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	return func(it item) types.AttributeValue { return it[name] }, nil
}

// parsePath resolves a top-level attribute name. Nested paths are not supported.
func (p *parser) parsePath() (string, error) {
	t := p.next()
	var name string
	switch t.kind {
	case tokName:
		n, ok := p.names[t.text]
		if !ok {
			return "", fmt.Errorf("undefined name %s", t.text)
		}
		name = n
	case tokIdent:
		name = t.text
	default:
		return "", fmt.Errorf("expected attribute path, found %q", t.text)
	}
	if p.isPunct(".") || p.isPunct("[") {
		return "", fmt.Errorf("nested path after %s is not supported", name)
	}
	return name, nil
}

// update is a compiled update expression.
type update func(item) (item, error)

// compileUpdate parses SET and REMOVE clauses.
func compileUpdate(src string, names map[string]string, values map[string]types.AttributeValue) (update, error) {
	p, err := newParser(src, names, values)
	if err != nil {
		return nil, err
	}
	type setAction struct {
		name  string
		value func(item) (types.AttributeValue, error)
	}
	var sets []setAction
	var removes []string

	for p.peek().kind != tokEOF {
		switch {
		case p.isKeyword("SET"):
			p.next()
			for {
				name, err := p.parsePath()
				if err != nil {
					return nil, err
				}
				if err := p.expectPunct("="); err != nil {
					return nil, err
				}
				value, err := p.parseSetValue()
				if err != nil {
					return nil, err
				}
				sets = append(sets, setAction{name: name, value: value})
				if !p.isPunct(",") {
					break
				}
				p.next()
			}
		case p.isKeyword("REMOVE"):
			p.next()
			for {
				name, err := p.parsePath()
				if err != nil {
					return nil, err
				}
				removes = append(removes, name)
				if !p.isPunct(",") {
					break
				}
				p.next()
			}
		default:
			return nil, fmt.Errorf("unsupported update clause %q", p.peek().text)
		}
	}

	return func(old item) (item, error) {
		out := make(item, len(old)+len(sets))
		for k, v := range old {
			out[k] = v
		}
		// Every operand reads the pre-update row.
		for _, s := range sets {
			v, err := s.value(old)
			if err != nil {
				return nil, err
			}
			out[s.name] = v
		}
		for _, name := range removes {
			delete(out, name)
		}
		return out, nil
	}, nil
}

func (p *parser) parseSetValue() (func(item) (types.AttributeValue, error), error) {
	left, err := p.parseSetOperand()
	if err != nil {
		return nil, err
	}
	if !p.isPunct("+") && !p.isPunct("-") {
		return func(it item) (types.AttributeValue, error) { return left(it), nil }, nil
	}
	op := p.next().text
	right, err := p.parseSetOperand()
	if err != nil {
		return nil, err
	}
	return func(it item) (types.AttributeValue, error) {
		l, lok := numberOf(left(it))
		r, rok := numberOf(right(it))
		if !lok || !rok {
			return nil, fmt.Errorf("arithmetic on a non-number")
		}
		if op == "+" {
			return &types.AttributeValueMemberN{Value: l.Add(r).String()}, nil
		}
		return &types.AttributeValueMemberN{Value: l.Sub(r).String()}, nil
	}, nil
}

func (p *parser) parseSetOperand() (operand, error) {
	t := p.peek()
	if t.kind == tokIdent && p.toks[p.pos+1].text == "(" {
		switch strings.ToLower(t.text) {
		case "if_not_exists":
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 2 {
				return nil, fmt.Errorf("if_not_exists takes two arguments")
			}
			return func(it item) types.AttributeValue {
				if v := args[0](it); v != nil {
					return v
				}
				return args[1](it)
			}, nil
		case "list_append":
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			if len(args) != 2 {
				return nil, fmt.Errorf("list_append takes two arguments")
			}
			return func(it item) types.AttributeValue {
				var out []types.AttributeValue
				for _, a := range args {
					if l, ok := a(it).(*types.AttributeValueMemberL); ok {
						out = append(out, l.Value...)
					}
				}
				return &types.AttributeValueMemberL{Value: out}
			}, nil
		}
	}
	return p.parseOperand()
}

func numberOf(v types.AttributeValue) (decimal.Decimal, bool) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(n.Value)
	return d, err == nil
}

// equal compares two attribute values by type and content.
func equal(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return false
	}
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		l, lok := numberOf(x)
		r, rok := numberOf(b)
		return lok && rok && l.Equal(r)
	case *types.AttributeValueMemberB:
		y, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(x.Value, y.Value)
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		return ok
	case *types.AttributeValueMemberL:
		y, ok := b.(*types.AttributeValueMemberL)
		if !ok || len(x.Value) != len(y.Value) {
			return false
		}
		for i := range x.Value {
			if !equal(x.Value[i], y.Value[i]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberM:
		y, ok := b.(*types.AttributeValueMemberM)
		if !ok || len(x.Value) != len(y.Value) {
			return false
		}
		for k, v := range x.Value {
			if !equal(v, y.Value[k]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberSS:
		y, ok := b.(*types.AttributeValueMemberSS)
		return ok && sameSet(x.Value, y.Value)
	case *types.AttributeValueMemberNS:
		y, ok := b.(*types.AttributeValueMemberNS)
		return ok && sameSet(x.Value, y.Value)
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			return false
		}
	}
	return true
}

// compare orders two scalars of the same type. ok is false when they cannot be ordered.
func compare(a, b types.AttributeValue) (int, bool) {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(x.Value, y.Value), true
	case *types.AttributeValueMemberN:
		l, lok := numberOf(x)
		r, rok := numberOf(b)
		if !lok || !rok {
			return 0, false
		}
		return l.Cmp(r), true
	case *types.AttributeValueMemberB:
		y, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x.Value, y.Value), true
	}
	return 0, false
}

func beginsWith(v, prefix types.AttributeValue) bool {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		p, ok := prefix.(*types.AttributeValueMemberS)
		return ok && strings.HasPrefix(x.Value, p.Value)
	case *types.AttributeValueMemberB:
		p, ok := prefix.(*types.AttributeValueMemberB)
		return ok && bytes.HasPrefix(x.Value, p.Value)
	}
	return false
}

func contains(v, elem types.AttributeValue) bool {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		e, ok := elem.(*types.AttributeValueMemberS)
		return ok && strings.Contains(x.Value, e.Value)
	case *types.AttributeValueMemberSS:
		e, ok := elem.(*types.AttributeValueMemberS)
		return ok && slices.Contains(x.Value, e.Value)
	case *types.AttributeValueMemberNS:
		e, ok := elem.(*types.AttributeValueMemberN)
		return ok && slices.Contains(x.Value, e.Value)
	case *types.AttributeValueMemberL:
		for _, member := range x.Value {
			if equal(member, elem) {
				return true
			}
		}
	}
	return false
}

func size(v types.AttributeValue) types.AttributeValue {
	var n int
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		n = len(x.Value)
	case *types.AttributeValueMemberB:
		n = len(x.Value)
	case *types.AttributeValueMemberL:
		n = len(x.Value)
	case *types.AttributeValueMemberM:
		n = len(x.Value)
	case *types.AttributeValueMemberSS:
		n = len(x.Value)
	case *types.AttributeValueMemberNS:
		n = len(x.Value)
	default:
		return nil
	}
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func typeName(v types.AttributeValue) string {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	}
	return ""
}
