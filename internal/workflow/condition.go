package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Condition is a parsed skip condition. The grammar is deliberately tiny:
//
//	name                      truthiness
//	not name                  negated truthiness
//	name == literal           equality
//	name != literal           inequality
//	name in (lit, lit, ...)   membership
//	name not in (lit, ...)    negated membership
//
// Literals are quoted strings, numbers, true/false. Lists may use () or [].
type Condition interface {
	Eval(vars map[string]any) (bool, error)
	String() string
}

// Truthy holds when the variable is true, non-zero or non-empty.
type Truthy struct {
	Name   string
	Negate bool
}

// Compare holds when the variable equals (or, with NotEqual, differs from) Value.
type Compare struct {
	Name     string
	NotEqual bool
	Value    Literal
}

// Membership holds when the variable is (or, with Negate, is not) one of Values.
type Membership struct {
	Name   string
	Negate bool
	Values []Literal
}

// Literal is a constant in a condition.
type Literal struct {
	kind  valueKind
	str   string
	num   float64
	truth bool
}

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindBool
)

func (l Literal) String() string {
	switch l.kind {
	case kindNumber:
		return strconv.FormatFloat(l.num, 'g', -1, 64)
	case kindBool:
		return strconv.FormatBool(l.truth)
	default:
		return strconv.Quote(l.str)
	}
}

func (l Literal) equal(o Literal) bool {
	if l.kind != o.kind {
		return false
	}
	switch l.kind {
	case kindNumber:
		return l.num == o.num
	case kindBool:
		return l.truth == o.truth
	default:
		return l.str == o.str
	}
}

func (t Truthy) String() string {
	if t.Negate {
		return "not " + t.Name
	}
	return t.Name
}

func (c Compare) String() string {
	op := "=="
	if c.NotEqual {
		op = "!="
	}
	return fmt.Sprintf("%s %s %s", c.Name, op, c.Value)
}

func (m Membership) String() string {
	parts := make([]string, len(m.Values))
	for i, v := range m.Values {
		parts[i] = v.String()
	}
	op := "in"
	if m.Negate {
		op = "not in"
	}
	return fmt.Sprintf("%s %s (%s)", m.Name, op, strings.Join(parts, ", "))
}

func (t Truthy) Eval(vars map[string]any) (bool, error) {
	v, err := lookup(vars, t.Name)
	if err != nil {
		return false, err
	}
	var truth bool
	switch v.kind {
	case kindBool:
		truth = v.truth
	case kindNumber:
		truth = v.num != 0
	default:
		truth = v.str != ""
	}
	return truth != t.Negate, nil
}

func (c Compare) Eval(vars map[string]any) (bool, error) {
	v, err := lookup(vars, c.Name)
	if err != nil {
		return false, err
	}
	return v.equal(c.Value) != c.NotEqual, nil
}

func (m Membership) Eval(vars map[string]any) (bool, error) {
	v, err := lookup(vars, m.Name)
	if err != nil {
		return false, err
	}
	found := false
	for _, candidate := range m.Values {
		if v.equal(candidate) {
			found = true
			break
		}
	}
	return found != m.Negate, nil
}

func lookup(vars map[string]any, name string) (Literal, error) {
	raw, ok := vars[name]
	if !ok {
		return Literal{}, fmt.Errorf("unknown variable %q", name)
	}
	switch v := raw.(type) {
	case bool:
		return Literal{kind: kindBool, truth: v}, nil
	case int:
		return Literal{kind: kindNumber, num: float64(v)}, nil
	case int64:
		return Literal{kind: kindNumber, num: float64(v)}, nil
	case float64:
		return Literal{kind: kindNumber, num: v}, nil
	case string:
		return Literal{kind: kindString, str: v}, nil
	case fmt.Stringer:
		return Literal{kind: kindString, str: v.String()}, nil
	default:
		return Literal{}, fmt.Errorf("variable %q has unsupported type %T", name, raw)
	}
}

// EvaluateSkip parses and evaluates expr. Empty, unparseable or
// unevaluable conditions are false.
func EvaluateSkip(expr string, vars map[string]any) bool {
	if strings.TrimSpace(expr) == "" {
		return false
	}
	cond, err := ParseCondition(expr)
	if err != nil {
		return false
	}
	ok, err := cond.Eval(vars)
	return err == nil && ok
}

// ParseCondition parses expr into a Condition.
func ParseCondition(expr string) (Condition, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &condParser{toks: toks}
	cond, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", expr, err)
	}
	return cond, nil
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokString
	tokNumber
	tokOp
	tokOpen
	tokClose
	tokComma
	tokEOF
)

type token struct {
	kind tokKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == '[':
			toks = append(toks, token{tokOpen, string(r)})
			i++
		case r == ')' || r == ']':
			toks = append(toks, token{tokClose, string(r)})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case r == '=' || r == '!':
			if i+1 >= len(rs) || rs[i+1] != '=' {
				return nil, fmt.Errorf("unexpected %q at %d", r, i)
			}
			toks = append(toks, token{tokOp, string(rs[i : i+2])})
			i += 2
		case r == '\'' || r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			toks = append(toks, token{tokString, string(rs[i+1 : j])})
			i = j + 1
		case unicode.IsDigit(r) || r == '-' || r == '.':
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i + 1
			for j < len(rs) && (rs[j] == '_' || unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q at %d", r, i)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

type condParser struct {
	toks []token
	pos  int
}

func (p *condParser) peek() token { return p.toks[p.pos] }

func (p *condParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *condParser) parse() (Condition, error) {
	var cond Condition

	first := p.next()
	if first.kind != tokIdent || isKeyword(first.text) && first.text != "not" {
		return nil, fmt.Errorf("expected a variable name")
	}

	if first.text == "not" {
		name := p.next()
		if name.kind != tokIdent || isKeyword(name.text) {
			return nil, fmt.Errorf("expected a variable name after 'not'")
		}
		cond = Truthy{Name: name.text, Negate: true}
	} else {
		switch t := p.peek(); {
		case t.kind == tokEOF:
			cond = Truthy{Name: first.text}
		case t.kind == tokOp:
			p.next()
			lit, err := p.literal()
			if err != nil {
				return nil, err
			}
			cond = Compare{Name: first.text, NotEqual: t.text == "!=", Value: lit}
		case t.kind == tokIdent && (t.text == "in" || t.text == "not"):
			p.next()
			negate := t.text == "not"
			if negate {
				if in := p.next(); in.kind != tokIdent || in.text != "in" {
					return nil, fmt.Errorf("expected 'in' after 'not'")
				}
			}
			values, err := p.list()
			if err != nil {
				return nil, err
			}
			cond = Membership{Name: first.text, Negate: negate, Values: values}
		default:
			return nil, fmt.Errorf("unexpected %q", t.text)
		}
	}

	if t := p.next(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing %q", t.text)
	}
	return cond, nil
}

func (p *condParser) list() ([]Literal, error) {
	if t := p.next(); t.kind != tokOpen {
		return nil, fmt.Errorf("expected '(' to start a list")
	}
	var values []Literal
	for {
		if p.peek().kind == tokClose {
			p.next()
			break
		}
		lit, err := p.literal()
		if err != nil {
			return nil, err
		}
		values = append(values, lit)

		switch t := p.next(); t.kind {
		case tokComma:
			continue
		case tokClose:
			if len(values) == 0 {
				return nil, fmt.Errorf("empty list")
			}
			return values, nil
		default:
			return nil, fmt.Errorf("expected ',' or ')' in list")
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return values, nil
}

func (p *condParser) literal() (Literal, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return Literal{kind: kindString, str: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Literal{}, fmt.Errorf("invalid number %q", t.text)
		}
		return Literal{kind: kindNumber, num: f}, nil
	case tokIdent:
		switch t.text {
		case "true", "True":
			return Literal{kind: kindBool, truth: true}, nil
		case "false", "False":
			return Literal{kind: kindBool, truth: false}, nil
		}
	}
	return Literal{}, fmt.Errorf("expected a literal, got %q", t.text)
}

func isKeyword(s string) bool {
	switch s {
	case "not", "in", "true", "false", "True", "False":
		return true
	}
	return false
}
