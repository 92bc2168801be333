package dynamotest

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// A tiny interpreter for the subset of DynamoDB expressions the stores emit:
//
//	condition: a AND b, a OR b, (x), attribute_exists(p), attribute_not_exists(p),
//	           p = v, p <> v, p < v, p <= v, p > v, p >= v, p IN (v1, v2)
//	update:    SET p = v | p = v + v | p = v - v | p = if_not_exists(p, v)
//	           ADD p v
//	           REMOVE p, p

type exprEnv struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

type parser struct {
	toks []string
	pos  int
	env  exprEnv
}

func tokenize(s string) []string {
	var toks []string
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case strings.ContainsRune("(),=+-", rune(c)):
			toks = append(toks, string(c))
			i++
		case c == '<' || c == '>':
			if i+1 < len(s) && (s[i+1] == '=' || (c == '<' && s[i+1] == '>')) {
				toks = append(toks, s[i:i+2])
				i += 2
			} else {
				toks = append(toks, string(c))
				i++
			}
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\n(),=+-<>", rune(s[j])) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}

func (p *parser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expect(tok string) error {
	if got := p.next(); !strings.EqualFold(got, tok) {
		return fmt.Errorf("expected %q, got %q", tok, got)
	}
	return nil
}

// path resolves a document path such as provider_details.#k into segments.
func (p *parser) path(tok string) []string {
	parts := strings.Split(tok, ".")
	for i, part := range parts {
		if strings.HasPrefix(part, "#") {
			parts[i] = p.env.names[part]
		}
	}
	return parts
}

func lookup(item map[string]types.AttributeValue, path []string) (types.AttributeValue, bool) {
	cur := item
	for i, seg := range path {
		v, ok := cur[seg]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return v, true
		}
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		cur = m.Value
	}
	return nil, false
}

func assign(item map[string]types.AttributeValue, path []string, v types.AttributeValue) error {
	cur := item
	for i, seg := range path {
		if i == len(path)-1 {
			cur[seg] = v
			return nil
		}
		m, ok := cur[seg].(*types.AttributeValueMemberM)
		if !ok {
			return fmt.Errorf("document path %s: parent is not a map", strings.Join(path, "."))
		}
		cur = m.Value
	}
	return nil
}

func remove(item map[string]types.AttributeValue, path []string) {
	cur := item
	for i, seg := range path {
		if i == len(path)-1 {
			delete(cur, seg)
			return
		}
		m, ok := cur[seg].(*types.AttributeValueMemberM)
		if !ok {
			return
		}
		cur = m.Value
	}
}

// operand returns the value of a placeholder, path or if_not_exists call.
func (p *parser) operand(item map[string]types.AttributeValue) (types.AttributeValue, error) {
	tok := p.next()
	switch {
	case strings.HasPrefix(tok, ":"):
		v, ok := p.env.values[tok]
		if !ok {
			return nil, fmt.Errorf("missing expression value %s", tok)
		}
		return v, nil
	case tok == "if_not_exists":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		path := p.path(p.next())
		if err := p.expect(","); err != nil {
			return nil, err
		}
		fallback, err := p.operand(item)
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		if v, ok := lookup(item, path); ok {
			return v, nil
		}
		return fallback, nil
	default:
		v, _ := lookup(item, p.path(tok))
		return v, nil
	}
}

// --- conditions ---

func evalCondition(expr string, env exprEnv, item map[string]types.AttributeValue) (bool, error) {
	if expr == "" {
		return true, nil
	}
	p := &parser{toks: tokenize(expr), env: env}
	ok, err := p.or(item)
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("trailing tokens in condition %q", expr)
	}
	return ok, nil
}

func (p *parser) or(item map[string]types.AttributeValue) (bool, error) {
	left, err := p.and(item)
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "OR") {
		p.next()
		right, err := p.and(item)
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) and(item map[string]types.AttributeValue) (bool, error) {
	left, err := p.factor(item)
	if err != nil {
		return false, err
	}
	for strings.EqualFold(p.peek(), "AND") {
		p.next()
		right, err := p.factor(item)
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) factor(item map[string]types.AttributeValue) (bool, error) {
	switch tok := p.peek(); tok {
	case "(":
		p.next()
		v, err := p.or(item)
		if err != nil {
			return false, err
		}
		return v, p.expect(")")
	case "attribute_exists", "attribute_not_exists":
		p.next()
		if err := p.expect("("); err != nil {
			return false, err
		}
		_, found := lookup(item, p.path(p.next()))
		if err := p.expect(")"); err != nil {
			return false, err
		}
		if tok == "attribute_exists" {
			return found, nil
		}
		return !found, nil
	}

	left, err := p.operand(item)
	if err != nil {
		return false, err
	}
	op := p.next()
	if strings.EqualFold(op, "IN") {
		if err := p.expect("("); err != nil {
			return false, err
		}
		matched := false
		for {
			v, err := p.operand(item)
			if err != nil {
				return false, err
			}
			if c, ok := compare(left, v); ok && c == 0 {
				matched = true
			}
			sep := p.next()
			if sep == ")" {
				break
			}
			if sep != "," {
				return false, fmt.Errorf("bad IN list separator %q", sep)
			}
		}
		return matched, nil
	}
	right, err := p.operand(item)
	if err != nil {
		return false, err
	}
	c, ok := compare(left, right)
	if !ok {
		// missing attributes or mismatched types never satisfy a comparison
		return false, nil
	}
	switch op {
	case "=":
		return c == 0, nil
	case "<>":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unsupported comparator %q", op)
}

func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, err1 := decimal.NewFromString(av.Value)
		y, err2 := decimal.NewFromString(bv.Value)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return x.Cmp(y), true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false
		}
		if av.Value == bv.Value {
			return 0, true
		}
		return 1, true
	}
	return 0, false
}

// --- updates ---

func applyUpdate(expr string, env exprEnv, item map[string]types.AttributeValue) error {
	p := &parser{toks: tokenize(expr), env: env}
	clause := ""
	for p.peek() != "" {
		tok := p.peek()
		switch strings.ToUpper(tok) {
		case "SET", "ADD", "REMOVE":
			clause = strings.ToUpper(p.next())
			continue
		case ",":
			p.next()
			continue
		}
		var err error
		switch clause {
		case "SET":
			err = p.setAction(item)
		case "ADD":
			err = p.addAction(item)
		case "REMOVE":
			remove(item, p.path(p.next()))
		default:
			err = fmt.Errorf("update expression %q: action outside clause", expr)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) setAction(item map[string]types.AttributeValue) error {
	path := p.path(p.next())
	if err := p.expect("="); err != nil {
		return err
	}
	v, err := p.operand(item)
	if err != nil {
		return err
	}
	if op := p.peek(); op == "+" || op == "-" {
		p.next()
		w, err := p.operand(item)
		if err != nil {
			return err
		}
		v, err = arith(v, w, op)
		if err != nil {
			return err
		}
	}
	return assign(item, path, v)
}

func (p *parser) addAction(item map[string]types.AttributeValue) error {
	path := p.path(p.next())
	v, err := p.operand(item)
	if err != nil {
		return err
	}
	cur, ok := lookup(item, path)
	if !ok {
		return assign(item, path, v)
	}
	sum, err := arith(cur, v, "+")
	if err != nil {
		return err
	}
	return assign(item, path, sum)
}

func arith(a, b types.AttributeValue, op string) (types.AttributeValue, error) {
	an, ok1 := a.(*types.AttributeValueMemberN)
	bn, ok2 := b.(*types.AttributeValueMemberN)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("arithmetic on non-number operands")
	}
	x, err := decimal.NewFromString(an.Value)
	if err != nil {
		return nil, err
	}
	y, err := decimal.NewFromString(bn.Value)
	if err != nil {
		return nil, err
	}
	if op == "-" {
		return &types.AttributeValueMemberN{Value: x.Sub(y).String()}, nil
	}
	return &types.AttributeValueMemberN{Value: x.Add(y).String()}, nil
}
