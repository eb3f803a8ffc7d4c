package expression

import (
	"errors"
	"fmt"

	"github.com/BWeng20/ruFSM/fsm"
)

// Parser turns expression source into a re-usable Expression tree.
// The grammar and the operator table are fixed:
//
//	?= =                (right-associative)
//	|
//	&
//	== != <= >= < >
//	+ -
//	* / : %
//	unary !
//	member access, method call, index
//
// ':' doubles as the map-literal key separator; inside a map key it
// is never taken as the division operator.
type Parser struct {
	lx *Lexer
}

// Parse parses a full expression list ("a;b;c").
func Parse(src string) (Expression, error) {
	p := &Parser{lx: NewLexer(src)}
	e, err := p.parseExpressionList()
	if err != nil {
		return nil, fmt.Errorf("%w (in '%s')", err, src)
	}
	return e, nil
}

// ParseAndExecute is a convenience for one-shot evaluation; prefer
// Parse and re-use when possible.
func ParseAndExecute(src string, ctx *Context) (*fsm.Data, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, false)
}

func precOf(op Operator) int {
	switch op {
	case OpAssign, OpAssignUndefined:
		return 1
	case OpOr:
		return 2
	case OpAnd:
		return 3
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return 4
	case OpPlus, OpMinus:
		return 5
	case OpMultiply, OpDivide, OpModulus:
		return 6
	}
	return 0
}

func (p *Parser) parseExpressionList() (Expression, error) {
	var acc []Expression
	for {
		e, err := p.parseExpr(1, true)
		if err != nil {
			return nil, err
		}
		acc = append(acc, e)
		t := p.lx.Peek()
		if t.Type == TokSeparator && t.Char == ';' {
			p.lx.Next()
			continue
		}
		break
	}
	if t := p.lx.Peek(); t.Type != TokEnd {
		return nil, fmt.Errorf("unexpected '%s'", tokenText(t))
	}
	if len(acc) == 1 {
		return acc[0], nil
	}
	return &Sequence{Expressions: acc}, nil
}

func tokenText(t Token) string {
	switch t.Type {
	case TokEnd:
		return "<end>"
	case TokOperator:
		return t.Op.String()
	case TokBracket, TokSeparator:
		return string(t.Char)
	case TokError:
		return t.Text
	}
	return t.Text
}

// parseExpr is the precedence climber. colonOK selects whether ':'
// acts as the division operator in this context.
func (p *Parser) parseExpr(minPrec int, colonOK bool) (Expression, error) {
	left, err := p.parseUnary(colonOK)
	if err != nil {
		return nil, err
	}
	for {
		t := p.lx.Peek()
		op := OpNone
		switch {
		case t.Type == TokOperator && t.Op != OpNot:
			op = t.Op
		case t.Type == TokSeparator && t.Char == ':' && colonOK:
			op = OpDivide
		default:
			return left, nil
		}
		prec := precOf(op)
		if prec < minPrec {
			return left, nil
		}
		p.lx.Next()
		switch op {
		case OpAssign:
			right, err := p.parseExpr(prec, colonOK)
			if err != nil {
				return nil, err
			}
			left = &Assign{Left: left, Right: right}
		case OpAssignUndefined:
			right, err := p.parseExpr(prec, colonOK)
			if err != nil {
				return nil, err
			}
			left = &AssignUndefined{Left: left, Right: right}
		default:
			right, err := p.parseExpr(prec+1, colonOK)
			if err != nil {
				return nil, err
			}
			left = &BinaryOperator{Op: op, Left: left, Right: right}
		}
	}
}

func (p *Parser) parseUnary(colonOK bool) (Expression, error) {
	t := p.lx.Peek()
	if t.Type == TokOperator {
		switch t.Op {
		case OpNot:
			p.lx.Next()
			operand, err := p.parseUnary(colonOK)
			if err != nil {
				return nil, err
			}
			return &Not{Right: operand}, nil
		case OpMinus:
			p.lx.Next()
			operand, err := p.parseUnary(colonOK)
			if err != nil {
				return nil, err
			}
			return &BinaryOperator{Op: OpMinus,
				Left:  &Constant{Data: fsm.NewInteger(0)},
				Right: operand}, nil
		}
	}
	return p.parsePostfix(colonOK)
}

func (p *Parser) parsePostfix(colonOK bool) (Expression, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.lx.Peek()
		switch {
		case t.Type == TokSeparator && t.Char == '.':
			p.lx.Next()
			id := p.lx.Next()
			if id.Type != TokIdentifier {
				return nil, fmt.Errorf("no field/method on right side of '.': '%s'", tokenText(id))
			}
			if n := p.lx.Peek(); n.Type == TokBracket && n.Char == '(' {
				p.lx.Next()
				args, err := p.parseArguments(')')
				if err != nil {
					return nil, err
				}
				// x.f(a,b) is sugar for f(x,a,b).
				e = &Method{Name: id.Text, Arguments: append([]Expression{e}, args...)}
			} else {
				e = &MemberAccess{Left: e, Member: id.Text}
			}
		case t.Type == TokBracket && t.Char == '[':
			p.lx.Next()
			idx, err := p.parseExpr(1, true)
			if err != nil {
				return nil, err
			}
			if c := p.lx.Next(); c.Type != TokBracket || c.Char != ']' {
				return nil, errors.New("missing ']'")
			}
			e = &Index{Left: e, Idx: idx}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expression, error) {
	t := p.lx.Next()
	switch t.Type {
	case TokNull:
		return &Constant{Data: fsm.NewNull()}, nil
	case TokBoolean:
		return &Constant{Data: fsm.NewBoolean(t.Bool)}, nil
	case TokInteger:
		return &Constant{Data: fsm.NewInteger(t.Int)}, nil
	case TokDouble:
		return &Constant{Data: fsm.NewDouble(t.Dbl)}, nil
	case TokString:
		return &Constant{Data: fsm.NewString(t.Text)}, nil
	case TokIdentifier:
		if n := p.lx.Peek(); n.Type == TokBracket && n.Char == '(' {
			p.lx.Next()
			args, err := p.parseArguments(')')
			if err != nil {
				return nil, err
			}
			return &Method{Name: t.Text, Arguments: args}, nil
		}
		return &Variable{Name: t.Text}, nil
	case TokBracket:
		switch t.Char {
		case '(':
			e, err := p.parseExpr(1, true)
			if err != nil {
				return nil, err
			}
			if c := p.lx.Next(); c.Type != TokBracket || c.Char != ')' {
				return nil, errors.New("missing ')'")
			}
			return e, nil
		case '[':
			elements, err := p.parseArguments(']')
			if err != nil {
				return nil, err
			}
			return &ArrayLiteral{Elements: elements}, nil
		case '{':
			return p.parseMapLiteral()
		}
	case TokError:
		return nil, errors.New(t.Text)
	case TokEnd:
		return nil, errors.New("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected '%s'", tokenText(t))
}

func (p *Parser) parseArguments(closer byte) ([]Expression, error) {
	var acc []Expression
	if t := p.lx.Peek(); t.Type == TokBracket && t.Char == closer {
		p.lx.Next()
		return acc, nil
	}
	for {
		e, err := p.parseExpr(1, true)
		if err != nil {
			return nil, err
		}
		acc = append(acc, e)
		t := p.lx.Next()
		if t.Type == TokSeparator && t.Char == ',' {
			continue
		}
		if t.Type == TokBracket && t.Char == closer {
			return acc, nil
		}
		return nil, fmt.Errorf("missing '%c'", closer)
	}
}

func (p *Parser) parseMapLiteral() (Expression, error) {
	m := &MapLiteral{}
	if t := p.lx.Peek(); t.Type == TokBracket && t.Char == '}' {
		p.lx.Next()
		return m, nil
	}
	for {
		key, err := p.parseExpr(1, false)
		if err != nil {
			return nil, err
		}
		if c := p.lx.Next(); c.Type != TokSeparator || c.Char != ':' {
			return nil, errors.New("missing ':' in member list")
		}
		value, err := p.parseExpr(1, true)
		if err != nil {
			return nil, err
		}
		m.Fields = append(m.Fields, MapField{Key: key, Value: value})
		t := p.lx.Next()
		if t.Type == TokSeparator && t.Char == ',' {
			continue
		}
		if t.Type == TokBracket && t.Char == '}' {
			return m, nil
		}
		return nil, errors.New("missing '}'")
	}
}
