package expression

import (
	"errors"
	"fmt"

	"github.com/BWeng20/ruFSM/fsm"
)

// Context is the evaluation environment: the session's global data
// plus the registered actions.
type Context struct {
	Global  *fsm.GlobalData
	Actions *ActionMap
}

// Expression is a parsed, re-usable expression tree node.
//
// allowUndefined controls whether reads of unknown locations
// materialize an undefined cell (assignment targets of "?=") or fail.
type Expression interface {
	Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error)
	IsAssignable() bool
}

// Constant yields a literal value.
type Constant struct {
	Data *fsm.Data
}

func (c *Constant) Execute(*Context, bool) (*fsm.Data, error) {
	return c.Data.Copy(), nil
}

func (c *Constant) IsAssignable() bool { return false }

// Variable reads (or, for assignment targets, creates) a location in
// the data store.
type Variable struct {
	Name string
}

func (v *Variable) Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error) {
	if value := ctx.Global.Data.Get(v.Name); value != nil {
		return value, nil
	}
	if allowUndefined {
		cell := fsm.NewUndefined()
		ctx.Global.Data.Set(v.Name, cell)
		return cell, nil
	}
	return nil, fmt.Errorf("variable '%s' not found", v.Name)
}

func (v *Variable) IsAssignable() bool { return true }

// ArrayLiteral yields an array from element expressions.
type ArrayLiteral struct {
	Elements []Expression
}

func (a *ArrayLiteral) Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error) {
	acc := make([]*fsm.Data, 0, len(a.Elements))
	for _, e := range a.Elements {
		v, err := e.Execute(ctx, allowUndefined)
		if err != nil {
			return nil, err
		}
		acc = append(acc, v.Copy())
	}
	return fsm.NewArray(acc), nil
}

func (a *ArrayLiteral) IsAssignable() bool { return false }

// MapLiteral yields a map; keys are evaluated and stringified.
type MapLiteral struct {
	Fields []MapField
}

type MapField struct {
	Key   Expression
	Value Expression
}

func (m *MapLiteral) Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error) {
	acc := make(map[string]*fsm.Data, len(m.Fields))
	for _, f := range m.Fields {
		k, err := f.Key.Execute(ctx, allowUndefined)
		if err != nil {
			return nil, err
		}
		v, err := f.Value.Execute(ctx, allowUndefined)
		if err != nil {
			return nil, err
		}
		acc[k.String()] = v.Copy()
	}
	return fsm.NewMap(acc), nil
}

func (m *MapLiteral) IsAssignable() bool { return false }

// Method calls a registered action. The dot form x.f(a) is parsed
// into f(x,a).
type Method struct {
	Name      string
	Arguments []Expression
}

func (m *Method) Execute(ctx *Context, _ bool) (*fsm.Data, error) {
	args := make([]*fsm.Data, 0, len(m.Arguments))
	for _, a := range m.Arguments {
		// A failed argument becomes an Error value, so functions
		// like isDefined can inspect it.
		v, err := a.Execute(ctx, false)
		if err != nil {
			v = fsm.NewError(err.Error())
		}
		args = append(args, v)
	}
	if ctx.Actions == nil {
		return nil, fmt.Errorf("unknown function '%s'", m.Name)
	}
	return ctx.Actions.Execute(m.Name, args, ctx.Global)
}

func (m *Method) IsAssignable() bool { return false }

// MemberAccess resolves map members; the returned cell aliases the
// container, so assignment through it sticks.
type MemberAccess struct {
	Left   Expression
	Member string
}

func (m *MemberAccess) Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error) {
	left, err := m.Left.Execute(ctx, allowUndefined)
	if err != nil {
		return nil, err
	}
	switch left.Kind {
	case fsm.KindMap:
		if member, have := left.Map[m.Member]; have {
			return member, nil
		}
		if allowUndefined {
			cell := fsm.NewUndefined()
			left.Map[m.Member] = cell
			return cell, nil
		}
		return nil, fmt.Errorf("member '%s' not found", m.Member)
	case fsm.KindError:
		return nil, errors.New(left.Str)
	}
	return nil, fmt.Errorf("value '%s' has no members", left)
}

func (m *MemberAccess) IsAssignable() bool { return true }

// Index applies '[...]' on arrays and maps.
type Index struct {
	Left Expression
	Idx  Expression
}

func (ix *Index) Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error) {
	left, err := ix.Left.Execute(ctx, allowUndefined)
	if err != nil {
		return nil, err
	}
	index, err := ix.Idx.Execute(ctx, allowUndefined)
	if err != nil {
		return nil, err
	}
	switch left.Kind {
	case fsm.KindArray:
		n, ok := index.AsNumber()
		if !ok {
			return nil, fmt.Errorf("illegal index type '%s'", index)
		}
		i := int(n)
		if i < 0 || i >= len(left.Arr) {
			return nil, fmt.Errorf("index not found: %d (len=%d)", i, len(left.Arr))
		}
		return left.Arr[i], nil
	case fsm.KindMap:
		if index.Kind != fsm.KindString {
			return nil, fmt.Errorf("illegal index type '%s'", index)
		}
		if member, have := left.Map[index.Str]; have {
			return member, nil
		}
		if allowUndefined {
			cell := fsm.NewUndefined()
			left.Map[index.Str] = cell
			return cell, nil
		}
		return nil, fmt.Errorf("index '%s' not found", index.Str)
	case fsm.KindError:
		return nil, errors.New(left.Str)
	}
	return nil, fmt.Errorf("can't apply index on value '%s'", left)
}

func (ix *Index) IsAssignable() bool { return true }

// Assign implements '=': the target location must exist and be
// writable.
type Assign struct {
	Left  Expression
	Right Expression
}

func assignInto(cell *fsm.Data, value *fsm.Data) (*fsm.Data, error) {
	switch value.Kind {
	case fsm.KindError, fsm.KindUndefined:
		return nil, fmt.Errorf("can't assign from '%s'", value)
	}
	if cell.IsReadOnly() {
		return nil, fmt.Errorf("can't set read-only '%s'", cell)
	}
	value.CloneInto(cell)
	return cell, nil
}

func (a *Assign) Execute(ctx *Context, _ bool) (*fsm.Data, error) {
	if !a.Left.IsAssignable() {
		return nil, errors.New("can't assign to that")
	}
	right, err := a.Right.Execute(ctx, false)
	if err != nil {
		return nil, err
	}
	left, err := a.Left.Execute(ctx, false)
	if err != nil {
		return nil, err
	}
	return assignInto(left, right)
}

func (a *Assign) IsAssignable() bool { return false }

// AssignUndefined implements '?=': creates the location if needed.
type AssignUndefined struct {
	Left  Expression
	Right Expression
}

func (a *AssignUndefined) Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error) {
	if !a.Left.IsAssignable() {
		return nil, errors.New("can't assign to that")
	}
	right, err := a.Right.Execute(ctx, allowUndefined)
	if err != nil {
		return nil, err
	}
	left, err := a.Left.Execute(ctx, true)
	if err != nil {
		return nil, err
	}
	if left.IsReadOnly() {
		return nil, fmt.Errorf("can't set read-only '%s'", left)
	}
	right.CloneInto(left)
	return left, nil
}

func (a *AssignUndefined) IsAssignable() bool { return false }

// BinaryOperator applies the shared Data operations.
type BinaryOperator struct {
	Op    Operator
	Left  Expression
	Right Expression
}

func (b *BinaryOperator) Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error) {
	left, err := b.Left.Execute(ctx, allowUndefined)
	if err != nil {
		return nil, err
	}
	right, err := b.Right.Execute(ctx, allowUndefined)
	if err != nil {
		return nil, err
	}
	var result *fsm.Data
	switch b.Op {
	case OpPlus:
		result = fsm.OpPlus(left, right)
	case OpMinus:
		result = fsm.OpMinus(left, right)
	case OpMultiply:
		result = fsm.OpMultiply(left, right)
	case OpDivide:
		result = fsm.OpDivide(left, right)
	case OpModulus:
		result = fsm.OpModulus(left, right)
	case OpAnd:
		result = fsm.OpAnd(left, right)
	case OpOr:
		result = fsm.OpOr(left, right)
	case OpEqual:
		result = fsm.OpEqual(left, right)
	case OpNotEqual:
		result = fsm.OpNotEqual(left, right)
	case OpLess:
		result = fsm.OpLess(left, right)
	case OpLessEqual:
		result = fsm.OpLessEqual(left, right)
	case OpGreater:
		result = fsm.OpGreater(left, right)
	case OpGreaterEqual:
		result = fsm.OpGreaterEqual(left, right)
	default:
		return nil, fmt.Errorf("internal error: operator '%s'", b.Op)
	}
	if result.Kind == fsm.KindError {
		return nil, errors.New(result.Str)
	}
	return result, nil
}

func (b *BinaryOperator) IsAssignable() bool { return false }

// Not implements the unary '!' on booleans.
type Not struct {
	Right Expression
}

func (n *Not) Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error) {
	v, err := n.Right.Execute(ctx, allowUndefined)
	if err != nil {
		return nil, err
	}
	if v.Kind != fsm.KindBoolean {
		return nil, errors.New("'!' can only be applied on boolean expressions")
	}
	return fsm.NewBoolean(!v.Bool), nil
}

func (n *Not) IsAssignable() bool { return false }

// Sequence evaluates ';'-separated expressions, yielding the last
// result.
type Sequence struct {
	Expressions []Expression
}

func (s *Sequence) Execute(ctx *Context, allowUndefined bool) (*fsm.Data, error) {
	var result *fsm.Data = fsm.NewNull()
	for _, e := range s.Expressions {
		v, err := e.Execute(ctx, allowUndefined)
		if err != nil {
			return nil, err
		}
		result = v
	}
	return result, nil
}

func (s *Sequence) IsAssignable() bool { return false }
