package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BWeng20/ruFSM/fsm"
)

func newTestContext() *Context {
	return &Context{Global: fsm.NewGlobalData(), Actions: NewActionMap()}
}

func eval(t *testing.T, ctx *Context, src string) *fsm.Data {
	t.Helper()
	v, err := ParseAndExecute(src, ctx)
	require.NoError(t, err, "evaluating %q", src)
	return v
}

func TestLexerTokens(t *testing.T) {
	lx := NewLexer("a ?= 1.0e1 <= 'x\\'y'")
	assert.Equal(t, TokIdentifier, lx.Next().Type)
	tok := lx.Next()
	assert.Equal(t, TokOperator, tok.Type)
	assert.Equal(t, OpAssignUndefined, tok.Op)
	tok = lx.Next()
	assert.Equal(t, TokDouble, tok.Type)
	assert.Equal(t, 10.0, tok.Dbl)
	tok = lx.Next()
	assert.Equal(t, OpLessEqual, tok.Op)
	tok = lx.Next()
	assert.Equal(t, TokString, tok.Type)
	assert.Equal(t, "x'y", tok.Text)
	assert.Equal(t, TokEnd, lx.Next().Type)
}

func TestSimpleArithmetic(t *testing.T) {
	ctx := newTestContext()
	assert.True(t, eval(t, ctx, "2 + 1").Equals(fsm.NewInteger(3)))
	assert.True(t, eval(t, ctx, "12 * 3.4").Equals(fsm.NewDouble(12*3.4)))
	assert.True(t, eval(t, ctx, "(12 * 2)").Equals(fsm.NewInteger(24)))
	assert.True(t, eval(t, ctx, "(1 * 2) + (12 * 2)").Equals(fsm.NewInteger(26)))
}

func TestMultiplicationBindsTighterThanAddition(t *testing.T) {
	ctx := newTestContext()
	assert.True(t, eval(t, ctx, "12 + 2 * 4").Equals(fsm.NewInteger(20)))
	assert.True(t, eval(t, ctx, "(12 + 2) * 4").Equals(fsm.NewInteger(56)))
}

func TestBooleanOperators(t *testing.T) {
	ctx := newTestContext()
	assert.True(t, eval(t, ctx, "true | false").Bool)
	assert.False(t, eval(t, ctx, "true & false").Bool)
	assert.True(t, eval(t, ctx, "true & !false").Bool)
	assert.True(t, eval(t, ctx, "!!true & !false").Bool)
	assert.True(t, eval(t, ctx, "1.0e1 <= 11").Bool)
}

func TestColonIsDivision(t *testing.T) {
	ctx := newTestContext()
	assert.True(t, eval(t, ctx, "1:2").Equals(fsm.NewDouble(0.5)))
	assert.True(t, eval(t, ctx, "4/2").Equals(fsm.NewDouble(2)))
}

func TestUnaryMinus(t *testing.T) {
	ctx := newTestContext()
	assert.True(t, eval(t, ctx, "-5 + 7").Equals(fsm.NewInteger(2)))
}

func TestAssignmentAndSequence(t *testing.T) {
	ctx := newTestContext()
	v := eval(t, ctx, "X?=2;A?=X*6")
	assert.True(t, v.Equals(fsm.NewInteger(12)))
	assert.True(t, ctx.Global.Data.Get("A").Equals(fsm.NewInteger(12)))

	// '=' on an unknown variable fails.
	_, err := ParseAndExecute("B = 1", ctx)
	assert.Error(t, err)
}

func TestSequenceYieldsLastValue(t *testing.T) {
	ctx := newTestContext()
	assert.True(t, eval(t, ctx, "1+1;2+2;3*3").Equals(fsm.NewInteger(9)))
}

func TestArrays(t *testing.T) {
	ctx := newTestContext()
	eval(t, ctx, "v1 ?= [1,2,4, 'abc', ['a', 'b', 'c']]")

	assert.True(t, eval(t, ctx, "v1[1]").Equals(fsm.NewInteger(2)))
	assert.True(t, eval(t, ctx, "v1[v1[1]]").Equals(fsm.NewInteger(4)))
	assert.True(t, eval(t, ctx, "v1[1+2]").Equals(fsm.NewString("abc")))
	assert.True(t, eval(t, ctx, "v1[4][1]").Equals(fsm.NewString("b")))

	assert.True(t, eval(t, ctx, "['a','b'] + 'c' == ['a','b','c']").Bool)
	assert.True(t, eval(t, ctx, "['a']+['b']+'c' == ['a','b'] + ['c']").Bool)
	assert.False(t, eval(t, ctx, "['a'] + ['b'] == ['a','b'] + ['c']").Bool)
}

func TestArrayIndexOnLiteral(t *testing.T) {
	ctx := newTestContext()
	assert.True(t, eval(t, ctx, "[1,2,3,4][1]").Equals(fsm.NewInteger(2)))
}

func TestMaps(t *testing.T) {
	ctx := newTestContext()
	eval(t, ctx, "v1 ?= {'m1':'abc'}")
	eval(t, ctx, "v2 ?= {'m2': 123}")
	eval(t, ctx, "v3 ?= {'m2': 123, 'm1': 'abc'}")

	assert.True(t, eval(t, ctx, "v1.m1").Equals(fsm.NewString("abc")))
	assert.True(t, eval(t, ctx, "v1 + v2 == v3").Bool)

	assert.True(t, eval(t, ctx, "v3.m1 = 10").Equals(fsm.NewInteger(10)))
	assert.False(t, eval(t, ctx, "v1 + v2 == v3").Bool)

	assert.True(t, eval(t, ctx, "{} + {'b':'abc'} + {'a':123} == {'a':123, 'b':'abc'}").Bool)
	assert.True(t, eval(t, ctx, "{} == {}").Bool)
	assert.False(t, eval(t, ctx, "{} == {'a':1}").Bool)
	assert.False(t, eval(t, ctx, "{'a':1} == {'a':1, 'b':1}").Bool)
	assert.True(t, eval(t, ctx, "{'a':1} == {'a':null} + {'a':1}").Bool)
}

func TestMemberAssignment(t *testing.T) {
	ctx := newTestContext()
	eval(t, ctx, "a ?= {'_b': null}")
	assert.True(t, eval(t, ctx, "a._b = 2").Equals(fsm.NewInteger(2)))
	assert.True(t, eval(t, ctx, "a._b == 2").Bool)
}

func TestMethodDotFormIsSugar(t *testing.T) {
	ctx := newTestContext()
	eval(t, ctx, "s ?= 'hello'")
	assert.True(t, eval(t, ctx, "s.length() == length(s)").Bool)
	assert.True(t, eval(t, ctx, "s.indexOf('ll')").Equals(fsm.NewInteger(2)))
}

func TestNotOnNonBooleanFails(t *testing.T) {
	ctx := newTestContext()
	_, err := ParseAndExecute("!5", ctx)
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{"", "1 +", "(1", "[1,2", "{'a'1}", "'open"} {
		_, err := Parse(src)
		assert.Error(t, err, "expected parse failure for %q", src)
	}
}

func TestReadOnlyAssignmentFails(t *testing.T) {
	ctx := newTestContext()
	ctx.Global.Data.SetReadOnly("_sessionid", fsm.NewString("1"))
	_, err := ParseAndExecute("_sessionid = '2'", ctx)
	assert.Error(t, err)
	_, err = ParseAndExecute("_sessionid ?= '2'", ctx)
	assert.Error(t, err)
}

func TestBuiltinActions(t *testing.T) {
	ctx := newTestContext()
	assert.True(t, eval(t, ctx, "abs(0-5)").Equals(fsm.NewInteger(5)))
	assert.True(t, eval(t, ctx, "abs(1.5)").Equals(fsm.NewDouble(1.5)))
	assert.True(t, eval(t, ctx, "length([1,2,3])").Equals(fsm.NewInteger(3)))
	assert.True(t, eval(t, ctx, "length('abcd')").Equals(fsm.NewInteger(4)))
	assert.True(t, eval(t, ctx, "indexOf('abcdef', 'cd')").Equals(fsm.NewInteger(2)))
	assert.True(t, eval(t, ctx, "indexOf([3,4,5], 4)").Equals(fsm.NewInteger(1)))
	assert.True(t, eval(t, ctx, "toString(12)").Equals(fsm.NewString("12")))
	assert.False(t, eval(t, ctx, "isDefined(unknownVar)").Bool)
	eval(t, ctx, "known ?= 1")
	assert.True(t, eval(t, ctx, "isDefined(known)").Bool)
}
