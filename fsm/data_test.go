package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpPlusNumericPromotion(t *testing.T) {
	assert.Equal(t, NewInteger(3), OpPlus(NewInteger(1), NewInteger(2)))
	assert.Equal(t, NewDouble(3.5), OpPlus(NewInteger(1), NewDouble(2.5)))
	assert.Equal(t, NewDouble(3.5), OpPlus(NewDouble(1.5), NewInteger(2)))
}

func TestOpPlusArrayAppendAndConcat(t *testing.T) {
	a := NewArray([]*Data{NewString("a")})
	b := NewArray([]*Data{NewString("b")})

	appended := OpPlus(a, NewString("b"))
	require.Equal(t, KindArray, appended.Kind)
	assert.True(t, appended.Equals(NewArray([]*Data{NewString("a"), NewString("b")})))

	concatenated := OpPlus(a, b)
	assert.True(t, concatenated.Equals(appended))

	// The operands stay untouched.
	assert.Len(t, a.Arr, 1)
}

func TestOpPlusMapMergeRightOverwrites(t *testing.T) {
	l := NewMap(map[string]*Data{"a": NewNull()})
	r := NewMap(map[string]*Data{"a": NewInteger(1)})
	merged := OpPlus(l, r)
	assert.True(t, merged.Equals(NewMap(map[string]*Data{"a": NewInteger(1)})))
}

func TestOpDivideAlwaysDouble(t *testing.T) {
	assert.Equal(t, NewDouble(2), OpDivide(NewInteger(4), NewInteger(2)))
	assert.Equal(t, KindError, OpDivide(NewInteger(4), NewInteger(0)).Kind)
}

func TestOpMultiplyKeepsIntegerWhenPossible(t *testing.T) {
	assert.Equal(t, NewInteger(8), OpMultiply(NewInteger(4), NewInteger(2)))
	assert.Equal(t, NewDouble(8), OpMultiply(NewInteger(4), NewDouble(2)))
}

func TestComparisonsOnMismatchedTypes(t *testing.T) {
	assert.Equal(t, NewBoolean(false), OpLess(NewInteger(1), NewString("2")))
	assert.Equal(t, NewBoolean(false), OpEqual(NewInteger(1), NewString("1")))
	assert.Equal(t, NewBoolean(true), OpNotEqual(NewInteger(1), NewString("1")))
}

func TestNumericEquality(t *testing.T) {
	assert.Equal(t, NewBoolean(true), OpEqual(NewInteger(1), NewDouble(1)))
	assert.Equal(t, NewBoolean(true), OpLessEqual(NewDouble(1), NewInteger(1)))
}

func TestDataCopyIsDeep(t *testing.T) {
	original := NewMap(map[string]*Data{"a": NewArray([]*Data{NewInteger(1)})})
	clone := original.Copy()
	clone.Map["a"].Arr[0].Int = 2
	assert.Equal(t, int64(1), original.Map["a"].Arr[0].Int)
}

func TestCloneIntoKeepsAliases(t *testing.T) {
	m := NewMap(map[string]*Data{"x": NewInteger(1)})
	alias := m.Map["x"]
	NewInteger(5).CloneInto(alias)
	assert.Equal(t, int64(5), m.Map["x"].Int)
}

func TestDataStoreReadOnly(t *testing.T) {
	ds := NewDataStore()
	ds.SetReadOnly("_sessionid", NewString("1"))
	err := ds.Set("_sessionid", NewString("2"))
	require.Error(t, err)
	assert.Equal(t, "1", ds.Get("_sessionid").Str)
}

func TestReadOnlyIsRecursive(t *testing.T) {
	v := NewMap(map[string]*Data{"name": NewString("e")})
	v.SetReadOnly(true)
	assert.True(t, v.Map["name"].IsReadOnly())
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, int64(1500), ParseDuration("1.5s"))
	assert.Equal(t, int64(200), ParseDuration("200ms"))
	assert.Equal(t, int64(60000), ParseDuration("1m"))
	assert.Equal(t, int64(0), ParseDuration("junk"))
	assert.Equal(t, int64(0), ParseDuration(""))
}
