package ecmascript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BWeng20/ruFSM/fsm"
)

func newTestDatamodel() *Datamodel {
	return NewDatamodel(fsm.NewGlobalData())
}

func TestDatamodelIsRegistered(t *testing.T) {
	dm, err := fsm.CreateDatamodel(fsm.ECMAScriptDatamodelName, fsm.NewGlobalData(), nil)
	require.NoError(t, err)
	assert.Equal(t, fsm.ECMAScriptDatamodelName, dm.GetName())
}

func TestScriptsAndConditions(t *testing.T) {
	dm := newTestDatamodel()
	dm.Set("Var1", fsm.NewNull())

	value, err := dm.Execute(fsm.NewSource("1+2", 0))
	require.NoError(t, err)
	require.True(t, dm.Assign(fsm.NewSource("Var1", 0), value))

	match, err := dm.ExecuteCondition(fsm.NewSource("Var1 === 3", 0))
	require.NoError(t, err)
	assert.True(t, match)

	v, err := dm.Execute(fsm.NewSource("Var1 * 2", 0))
	require.NoError(t, err)
	assert.True(t, v.Equals(fsm.NewInteger(6)))
}

func TestAssignToUndeclaredLocationFails(t *testing.T) {
	dm := newTestDatamodel()
	ok := dm.Assign(fsm.NewSource("Nope", 0), fsm.NewInteger(1))
	assert.False(t, ok)
	assert.False(t, dm.Global().InternalQueue.IsEmpty())
}

func TestEventIsVisibleToScripts(t *testing.T) {
	dm := newTestDatamodel()
	dm.SetEvent(&fsm.Event{
		Name:  "sensor.update",
		Etype: fsm.EventExternal,
		Data:  fsm.NewMap(map[string]*fsm.Data{"value": fsm.NewInteger(7)}),
	})

	ok, err := dm.ExecuteCondition(fsm.NewSource("_event.name === 'sensor.update'", 0))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dm.ExecuteCondition(fsm.NewSource("_event.data.value === 7", 0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInPredicate(t *testing.T) {
	f := fsm.NewFsm("machine", fsm.ECMAScriptDatamodelName)
	s := f.NewState("active")
	f.AddChild(f.PseudoRoot, s.Id)

	dm := newTestDatamodel()
	dm.AddFunctions(f)

	ok, err := dm.ExecuteCondition(fsm.NewSource("In('active')", 0))
	require.NoError(t, err)
	assert.False(t, ok)

	dm.Global().Configuration.Add(s.Id)
	ok, err = dm.ExecuteCondition(fsm.NewSource("In('active')", 0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecuteForEach(t *testing.T) {
	dm := newTestDatamodel()
	dm.Set("sum", fsm.NewInteger(0))
	dm.Set("values", fsm.NewArray([]*fsm.Data{
		fsm.NewInteger(2), fsm.NewInteger(3),
	}))

	ok := dm.ExecuteForEach(fsm.NewSource("values", 0), "item", "idx", func() bool {
		_, err := dm.Execute(fsm.NewSource("sum = sum + item", 0))
		require.NoError(t, err)
		return true
	})
	require.True(t, ok)

	v, err := dm.Execute(fsm.NewSource("sum", 0))
	require.NoError(t, err)
	assert.True(t, v.Equals(fsm.NewInteger(5)))
}

// A full session driven by the ECMAScript datamodel.
func TestSessionWithEcmascriptDatamodel(t *testing.T) {
	f := fsm.NewFsm("ecma", fsm.ECMAScriptDatamodelName)
	s0 := f.NewState("s0")
	f.AddChild(f.PseudoRoot, s0.Id)
	s0.Data = []fsm.DataSpec{{Name: "Var1", Expr: fsm.NewSource("1+2", 1)}}
	pass := f.NewState("pass")
	pass.IsFinal = true
	f.AddChild(f.PseudoRoot, pass.Id)
	fail := f.NewState("fail")
	fail.IsFinal = true
	f.AddChild(f.PseudoRoot, fail.Id)

	t1 := f.NewTransition(s0.Id)
	t1.Events = []string{"check"}
	t1.Cond = fsm.NewSource("Var1 === 3", 2)
	t1.Target = []fsm.StateId{pass.Id}
	t2 := f.NewTransition(s0.Id)
	t2.Events = []string{"check"}
	t2.Target = []fsm.StateId{fail.Id}

	session, err := fsm.StartFsm(f, fsm.StartOptions{SessionId: 1})
	require.NoError(t, err)
	session.ExternalQueue.Enqueue(fsm.NewSimpleEvent("check"))

	select {
	case finals := <-session.Finished:
		assert.Contains(t, finals, "pass")
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}
