package fsm

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDatamodel is a minimal datamodel for algorithm tests:
// conditions are the literals "true"/"false" or a boolean variable,
// scripts evaluate to their own text.
type scriptedDatamodel struct {
	global *GlobalData
}

func newScriptedDatamodel() *scriptedDatamodel {
	return &scriptedDatamodel{global: NewGlobalData()}
}

func (dm *scriptedDatamodel) GetName() string     { return "test" }
func (dm *scriptedDatamodel) Global() *GlobalData { return dm.global }
func (dm *scriptedDatamodel) AddFunctions(*Fsm)   {}
func (dm *scriptedDatamodel) Clear()              {}
func (dm *scriptedDatamodel) Log(string)          {}
func (dm *scriptedDatamodel) SetEvent(ev *Event) {
	dm.global.Data.SetReadOnly(EventVariable, NewString(ev.Name))
}
func (dm *scriptedDatamodel) InitializeReadOnly(name string, v *Data) {
	dm.global.Data.SetReadOnly(name, v)
}

func (dm *scriptedDatamodel) InitializeDataModel(f *Fsm, state StateId, setData bool) {
	s := f.State(state)
	if s == nil || !setData {
		return
	}
	for _, spec := range s.Data {
		value := NewNull()
		if spec.Expr != nil {
			value = spec.Expr.Copy()
		}
		_ = dm.global.Data.Set(spec.Name, value)
	}
}

func (dm *scriptedDatamodel) Set(name string, v *Data) { _ = dm.global.Data.Set(name, v) }
func (dm *scriptedDatamodel) Get(name string) *Data    { return dm.global.Data.Get(name) }

func (dm *scriptedDatamodel) Assign(location *Data, v *Data) bool {
	name := location.String()
	if !dm.global.Data.Has(name) {
		dm.global.EnqueueInternalError()
		return false
	}
	if err := dm.global.Data.Set(name, v); err != nil {
		dm.global.EnqueueInternalError()
		return false
	}
	return true
}

func (dm *scriptedDatamodel) GetByLocation(location string) (*Data, error) {
	if v := dm.global.Data.Get(location); v != nil {
		return v, nil
	}
	return nil, errors.New("unknown location " + location)
}

func (dm *scriptedDatamodel) Execute(script *Data) (*Data, error) {
	return NewString(script.String()), nil
}

func (dm *scriptedDatamodel) ExecuteCondition(cond *Data) (bool, error) {
	switch cond.String() {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if v := dm.global.Data.Get(cond.String()); v != nil && v.Kind == KindBoolean {
		return v.Bool, nil
	}
	return false, fmt.Errorf("condition '%s' is not boolean", cond)
}

func (dm *scriptedDatamodel) ExecuteForEach(*Data, string, string, func() bool) bool { return true }

func (dm *scriptedDatamodel) IOProcessors() map[string]EventProcessor {
	return dm.global.IOProcessors
}

// recordingTracer collects state changes in order.
type recordingTracer struct {
	mode    TraceMode
	changes []string
}

func (t *recordingTracer) EnableTrace(mode TraceMode)    { t.mode = mode }
func (t *recordingTracer) IsEnabled(mode TraceMode) bool { return t.mode&mode != 0 }
func (t *recordingTracer) EnterMethod(string)            {}
func (t *recordingTracer) ExitMethod(string)             {}
func (t *recordingTracer) Event(string, *Event)          {}
func (t *recordingTracer) State(what, name string) {
	t.changes = append(t.changes, what+":"+name)
}

// Model building helpers.

func addState(f *Fsm, parent StateId, name string) *State {
	s := f.NewState(name)
	f.AddChild(parent, s.Id)
	return s
}

func addFinal(f *Fsm, parent StateId, name string) *State {
	s := addState(f, parent, name)
	s.IsFinal = true
	return s
}

func addTransition(f *Fsm, source StateId, event string, targets ...StateId) *Transition {
	t := f.NewTransition(source)
	if event != "" {
		t.Events = []string{event}
	}
	t.Target = targets
	return t
}

func addEventless(f *Fsm, source StateId, cond string, targets ...StateId) *Transition {
	t := f.NewTransition(source)
	if cond != "" {
		t.Cond = NewSource(cond, 0)
	}
	t.Target = targets
	return t
}

func newTestInterpreter(f *Fsm) (*Interpreter, *scriptedDatamodel, *recordingTracer) {
	dm := newScriptedDatamodel()
	tracer := &recordingTracer{mode: TraceStates}
	in := &Interpreter{
		fsm:            f,
		datamodel:      dm,
		global:         dm.Global(),
		tracer:         tracer,
		statesToInvoke: NewOrderedSet[StateId](),
		enteredStates:  map[StateId]bool{},
		invokeIds:      map[InvokeId]string{},
	}
	in.running = true
	return in, dm, tracer
}

func (in *Interpreter) runTestMacrostep() {
	macrostepDone := false
	for in.running && !macrostepDone {
		enabled := in.selectEventlessTransitions()
		if enabled.IsEmpty() {
			if in.global.InternalQueue.IsEmpty() {
				macrostepDone = true
			} else {
				internalEvent := in.global.InternalQueue.Dequeue()
				in.datamodel.SetEvent(internalEvent)
				enabled = in.selectTransitions(internalEvent)
			}
		}
		if !enabled.IsEmpty() {
			in.microstep(enabled.ToList())
		}
	}
}

func (in *Interpreter) enterInitial() {
	in.enterStates([]*Transition{in.initialTransition(in.fsm.State(in.fsm.PseudoRoot))})
	in.runTestMacrostep()
}

func (in *Interpreter) offer(name string) {
	ev := NewSimpleEvent(name)
	in.datamodel.SetEvent(ev)
	if enabled := in.selectTransitions(ev); !enabled.IsEmpty() {
		in.microstep(enabled.ToList())
	}
	in.runTestMacrostep()
}

func activeNames(f *Fsm, cfg *OrderedSet[StateId]) []string {
	var names []string
	for _, id := range cfg.ToList() {
		names = append(names, f.State(id).Name)
	}
	return names
}

// Scenario 1: one external event moves s0 to a final state; the
// session worker delivers the final configuration.
func TestMinimalProgression(t *testing.T) {
	f := NewFsm("minimal", NullDatamodelName)
	s0 := addState(f, f.PseudoRoot, "s0")
	s1 := addFinal(f, f.PseudoRoot, "s1")
	addTransition(f, s0.Id, "go", s1.Id)

	session, err := StartFsm(f, StartOptions{SessionId: 1})
	require.NoError(t, err)

	session.ExternalQueue.Enqueue(NewSimpleEvent("go"))
	select {
	case finals := <-session.Finished:
		assert.Contains(t, finals, "s1")
		assert.NotContains(t, finals, "s0")
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

// Scenario 2: eventless transitions run to a fixed point before any
// event is consumed; the machine reaches the final state at startup.
func TestEventlessFixedPoint(t *testing.T) {
	f := NewFsm("eventless", "test")
	s0 := addState(f, f.PseudoRoot, "s0")
	s1 := addState(f, f.PseudoRoot, "s1")
	s2 := addFinal(f, f.PseudoRoot, "s2")
	addEventless(f, s0.Id, "true", s1.Id)
	addEventless(f, s1.Id, "true", s2.Id)

	in, _, tracer := newTestInterpreter(f)
	in.enterInitial()

	assert.False(t, in.running)
	assert.Equal(t, []string{
		"enter:s0", "exit:s0", "enter:s1", "exit:s1", "enter:s2",
	}, tracer.changes)
}

func TestEventlessFalseConditionDoesNotFire(t *testing.T) {
	f := NewFsm("guarded", "test")
	s0 := addState(f, f.PseudoRoot, "s0")
	s1 := addFinal(f, f.PseudoRoot, "s1")
	addEventless(f, s0.Id, "false", s1.Id)

	in, _, _ := newTestInterpreter(f)
	in.enterInitial()
	assert.True(t, in.running)
	assert.Equal(t, []string{"s0"}, activeNames(f, in.global.Configuration))
}

// Scenario 3: both regions of a parallel state reach their final
// states; done.state of the parallel parent becomes observable.
func TestParallelJoin(t *testing.T) {
	f := NewFsm("join", "test")
	p := addState(f, f.PseudoRoot, "p")
	p.IsParallel = true
	regionA := addState(f, p.Id, "a")
	a1 := addState(f, regionA.Id, "a1")
	a2 := addFinal(f, regionA.Id, "a2")
	regionB := addState(f, p.Id, "b")
	b1 := addState(f, regionB.Id, "b1")
	b2 := addFinal(f, regionB.Id, "b2")
	pass := addFinal(f, f.PseudoRoot, "pass")

	addTransition(f, a1.Id, "go.a", a2.Id)
	addTransition(f, b1.Id, "go.b", b2.Id)
	addTransition(f, p.Id, "done.state.p", pass.Id)

	in, _, _ := newTestInterpreter(f)
	in.enterInitial()

	require.NoError(t, ValidateConfiguration(f, in.global.Configuration))
	assert.ElementsMatch(t, []string{"p", "a", "a1", "b", "b1"},
		activeNames(f, in.global.Configuration))

	in.offer("go.a")
	require.NoError(t, ValidateConfiguration(f, in.global.Configuration))
	assert.True(t, in.running, "one final region must not complete the parallel state")

	in.offer("go.b")
	assert.False(t, in.running)
	assert.Contains(t, activeNames(f, in.global.Configuration), "pass")
}

// Scenario 6a: a transition of a descendant wins against one
// selected through a common ancestor.
func TestConflictResolutionDescendantWins(t *testing.T) {
	f := NewFsm("conflict1", "test")
	p := addState(f, f.PseudoRoot, "p")
	p.IsParallel = true
	r1 := addState(f, p.Id, "r1")
	s11 := addState(f, r1.Id, "s11")
	s12 := addState(f, r1.Id, "s12")
	r2 := addState(f, p.Id, "r2")
	addState(f, r2.Id, "s21")
	out := addState(f, f.PseudoRoot, "out")

	inner := addTransition(f, s11.Id, "e", s12.Id)
	addTransition(f, p.Id, "e", out.Id)

	in, _, _ := newTestInterpreter(f)
	in.enterInitial()

	ev := NewSimpleEvent("e")
	in.datamodel.SetEvent(ev)
	enabled := in.selectTransitions(ev).ToList()
	require.Len(t, enabled, 1)
	assert.Equal(t, inner.Id, enabled[0].Id)

	in.microstep(enabled)
	in.runTestMacrostep()
	require.NoError(t, ValidateConfiguration(f, in.global.Configuration))
	assert.ElementsMatch(t, []string{"p", "r1", "s12", "r2", "s21"},
		activeNames(f, in.global.Configuration))
}

// Scenario 6b: between conflicting region transitions, document
// order breaks the tie.
func TestConflictResolutionDocumentOrder(t *testing.T) {
	f := NewFsm("conflict2", "test")
	p := addState(f, f.PseudoRoot, "p")
	p.IsParallel = true
	r1 := addState(f, p.Id, "r1")
	s11 := addState(f, r1.Id, "s11")
	r2 := addState(f, p.Id, "r2")
	s21 := addState(f, r2.Id, "s21")
	out1 := addFinal(f, f.PseudoRoot, "out1")
	out2 := addFinal(f, f.PseudoRoot, "out2")

	first := addTransition(f, s11.Id, "e", out1.Id)
	addTransition(f, s21.Id, "e", out2.Id)

	in, _, _ := newTestInterpreter(f)
	in.enterInitial()

	ev := NewSimpleEvent("e")
	in.datamodel.SetEvent(ev)
	enabled := in.selectTransitions(ev).ToList()
	require.Len(t, enabled, 1)
	assert.Equal(t, first.Id, enabled[0].Id)

	in.microstep(enabled)
	assert.Contains(t, activeNames(f, in.global.Configuration), "out1")
}

// Internal events raised by a transition are consumed before the
// next external event.
func TestInternalQueueDrainsBeforeExternal(t *testing.T) {
	f := NewFsm("ordering", NullDatamodelName)
	s0 := addState(f, f.PseudoRoot, "s0")
	s1 := addState(f, f.PseudoRoot, "s1")
	pass := addFinal(f, f.PseudoRoot, "pass")
	fail := addFinal(f, f.PseudoRoot, "fail")

	raiseBlock := f.NewExecutableBlock(&Raise{Event: "i1"})
	t1 := addTransition(f, s0.Id, "e1", s1.Id)
	t1.Content = raiseBlock
	addTransition(f, s1.Id, "i1", pass.Id)
	addTransition(f, s1.Id, "e2", fail.Id)

	session, err := StartFsm(f, StartOptions{SessionId: 7})
	require.NoError(t, err)
	session.ExternalQueue.Enqueue(NewSimpleEvent("e1"))
	session.ExternalQueue.Enqueue(NewSimpleEvent("e2"))

	select {
	case finals := <-session.Finished:
		assert.Contains(t, finals, "pass")
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestShallowHistoryRestoresImmediateChild(t *testing.T) {
	f := NewFsm("history", "test")
	s := addState(f, f.PseudoRoot, "s")
	a1 := addState(f, s.Id, "a1")
	a2 := addState(f, s.Id, "a2")
	h := f.NewState("h")
	h.HistoryType = HistoryShallow
	f.AddChild(s.Id, h.Id)
	addTransition(f, h.Id, "", a1.Id) // default history target
	o := addState(f, f.PseudoRoot, "o")

	addTransition(f, a1.Id, "toA2", a2.Id)
	addTransition(f, s.Id, "out", o.Id)
	addTransition(f, o.Id, "back", h.Id)

	in, _, _ := newTestInterpreter(f)
	in.enterInitial()
	assert.ElementsMatch(t, []string{"s", "a1"}, activeNames(f, in.global.Configuration))

	in.offer("toA2")
	in.offer("out")
	assert.ElementsMatch(t, []string{"o"}, activeNames(f, in.global.Configuration))

	in.offer("back")
	require.NoError(t, ValidateConfiguration(f, in.global.Configuration))
	assert.ElementsMatch(t, []string{"s", "a2"}, activeNames(f, in.global.Configuration))
}

func TestHistoryDefaultTargetOnFirstEntry(t *testing.T) {
	f := NewFsm("historydefault", "test")
	s := addState(f, f.PseudoRoot, "s")
	a1 := addState(f, s.Id, "a1")
	addState(f, s.Id, "a2")
	h := f.NewState("h")
	h.HistoryType = HistoryShallow
	f.AddChild(s.Id, h.Id)
	addTransition(f, h.Id, "", a1.Id)
	start := addState(f, f.PseudoRoot, "start")
	addTransition(f, start.Id, "enter", h.Id)

	// Make "start" the root's initial state.
	rootInitial := f.NewInitialTransition(f.PseudoRoot)
	rootInitial.Target = []StateId{start.Id}

	in, _, _ := newTestInterpreter(f)
	in.enterInitial()
	in.offer("enter")
	assert.ElementsMatch(t, []string{"s", "a1"}, activeNames(f, in.global.Configuration))
}

func TestDeepHistoryRestoresAtomicDescendants(t *testing.T) {
	f := NewFsm("deephistory", "test")
	s := addState(f, f.PseudoRoot, "s")
	sa := addState(f, s.Id, "sa")
	sa1 := addState(f, sa.Id, "sa1")
	sa2 := addState(f, sa.Id, "sa2")
	h := f.NewState("h")
	h.HistoryType = HistoryDeep
	f.AddChild(s.Id, h.Id)
	addTransition(f, h.Id, "", sa1.Id)
	o := addState(f, f.PseudoRoot, "o")

	addTransition(f, sa1.Id, "next", sa2.Id)
	addTransition(f, s.Id, "out", o.Id)
	addTransition(f, o.Id, "back", h.Id)

	in, _, _ := newTestInterpreter(f)
	in.enterInitial()
	in.offer("next")
	in.offer("out")
	in.offer("back")

	require.NoError(t, ValidateConfiguration(f, in.global.Configuration))
	assert.ElementsMatch(t, []string{"s", "sa", "sa2"},
		activeNames(f, in.global.Configuration))
}

func TestDoneEventDeliveredToCaller(t *testing.T) {
	f := NewFsm("child", NullDatamodelName)
	s0 := addState(f, f.PseudoRoot, "s0")
	end := addFinal(f, f.PseudoRoot, "end")
	addTransition(f, s0.Id, "finish", end.Id)

	caller := NewBlockingQueue()
	session, err := StartFsm(f, StartOptions{
		SessionId:      3,
		CallerInvokeId: "inv1",
		CallerQueue:    caller,
	})
	require.NoError(t, err)
	session.ExternalQueue.Enqueue(NewSimpleEvent("finish"))

	ev, ok := caller.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "done.invoke.inv1", ev.Name)
	assert.Equal(t, "inv1", ev.InvokeId)
}

func TestCancelEventStopsSession(t *testing.T) {
	f := NewFsm("cancellable", NullDatamodelName)
	addState(f, f.PseudoRoot, "s0")

	session, err := StartFsm(f, StartOptions{SessionId: 9})
	require.NoError(t, err)
	session.ExternalQueue.Enqueue(NewCancelSession())

	select {
	case finals := <-session.Finished:
		assert.Contains(t, finals, "s0")
	case <-time.After(2 * time.Second):
		t.Fatal("session ignored the cancel event")
	}
}

func TestNameMatching(t *testing.T) {
	f := NewFsm("match", NullDatamodelName)
	s := addState(f, f.PseudoRoot, "s")
	in, _, _ := newTestInterpreter(f)

	cases := []struct {
		descriptor string
		event      string
		match      bool
	}{
		{"error", "error.execution", true},
		{"error.execution", "error.execution", true},
		{"error.*", "error.execution", true},
		{"error.", "error.execution", true},
		{"error", "errors", false},
		{"*", "anything.at.all", true},
		{"done.invoke", "done.invoke.inv1", true},
		{"a.b", "a.bc", false},
	}
	for _, c := range cases {
		tr := f.NewTransition(s.Id)
		tr.Events = []string{c.descriptor}
		assert.Equal(t, c.match, in.nameMatch(tr, c.event),
			"descriptor %q against %q", c.descriptor, c.event)
	}
}

func TestValidateConfigurationRejectsBrokenParallel(t *testing.T) {
	f := NewFsm("invalid", NullDatamodelName)
	p := addState(f, f.PseudoRoot, "p")
	p.IsParallel = true
	r1 := addState(f, p.Id, "r1")
	addState(f, r1.Id, "r1c")
	addState(f, p.Id, "r2")

	cfg := NewOrderedSet[StateId]()
	cfg.Add(p.Id)
	cfg.Add(r1.Id)
	assert.Error(t, ValidateConfiguration(f, cfg))
}

func TestTargetlessTransitionRunsContentOnly(t *testing.T) {
	f := NewFsm("targetless", NullDatamodelName)
	s0 := addState(f, f.PseudoRoot, "s0")
	pass := addFinal(f, f.PseudoRoot, "pass")

	raiseBlock := f.NewExecutableBlock(&Raise{Event: "done.marker"})
	t1 := addTransition(f, s0.Id, "e")
	t1.Content = raiseBlock
	addTransition(f, s0.Id, "done.marker", pass.Id)

	in, _, tracer := newTestInterpreter(f)
	in.enterInitial()
	in.offer("e")

	assert.False(t, in.running)
	// The targetless transition must not re-enter s0.
	assert.Equal(t, []string{"enter:s0", "exit:s0", "enter:pass"}, tracer.changes)
}
