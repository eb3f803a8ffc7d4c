package fsm

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// This file implements the data structures and algorithm described
// in the W3C SCXML recommendation, see
// https://www.w3.org/TR/scxml/#AlgorithmforSCXMLInterpretation.
// The procedure names are kept verbatim to ease cross-reference.

// StartOptions configures a session started by StartFsm.
type StartOptions struct {
	SessionId        SessionId
	DatamodelName    string
	DatamodelOptions map[string]string
	Trace            TraceMode
	Tracer           Tracer

	// Data is applied on top of the model's declarations (used by
	// <invoke> params and the embedding host).
	Data map[string]*Data

	Executor        Executor
	ParentSessionId SessionId
	CallerInvokeId  string
	CallerQueue     *BlockingQueue

	// IOProcessors seeds the session's processor map.
	IOProcessors map[string]EventProcessor
}

// StartFsm starts the interpreter for the given model inside a
// worker goroutine and returns the session handle. The model itself
// is never written to and may be shared between sessions.
func StartFsm(f *Fsm, opts StartOptions) (*Session, error) {
	global := NewGlobalData()
	global.SessionId = opts.SessionId
	global.Name = f.Name
	global.ParentSessionId = opts.ParentSessionId
	global.CallerInvokeId = opts.CallerInvokeId
	global.CallerQueue = opts.CallerQueue
	global.Executor = opts.Executor
	for n, p := range opts.IOProcessors {
		global.IOProcessors[n] = p
	}

	name := opts.DatamodelName
	if name == "" {
		name = f.DatamodelName
	}
	dm, err := CreateDatamodel(name, global, opts.DatamodelOptions)
	if err != nil {
		return nil, fmt.Errorf("datamodel '%s': %w", name, err)
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = NewDefaultTracer(opts.SessionId, opts.Trace)
	} else {
		tracer.EnableTrace(opts.Trace)
	}

	session := &Session{
		Id:            opts.SessionId,
		ExternalQueue: global.ExternalQueue,
		InvokeId:      opts.CallerInvokeId,
		Finished:      make(chan []string, 1),
		global:        global,
	}

	in := &Interpreter{
		fsm:            f,
		datamodel:      dm,
		global:         global,
		tracer:         tracer,
		statesToInvoke: NewOrderedSet[StateId](),
		enteredStates:  map[StateId]bool{},
		invokeIds:      map[InvokeId]string{},
		initialData:    opts.Data,
	}

	go in.run(session)
	return session, nil
}

// Interpreter holds the per-session algorithm state. It runs
// exclusively on its worker goroutine.
type Interpreter struct {
	fsm       *Fsm
	datamodel Datamodel
	global    *GlobalData
	tracer    Tracer

	statesToInvoke *OrderedSet[StateId]
	running        bool

	// enteredStates tracks first entry for late binding.
	enteredStates map[StateId]bool

	// invokeIds maps active invoke records to their runtime ids.
	invokeIds map[InvokeId]string

	initialData map[string]*Data
}

func (in *Interpreter) run(session *Session) {
	defer func() {
		if r := recover(); r != nil {
			// A panic tears down only this session.
			log.Error().Uint32("session", uint32(in.global.SessionId)).
				Interface("panic", r).Msg("session worker panic")
		}
		session.ExternalQueue.Close()
		if in.global.Executor != nil {
			in.global.Executor.RemoveSession(in.global.SessionId)
		}
		session.Finished <- in.global.FinalConfiguration
		close(session.Finished)
	}()
	in.interpret()
}

func (in *Interpreter) trace(f func(t Tracer)) {
	if tracingCompiled && in.tracer != nil {
		f(in.tracer)
	}
}

// interpret initializes the session and starts processing, following
// the W3C procedure interpret(doc).
func (in *Interpreter) interpret() {
	in.trace(func(t Tracer) { t.EnterMethod("interpret") })
	defer in.trace(func(t Tracer) { t.ExitMethod("interpret") })

	if err := in.valid(); err != nil {
		in.failWithError(err)
		return
	}

	dm := in.datamodel
	dm.AddFunctions(in.fsm)
	in.initializeSystemVariables()

	if in.fsm.Binding == BindingEarly {
		for _, s := range in.fsm.States {
			dm.InitializeDataModel(in.fsm, s.Id, true)
		}
	} else {
		// Late binding still declares every name up front.
		for _, s := range in.fsm.States {
			dm.InitializeDataModel(in.fsm, s.Id, s.Id == in.fsm.PseudoRoot)
		}
		in.enteredStates[in.fsm.PseudoRoot] = true
	}
	for name, value := range in.initialData {
		dm.Set(name, value.Copy())
	}

	in.running = true
	in.executeGlobalScriptElement()

	root := in.fsm.State(in.fsm.PseudoRoot)
	in.enterStates([]*Transition{in.initialTransition(root)})
	in.mainEventLoop()
	in.exitInterpreter()
}

// valid checks the structural invariants the model must satisfy.
func (in *Interpreter) valid() error {
	root := in.fsm.State(in.fsm.PseudoRoot)
	if root == nil {
		return fmt.Errorf("model '%s' has no pseudo-root", in.fsm.Name)
	}
	if len(root.States) == 0 {
		return fmt.Errorf("model '%s' has no states", in.fsm.Name)
	}
	for _, s := range in.fsm.States {
		for _, c := range s.States {
			child := in.fsm.State(c)
			if child == nil || child.Parent != s.Id {
				return fmt.Errorf("state '%s': broken child link", s.Name)
			}
		}
		if s.IsParallel {
			for _, c := range in.fsm.getChildStates(s.Id) {
				if in.fsm.IsFinalState(c) {
					return fmt.Errorf("parallel state '%s' has final child", s.Name)
				}
			}
		}
	}
	for _, t := range in.fsm.Transitions {
		if in.fsm.State(t.Source) == nil {
			return fmt.Errorf("transition %d: unknown source", t.Id)
		}
		if t.TType == TransitionInternal {
			for _, target := range t.Target {
				if !in.isDescendant(target, t.Source) {
					return fmt.Errorf("internal transition %d: target not a descendant of source", t.Id)
				}
			}
		}
	}
	return nil
}

func (in *Interpreter) failWithError(err error) {
	log.Error().Uint32("session", uint32(in.global.SessionId)).Err(err).
		Msg("model invalid, session not started")
	in.global.EnqueueInternal(NewErrorPlatform(err.Error()))
}

func (in *Interpreter) initializeSystemVariables() {
	dm := in.datamodel
	dm.InitializeReadOnly(SessionIdVariable,
		NewString(fmt.Sprintf("%d", in.global.SessionId)))
	dm.InitializeReadOnly(SessionNameVariable, NewString(in.global.Name))

	procs := map[string]*Data{}
	for name, p := range in.global.IOProcessors {
		procs[name] = NewMap(map[string]*Data{
			"location": NewString(p.Location(in.global.SessionId)),
		})
	}
	dm.InitializeReadOnly(IOProcessorsVariable, NewMap(procs))
	dm.InitializeReadOnly(PlatformVariable, NewMap(nil))
}

func (in *Interpreter) executeGlobalScriptElement() {
	if in.fsm.Script != 0 {
		ExecuteBlock(in.datamodel, in.fsm, in.fsm.Script)
	}
}

// initialTransition returns the initial transition of a compound
// state, synthesizing a document-order default when the model fixes
// none.
func (in *Interpreter) initialTransition(s *State) *Transition {
	if s.Initial != 0 {
		return in.fsm.Transition(s.Initial)
	}
	children := in.fsm.getChildStates(s.Id)
	t := &Transition{Source: s.Id, TType: TransitionExternal}
	if len(children) > 0 {
		t.Target = []StateId{children[0]}
	}
	return t
}

func (in *Interpreter) docOrder(id StateId) DocumentId { return in.fsm.DocOrder(id) }

// mainEventLoop runs until a top-level final state is entered or an
// external entity cancels processing (W3C procedure mainEventLoop).
func (in *Interpreter) mainEventLoop() {
	in.trace(func(t Tracer) { t.EnterMethod("mainEventLoop") })
	defer in.trace(func(t Tracer) { t.ExitMethod("mainEventLoop") })

	for in.running {
		// Complete the macrostep: eventless transitions and
		// internal events, to a fixed point.
		macrostepDone := false
		for in.running && !macrostepDone {
			enabledTransitions := in.selectEventlessTransitions()
			if enabledTransitions.IsEmpty() {
				if in.global.InternalQueue.IsEmpty() {
					macrostepDone = true
				} else {
					internalEvent := in.global.InternalQueue.Dequeue()
					in.trace(func(t Tracer) { t.Event("internal", internalEvent) })
					in.datamodel.SetEvent(internalEvent)
					enabledTransitions = in.selectTransitions(internalEvent)
				}
			}
			if !enabledTransitions.IsEmpty() {
				in.microstep(enabledTransitions.ToList())
			}
		}
		if !in.running {
			break
		}

		// Invoke what was entered during this macrostep.
		for _, sid := range SortedStates(in.statesToInvoke.ToList(), in.docOrder, false) {
			state := in.fsm.State(sid)
			for _, invId := range state.Invokes {
				in.invoke(in.fsm.Invoke(invId))
			}
		}
		in.statesToInvoke.Clear()

		// Invoking may have raised internal events.
		if !in.global.InternalQueue.IsEmpty() {
			continue
		}

		externalEvent, ok := in.global.ExternalQueue.Dequeue()
		if !ok || externalEvent.IsCancelEvent() {
			in.running = false
			continue
		}
		in.trace(func(t Tracer) { t.Event("external", externalEvent) })
		in.datamodel.SetEvent(externalEvent)

		for _, sid := range in.global.Configuration.ToList() {
			state := in.fsm.State(sid)
			for _, invId := range state.Invokes {
				inv := in.fsm.Invoke(invId)
				runtimeId, active := in.invokeIds[inv.Id]
				if !active {
					continue
				}
				if runtimeId == externalEvent.InvokeId {
					in.applyFinalize(inv, externalEvent)
				}
				if inv.Autoforward {
					if child := in.global.ChildSessions[runtimeId]; child != nil {
						child.ExternalQueue.Enqueue(externalEvent.Copy())
					}
				}
			}
		}

		enabledTransitions := in.selectTransitions(externalEvent)
		if !enabledTransitions.IsEmpty() {
			in.microstep(enabledTransitions.ToList())
		}
	}
}

// exitInterpreter exits all active states; if the machine halted in a
// top-level final state, the done event is returned to the caller
// (W3C procedure exitInterpreter).
func (in *Interpreter) exitInterpreter() {
	in.trace(func(t Tracer) { t.EnterMethod("exitInterpreter") })
	defer in.trace(func(t Tracer) { t.ExitMethod("exitInterpreter") })

	statesToExit := SortedStates(in.global.Configuration.ToList(), in.docOrder, true)
	for _, sid := range statesToExit {
		in.global.FinalConfiguration = append(in.global.FinalConfiguration,
			in.fsm.State(sid).Name)
	}
	for _, sid := range statesToExit {
		state := in.fsm.State(sid)
		for _, content := range state.OnExit {
			ExecuteBlock(in.datamodel, in.fsm, content)
		}
		for _, invId := range state.Invokes {
			in.cancelInvoke(in.fsm.Invoke(invId))
		}
		in.global.Configuration.Delete(sid)
		in.trace(func(t Tracer) { t.State("exit", state.Name) })
		if state.IsFinal && in.fsm.IsScxmlElement(state.Parent) {
			in.returnDoneEvent(in.evaluateDoneData(state))
		}
	}
}

// returnDoneEvent delivers done.invoke.<id> to the invoking session.
func (in *Interpreter) returnDoneEvent(doneData *Data) {
	g := in.global
	if g.CallerInvokeId == "" {
		return
	}
	ev := NewDoneInvoke(g.CallerInvokeId, doneData)
	in.trace(func(t Tracer) { t.Event("sent", ev) })
	switch {
	case g.CallerQueue != nil:
		g.CallerQueue.Enqueue(ev)
	case g.Executor != nil && g.ParentSessionId != 0:
		if err := g.Executor.SendToSession(g.ParentSessionId, ev); err != nil {
			log.Warn().Err(err).Msg("can't deliver done event to caller")
		}
	}
}

// selectEventlessTransitions selects enabled transitions that need no
// event trigger (W3C function selectEventlessTransitions).
func (in *Interpreter) selectEventlessTransitions() *OrderedSet[*Transition] {
	return in.selectTransitionsWith(func(t *Transition) bool {
		return len(t.Events) == 0 && !t.Wildcard && in.conditionMatch(t)
	})
}

// selectTransitions collects the transitions enabled by the event in
// the current configuration (W3C function selectTransitions).
func (in *Interpreter) selectTransitions(ev *Event) *OrderedSet[*Transition] {
	return in.selectTransitionsWith(func(t *Transition) bool {
		return (len(t.Events) > 0 || t.Wildcard) &&
			in.nameMatch(t, ev.Name) && in.conditionMatch(t)
	})
}

func (in *Interpreter) selectTransitionsWith(enabled func(*Transition) bool) *OrderedSet[*Transition] {
	enabledTransitions := NewOrderedSet[*Transition]()
	var atomicStates []StateId
	for _, sid := range in.global.Configuration.ToList() {
		if in.fsm.IsAtomicState(sid) {
			atomicStates = append(atomicStates, sid)
		}
	}
	for _, sid := range SortedStates(atomicStates, in.docOrder, false) {
		chain := append([]StateId{sid}, in.getProperAncestors(sid, 0)...)
	loop:
		for _, s := range chain {
			state := in.fsm.State(s)
			for _, tid := range state.Transitions {
				t := in.fsm.Transition(tid)
				if enabled(t) {
					enabledTransitions.Add(t)
					break loop
				}
			}
		}
	}
	return in.removeConflictingTransitions(enabledTransitions)
}

// nameMatch matches an event name against the transition's
// descriptors: exact match or a dot-boundary prefix; "*" matches
// everything; a trailing ".*" or "." on a descriptor is ignored.
func (in *Interpreter) nameMatch(t *Transition, name string) bool {
	if t.Wildcard {
		return true
	}
	for _, d := range t.Events {
		if d == "*" {
			return true
		}
		d = strings.TrimSuffix(d, ".*")
		d = strings.TrimSuffix(d, ".")
		if name == d || strings.HasPrefix(name, d+".") {
			return true
		}
	}
	return false
}

// conditionMatch evaluates a transition guard. Evaluation errors
// raise error.execution and disable the transition, per W3C 5.9.1.
func (in *Interpreter) conditionMatch(t *Transition) bool {
	if t.Cond == nil {
		return true
	}
	ok, err := in.datamodel.ExecuteCondition(t.Cond)
	if err != nil {
		in.global.EnqueueInternalError()
		return false
	}
	return ok
}

// removeConflictingTransitions resolves conflicts by preferring the
// transition whose source is a descendant, then document order (W3C
// function removeConflictingTransitions).
func (in *Interpreter) removeConflictingTransitions(enabledTransitions *OrderedSet[*Transition]) *OrderedSet[*Transition] {
	filteredTransitions := NewOrderedSet[*Transition]()
	for _, t1 := range enabledTransitions.ToList() {
		t1Preempted := false
		transitionsToRemove := NewOrderedSet[*Transition]()
		exitSet1 := in.computeExitSet([]*Transition{t1})
		for _, t2 := range filteredTransitions.ToList() {
			if exitSet1.HasIntersection(in.computeExitSet([]*Transition{t2})) {
				if in.isDescendant(t1.Source, t2.Source) {
					transitionsToRemove.Add(t2)
				} else {
					t1Preempted = true
					break
				}
			}
		}
		if !t1Preempted {
			for _, t3 := range transitionsToRemove.ToList() {
				filteredTransitions.Delete(t3)
			}
			filteredTransitions.Add(t1)
		}
	}
	return filteredTransitions
}

// microstep processes a single conflict-free set of transitions (W3C
// procedure microstep).
func (in *Interpreter) microstep(enabledTransitions []*Transition) {
	in.trace(func(t Tracer) { t.EnterMethod("microstep") })
	defer in.trace(func(t Tracer) { t.ExitMethod("microstep") })

	in.exitStates(enabledTransitions)
	in.executeTransitionContent(enabledTransitions)
	in.enterStates(enabledTransitions)
}

// exitStates computes and exits the exit set: record history, run
// onexit handlers in exit order, cancel invocations (W3C procedure
// exitStates).
func (in *Interpreter) exitStates(enabledTransitions []*Transition) {
	statesToExit := in.computeExitSet(enabledTransitions)
	for _, s := range statesToExit.ToList() {
		in.statesToInvoke.Delete(s)
	}
	ordered := SortedStates(statesToExit.ToList(), in.docOrder, true)

	for _, sid := range ordered {
		state := in.fsm.State(sid)
		for _, h := range state.History {
			history := in.fsm.State(h)
			record := NewOrderedSet[StateId]()
			if history.HistoryType == HistoryDeep {
				for _, s0 := range in.global.Configuration.ToList() {
					if in.fsm.IsAtomicState(s0) && in.isDescendant(s0, sid) {
						record.Add(s0)
					}
				}
			} else {
				for _, s0 := range in.global.Configuration.ToList() {
					if in.fsm.State(s0).Parent == sid {
						record.Add(s0)
					}
				}
			}
			in.global.HistoryValue[h] = record
		}
	}
	for _, sid := range ordered {
		state := in.fsm.State(sid)
		for _, content := range state.OnExit {
			ExecuteBlock(in.datamodel, in.fsm, content)
		}
		for _, invId := range state.Invokes {
			in.cancelInvoke(in.fsm.Invoke(invId))
		}
		in.global.Configuration.Delete(sid)
		in.trace(func(t Tracer) { t.State("exit", state.Name) })
	}
}

// computeExitSet collects the active states that are descendants of
// each transition's domain (W3C function computeExitSet).
func (in *Interpreter) computeExitSet(transitions []*Transition) *OrderedSet[StateId] {
	statesToExit := NewOrderedSet[StateId]()
	for _, t := range transitions {
		if len(t.Target) == 0 {
			continue
		}
		domain := in.getTransitionDomain(t)
		for _, s := range in.global.Configuration.ToList() {
			if in.isDescendant(s, domain) {
				statesToExit.Add(s)
			}
		}
	}
	return statesToExit
}

// executeTransitionContent runs transition bodies in selection order
// (W3C procedure executeTransitionContent).
func (in *Interpreter) executeTransitionContent(enabledTransitions []*Transition) {
	for _, t := range enabledTransitions {
		if t.Content != 0 {
			ExecuteBlock(in.datamodel, in.fsm, t.Content)
		}
	}
}

// enterStates enters the entry set in entry order, runs onentry
// handlers, queues done events and stops the machine on a top-level
// final state (W3C procedure enterStates).
func (in *Interpreter) enterStates(enabledTransitions []*Transition) {
	statesToEnter := NewOrderedSet[StateId]()
	statesForDefaultEntry := NewOrderedSet[StateId]()
	defaultHistoryContent := map[StateId]ExecutableContentId{}
	in.computeEntrySet(enabledTransitions, statesToEnter, statesForDefaultEntry, defaultHistoryContent)

	for _, sid := range SortedStates(statesToEnter.ToList(), in.docOrder, false) {
		state := in.fsm.State(sid)
		in.global.Configuration.Add(sid)
		in.statesToInvoke.Add(sid)
		if in.fsm.Binding == BindingLate && !in.enteredStates[sid] {
			in.datamodel.InitializeDataModel(in.fsm, sid, true)
		}
		in.enteredStates[sid] = true
		in.trace(func(t Tracer) { t.State("enter", state.Name) })

		for _, content := range state.OnEntry {
			ExecuteBlock(in.datamodel, in.fsm, content)
		}
		if statesForDefaultEntry.IsMember(sid) && state.Initial != 0 {
			if content := in.fsm.Transition(state.Initial).Content; content != 0 {
				ExecuteBlock(in.datamodel, in.fsm, content)
			}
		}
		if content, have := defaultHistoryContent[sid]; have && content != 0 {
			ExecuteBlock(in.datamodel, in.fsm, content)
		}

		if state.IsFinal {
			parent := state.Parent
			if in.fsm.IsScxmlElement(parent) {
				in.running = false
			} else {
				parentState := in.fsm.State(parent)
				in.global.EnqueueInternal(NewDoneState(parentState.Name,
					in.evaluateDoneData(state)))
				grandparent := parentState.Parent
				if in.fsm.IsParallelState(grandparent) {
					allFinal := true
					for _, child := range in.fsm.getChildStates(grandparent) {
						if !in.isInFinalState(child) {
							allFinal = false
							break
						}
					}
					if allFinal {
						in.global.EnqueueInternal(NewDoneState(
							in.fsm.State(grandparent).Name, nil))
					}
				}
			}
		}
	}
}

// computeEntrySet computes the complete set of states entered by
// taking the given transitions (W3C procedure computeEntrySet).
func (in *Interpreter) computeEntrySet(transitions []*Transition,
	statesToEnter, statesForDefaultEntry *OrderedSet[StateId],
	defaultHistoryContent map[StateId]ExecutableContentId) {

	for _, t := range transitions {
		for _, s := range t.Target {
			in.addDescendantStatesToEnter(s, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
		ancestor := in.getTransitionDomain(t)
		for _, s := range in.getEffectiveTargetStates(t).ToList() {
			in.addAncestorStatesToEnter(s, ancestor, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
	}
}

// addDescendantStatesToEnter adds a state and the descendants it
// pulls in: history values, default initial states, and the children
// of parallel states (W3C procedure addDescendantStatesToEnter).
func (in *Interpreter) addDescendantStatesToEnter(state StateId,
	statesToEnter, statesForDefaultEntry *OrderedSet[StateId],
	defaultHistoryContent map[StateId]ExecutableContentId) {

	if in.fsm.IsHistoryState(state) {
		historyState := in.fsm.State(state)
		if record, have := in.global.HistoryValue[state]; have {
			for _, s := range record.ToList() {
				in.addDescendantStatesToEnter(s, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
			}
			for _, s := range record.ToList() {
				in.addAncestorStatesToEnter(s, historyState.Parent, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
			}
		} else {
			// History states carry exactly one default
			// transition.
			var defaultTransition *Transition
			if len(historyState.Transitions) > 0 {
				defaultTransition = in.fsm.Transition(historyState.Transitions[0])
			}
			if defaultTransition == nil {
				return
			}
			defaultHistoryContent[historyState.Parent] = defaultTransition.Content
			for _, s := range defaultTransition.Target {
				in.addDescendantStatesToEnter(s, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
			}
			for _, s := range defaultTransition.Target {
				in.addAncestorStatesToEnter(s, historyState.Parent, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
			}
		}
		return
	}

	statesToEnter.Add(state)
	if in.fsm.IsCompoundState(state) {
		statesForDefaultEntry.Add(state)
		initial := in.initialTransition(in.fsm.State(state))
		for _, s := range initial.Target {
			in.addDescendantStatesToEnter(s, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
		for _, s := range initial.Target {
			in.addAncestorStatesToEnter(s, state, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
	} else if in.fsm.IsParallelState(state) {
		for _, child := range in.fsm.getChildStates(state) {
			if !statesToEnter.Some(func(s StateId) bool { return in.isDescendant(s, child) }) {
				in.addDescendantStatesToEnter(child, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
			}
		}
	}
}

// addAncestorStatesToEnter adds the ancestors between a state and the
// transition domain (W3C procedure addAncestorStatesToEnter).
func (in *Interpreter) addAncestorStatesToEnter(state, ancestor StateId,
	statesToEnter, statesForDefaultEntry *OrderedSet[StateId],
	defaultHistoryContent map[StateId]ExecutableContentId) {

	for _, anc := range in.getProperAncestors(state, ancestor) {
		statesToEnter.Add(anc)
		if in.fsm.IsParallelState(anc) {
			for _, child := range in.fsm.getChildStates(anc) {
				if !statesToEnter.Some(func(s StateId) bool { return in.isDescendant(s, child) }) {
					in.addDescendantStatesToEnter(child, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
				}
			}
		}
	}
}

// isInFinalState is true for a compound state with an active final
// child, and for a parallel state whose children are all in a final
// state (W3C function isInFinalState).
func (in *Interpreter) isInFinalState(s StateId) bool {
	if in.fsm.IsCompoundState(s) {
		for _, c := range in.fsm.getChildStates(s) {
			if in.fsm.IsFinalState(c) && in.global.Configuration.IsMember(c) {
				return true
			}
		}
		return false
	}
	if in.fsm.IsParallelState(s) {
		for _, c := range in.fsm.getChildStates(s) {
			if !in.isInFinalState(c) {
				return false
			}
		}
		return true
	}
	return false
}

// getTransitionDomain returns the smallest state containing every
// state exited or entered by the transition (W3C function
// getTransitionDomain).
func (in *Interpreter) getTransitionDomain(t *Transition) StateId {
	tstates := in.getEffectiveTargetStates(t)
	if tstates.IsEmpty() {
		return 0
	}
	if t.TType == TransitionInternal && in.fsm.IsCompoundState(t.Source) &&
		tstates.Every(func(s StateId) bool { return in.isDescendant(s, t.Source) }) {
		return t.Source
	}
	stateList := append([]StateId{t.Source}, tstates.ToList()...)
	return in.findLCCA(stateList)
}

// findLCCA returns the least common compound ancestor of the states
// (W3C function findLCCA).
func (in *Interpreter) findLCCA(stateList []StateId) StateId {
	head := stateList[0]
	tail := stateList[1:]
	for _, anc := range in.getProperAncestors(head, 0) {
		if !in.fsm.isCompoundStateOrScxmlElement(anc) {
			continue
		}
		all := true
		for _, s := range tail {
			if !in.isDescendant(s, anc) {
				all = false
				break
			}
		}
		if all {
			return anc
		}
	}
	return in.fsm.PseudoRoot
}

// getEffectiveTargetStates dereferences history states in the
// transition's targets (W3C function getEffectiveTargetStates).
func (in *Interpreter) getEffectiveTargetStates(t *Transition) *OrderedSet[StateId] {
	targets := NewOrderedSet[StateId]()
	for _, sid := range t.Target {
		if in.fsm.IsHistoryState(sid) {
			if record, have := in.global.HistoryValue[sid]; have {
				targets.Union(record)
			} else {
				historyState := in.fsm.State(sid)
				if len(historyState.Transitions) > 0 {
					targets.Union(in.getEffectiveTargetStates(
						in.fsm.Transition(historyState.Transitions[0])))
				}
			}
		} else {
			targets.Add(sid)
		}
	}
	return targets
}

// getProperAncestors returns the ancestors of state1 in ancestry
// order, up to but not including state2 (all ancestors including the
// pseudo-root if state2 is 0).
func (in *Interpreter) getProperAncestors(state1, state2 StateId) []StateId {
	var acc []StateId
	for s := in.fsm.State(state1); s != nil && s.Parent != 0; s = in.fsm.State(s.Parent) {
		if s.Parent == state2 {
			break
		}
		acc = append(acc, s.Parent)
	}
	return acc
}

// isDescendant is true if state1 is a proper descendant of state2.
func (in *Interpreter) isDescendant(state1, state2 StateId) bool {
	if state2 == 0 {
		return false
	}
	for s := in.fsm.State(state1); s != nil && s.Parent != 0; s = in.fsm.State(s.Parent) {
		if s.Parent == state2 {
			return true
		}
	}
	return false
}

// evaluateDoneData computes the done payload of a final state.
func (in *Interpreter) evaluateDoneData(state *State) *Data {
	if state.DoneData == nil {
		return nil
	}
	if state.DoneData.Content != nil {
		return EvaluateContent(in.datamodel, state.DoneData.Content)
	}
	if len(state.DoneData.Params) == 0 {
		return nil
	}
	values := map[string]*Data{}
	EvaluateParams(in.datamodel, state.DoneData.Params, values)
	return NewMap(values)
}

// invoke starts the child session for an <invoke> at the end of the
// macrostep in which its state was entered.
func (in *Interpreter) invoke(inv *Invoke) {
	in.trace(func(t Tracer) { t.EnterMethod("invoke") })
	defer in.trace(func(t Tracer) { t.ExitMethod("invoke") })

	dm := in.datamodel
	g := in.global

	typeName := inv.TypeName
	if inv.TypeExpr != "" {
		v, err := dm.Execute(NewSource(inv.TypeExpr, 0))
		if err != nil {
			g.EnqueueInternalError()
			return
		}
		typeName = v.String()
	}
	switch typeName {
	case "", ScxmlInvokeType, ScxmlInvokeTypeShort:
	default:
		// Only nested scxml sessions are supported.
		g.EnqueueInternalError()
		return
	}

	state := in.fsm.State(inv.ParentState)
	invokeId := inv.ExternalId
	if invokeId == "" {
		invokeId = state.Name + "." + uuid.NewString()
	}
	if inv.ExternalIdLocation != "" {
		dm.Assign(NewSource(inv.ExternalIdLocation, 0), NewString(invokeId))
	}

	src := inv.Src
	if inv.SrcExpr != "" {
		v, err := dm.Execute(NewSource(inv.SrcExpr, 0))
		if err != nil {
			g.EnqueueInternalError()
			return
		}
		src = v.String()
	}

	data := map[string]*Data{}
	EvaluateParams(dm, inv.Params, data)
	for _, name := range inv.NameList {
		if v, err := dm.GetByLocation(name); err == nil {
			data[name] = v.Copy()
		}
	}

	if g.Executor == nil {
		g.EnqueueInternal(NewErrorCommunication(nil))
		return
	}
	session, err := g.Executor.ExecuteInvoke(&InvokeCall{
		Src:           src,
		Content:       EvaluateContent(dm, inv.Content),
		ParentSession: g.SessionId,
		InvokeId:      invokeId,
		Data:          data,
	})
	if err != nil {
		log.Warn().Err(err).Str("src", src).Msg("invoke failed")
		g.EnqueueInternal(NewErrorCommunication(nil))
		return
	}
	g.ChildSessions[invokeId] = session
	in.invokeIds[inv.Id] = invokeId
}

// cancelInvoke cancels the child session of an invoke when its state
// is exited.
func (in *Interpreter) cancelInvoke(inv *Invoke) {
	runtimeId, active := in.invokeIds[inv.Id]
	if !active {
		return
	}
	delete(in.invokeIds, inv.Id)
	if child := in.global.ChildSessions[runtimeId]; child != nil {
		child.ExternalQueue.Enqueue(NewCancelSession())
	}
	delete(in.global.ChildSessions, runtimeId)
}

// applyFinalize runs the invoke's finalize block for an event coming
// back from the invoked session.
func (in *Interpreter) applyFinalize(inv *Invoke, _ *Event) {
	if inv.Finalize != 0 {
		ExecuteBlock(in.datamodel, in.fsm, inv.Finalize)
	}
}

// ValidateConfiguration checks the configuration invariants: for
// every active compound state exactly one child is active, for every
// active parallel state every child is active.
func ValidateConfiguration(f *Fsm, configuration *OrderedSet[StateId]) error {
	for _, sid := range configuration.ToList() {
		state := f.State(sid)
		if f.IsCompoundState(sid) {
			active := 0
			for _, c := range f.getChildStates(sid) {
				if configuration.IsMember(c) {
					active++
				}
			}
			if active != 1 {
				return fmt.Errorf("compound state '%s' has %d active children", state.Name, active)
			}
		}
		if state.IsParallel {
			for _, c := range f.getChildStates(sid) {
				if !configuration.IsMember(c) {
					return fmt.Errorf("parallel state '%s' has inactive child", state.Name)
				}
			}
		}
	}
	return nil
}
