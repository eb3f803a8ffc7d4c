package fsm

// Dense integer handles into the per-FSM arenas. The zero value of
// every id type means "none".
type (
	StateId             int
	TransitionId        int
	ExecutableContentId int
	InvokeId            int
	DocumentId          int
	SessionId           uint32
)

// BindingType selects early or late datamodel initialization.
type BindingType int

const (
	BindingEarly BindingType = iota
	BindingLate
)

// HistoryType marks history pseudo-states.
type HistoryType int

const (
	HistoryNone HistoryType = iota
	HistoryShallow
	HistoryDeep
)

// TransitionType distinguishes internal and external transitions.
type TransitionType int

const (
	TransitionExternal TransitionType = iota
	TransitionInternal
)

// DataSpec is one <data> declaration of a state.
type DataSpec struct {
	Name string
	// Expr is a Source chunk to evaluate, or a literal value, or
	// nil for an unbound declaration.
	Expr *Data
}

// Param mirrors <param>: a name plus either an expression or a
// location to read from.
type Param struct {
	Name     string
	Expr     string
	Location string
}

// CommonContent mirrors <content>: literal text (kept opaque, never
// reparsed) or an expression.
type CommonContent struct {
	Content     string
	HasContent  bool
	ContentExpr string
}

// DoneData is the payload specification of a <final> state.
type DoneData struct {
	Content *CommonContent
	Params  []Param
}

// State is one node of the statechart. "State" covers <state>,
// <parallel>, <final> and <history> elements. All relations are ids;
// the arena in Fsm owns the nodes.
type State struct {
	Id    StateId
	Name  string
	DocId DocumentId

	// Initial is the generated initial transition of a compound
	// state (0 if there is none; the algorithm then enters the first
	// child in document order).
	Initial TransitionId

	// States lists the children in document order.
	States []StateId

	IsParallel  bool
	IsFinal     bool
	HistoryType HistoryType

	OnEntry     []ExecutableContentId
	OnExit      []ExecutableContentId
	Transitions []TransitionId

	// Invokes are ids into the invoke arena.
	Invokes []InvokeId

	// History lists the history pseudo-state children.
	History []StateId

	Data []DataSpec

	Parent   StateId
	DoneData *DoneData
}

// Transition is a guarded edge. Targetless transitions have an empty
// Target list.
type Transition struct {
	Id    TransitionId
	DocId DocumentId

	// Events holds the compiled event descriptors; empty for an
	// eventless transition.
	Events   []string
	Wildcard bool

	// Cond is a Source chunk for the datamodel, or nil.
	Cond *Data

	Source  StateId
	Target  []StateId
	TType   TransitionType
	Content ExecutableContentId
}

// Invoke is the compiled form of an <invoke> element.
type Invoke struct {
	Id    InvokeId
	DocId DocumentId

	TypeName string
	TypeExpr string

	Src     string
	SrcExpr string

	// ExternalId is the document-fixed invoke id; if empty, an id
	// of the form "<stateName>.<platformid>" is generated.
	ExternalId         string
	ExternalIdLocation string

	Autoforward bool

	Content  *CommonContent
	Params   []Param
	NameList []string

	Finalize    ExecutableContentId
	ParentState StateId
}

// Fsm is the compiled, immutable statechart model. It is shared
// read-only between the sessions that run it.
type Fsm struct {
	Name          string
	Version       string
	DatamodelName string
	Binding       BindingType

	// PseudoRoot is the state generated for the <scxml> element.
	PseudoRoot StateId

	// The arenas. Ids are indexes shifted by one, so id 0 stays
	// free as the "none" sentinel.
	States      []*State
	Transitions []*Transition
	Invokes     []*Invoke

	// Executables holds the compiled executable-content blocks.
	Executables [][]ExecutableContent

	// Script is the global <script> block (0 if none).
	Script ExecutableContentId

	nameToState map[string]StateId
}

// NewFsm creates an empty model with a pseudo-root.
func NewFsm(name string, datamodel string) *Fsm {
	f := &Fsm{
		Name:          name,
		Version:       "1.0",
		DatamodelName: datamodel,
		nameToState:   map[string]StateId{},
	}
	root := f.NewState("__scxml_" + name)
	f.PseudoRoot = root.Id
	return f
}

// NewState allocates a state in the arena.
func (f *Fsm) NewState(name string) *State {
	s := &State{
		Id:    StateId(len(f.States) + 1),
		Name:  name,
		DocId: DocumentId(len(f.States) + len(f.Transitions) + 1),
	}
	f.States = append(f.States, s)
	if f.nameToState == nil {
		f.nameToState = map[string]StateId{}
	}
	f.nameToState[name] = s.Id
	return s
}

// NewTransition allocates a transition in the arena and attaches it
// to its source state.
func (f *Fsm) NewTransition(source StateId) *Transition {
	t := &Transition{
		Id:     TransitionId(len(f.Transitions) + 1),
		DocId:  DocumentId(len(f.States) + len(f.Transitions) + 1),
		Source: source,
	}
	f.Transitions = append(f.Transitions, t)
	if s := f.State(source); s != nil {
		s.Transitions = append(s.Transitions, t.Id)
	}
	return t
}

// NewInitialTransition allocates the initial transition of a
// compound state. It only selects the default entry set and is not
// part of the state's outgoing transitions, so it can never be
// picked up as an eventless transition.
func (f *Fsm) NewInitialTransition(source StateId) *Transition {
	t := &Transition{
		Id:     TransitionId(len(f.Transitions) + 1),
		DocId:  DocumentId(len(f.States) + len(f.Transitions) + 1),
		Source: source,
	}
	f.Transitions = append(f.Transitions, t)
	if s := f.State(source); s != nil {
		s.Initial = t.Id
	}
	return t
}

// NewInvoke allocates an invoke record.
func (f *Fsm) NewInvoke(parent StateId) *Invoke {
	inv := &Invoke{
		Id:          InvokeId(len(f.Invokes) + 1),
		DocId:       DocumentId(len(f.States) + len(f.Transitions) + len(f.Invokes) + 1),
		ParentState: parent,
	}
	f.Invokes = append(f.Invokes, inv)
	if s := f.State(parent); s != nil {
		s.Invokes = append(s.Invokes, inv.Id)
	}
	return inv
}

// NewExecutableBlock allocates an executable-content block and
// returns its id.
func (f *Fsm) NewExecutableBlock(content ...ExecutableContent) ExecutableContentId {
	f.Executables = append(f.Executables, content)
	return ExecutableContentId(len(f.Executables))
}

// AddChild appends a child in document order and sets its parent.
func (f *Fsm) AddChild(parent, child StateId) {
	p := f.State(parent)
	c := f.State(child)
	if p == nil || c == nil {
		return
	}
	p.States = append(p.States, child)
	c.Parent = parent
	if c.HistoryType != HistoryNone {
		p.History = append(p.History, child)
	}
}

// State resolves a state id (nil for the none sentinel).
func (f *Fsm) State(id StateId) *State {
	if id <= 0 || int(id) > len(f.States) {
		return nil
	}
	return f.States[id-1]
}

// Transition resolves a transition id.
func (f *Fsm) Transition(id TransitionId) *Transition {
	if id <= 0 || int(id) > len(f.Transitions) {
		return nil
	}
	return f.Transitions[id-1]
}

// Invoke resolves an invoke id.
func (f *Fsm) Invoke(id InvokeId) *Invoke {
	if id <= 0 || int(id) > len(f.Invokes) {
		return nil
	}
	return f.Invokes[id-1]
}

// Executable resolves a block id.
func (f *Fsm) Executable(id ExecutableContentId) []ExecutableContent {
	if id <= 0 || int(id) > len(f.Executables) {
		return nil
	}
	return f.Executables[id-1]
}

// StateByName resolves a state by its name.
func (f *Fsm) StateByName(name string) StateId {
	if f.nameToState == nil {
		f.rebuildNameIndex()
	}
	return f.nameToState[name]
}

func (f *Fsm) rebuildNameIndex() {
	f.nameToState = make(map[string]StateId, len(f.States))
	for _, s := range f.States {
		f.nameToState[s.Name] = s.Id
	}
}

// Model predicates, following the W3C definitions.

func (f *Fsm) IsScxmlElement(id StateId) bool {
	return id == f.PseudoRoot
}

func (f *Fsm) IsFinalState(id StateId) bool {
	s := f.State(id)
	return s != nil && s.IsFinal
}

func (f *Fsm) IsParallelState(id StateId) bool {
	s := f.State(id)
	return s != nil && s.IsParallel
}

func (f *Fsm) IsHistoryState(id StateId) bool {
	s := f.State(id)
	return s != nil && s.HistoryType != HistoryNone
}

// IsCompoundState is true for a non-parallel state with children
// (excluding the pseudo-root, which the algorithm treats as compound
// for LCCA purposes via isCompoundStateOrScxmlElement).
func (f *Fsm) IsCompoundState(id StateId) bool {
	s := f.State(id)
	return s != nil && !s.IsParallel && s.HistoryType == HistoryNone &&
		len(f.getChildStates(id)) > 0 && id != f.PseudoRoot
}

func (f *Fsm) isCompoundStateOrScxmlElement(id StateId) bool {
	return id == f.PseudoRoot || f.IsCompoundState(id)
}

// IsAtomicState is true for a state without children (final states
// included, history pseudo-states excluded).
func (f *Fsm) IsAtomicState(id StateId) bool {
	s := f.State(id)
	return s != nil && len(f.getChildStates(id)) == 0 && !s.IsParallel &&
		s.HistoryType == HistoryNone
}

// DocOrder returns the document order key of a state.
func (f *Fsm) DocOrder(id StateId) DocumentId {
	if s := f.State(id); s != nil {
		return s.DocId
	}
	return 0
}

// getChildStates returns all <state>, <final> and <parallel>
// children (history pseudo-states are not children in the W3C sense).
func (f *Fsm) getChildStates(id StateId) []StateId {
	s := f.State(id)
	if s == nil {
		return nil
	}
	acc := make([]StateId, 0, len(s.States))
	for _, c := range s.States {
		if !f.IsHistoryState(c) {
			acc = append(acc, c)
		}
	}
	return acc
}
