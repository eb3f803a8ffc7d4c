package fsm

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Names of the datamodels this module registers.
const (
	NullDatamodelName       = "null"
	ExpressionDatamodelName = "rfsm-expression"
	ECMAScriptDatamodelName = "ecmascript"
)

// System variable names per W3C 5.10.
const (
	SessionIdVariable    = "_sessionid"
	SessionNameVariable  = "_name"
	EventVariable        = "_event"
	IOProcessorsVariable = "_ioprocessors"
	PlatformVariable     = "_x"
)

// Invoke type URIs. Processors may use the short form "scxml".
const (
	ScxmlInvokeType      = "http://www.w3.org/TR/scxml/"
	ScxmlInvokeTypeShort = "scxml"
)

// SCXML event-I/O processor type and special <send> targets per W3C
// C.1.
const (
	ScxmlEventProcessor          = "http://www.w3.org/TR/scxml/#SCXMLEventProcessor"
	ScxmlEventProcessorShortType = "scxml"

	ScxmlTargetInternal      = "#_internal"
	ScxmlTargetParent        = "#_parent"
	ScxmlTargetSessionPrefix = "#_scxml_"
	ScxmlTargetInvokePrefix  = "#_"
)

// Datamodel is the capability surface the interpreter drives. A
// datamodel owns the GlobalData of its session and evaluates the
// Source chunks stored in the model.
type Datamodel interface {
	// GetName returns the name used in the scxml "datamodel"
	// attribute.
	GetName() string

	// Global returns the per-session shared data.
	Global() *GlobalData

	// AddFunctions installs the mandatory functionality (at least
	// the In() predicate) for the given model.
	AddFunctions(f *Fsm)

	// InitializeDataModel loads the <data> declarations of the
	// given state. With setData false the names are declared but
	// left unbound (late binding declares everything up front).
	InitializeDataModel(f *Fsm, state StateId, setData bool)

	// InitializeReadOnly installs a system variable.
	InitializeReadOnly(name string, value *Data)

	// Set sets a variable, creating it if needed.
	Set(name string, value *Data)

	// Get reads a variable; nil if unbound.
	Get(name string) *Data

	// SetEvent publishes _event.
	SetEvent(ev *Event)

	// Assign evaluates a location expression and stores value
	// there. A missing or read-only location fails; the datamodel
	// raises error.execution itself and returns false.
	Assign(location *Data, value *Data) bool

	// GetByLocation reads a location expression.
	GetByLocation(location string) (*Data, error)

	// Execute runs a script chunk and returns its result.
	Execute(script *Data) (*Data, error)

	// ExecuteCondition evaluates a conditional expression. A
	// result that is not a boolean is an error per W3C.
	ExecuteCondition(cond *Data) (bool, error)

	// ExecuteForEach iterates an array expression, binding item
	// (and index, if non-empty) before each body call. The body
	// returns false to abort.
	ExecuteForEach(arrayExpr *Data, item string, index string, body func() bool) bool

	// IOProcessors exposes the event-I/O processors for this
	// session.
	IOProcessors() map[string]EventProcessor

	// Log implements <log>.
	Log(msg string)

	// Clear drops per-session evaluation state.
	Clear()
}

// DatamodelFactory creates datamodel instances; registered by name at
// process init.
type DatamodelFactory interface {
	Create(global *GlobalData, options map[string]string) Datamodel
}

// ErrUnknownDatamodel occurs when a model names a datamodel that was
// not registered.
var ErrUnknownDatamodel = errors.New("unknown datamodel")

var datamodelFactories = map[string]DatamodelFactory{}

// RegisterDatamodel adds a factory under a case-insensitive name.
func RegisterDatamodel(name string, factory DatamodelFactory) {
	datamodelFactories[strings.ToLower(name)] = factory
}

// CreateDatamodel instantiates the named datamodel. The empty name
// selects the Null datamodel.
func CreateDatamodel(name string, global *GlobalData, options map[string]string) (Datamodel, error) {
	if name == "" {
		name = NullDatamodelName
	}
	factory, have := datamodelFactories[strings.ToLower(name)]
	if !have {
		return nil, ErrUnknownDatamodel
	}
	return factory.Create(global, options), nil
}

// EventProcessor is an event-I/O processor. Each processor advertises
// a location URI per session and a set of type URIs; a <send> whose
// type matches dispatches through it.
type EventProcessor interface {
	// Location returns the session-specific location URI.
	Location(id SessionId) string

	// Types returns the type URIs (long form first).
	Types() []string

	// Send dispatches ev to target. On failure the processor has
	// already queued the appropriate error event; the return
	// value only signals success.
	Send(global *GlobalData, target string, ev *Event) bool

	// Shutdown releases processor resources.
	Shutdown()
}

// Executor is the back-channel a session uses to reach its siblings:
// cross-session sends, invoke starts, and the delayed-send timers.
type Executor interface {
	// SendToSession enqueues on the external queue of the session.
	SendToSession(id SessionId, ev *Event) error

	// ExecuteInvoke starts a child session for an <invoke>.
	ExecuteInvoke(call *InvokeCall) (*Session, error)

	// RemoveSession drops a finished session from the registry.
	RemoveSession(id SessionId)

	// ScheduleSend runs deliver after delay unless cancelled. The
	// send-id is scoped to the owning session.
	ScheduleSend(owner SessionId, sendId string, delay time.Duration, deliver func())

	// CancelSend cancels a scheduled send; a cancelled send is
	// never delivered.
	CancelSend(owner SessionId, sendId string) bool
}

// InvokeCall carries everything the executor needs to start a child
// session.
type InvokeCall struct {
	// Src names the child document, resolved through the
	// executor's loader.
	Src string

	// Content optionally carries an inline child model source.
	Content *Data

	ParentSession SessionId
	InvokeId      string
	Data          map[string]*Data
	Trace         TraceMode
}

// Session is the runnable instance handle the executor keeps.
type Session struct {
	Id SessionId

	// ExternalQueue is the session's external event queue; it is
	// the only way in from other goroutines.
	ExternalQueue *BlockingQueue

	// InvokeId is set when this session was started by <invoke>.
	InvokeId string

	// Finished is closed by the worker after exitInterpreter; the
	// value holds the names of the states active at exit.
	Finished chan []string

	global *GlobalData
}

// GlobalData returns the session's shared data (owned by the
// session's worker; other goroutines interact through the queue).
func (s *Session) GlobalData() *GlobalData { return s.global }

// GlobalData is the per-session state reachable to the datamodel. It
// is owned by the session's worker goroutine.
type GlobalData struct {
	SessionId SessionId

	// Name is the model's name, published as _name.
	Name string

	Configuration *OrderedSet[StateId]
	HistoryValue  map[StateId]*OrderedSet[StateId]
	Data          *DataStore

	InternalQueue *Queue[*Event]
	ExternalQueue *BlockingQueue

	// ParentSessionId and CallerInvokeId identify the invoking
	// session, if any.
	ParentSessionId SessionId
	CallerInvokeId  string

	// CallerQueue is the caller's external queue, used to deliver
	// done.invoke when no executor routes it.
	CallerQueue *BlockingQueue

	// ChildSessions maps invoke ids to running child sessions.
	ChildSessions map[string]*Session

	IOProcessors map[string]EventProcessor

	Executor Executor

	// FinalConfiguration records the state names active when the
	// interpreter exited.
	FinalConfiguration []string
}

func NewGlobalData() *GlobalData {
	return &GlobalData{
		Configuration: NewOrderedSet[StateId](),
		HistoryValue:  map[StateId]*OrderedSet[StateId]{},
		Data:          NewDataStore(),
		InternalQueue: NewQueue[*Event](),
		ExternalQueue: NewBlockingQueue(),
		ChildSessions: map[string]*Session{},
		IOProcessors:  map[string]EventProcessor{},
	}
}

// EnqueueInternal puts an event on the internal queue.
func (g *GlobalData) EnqueueInternal(ev *Event) {
	g.InternalQueue.Enqueue(ev)
}

// EnqueueInternalError raises error.execution on the internal queue.
func (g *GlobalData) EnqueueInternalError() {
	g.InternalQueue.Enqueue(NewErrorExecution("", ""))
}

// NullDatamodelFactory creates the W3C B.1 Null datamodel.
type NullDatamodelFactory struct{}

func (NullDatamodelFactory) Create(global *GlobalData, _ map[string]string) Datamodel {
	return &NullDatamodel{global: global}
}

func init() {
	RegisterDatamodel(NullDatamodelName, NullDatamodelFactory{})
}

// NullDatamodel is the W3C B.1 datamodel: no data, no scripting, and
// a condition language consisting of the In(id) predicate only.
type NullDatamodel struct {
	global        *GlobalData
	stateNameToId map[string]StateId
}

var nullInRe = regexp.MustCompile(`In\((.*)\)`)

func (dm *NullDatamodel) GetName() string     { return NullDatamodelName }
func (dm *NullDatamodel) Global() *GlobalData { return dm.global }

func (dm *NullDatamodel) AddFunctions(f *Fsm) {
	dm.stateNameToId = make(map[string]StateId, len(f.States))
	for _, s := range f.States {
		dm.stateNameToId[s.Name] = s.Id
	}
}

func (dm *NullDatamodel) InitializeDataModel(*Fsm, StateId, bool) {}
func (dm *NullDatamodel) InitializeReadOnly(string, *Data)        {}
func (dm *NullDatamodel) Set(string, *Data)                       {}
func (dm *NullDatamodel) Get(string) *Data                        { return nil }
func (dm *NullDatamodel) SetEvent(*Event)                         {}

func (dm *NullDatamodel) Assign(*Data, *Data) bool {
	// No location expression language.
	return true
}

func (dm *NullDatamodel) GetByLocation(string) (*Data, error) {
	return nil, errors.New("no location expressions in the null datamodel")
}

func (dm *NullDatamodel) Execute(*Data) (*Data, error) {
	return nil, errors.New("no scripting in the null datamodel")
}

// ExecuteCondition accepts only the literal In('state') form.
func (dm *NullDatamodel) ExecuteCondition(cond *Data) (bool, error) {
	if cond == nil {
		return true, nil
	}
	m := nullInRe.FindStringSubmatch(cond.String())
	if m == nil {
		return false, nil
	}
	name := strings.TrimSpace(m[1])
	name = strings.TrimPrefix(name, "'")
	name = strings.TrimSuffix(name, "'")
	id, have := dm.stateNameToId[name]
	if !have {
		return false, nil
	}
	return dm.global.Configuration.IsMember(id), nil
}

func (dm *NullDatamodel) ExecuteForEach(*Data, string, string, func() bool) bool {
	return true
}

func (dm *NullDatamodel) IOProcessors() map[string]EventProcessor {
	return dm.global.IOProcessors
}

func (dm *NullDatamodel) Log(msg string) {
	log.Info().Str("datamodel", NullDatamodelName).Msg(msg)
}

func (dm *NullDatamodel) Clear() {}
