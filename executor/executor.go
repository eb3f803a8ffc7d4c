// Package executor maintains FSM sessions: it loads models through a
// pluggable loader, runs one worker per session, routes events
// between sessions and schedules delayed sends.
package executor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/BWeng20/ruFSM/fsm"
)

// Loader resolves a source name to a compiled model. The SCXML
// reader and the rfsm deserializer live behind this seam.
type Loader interface {
	Load(source string, includePaths []string) (*fsm.Fsm, error)
}

// MemoryLoader serves models registered in memory; the executor's
// default when the embedding host compiles its own models.
type MemoryLoader struct {
	mu     sync.RWMutex
	models map[string]*fsm.Fsm
}

func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{models: map[string]*fsm.Fsm{}}
}

func (l *MemoryLoader) Register(name string, f *fsm.Fsm) {
	l.mu.Lock()
	l.models[name] = f
	l.mu.Unlock()
}

func (l *MemoryLoader) Load(source string, _ []string) (*fsm.Fsm, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if f, have := l.models[source]; have {
		return f, nil
	}
	return nil, fmt.Errorf("unknown model '%s'", source)
}

// ErrUnknownSession occurs when an event targets a session that is
// not (or no longer) registered.
var ErrUnknownSession = errors.New("unknown session")

// FsmExecutor owns the set of live sessions, the event-I/O processor
// registry and the delayed-send timers.
type FsmExecutor struct {
	mu         sync.RWMutex
	sessions   map[fsm.SessionId]*fsm.Session
	processors []fsm.EventProcessor

	datamodelOptions map[string]string
	includePaths     []string
	loader           Loader
	timers           *Timers

	sessionCounter uint32
}

// New creates an executor with the scxml event-I/O processor
// registered.
func New(loader Loader) *FsmExecutor {
	if loader == nil {
		loader = NewMemoryLoader()
	}
	e := &FsmExecutor{
		sessions:         map[fsm.SessionId]*fsm.Session{},
		datamodelOptions: map[string]string{},
		loader:           loader,
		timers:           NewTimers(),
	}
	e.AddProcessor(NewScxmlEventProcessor(e))
	return e
}

// AddProcessor registers an event-I/O processor for all sessions
// started afterwards.
func (e *FsmExecutor) AddProcessor(p fsm.EventProcessor) {
	e.mu.Lock()
	e.processors = append(e.processors, p)
	e.mu.Unlock()
}

// SetIncludePaths sets the search paths handed to the loader.
func (e *FsmExecutor) SetIncludePaths(paths []string) {
	e.mu.Lock()
	e.includePaths = append([]string(nil), paths...)
	e.mu.Unlock()
}

// SetDatamodelOption passes a key/value option to datamodel
// construction.
func (e *FsmExecutor) SetDatamodelOption(key, value string) {
	e.mu.Lock()
	e.datamodelOptions[key] = value
	e.mu.Unlock()
}

// Loader returns the model loader.
func (e *FsmExecutor) Loader() Loader { return e.loader }

// Execute loads and starts the specified model.
func (e *FsmExecutor) Execute(source string, trace fsm.TraceMode) (fsm.SessionId, error) {
	session, err := e.executeWithData(source, nil, nil, 0, "", trace)
	if err != nil {
		return 0, err
	}
	return session.Id, nil
}

// ExecuteWithData loads and starts the specified model with initial
// data overrides.
func (e *FsmExecutor) ExecuteWithData(source string, data map[string]*fsm.Data,
	trace fsm.TraceMode) (fsm.SessionId, error) {
	session, err := e.executeWithData(source, nil, data, 0, "", trace)
	if err != nil {
		return 0, err
	}
	return session.Id, nil
}

func (e *FsmExecutor) executeWithData(source string, model *fsm.Fsm,
	data map[string]*fsm.Data, parent fsm.SessionId, invokeId string,
	trace fsm.TraceMode) (*fsm.Session, error) {

	e.mu.RLock()
	includePaths := e.includePaths
	options := e.datamodelOptions
	processors := append([]fsm.EventProcessor(nil), e.processors...)
	e.mu.RUnlock()

	if model == nil {
		log.Info().Str("source", source).Msg("loading FSM")
		loaded, err := e.loader.Load(source, includePaths)
		if err != nil {
			return nil, err
		}
		model = loaded
	}

	procMap := map[string]fsm.EventProcessor{}
	for _, p := range processors {
		for _, t := range p.Types() {
			procMap[t] = p
		}
	}

	id := fsm.SessionId(atomic.AddUint32(&e.sessionCounter, 1))

	e.mu.Lock()
	defer e.mu.Unlock()
	// The "datamodel" option overrides the model's declaration.
	session, err := fsm.StartFsm(model, fsm.StartOptions{
		SessionId:        id,
		DatamodelName:    options["datamodel"],
		DatamodelOptions: options,
		Trace:            trace,
		Data:             data,
		Executor:         e,
		ParentSessionId:  parent,
		CallerInvokeId:   invokeId,
		IOProcessors:     procMap,
	})
	if err != nil {
		return nil, err
	}
	e.sessions[id] = session
	return session, nil
}

// SendToSession enqueues an event on the external queue of the given
// session.
func (e *FsmExecutor) SendToSession(id fsm.SessionId, ev *fsm.Event) error {
	sender, err := e.GetSessionSender(id)
	if err != nil {
		return err
	}
	sender.Enqueue(ev)
	return nil
}

// Session returns the handle of a live session.
func (e *FsmExecutor) Session(id fsm.SessionId) (*fsm.Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	session, have := e.sessions[id]
	return session, have
}

// GetSessionSender returns the external queue of a session for bulk
// producers.
func (e *FsmExecutor) GetSessionSender(id fsm.SessionId) (*fsm.BlockingQueue, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	session, have := e.sessions[id]
	if !have {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSession, id)
	}
	return session.ExternalQueue, nil
}

// ExecuteInvoke starts a child session for an <invoke>.
func (e *FsmExecutor) ExecuteInvoke(call *fsm.InvokeCall) (*fsm.Session, error) {
	source := call.Src
	if source == "" && call.Content != nil {
		source = call.Content.String()
	}
	if source == "" {
		return nil, errors.New("invoke without source")
	}
	return e.executeWithData(source, nil, call.Data, call.ParentSession,
		call.InvokeId, call.Trace)
}

// RemoveSession drops a session from the registry and cancels its
// pending delayed sends. Called by the session's own worker when it
// finishes, and by embedders after observing the done event.
func (e *FsmExecutor) RemoveSession(id fsm.SessionId) {
	e.timers.CancelAll(id)
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
}

// ScheduleSend implements the delayed-send part of <send>.
func (e *FsmExecutor) ScheduleSend(owner fsm.SessionId, sendId string,
	delay time.Duration, deliver func()) {
	e.timers.Add(owner, sendId, delay, deliver)
}

// CancelSend implements <cancel>.
func (e *FsmExecutor) CancelSend(owner fsm.SessionId, sendId string) bool {
	return e.timers.Rem(owner, sendId)
}

// Shutdown cancels all sessions, drains their workers and shuts the
// I/O processors down.
func (e *FsmExecutor) Shutdown() {
	e.mu.Lock()
	sessions := make([]*fsm.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	processors := e.processors
	e.processors = nil
	e.mu.Unlock()

	for _, s := range sessions {
		s.ExternalQueue.Enqueue(fsm.NewCancelSession())
	}

	var group errgroup.Group
	for _, s := range sessions {
		finished := s.Finished
		group.Go(func() error {
			<-finished
			return nil
		})
	}
	_ = group.Wait()

	for _, p := range processors {
		p.Shutdown()
	}
	e.timers.Stop()
}
