package fsm

// EventType classifies a queued stimulus per W3C 5.10.1.
type EventType int

const (
	EventPlatform EventType = iota
	EventInternal
	EventExternal
)

func (t EventType) String() string {
	switch t {
	case EventPlatform:
		return "platform"
	case EventInternal:
		return "internal"
	}
	return "external"
}

// Well-known platform event names.
const (
	EventErrorExecution     = "error.execution"
	EventErrorCommunication = "error.communication"
	EventErrorPlatform      = "error.platform"
	EventDoneStatePrefix    = "done.state."
	EventDoneInvokePrefix   = "done.invoke."

	// EventCancelSession is the platform event the executor posts
	// to cancel a session from outside.
	EventCancelSession = "cancelSession"
)

// Event is a queued stimulus.
type Event struct {
	Name       string
	Etype      EventType
	SendId     string
	Origin     string
	OriginType string
	InvokeId   string

	Data *Data

	// Lang tags the payload language for foreign processors.
	Lang string

	// Raw optionally carries the unparsed wire form. Nothing in
	// this module populates it (known partial conformance for the
	// basic HTTP processor's optional tests).
	Raw []byte
}

// NewSimpleEvent makes an external event with just a name.
func NewSimpleEvent(name string) *Event {
	return &Event{Name: name, Etype: EventExternal}
}

// NewDoneState makes the internal done.state.<id> event.
func NewDoneState(stateName string, data *Data) *Event {
	return &Event{
		Name:  EventDoneStatePrefix + stateName,
		Etype: EventInternal,
		Data:  data,
	}
}

// NewDoneInvoke makes the external done.invoke.<invokeid> event that
// a finished child session sends to its caller.
func NewDoneInvoke(invokeId string, data *Data) *Event {
	return &Event{
		Name:     EventDoneInvokePrefix + invokeId,
		Etype:    EventExternal,
		InvokeId: invokeId,
		Data:     data,
	}
}

// NewErrorExecution makes the platform error.execution event.
func NewErrorExecution(sendId, invokeId string) *Event {
	return &Event{
		Name:     EventErrorExecution,
		Etype:    EventPlatform,
		SendId:   sendId,
		InvokeId: invokeId,
	}
}

// NewErrorExecutionForEvent carries send/invoke correlation over
// from the offending event.
func NewErrorExecutionForEvent(ev *Event) *Event {
	if ev == nil {
		return NewErrorExecution("", "")
	}
	return NewErrorExecution(ev.SendId, ev.InvokeId)
}

// NewErrorCommunication makes the platform error.communication event
// for a failed send.
func NewErrorCommunication(ev *Event) *Event {
	e := &Event{Name: EventErrorCommunication, Etype: EventPlatform}
	if ev != nil {
		e.SendId = ev.SendId
		e.InvokeId = ev.InvokeId
	}
	return e
}

// NewErrorPlatform makes the fatal platform error event.
func NewErrorPlatform(msg string) *Event {
	return &Event{
		Name:  EventErrorPlatform,
		Etype: EventPlatform,
		Data:  NewString(msg),
	}
}

// NewCancelSession makes the executor's cancel event.
func NewCancelSession() *Event {
	return &Event{Name: EventCancelSession, Etype: EventPlatform}
}

// IsCancelEvent recognizes the platform cancel event.
func (ev *Event) IsCancelEvent() bool {
	return ev != nil && ev.Etype == EventPlatform && ev.Name == EventCancelSession
}

// Copy makes a deep copy (used for autoforwarding).
func (ev *Event) Copy() *Event {
	if ev == nil {
		return nil
	}
	c := *ev
	c.Data = ev.Data.Copy()
	if ev.Raw != nil {
		c.Raw = append([]byte(nil), ev.Raw...)
	}
	return &c
}
