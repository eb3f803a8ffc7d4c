package fsm

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type tags of the executable-content records, also used by the
// binary serializer.
const (
	TypeIf byte = iota
	TypeExpression
	TypeScript
	TypeLog
	TypeForEach
	TypeSend
	TypeRaise
	TypeCancel
	TypeAssign
)

// ExecutableContent is one compiled action record. Execute returns
// false only for failures that must abort the surrounding block
// (foreach bodies); document errors are reported as error.execution
// events and execution continues.
type ExecutableContent interface {
	TypeId() byte
	Execute(dm Datamodel, f *Fsm) bool
}

// ExecuteBlock runs an executable-content block.
func ExecuteBlock(dm Datamodel, f *Fsm, id ExecutableContentId) bool {
	for _, ec := range f.Executable(id) {
		if !ec.Execute(dm, f) {
			return false
		}
	}
	return true
}

// Raise implements <raise>: an internal event in the same session.
type Raise struct {
	Event string
}

func (*Raise) TypeId() byte { return TypeRaise }

func (r *Raise) Execute(dm Datamodel, _ *Fsm) bool {
	dm.Global().EnqueueInternal(&Event{Name: r.Event, Etype: EventInternal})
	return true
}

// Log implements <log>.
type Log struct {
	Label      string
	Expression *Data
}

func (*Log) TypeId() byte { return TypeLog }

func (l *Log) Execute(dm Datamodel, _ *Fsm) bool {
	msg := ""
	if l.Expression != nil {
		v, err := dm.Execute(l.Expression)
		if err != nil {
			dm.Global().EnqueueInternalError()
			return true
		}
		msg = v.String()
	}
	if l.Label != "" {
		msg = l.Label + ": " + msg
	}
	dm.Log(msg)
	return true
}

// Expression implements <script> bodies and the content of generated
// initial transitions: a chunk evaluated for its side effects.
type Expression struct {
	Content *Data
}

func (*Expression) TypeId() byte { return TypeExpression }

func (e *Expression) Execute(dm Datamodel, _ *Fsm) bool {
	if _, err := dm.Execute(e.Content); err != nil {
		dm.Global().EnqueueInternalError()
	}
	return true
}

// Assign implements <assign location="..." expr="...">.
type Assign struct {
	Location *Data
	Expr     *Data
}

func (*Assign) TypeId() byte { return TypeAssign }

func (a *Assign) Execute(dm Datamodel, _ *Fsm) bool {
	value, err := dm.Execute(a.Expr)
	if err != nil {
		dm.Global().EnqueueInternalError()
		return true
	}
	dm.Assign(a.Location, value)
	return true
}

// If implements <if>/<elseif>/<else>, flattened to two block
// references.
type If struct {
	Condition   *Data
	Content     ExecutableContentId
	ElseContent ExecutableContentId
}

func (*If) TypeId() byte { return TypeIf }

func (i *If) Execute(dm Datamodel, f *Fsm) bool {
	ok, err := dm.ExecuteCondition(i.Condition)
	if err != nil {
		dm.Global().EnqueueInternalError()
		return true
	}
	if ok {
		return ExecuteBlock(dm, f, i.Content)
	}
	if i.ElseContent != 0 {
		return ExecuteBlock(dm, f, i.ElseContent)
	}
	return true
}

// ForEach implements <foreach>.
type ForEach struct {
	Array   *Data
	Item    string
	Index   string
	Content ExecutableContentId
}

func (*ForEach) TypeId() byte { return TypeForEach }

func (fe *ForEach) Execute(dm Datamodel, f *Fsm) bool {
	return dm.ExecuteForEach(fe.Array, fe.Item, fe.Index, func() bool {
		return ExecuteBlock(dm, f, fe.Content)
	})
}

// Cancel implements <cancel sendid="..."> for delayed sends.
type Cancel struct {
	SendId     string
	SendIdExpr *Data
}

func (*Cancel) TypeId() byte { return TypeCancel }

func (c *Cancel) Execute(dm Datamodel, _ *Fsm) bool {
	global := dm.Global()
	sendId := c.SendId
	if c.SendIdExpr != nil {
		v, err := dm.Execute(c.SendIdExpr)
		if err != nil {
			global.EnqueueInternalError()
			return true
		}
		sendId = v.String()
	}
	if global.Executor != nil {
		global.Executor.CancelSend(global.SessionId, sendId)
	}
	return true
}

// Send implements <send>, covering event/target/type/delay and their
// *expr twins, namelist, <param> children and <content>.
type Send struct {
	SendId         string
	SendIdLocation string

	Event     string
	EventExpr *Data

	Target     string
	TargetExpr *Data

	TypeName string
	TypeExpr *Data

	DelayMs   int64
	DelayExpr *Data

	NameList []string
	Params   []Param
	Content  *CommonContent
}

func (*Send) TypeId() byte { return TypeSend }

func (s *Send) Execute(dm Datamodel, f *Fsm) bool {
	global := dm.Global()

	sendId := s.SendId
	if sendId == "" {
		sendId = uuid.NewString()
	}
	if s.SendIdLocation != "" {
		dm.Assign(NewSource(s.SendIdLocation, 0), NewString(sendId))
	}

	evalAlternative := func(fixed string, expr *Data) (string, bool) {
		if expr == nil {
			return fixed, true
		}
		v, err := dm.Execute(expr)
		if err != nil {
			global.EnqueueInternal(NewErrorExecution(sendId, ""))
			return "", false
		}
		return v.String(), true
	}

	name, ok := evalAlternative(s.Event, s.EventExpr)
	if !ok {
		return true
	}
	target, ok := evalAlternative(s.Target, s.TargetExpr)
	if !ok {
		return true
	}
	typeName, ok := evalAlternative(s.TypeName, s.TypeExpr)
	if !ok {
		return true
	}

	delayMs := s.DelayMs
	if s.DelayExpr != nil {
		ds, ok := evalAlternative("", s.DelayExpr)
		if !ok {
			return true
		}
		delayMs = ParseDuration(ds)
	}
	if delayMs > 0 && target == ScxmlTargetInternal {
		// W3C forbids delayed sends to the internal queue.
		global.EnqueueInternal(NewErrorExecution(sendId, ""))
		return true
	}

	processor := resolveProcessor(dm, typeName)
	if processor == nil {
		// W3C: unsupported type raises error.execution and the
		// event is not sent.
		global.EnqueueInternal(NewErrorExecution(sendId, ""))
		return true
	}

	ev := &Event{
		Name:   name,
		Etype:  EventExternal,
		SendId: sendId,
		Data:   s.payload(dm),
	}

	if delayMs > 0 {
		if global.Executor == nil {
			global.EnqueueInternal(NewErrorCommunication(ev))
			return true
		}
		global.Executor.ScheduleSend(global.SessionId, sendId,
			time.Duration(delayMs)*time.Millisecond, func() {
				processor.Send(global, target, ev)
			})
		return true
	}
	processor.Send(global, target, ev)
	return true
}

// payload assembles the event data from content, params and
// namelist.
func (s *Send) payload(dm Datamodel) *Data {
	if s.Content != nil {
		return EvaluateContent(dm, s.Content)
	}
	if len(s.Params) == 0 && len(s.NameList) == 0 {
		return nil
	}
	values := map[string]*Data{}
	EvaluateParams(dm, s.Params, values)
	for _, name := range s.NameList {
		v, err := dm.GetByLocation(name)
		if err != nil {
			dm.Global().EnqueueInternalError()
			continue
		}
		values[name] = v.Copy()
	}
	return NewMap(values)
}

// resolveProcessor finds the event-I/O processor for a send type.
// The empty type selects the scxml processor.
func resolveProcessor(dm Datamodel, typeName string) EventProcessor {
	if typeName == "" {
		typeName = ScxmlEventProcessorShortType
	}
	for _, p := range dm.IOProcessors() {
		for _, t := range p.Types() {
			if t == typeName {
				return p
			}
		}
	}
	return nil
}

// EvaluateContent resolves a <content> element: a literal chunk is
// passed through unmodified, an expression is evaluated. An
// expression error raises error.execution and yields nil, per W3C.
func EvaluateContent(dm Datamodel, content *CommonContent) *Data {
	if content == nil {
		return nil
	}
	if content.ContentExpr != "" {
		v, err := dm.Execute(NewSource(content.ContentExpr, 0))
		if err != nil {
			dm.Global().EnqueueInternalError()
			return nil
		}
		return v.Copy()
	}
	if content.HasContent {
		return NewSource(content.Content, 0)
	}
	return nil
}

// EvaluateParams resolves <param> children into values. Invalid
// locations or expressions raise error.execution and the pair is
// ignored, per W3C.
func EvaluateParams(dm Datamodel, params []Param, values map[string]*Data) {
	for _, p := range params {
		if p.Location != "" {
			v, err := dm.GetByLocation(p.Location)
			if err != nil {
				log.Warn().Str("param", p.Name).Err(err).Msg("invalid param location")
				dm.Global().EnqueueInternalError()
				continue
			}
			values[p.Name] = v.Copy()
		} else if p.Expr != "" {
			v, err := dm.Execute(NewSource(p.Expr, 0))
			if err != nil {
				log.Warn().Str("param", p.Name).Err(err).Msg("invalid param expr")
				dm.Global().EnqueueInternalError()
				continue
			}
			values[p.Name] = v.Copy()
		}
	}
}

// ParseDuration converts a CSS2-style duration ("1.5s", "200ms",
// "1m") to milliseconds. Malformed input yields 0.
func ParseDuration(d string) int64 {
	d = strings.TrimSpace(d)
	if d == "" {
		return 0
	}
	factor := 1.0
	switch {
	case strings.HasSuffix(d, "ms"):
		d = d[:len(d)-2]
	case strings.HasSuffix(d, "s"):
		factor = 1000
		d = d[:len(d)-1]
	case strings.HasSuffix(d, "m"):
		factor = 60000
		d = d[:len(d)-1]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(d), 64)
	if err != nil || v < 0 {
		return 0
	}
	return int64(v * factor)
}
