package expression

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/BWeng20/ruFSM/fsm"
)

// Factory creates the "rfsm-expression" datamodel.
type Factory struct{}

func (Factory) Create(global *fsm.GlobalData, _ map[string]string) fsm.Datamodel {
	return NewDatamodel(global)
}

func init() {
	fsm.RegisterDatamodel(fsm.ExpressionDatamodelName, Factory{})
}

// Datamodel is the expression-engine backed datamodel.
type Datamodel struct {
	global  *fsm.GlobalData
	actions *ActionMap

	// compiled caches parsed expressions by their document id;
	// chunks without one are parsed on every use.
	compiled map[fsm.DocumentId]Expression
}

func NewDatamodel(global *fsm.GlobalData) *Datamodel {
	return &Datamodel{
		global:   global,
		actions:  NewActionMap(),
		compiled: map[fsm.DocumentId]Expression{},
	}
}

// Actions exposes the registry so embedders can add custom actions.
func (dm *Datamodel) Actions() *ActionMap { return dm.actions }

func (dm *Datamodel) context() *Context {
	return &Context{Global: dm.global, Actions: dm.actions}
}

func (dm *Datamodel) GetName() string         { return fsm.ExpressionDatamodelName }
func (dm *Datamodel) Global() *fsm.GlobalData { return dm.global }

func (dm *Datamodel) AddFunctions(f *fsm.Fsm) {
	dm.actions.Add("In", newInAction(f))
}

// compile parses a Source chunk, re-using the per-document cache.
func (dm *Datamodel) compile(source *fsm.Data) (Expression, error) {
	if source == nil {
		return nil, errors.New("nil expression")
	}
	if source.Kind != fsm.KindSource && source.Kind != fsm.KindString {
		// Literal values evaluate to themselves.
		return &Constant{Data: source.Copy()}, nil
	}
	if source.SourceId != 0 {
		if e, have := dm.compiled[source.SourceId]; have {
			return e, nil
		}
	}
	e, err := Parse(source.Str)
	if err != nil {
		return nil, err
	}
	if source.SourceId != 0 {
		dm.compiled[source.SourceId] = e
	}
	return e, nil
}

func (dm *Datamodel) InitializeDataModel(f *fsm.Fsm, state fsm.StateId, setData bool) {
	s := f.State(state)
	if s == nil {
		return
	}
	for _, spec := range s.Data {
		if !setData {
			if !dm.global.Data.Has(spec.Name) {
				dm.global.Data.Set(spec.Name, fsm.NewUndefined())
			}
			continue
		}
		value := fsm.NewNull()
		if spec.Expr != nil {
			v, err := dm.Execute(spec.Expr)
			if err != nil {
				// W3C: an invalid <data> value raises
				// error.execution; the location is
				// created holding null.
				dm.global.EnqueueInternalError()
			} else {
				value = v.Copy()
			}
		}
		if err := dm.global.Data.Set(spec.Name, value); err != nil {
			dm.global.EnqueueInternalError()
		}
	}
}

func (dm *Datamodel) InitializeReadOnly(name string, value *fsm.Data) {
	dm.global.Data.SetReadOnly(name, value)
}

func (dm *Datamodel) Set(name string, value *fsm.Data) {
	if err := dm.global.Data.Set(name, value); err != nil {
		dm.global.EnqueueInternalError()
	}
}

func (dm *Datamodel) Get(name string) *fsm.Data {
	v := dm.global.Data.Get(name)
	if v == nil || v.Kind == fsm.KindUndefined {
		return nil
	}
	return v
}

func (dm *Datamodel) SetEvent(ev *fsm.Event) {
	data := fsm.NewNull()
	if ev.Data != nil {
		data = ev.Data.Copy()
	}
	value := fsm.NewMap(map[string]*fsm.Data{
		"name":       fsm.NewString(ev.Name),
		"type":       fsm.NewString(ev.Etype.String()),
		"sendid":     fsm.NewString(ev.SendId),
		"origin":     fsm.NewString(ev.Origin),
		"origintype": fsm.NewString(ev.OriginType),
		"invokeid":   fsm.NewString(ev.InvokeId),
		"data":       data,
	})
	dm.global.Data.Delete(fsm.EventVariable)
	dm.global.Data.SetReadOnly(fsm.EventVariable, value)
}

func (dm *Datamodel) Assign(location *fsm.Data, value *fsm.Data) bool {
	target, err := dm.compile(location)
	if err != nil {
		dm.global.EnqueueInternalError()
		return false
	}
	assign := &Assign{Left: target, Right: &Constant{Data: value}}
	if _, err = assign.Execute(dm.context(), false); err != nil {
		log.Debug().Err(err).Str("location", location.String()).Msg("assign failed")
		dm.global.EnqueueInternalError()
		return false
	}
	return true
}

func (dm *Datamodel) GetByLocation(location string) (*fsm.Data, error) {
	e, err := Parse(location)
	if err != nil {
		return nil, err
	}
	v, err := e.Execute(dm.context(), false)
	if err != nil {
		return nil, err
	}
	if v.Kind == fsm.KindUndefined {
		return nil, fmt.Errorf("location '%s' is unbound", location)
	}
	return v, nil
}

func (dm *Datamodel) Execute(script *fsm.Data) (*fsm.Data, error) {
	e, err := dm.compile(script)
	if err != nil {
		return nil, err
	}
	return e.Execute(dm.context(), false)
}

// ExecuteCondition evaluates a guard; a non-boolean result is an
// error per W3C 5.9.1.
func (dm *Datamodel) ExecuteCondition(cond *fsm.Data) (bool, error) {
	v, err := dm.Execute(cond)
	if err != nil {
		return false, err
	}
	if v.Kind != fsm.KindBoolean {
		return false, fmt.Errorf("condition '%s' is not boolean", cond)
	}
	return v.Bool, nil
}

// ExecuteForEach iterates a shallow copy of the array value, binding
// item and (optionally) index before each body call, per W3C 4.6.
func (dm *Datamodel) ExecuteForEach(arrayExpr *fsm.Data, item string, index string, body func() bool) bool {
	array, err := dm.Execute(arrayExpr)
	if err != nil || array.Kind != fsm.KindArray {
		dm.global.EnqueueInternalError()
		return false
	}
	elements := append([]*fsm.Data(nil), array.Arr...)
	for i, e := range elements {
		if err := dm.global.Data.Set(item, e.Copy()); err != nil {
			dm.global.EnqueueInternalError()
			return false
		}
		if index != "" {
			if err := dm.global.Data.Set(index, fsm.NewInteger(int64(i))); err != nil {
				dm.global.EnqueueInternalError()
				return false
			}
		}
		if !body() {
			return false
		}
	}
	return true
}

func (dm *Datamodel) IOProcessors() map[string]fsm.EventProcessor {
	return dm.global.IOProcessors
}

func (dm *Datamodel) Log(msg string) {
	log.Info().Uint32("session", uint32(dm.global.SessionId)).Msg(msg)
}

func (dm *Datamodel) Clear() {
	dm.compiled = map[fsm.DocumentId]Expression{}
}
