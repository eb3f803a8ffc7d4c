// Package ecmascript binds the goja ECMAScript engine to the
// datamodel interface, registered as "ecmascript".
package ecmascript

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"

	"github.com/BWeng20/ruFSM/fsm"
)

// Factory creates the goja-backed datamodel.
type Factory struct{}

func (Factory) Create(global *fsm.GlobalData, _ map[string]string) fsm.Datamodel {
	return NewDatamodel(global)
}

func init() {
	fsm.RegisterDatamodel(fsm.ECMAScriptDatamodelName, Factory{})
}

// Datamodel runs scripts and conditions in a per-session goja
// runtime. The runtime is only ever touched from the session worker.
type Datamodel struct {
	global *fsm.GlobalData
	vm     *goja.Runtime
}

func NewDatamodel(global *fsm.GlobalData) *Datamodel {
	dm := &Datamodel{
		global: global,
		vm:     goja.New(),
	}
	return dm
}

func (dm *Datamodel) GetName() string         { return fsm.ECMAScriptDatamodelName }
func (dm *Datamodel) Global() *fsm.GlobalData { return dm.global }

func (dm *Datamodel) AddFunctions(f *fsm.Fsm) {
	nameToId := make(map[string]fsm.StateId, len(f.States))
	for _, s := range f.States {
		nameToId[s.Name] = s.Id
	}
	_ = dm.vm.Set("In", func(name string) bool {
		id, have := nameToId[name]
		return have && dm.global.Configuration.IsMember(id)
	})
	_ = dm.vm.Set("log", func(msg string) {
		dm.Log(msg)
	})
}

func (dm *Datamodel) InitializeDataModel(f *fsm.Fsm, state fsm.StateId, setData bool) {
	s := f.State(state)
	if s == nil {
		return
	}
	for _, spec := range s.Data {
		if !setData {
			if dm.vm.Get(spec.Name) == nil {
				_ = dm.vm.Set(spec.Name, goja.Undefined())
			}
			continue
		}
		var value goja.Value = goja.Null()
		if spec.Expr != nil {
			v, err := dm.evalSource(spec.Expr)
			if err != nil {
				dm.global.EnqueueInternalError()
			} else {
				value = v
			}
		}
		_ = dm.vm.Set(spec.Name, value)
	}
}

func (dm *Datamodel) InitializeReadOnly(name string, value *fsm.Data) {
	// System variables are set as plain runtime globals with no write
	// protection: a script can overwrite them. Only _event is set
	// again, by SetEvent, for each event.
	_ = dm.vm.Set(name, dm.toJs(value))
}

func (dm *Datamodel) Set(name string, value *fsm.Data) {
	_ = dm.vm.Set(name, dm.toJs(value))
}

func (dm *Datamodel) Get(name string) *fsm.Data {
	v := dm.vm.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	return dm.fromJs(v)
}

func (dm *Datamodel) SetEvent(ev *fsm.Event) {
	event := map[string]interface{}{
		"name":       ev.Name,
		"type":       ev.Etype.String(),
		"sendid":     ev.SendId,
		"origin":     ev.Origin,
		"origintype": ev.OriginType,
		"invokeid":   ev.InvokeId,
		"data":       dm.toJs(ev.Data),
	}
	_ = dm.vm.Set(fsm.EventVariable, event)
}

func (dm *Datamodel) Assign(location *fsm.Data, value *fsm.Data) bool {
	if location == nil {
		dm.global.EnqueueInternalError()
		return false
	}
	// The location must already be declared.
	probe := fmt.Sprintf("typeof %s", location.Str)
	if v, err := dm.vm.RunString(probe); err != nil || v.String() == "undefined" {
		dm.global.EnqueueInternalError()
		return false
	}
	_ = dm.vm.Set("__rufsm_tmp", dm.toJs(value))
	if _, err := dm.vm.RunString(location.Str + " = __rufsm_tmp"); err != nil {
		dm.global.EnqueueInternalError()
		return false
	}
	return true
}

func (dm *Datamodel) GetByLocation(location string) (*fsm.Data, error) {
	v, err := dm.vm.RunString(location)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(v) {
		return nil, fmt.Errorf("location '%s' is unbound", location)
	}
	return dm.fromJs(v), nil
}

func (dm *Datamodel) Execute(script *fsm.Data) (*fsm.Data, error) {
	v, err := dm.evalSource(script)
	if err != nil {
		return nil, err
	}
	return dm.fromJs(v), nil
}

func (dm *Datamodel) ExecuteCondition(cond *fsm.Data) (bool, error) {
	v, err := dm.evalSource(cond)
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

func (dm *Datamodel) ExecuteForEach(arrayExpr *fsm.Data, item string, index string, body func() bool) bool {
	v, err := dm.evalSource(arrayExpr)
	if err != nil {
		dm.global.EnqueueInternalError()
		return false
	}
	exported, ok := v.Export().([]interface{})
	if !ok {
		dm.global.EnqueueInternalError()
		return false
	}
	for i, e := range exported {
		_ = dm.vm.Set(item, e)
		if index != "" {
			_ = dm.vm.Set(index, i)
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
	dm.vm = goja.New()
}

func (dm *Datamodel) evalSource(source *fsm.Data) (goja.Value, error) {
	if source == nil {
		return nil, errors.New("nil script")
	}
	if source.Kind != fsm.KindSource && source.Kind != fsm.KindString {
		return dm.toJs(source), nil
	}
	return dm.vm.RunString(source.Str)
}

// toJs converts a Data value into the runtime's representation.
func (dm *Datamodel) toJs(d *fsm.Data) goja.Value {
	if d == nil {
		return goja.Null()
	}
	switch d.Kind {
	case fsm.KindUndefined:
		return goja.Undefined()
	case fsm.KindNull:
		return goja.Null()
	case fsm.KindBoolean:
		return dm.vm.ToValue(d.Bool)
	case fsm.KindInteger:
		return dm.vm.ToValue(d.Int)
	case fsm.KindDouble:
		return dm.vm.ToValue(d.Dbl)
	case fsm.KindString, fsm.KindSource, fsm.KindError:
		return dm.vm.ToValue(d.Str)
	case fsm.KindArray:
		acc := make([]interface{}, len(d.Arr))
		for i, e := range d.Arr {
			acc[i] = dm.toJs(e)
		}
		return dm.vm.ToValue(acc)
	case fsm.KindMap:
		acc := make(map[string]interface{}, len(d.Map))
		for k, e := range d.Map {
			acc[k] = dm.toJs(e)
		}
		return dm.vm.ToValue(acc)
	}
	return goja.Null()
}

// fromJs converts an engine value back into Data.
func (dm *Datamodel) fromJs(v goja.Value) *fsm.Data {
	if v == nil || goja.IsNull(v) {
		return fsm.NewNull()
	}
	if goja.IsUndefined(v) {
		return fsm.NewUndefined()
	}
	switch e := v.Export().(type) {
	case bool:
		return fsm.NewBoolean(e)
	case int64:
		return fsm.NewInteger(e)
	case float64:
		return fsm.NewDouble(e)
	case string:
		return fsm.NewString(e)
	case []interface{}:
		acc := make([]*fsm.Data, len(e))
		for i, x := range e {
			acc[i] = dm.fromJs(dm.vm.ToValue(x))
		}
		return fsm.NewArray(acc)
	case map[string]interface{}:
		acc := make(map[string]*fsm.Data, len(e))
		for k, x := range e {
			acc[k] = dm.fromJs(dm.vm.ToValue(x))
		}
		return fsm.NewMap(acc)
	}
	return fsm.NewString(v.String())
}
