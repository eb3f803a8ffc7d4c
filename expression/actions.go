package expression

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/BWeng20/ruFSM/fsm"
)

// Action is a callable registered with the expression engine.
type Action interface {
	Execute(args []*fsm.Data, global *fsm.GlobalData) (*fsm.Data, error)
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(args []*fsm.Data, global *fsm.GlobalData) (*fsm.Data, error)

func (f ActionFunc) Execute(args []*fsm.Data, global *fsm.GlobalData) (*fsm.Data, error) {
	return f(args, global)
}

// ActionMap is the registry of callable actions of one datamodel
// instance. Custom actions can be added before the session starts.
type ActionMap struct {
	actions map[string]Action
}

func NewActionMap() *ActionMap {
	am := &ActionMap{actions: map[string]Action{}}
	am.Add("abs", ActionFunc(absAction))
	am.Add("length", ActionFunc(lengthAction))
	am.Add("indexOf", ActionFunc(indexOfAction))
	am.Add("isDefined", ActionFunc(isDefinedAction))
	am.Add("toString", ActionFunc(toStringAction))
	am.Add("log", ActionFunc(logAction))
	return am
}

func (am *ActionMap) Add(name string, a Action) {
	am.actions[name] = a
}

func (am *ActionMap) Execute(name string, args []*fsm.Data, global *fsm.GlobalData) (*fsm.Data, error) {
	a, have := am.actions[name]
	if !have {
		return nil, fmt.Errorf("unknown function '%s'", name)
	}
	return a.Execute(args, global)
}

func oneArgument(name string, args []*fsm.Data) (*fsm.Data, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s needs exactly one argument", name)
	}
	return args[0], nil
}

func absAction(args []*fsm.Data, _ *fsm.GlobalData) (*fsm.Data, error) {
	v, err := oneArgument("abs", args)
	if err != nil {
		return nil, err
	}
	switch v.Kind {
	case fsm.KindInteger:
		if v.Int < 0 {
			return fsm.NewInteger(-v.Int), nil
		}
		return fsm.NewInteger(v.Int), nil
	case fsm.KindDouble:
		if v.Dbl < 0 {
			return fsm.NewDouble(-v.Dbl), nil
		}
		return fsm.NewDouble(v.Dbl), nil
	}
	return nil, fmt.Errorf("abs needs a numeric argument, not '%s'", v)
}

func lengthAction(args []*fsm.Data, _ *fsm.GlobalData) (*fsm.Data, error) {
	v, err := oneArgument("length", args)
	if err != nil {
		return nil, err
	}
	switch v.Kind {
	case fsm.KindString, fsm.KindSource:
		return fsm.NewInteger(int64(len(v.Str))), nil
	case fsm.KindArray:
		return fsm.NewInteger(int64(len(v.Arr))), nil
	case fsm.KindMap:
		return fsm.NewInteger(int64(len(v.Map))), nil
	}
	return nil, fmt.Errorf("length not applicable to '%s'", v)
}

// indexOfAction finds a substring in a string or an element in an
// array; -1 if not found.
func indexOfAction(args []*fsm.Data, _ *fsm.GlobalData) (*fsm.Data, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("indexOf needs exactly two arguments")
	}
	switch args[0].Kind {
	case fsm.KindString, fsm.KindSource:
		return fsm.NewInteger(int64(strings.Index(args[0].Str, args[1].String()))), nil
	case fsm.KindArray:
		for i, e := range args[0].Arr {
			if e.Equals(args[1]) {
				return fsm.NewInteger(int64(i)), nil
			}
		}
		return fsm.NewInteger(-1), nil
	}
	return nil, fmt.Errorf("indexOf not applicable to '%s'", args[0])
}

func isDefinedAction(args []*fsm.Data, _ *fsm.GlobalData) (*fsm.Data, error) {
	v, err := oneArgument("isDefined", args)
	if err != nil {
		return nil, err
	}
	defined := v.Kind != fsm.KindError && v.Kind != fsm.KindUndefined
	return fsm.NewBoolean(defined), nil
}

func toStringAction(args []*fsm.Data, _ *fsm.GlobalData) (*fsm.Data, error) {
	v, err := oneArgument("toString", args)
	if err != nil {
		return nil, err
	}
	return fsm.NewString(v.String()), nil
}

func logAction(args []*fsm.Data, _ *fsm.GlobalData) (*fsm.Data, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	log.Info().Str("datamodel", fsm.ExpressionDatamodelName).Msg(strings.Join(parts, " "))
	return fsm.NewNull(), nil
}

// inAction implements the mandatory In(stateName) predicate against
// the current configuration.
type inAction struct {
	stateNameToId map[string]fsm.StateId
}

func newInAction(f *fsm.Fsm) *inAction {
	m := make(map[string]fsm.StateId, len(f.States))
	for _, s := range f.States {
		m[s.Name] = s.Id
	}
	return &inAction{stateNameToId: m}
}

func (a *inAction) Execute(args []*fsm.Data, global *fsm.GlobalData) (*fsm.Data, error) {
	v, err := oneArgument("In", args)
	if err != nil {
		return nil, err
	}
	id, have := a.stateNameToId[v.String()]
	return fsm.NewBoolean(have && global.Configuration.IsMember(id)), nil
}
