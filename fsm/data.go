package fsm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DataKind enumerates the variants of the dynamic Data value model.
type DataKind int

const (
	// KindUndefined marks a location that was created but never
	// assigned. '=' refuses it as the assigned value and arithmetic
	// on it fails, except that '+' with a string operand concatenates
	// the text "undefined"; '==' and '!=' compare it like any other
	// kind.
	KindUndefined DataKind = iota
	KindNull
	KindBoolean
	KindInteger
	KindDouble
	KindString
	KindArray
	KindMap
	// KindSource carries an unevaluated chunk of document text
	// (an expression, a script, or opaque <content> XML).
	KindSource
	KindError
)

// Data is the dynamic value used by all datamodels. Arrays and maps
// hold pointers, so a value obtained through member or index access
// aliases its container.
type Data struct {
	Kind DataKind

	Bool bool
	Int  int64
	Dbl  float64
	Str  string // String, Source and Error payload
	Arr  []*Data
	Map  map[string]*Data

	// SourceId links a Source chunk back to its document position.
	SourceId DocumentId

	readOnly bool
}

func NewUndefined() *Data       { return &Data{Kind: KindUndefined} }
func NewNull() *Data            { return &Data{Kind: KindNull} }
func NewBoolean(v bool) *Data   { return &Data{Kind: KindBoolean, Bool: v} }
func NewInteger(v int64) *Data  { return &Data{Kind: KindInteger, Int: v} }
func NewDouble(v float64) *Data { return &Data{Kind: KindDouble, Dbl: v} }
func NewString(v string) *Data  { return &Data{Kind: KindString, Str: v} }
func NewArray(v []*Data) *Data  { return &Data{Kind: KindArray, Arr: v} }
func NewError(msg string) *Data { return &Data{Kind: KindError, Str: msg} }
func NewErrorf(f string, a ...interface{}) *Data {
	return NewError(fmt.Sprintf(f, a...))
}

func NewMap(v map[string]*Data) *Data {
	if v == nil {
		v = map[string]*Data{}
	}
	return &Data{Kind: KindMap, Map: v}
}

func NewSource(text string, id DocumentId) *Data {
	return &Data{Kind: KindSource, Str: text, SourceId: id}
}

// IsReadOnly reports the read-only flag of this node.
func (d *Data) IsReadOnly() bool { return d != nil && d.readOnly }

// SetReadOnly marks the value, and for containers every reachable
// element, so that system variables reject assignment at any depth.
func (d *Data) SetReadOnly(ro bool) {
	if d == nil {
		return
	}
	d.readOnly = ro
	for _, e := range d.Arr {
		e.SetReadOnly(ro)
	}
	for _, e := range d.Map {
		e.SetReadOnly(ro)
	}
}

// IsNumeric is true for Integer and Double values.
func (d *Data) IsNumeric() bool {
	return d != nil && (d.Kind == KindInteger || d.Kind == KindDouble)
}

// AsNumber converts Integer or Double to float64.
func (d *Data) AsNumber() (float64, bool) {
	switch d.Kind {
	case KindInteger:
		return float64(d.Int), true
	case KindDouble:
		return d.Dbl, true
	}
	return 0, false
}

// Copy makes a deep copy. The read-only flag is not copied: a copy is
// a fresh, writable value.
func (d *Data) Copy() *Data {
	if d == nil {
		return nil
	}
	c := &Data{Kind: d.Kind, Bool: d.Bool, Int: d.Int, Dbl: d.Dbl, Str: d.Str, SourceId: d.SourceId}
	if d.Arr != nil {
		c.Arr = make([]*Data, len(d.Arr))
		for i, e := range d.Arr {
			c.Arr[i] = e.Copy()
		}
	}
	if d.Map != nil {
		c.Map = make(map[string]*Data, len(d.Map))
		for k, e := range d.Map {
			c.Map[k] = e.Copy()
		}
	}
	return c
}

// CloneInto replaces the content of dst with a deep copy of d while
// keeping the dst pointer (and therefore every alias of it) intact.
func (d *Data) CloneInto(dst *Data) {
	c := d.Copy()
	ro := dst.readOnly
	*dst = *c
	dst.readOnly = ro
}

// Equals is deep structural equality. Integer and Double compare
// numerically, so 1 == 1.0.
func (d *Data) Equals(o *Data) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.IsNumeric() && o.IsNumeric() {
		a, _ := d.AsNumber()
		b, _ := o.AsNumber()
		return a == b
	}
	if d.Kind != o.Kind {
		return false
	}
	switch d.Kind {
	case KindNull, KindUndefined:
		return true
	case KindBoolean:
		return d.Bool == o.Bool
	case KindString, KindSource, KindError:
		return d.Str == o.Str
	case KindArray:
		if len(d.Arr) != len(o.Arr) {
			return false
		}
		for i := range d.Arr {
			if !d.Arr[i].Equals(o.Arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(d.Map) != len(o.Map) {
			return false
		}
		for k, v := range d.Map {
			ov, have := o.Map[k]
			if !have || !v.Equals(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value the way <log> and string conversion see it.
func (d *Data) String() string {
	if d == nil {
		return "null"
	}
	switch d.Kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return strconv.FormatBool(d.Bool)
	case KindInteger:
		return strconv.FormatInt(d.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(d.Dbl, 'g', -1, 64)
	case KindString, KindSource:
		return d.Str
	case KindError:
		return "error: " + d.Str
	case KindArray:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range d.Arr {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(e.String())
		}
		b.WriteByte(']')
		return b.String()
	case KindMap:
		keys := make([]string, 0, len(d.Map))
		for k := range d.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(d.Map[k].String())
		}
		b.WriteByte('}')
		return b.String()
	}
	return "?"
}

// Arithmetic and comparison operations shared by the datamodels.
// Operations never panic; type errors yield a KindError value.

func bothInt(l, r *Data) bool {
	return l.Kind == KindInteger && r.Kind == KindInteger
}

// OpPlus is overloaded: numeric addition with Double promotion,
// array append/concatenation, map merge (right side overwrites) and
// string concatenation.
func OpPlus(l, r *Data) *Data {
	switch {
	case l.Kind == KindArray:
		acc := make([]*Data, 0, len(l.Arr)+1)
		for _, e := range l.Arr {
			acc = append(acc, e.Copy())
		}
		if r.Kind == KindArray {
			for _, e := range r.Arr {
				acc = append(acc, e.Copy())
			}
		} else {
			acc = append(acc, r.Copy())
		}
		return NewArray(acc)
	case l.Kind == KindMap && r.Kind == KindMap:
		acc := make(map[string]*Data, len(l.Map)+len(r.Map))
		for k, e := range l.Map {
			acc[k] = e.Copy()
		}
		for k, e := range r.Map {
			acc[k] = e.Copy()
		}
		return NewMap(acc)
	case bothInt(l, r):
		return NewInteger(l.Int + r.Int)
	case l.IsNumeric() && r.IsNumeric():
		a, _ := l.AsNumber()
		b, _ := r.AsNumber()
		return NewDouble(a + b)
	case l.Kind == KindString || r.Kind == KindString:
		return NewString(l.String() + r.String())
	}
	return NewErrorf("operator '+' not applicable to %s and %s", l, r)
}

func OpMinus(l, r *Data) *Data {
	if bothInt(l, r) {
		return NewInteger(l.Int - r.Int)
	}
	if l.IsNumeric() && r.IsNumeric() {
		a, _ := l.AsNumber()
		b, _ := r.AsNumber()
		return NewDouble(a - b)
	}
	return NewErrorf("operator '-' not applicable to %s and %s", l, r)
}

func OpMultiply(l, r *Data) *Data {
	if bothInt(l, r) {
		return NewInteger(l.Int * r.Int)
	}
	if l.IsNumeric() && r.IsNumeric() {
		a, _ := l.AsNumber()
		b, _ := r.AsNumber()
		return NewDouble(a * b)
	}
	return NewErrorf("operator '*' not applicable to %s and %s", l, r)
}

// OpDivide always yields a Double, also for two Integer operands.
func OpDivide(l, r *Data) *Data {
	if l.IsNumeric() && r.IsNumeric() {
		a, _ := l.AsNumber()
		b, _ := r.AsNumber()
		if b == 0 {
			return NewError("division by zero")
		}
		return NewDouble(a / b)
	}
	return NewErrorf("operator '/' not applicable to %s and %s", l, r)
}

func OpModulus(l, r *Data) *Data {
	if bothInt(l, r) {
		if r.Int == 0 {
			return NewError("division by zero")
		}
		return NewInteger(l.Int % r.Int)
	}
	if l.IsNumeric() && r.IsNumeric() {
		a, _ := l.AsNumber()
		b, _ := r.AsNumber()
		if b == 0 {
			return NewError("division by zero")
		}
		return NewDouble(math.Mod(a, b))
	}
	return NewErrorf("operator '%%' not applicable to %s and %s", l, r)
}

func OpAnd(l, r *Data) *Data {
	if l.Kind == KindBoolean && r.Kind == KindBoolean {
		return NewBoolean(l.Bool && r.Bool)
	}
	return NewErrorf("operator '&' not applicable to %s and %s", l, r)
}

func OpOr(l, r *Data) *Data {
	if l.Kind == KindBoolean && r.Kind == KindBoolean {
		return NewBoolean(l.Bool || r.Bool)
	}
	return NewErrorf("operator '|' not applicable to %s and %s", l, r)
}

func OpEqual(l, r *Data) *Data    { return NewBoolean(l.Equals(r)) }
func OpNotEqual(l, r *Data) *Data { return NewBoolean(!l.Equals(r)) }

// compare returns (ordering, comparable). Mismatched types are not
// comparable; the relational operators then yield false.
func compare(l, r *Data) (int, bool) {
	if l.IsNumeric() && r.IsNumeric() {
		a, _ := l.AsNumber()
		b, _ := r.AsNumber()
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	}
	if l.Kind == KindString && r.Kind == KindString {
		return strings.Compare(l.Str, r.Str), true
	}
	return 0, false
}

func OpLess(l, r *Data) *Data {
	c, ok := compare(l, r)
	return NewBoolean(ok && c < 0)
}

func OpLessEqual(l, r *Data) *Data {
	c, ok := compare(l, r)
	return NewBoolean(ok && c <= 0)
}

func OpGreater(l, r *Data) *Data {
	c, ok := compare(l, r)
	return NewBoolean(ok && c > 0)
}

func OpGreaterEqual(l, r *Data) *Data {
	c, ok := compare(l, r)
	return NewBoolean(ok && c >= 0)
}

// DataStore is the keyed value store of one session.
type DataStore struct {
	values map[string]*Data
}

func NewDataStore() *DataStore {
	return &DataStore{values: map[string]*Data{}}
}

// Get returns the stored location or nil.
func (ds *DataStore) Get(name string) *Data {
	return ds.values[name]
}

func (ds *DataStore) Has(name string) bool {
	_, have := ds.values[name]
	return have
}

// Set creates or overwrites a location. Overwriting a read-only
// location fails.
func (ds *DataStore) Set(name string, value *Data) error {
	if old, have := ds.values[name]; have {
		if old.IsReadOnly() {
			return fmt.Errorf("can't set read-only '%s'", name)
		}
		value.CloneInto(old)
		return nil
	}
	ds.values[name] = value
	return nil
}

// SetReadOnly installs a system variable.
func (ds *DataStore) SetReadOnly(name string, value *Data) {
	value.SetReadOnly(true)
	ds.values[name] = value
}

func (ds *DataStore) Delete(name string) {
	delete(ds.values, name)
}

// Names returns the keys in sorted order.
func (ds *DataStore) Names() []string {
	names := make([]string, 0, len(ds.values))
	for n := range ds.values {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
