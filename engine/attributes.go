package engine

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Kind enumerates the kinds of values an attribute can hold.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindInts
	KindFloats
	KindStrings
	KindBools
)

var kindNames = [...]string{"invalid", "int", "float", "string", "bool", "ints", "floats", "strings", "bools"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsList returns whether the kind holds a list of values.
func (k Kind) IsList() bool {
	return k >= KindInts && k <= KindBools
}

// Attribute is a tagged union over the permitted attribute kinds.
// The zero value is an invalid attribute.
type Attribute struct {
	kind    Kind
	i       int64
	f       float64
	s       string
	b       bool
	ints    []int64
	floats  []float64
	strings []string
	bools   []bool
}

// Int creates an integer attribute.
func Int(v int64) Attribute { return Attribute{kind: KindInt, i: v} }

// Float creates a float attribute.
func Float(v float64) Attribute { return Attribute{kind: KindFloat, f: v} }

// String creates a string attribute.
func String(v string) Attribute { return Attribute{kind: KindString, s: v} }

// Bool creates a boolean attribute.
func Bool(v bool) Attribute { return Attribute{kind: KindBool, b: v} }

// Ints creates a list of integers attribute.
func Ints(v ...int64) Attribute { return Attribute{kind: KindInts, ints: slices.Clone(nonNil(v))} }

// Floats creates a list of floats attribute.
func Floats(v ...float64) Attribute { return Attribute{kind: KindFloats, floats: slices.Clone(nonNil(v))} }

// Strings creates a list of strings attribute.
func Strings(v ...string) Attribute { return Attribute{kind: KindStrings, strings: slices.Clone(nonNil(v))} }

// Bools creates a list of booleans attribute.
func Bools(v ...bool) Attribute { return Attribute{kind: KindBools, bools: slices.Clone(nonNil(v))} }

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// Kind returns the kind of value held.
func (a Attribute) Kind() Kind { return a.kind }

// IsValid returns whether the attribute holds a value.
func (a Attribute) IsValid() bool { return a.kind != KindInvalid }

// Int returns the value of an integer attribute, or 0 for other kinds.
func (a Attribute) Int() int64 { return a.i }

// Float returns the value of a float attribute, or 0 for other kinds.
func (a Attribute) Float() float64 { return a.f }

// Str returns the value of a string attribute, or "" for other kinds.
func (a Attribute) Str() string { return a.s }

// Bool returns the value of a boolean attribute, or false for other kinds.
func (a Attribute) Bool() bool { return a.b }

// Ints returns a copy of the values of a list of integers attribute.
func (a Attribute) Ints() []int64 { return slices.Clone(a.ints) }

// Floats returns a copy of the values of a list of floats attribute.
func (a Attribute) Floats() []float64 { return slices.Clone(a.floats) }

// Strings returns a copy of the values of a list of strings attribute.
func (a Attribute) Strings() []string { return slices.Clone(a.strings) }

// Bools returns a copy of the values of a list of booleans attribute.
func (a Attribute) Bools() []bool { return slices.Clone(a.bools) }

// Value returns the attribute as a plain Go value: int64, float64, string, bool, or a slice of those.
// It returns nil for an invalid attribute.
func (a Attribute) Value() any {
	switch a.kind {
	case KindInt:
		return a.i
	case KindFloat:
		return a.f
	case KindString:
		return a.s
	case KindBool:
		return a.b
	case KindInts:
		return a.Ints()
	case KindFloats:
		return a.Floats()
	case KindStrings:
		return a.Strings()
	case KindBools:
		return a.Bools()
	default:
		return nil
	}
}

// Equal returns whether both attributes have the same kind and value.
func (a Attribute) Equal(other Attribute) bool {
	if a.kind != other.kind {
		return false
	}
	switch a.kind {
	case KindInt:
		return a.i == other.i
	case KindFloat:
		return a.f == other.f
	case KindString:
		return a.s == other.s
	case KindBool:
		return a.b == other.b
	case KindInts:
		return slices.Equal(a.ints, other.ints)
	case KindFloats:
		return slices.Equal(a.floats, other.floats)
	case KindStrings:
		return slices.Equal(a.strings, other.strings)
	case KindBools:
		return slices.Equal(a.bools, other.bools)
	default:
		return true
	}
}

// String implements fmt.Stringer.
func (a Attribute) String() string {
	switch a.kind {
	case KindString:
		return fmt.Sprintf("%q", a.s)
	case KindStrings:
		return fmt.Sprintf("%q", a.strings)
	case KindInvalid:
		return "<invalid>"
	default:
		return fmt.Sprintf("%v", a.Value())
	}
}

// KindOf returns the attribute kind a Go value maps to, or KindInvalid if it maps to none.
//
// Any Go integer type maps to KindInt, float32/float64 to KindFloat, and slices of those
// to the corresponding list kinds.
func KindOf(v any) Kind {
	if v == nil {
		return KindInvalid
	}
	if attr, ok := v.(Attribute); ok {
		return attr.kind
	}
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Slice {
		switch scalarKind(t.Elem()) {
		case KindInt:
			return KindInts
		case KindFloat:
			return KindFloats
		case KindString:
			return KindStrings
		case KindBool:
			return KindBools
		default:
			return KindInvalid
		}
	}
	return scalarKind(t)
}

func scalarKind(t reflect.Type) Kind {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt
	case reflect.Float32, reflect.Float64:
		return KindFloat
	case reflect.String:
		return KindString
	case reflect.Bool:
		return KindBool
	default:
		return KindInvalid
	}
}

// AttributeOf converts a Go value to an Attribute. An Attribute is returned as is.
func AttributeOf(v any) (Attribute, error) {
	if attr, ok := v.(Attribute); ok {
		return attr, nil
	}
	kind := KindOf(v)
	if kind == KindInvalid {
		return Attribute{}, errors.Errorf("value of type %T cannot be used as an attribute", v)
	}
	rv := reflect.ValueOf(v)
	switch kind {
	case KindInt:
		value, err := toInt64(rv)
		if err != nil {
			return Attribute{}, err
		}
		return Int(value), nil
	case KindFloat:
		return Float(rv.Float()), nil
	case KindString:
		return String(rv.String()), nil
	case KindBool:
		return Bool(rv.Bool()), nil
	}
	n := rv.Len()
	switch kind {
	case KindInts:
		values := make([]int64, n)
		for ii := range n {
			value, err := toInt64(rv.Index(ii))
			if err != nil {
				return Attribute{}, errors.WithMessagef(err, "element #%d", ii)
			}
			values[ii] = value
		}
		return Ints(values...), nil
	case KindFloats:
		values := make([]float64, n)
		for ii := range n {
			values[ii] = rv.Index(ii).Float()
		}
		return Floats(values...), nil
	case KindStrings:
		values := make([]string, n)
		for ii := range n {
			values[ii] = rv.Index(ii).String()
		}
		return Strings(values...), nil
	default:
		values := make([]bool, n)
		for ii := range n {
			values[ii] = rv.Index(ii).Bool()
		}
		return Bools(values...), nil
	}
}

// toInt64 converts signed and unsigned integer values, rejecting unsigned values that overflow an int64.
func toInt64(v reflect.Value) (int64, error) {
	if v.CanInt() {
		return v.Int(), nil
	}
	u := v.Uint()
	if u > math.MaxInt64 {
		return 0, errors.Errorf("value %d of type %s overflows an int64 attribute", u, v.Type())
	}
	return int64(u), nil
}

// Attributes maps attribute names to their values. Names are unique per map.
type Attributes map[string]Attribute

// Names returns the attribute names in sorted order.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clone returns a copy of the map. Attribute values are immutable, so they are shared.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	clone := make(Attributes, len(a))
	for name, attr := range a {
		clone[name] = attr
	}
	return clone
}

// Equal returns whether both maps hold the same names with equal values.
func (a Attributes) Equal(other Attributes) bool {
	if len(a) != len(other) {
		return false
	}
	for name, attr := range a {
		otherAttr, found := other[name]
		if !found || !attr.Equal(otherAttr) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, listing attributes sorted by name.
func (a Attributes) String() string {
	parts := make([]string, 0, len(a))
	for _, name := range a.Names() {
		parts = append(parts, fmt.Sprintf("%s=%s", name, a[name]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
