package opset

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opgraph/engine"
)

// Constraint is a predicate over an attribute value, with a description used in error messages.
type Constraint struct {
	Desc  string
	Check func(attr engine.Attribute) bool
}

// NonNegative requires an int (or all values of an ints) attribute to be >= 0.
func NonNegative() Constraint {
	return Constraint{
		Desc: "non-negative",
		Check: func(attr engine.Attribute) bool {
			return allInts(attr, func(v int64) bool { return v >= 0 })
		},
	}
}

// Positive requires an int (or all values of an ints) attribute to be > 0.
func Positive() Constraint {
	return Constraint{
		Desc: "positive",
		Check: func(attr engine.Attribute) bool {
			return allInts(attr, func(v int64) bool { return v > 0 })
		},
	}
}

func allInts(attr engine.Attribute, fn func(int64) bool) bool {
	switch attr.Kind() {
	case engine.KindInt:
		return fn(attr.Int())
	case engine.KindInts:
		for _, v := range attr.Ints() {
			if !fn(v) {
				return false
			}
		}
		return true
	case engine.KindFloat:
		return fn(int64(attr.Float()))
	default:
		return false
	}
}

// OneOf requires a string attribute to be one of the given values.
func OneOf(values ...string) Constraint {
	return Constraint{
		Desc:  fmt.Sprintf("one of %q", values),
		Check: func(attr engine.Attribute) bool { return slices.Contains(values, attr.Str()) },
	}
}

// Permutation requires an ints attribute to be a permutation of 0..n-1. An empty list is accepted.
func Permutation() Constraint {
	return Constraint{
		Desc: "a permutation of the axes",
		Check: func(attr engine.Attribute) bool {
			values := attr.Ints()
			seen := make([]bool, len(values))
			for _, v := range values {
				if v < 0 || v >= int64(len(values)) || seen[v] {
					return false
				}
				seen[v] = true
			}
			return true
		},
	}
}

// ElementType requires a string attribute to name a supported element type (see engine.ElementTypeNames).
func ElementType() Constraint {
	return Constraint{
		Desc: "an element type name",
		Check: func(attr engine.Attribute) bool {
			_, err := engine.ParseElementType(attr.Str())
			return err == nil
		},
	}
}

// AttrSpec declares one attribute of an operation.
type AttrSpec struct {
	Name        string
	Kind        engine.Kind
	Required    bool
	Default     engine.Attribute // Used when not Required and the attribute is absent.
	Constraints []Constraint
	Upper       bool // Upper-case string values before checking constraints.
}

// Required declares a required attribute.
func Required(name string, kind engine.Kind, constraints ...Constraint) AttrSpec {
	return AttrSpec{Name: name, Kind: kind, Required: true, Constraints: constraints}
}

// Optional declares an optional attribute, with its default value. The kind is the one of the default.
func Optional(name string, defaultValue engine.Attribute, constraints ...Constraint) AttrSpec {
	return AttrSpec{Name: name, Kind: defaultValue.Kind(), Default: defaultValue, Constraints: constraints}
}

// Mode declares an optional enumerated string attribute: values are upper-cased and must be one of modes.
func Mode(name, defaultValue string, modes ...string) AttrSpec {
	return AttrSpec{
		Name:        name,
		Kind:        engine.KindString,
		Default:     engine.String(defaultValue),
		Constraints: []Constraint{OneOf(modes...)},
		Upper:       true,
	}
}

// Schema is the closed set of attributes accepted by one operation.
type Schema struct {
	Op    string
	specs []AttrSpec
	index map[string]int
}

// NewSchema creates the schema of an operation. It panics on repeated attribute names.
func NewSchema(op string, specs ...AttrSpec) *Schema {
	s := &Schema{Op: op, specs: slices.Clone(specs), index: make(map[string]int, len(specs))}
	for ii, spec := range specs {
		if _, found := s.index[spec.Name]; found {
			panic(fmt.Sprintf("schema of %s declares attribute %q more than once", op, spec.Name))
		}
		s.index[spec.Name] = ii
	}
	return s
}

// Specs returns the attribute declarations, in declaration order.
func (s *Schema) Specs() []AttrSpec { return slices.Clone(s.specs) }

// Spec returns the declaration of the attribute name, and whether it exists.
func (s *Schema) Spec(name string) (AttrSpec, bool) {
	ii, found := s.index[name]
	if !found {
		return AttrSpec{}, false
	}
	return s.specs[ii], true
}

// String implements fmt.Stringer.
func (s *Schema) String() string {
	parts := make([]string, len(s.specs))
	for ii, spec := range s.specs {
		if spec.Required {
			parts[ii] = fmt.Sprintf("%s %s", spec.Name, spec.Kind)
		} else {
			parts[ii] = fmt.Sprintf("%s %s = %s", spec.Name, spec.Kind, spec.Default)
		}
	}
	return fmt.Sprintf("%s(%s)", s.Op, strings.Join(parts, ", "))
}
