package opset

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opgraph/engine"
)

// Attrs are the attributes given by a caller: values can be Go ints, floats, strings, bools, slices
// of those, or engine.Attribute values. A nil value is the same as an absent attribute.
type Attrs map[string]any

// Validate checks attrs against the schema and returns the attributes to record on the node, with the
// defaults of absent optional attributes filled in.
//
// Checks happen in this order, and the first failure is returned:
//
//  1. Every required attribute is present: ErrMissingAttribute.
//  2. Every given attribute is declared (ErrUnknownAttribute) and has the declared kind
//     (ErrAttributeTypeMismatch). Integers are accepted where floats are declared.
//  3. Enumerated string modes are upper-cased, and every value satisfies its constraints:
//     ErrAttributeValueOutOfRange.
func Validate(s *Schema, attrs Attrs) (engine.Attributes, error) {
	for _, spec := range s.specs {
		if spec.Required && attrs[spec.Name] == nil {
			err := newError(ErrMissingAttribute)
			err.Op = s.Op
			err.Attribute = spec.Name
			err.Expected = spec.Kind.String()
			return nil, err
		}
	}

	names := make([]string, 0, len(attrs))
	for name, value := range attrs {
		if value != nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	validated := make(engine.Attributes, len(s.specs))
	for _, name := range names {
		spec, found := s.Spec(name)
		if !found {
			err := newError(ErrUnknownAttribute)
			err.Op = s.Op
			err.Attribute = name
			err.Expected = fmt.Sprintf("one of %q", specNames(s))
			return nil, err
		}
		attr, err := convertAttr(spec, attrs[name])
		if err != nil {
			err.Op = s.Op
			return nil, err
		}
		validated[name] = attr
	}

	for _, name := range names {
		spec, _ := s.Spec(name)
		attr := validated[name]
		if spec.Upper && attr.Kind() == engine.KindString {
			attr = engine.String(strings.ToUpper(attr.Str()))
			validated[name] = attr
		}
		for _, constraint := range spec.Constraints {
			if !constraint.Check(attr) {
				err := newError(ErrAttributeValueOutOfRange)
				err.Op = s.Op
				err.Attribute = name
				err.Expected = constraint.Desc
				err.Actual = attr.String()
				return nil, err
			}
		}
	}

	for _, spec := range s.specs {
		if _, found := validated[spec.Name]; !found && !spec.Required {
			validated[spec.Name] = spec.Default
		}
	}
	return validated, nil
}

func specNames(s *Schema) []string {
	names := make([]string, len(s.specs))
	for ii, spec := range s.specs {
		names[ii] = spec.Name
	}
	return names
}

// convertAttr converts a caller value to an attribute of the declared kind.
func convertAttr(spec AttrSpec, value any) (engine.Attribute, *Error) {
	attr, err := engine.AttributeOf(value)
	if err != nil {
		opErr := newError(ErrAttributeTypeMismatch)
		opErr.Attribute = spec.Name
		opErr.Expected = spec.Kind.String()
		opErr.Actual = fmt.Sprintf("%T", value)
		opErr.Cause = err
		return engine.Attribute{}, opErr
	}
	switch {
	case attr.Kind() == spec.Kind:
		return attr, nil
	case attr.Kind() == engine.KindInt && spec.Kind == engine.KindFloat:
		return engine.Float(float64(attr.Int())), nil
	case attr.Kind() == engine.KindInts && spec.Kind == engine.KindFloats:
		values := attr.Ints()
		floats := make([]float64, len(values))
		for ii, v := range values {
			floats[ii] = float64(v)
		}
		return engine.Floats(floats...), nil
	}
	opErr := newError(ErrAttributeTypeMismatch)
	opErr.Attribute = spec.Name
	opErr.Expected = spec.Kind.String()
	opErr.Actual = attr.Kind().String()
	return engine.Attribute{}, opErr
}
