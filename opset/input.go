package opset

import (
	"fmt"
	"reflect"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/opgraph/engine"
	"github.com/x448/float16"
)

// NodeInput is anything that can be used as an input to a node:
//
//   - engine.Output: used as is. It must belong to the graph where the node is being created.
//   - *engine.Node: a node with exactly one output, which is used.
//   - Go scalars (bool, any int, uint, float or complex type, float16.Float16): converted to a scalar constant.
//   - Multi-dimensional rectangular Go slices or arrays of scalars (e.g. [][]float32): converted to a
//     constant with the same dimensions.
//   - Literal: a scalar or array with an explicit element type.
//
// Literals are never deduplicated: each one creates a new constant node.
type NodeInput any

// Literal is a Go scalar or (multi-dimensional) array, to be converted to a constant of the given element type.
type Literal struct {
	Value any
	DType dtypes.DType
}

// Typed returns a Literal that creates a constant of the given element type, instead of the one inferred
// from the Go type of value.
func Typed(value any, dtype dtypes.DType) Literal {
	return Literal{Value: value, DType: dtype}
}

const supportedInputKinds = "engine.Output, single-output *engine.Node, numeric scalar or rectangular numeric array"

// Normalize converts a NodeInput to a reference to a node output in g, creating a constant node for literals.
func Normalize(g *engine.Graph, v NodeInput) (engine.Output, error) {
	switch input := v.(type) {
	case engine.Output:
		return checkOutput(g, input)
	case *engine.Node:
		if input == nil {
			return engine.Output{}, unsupported(v)
		}
		if input.NumOutputs() != 1 {
			err := newError(ErrUnsupportedInputKind)
			err.Expected = "a node with a single output"
			err.Actual = fmt.Sprintf("node %q with %d outputs", input.Name(), input.NumOutputs())
			return engine.Output{}, err
		}
		return checkOutput(g, input.Output(0))
	case Literal:
		return constant(g, input.Value, input.DType)
	default:
		return constant(g, v, dtypes.InvalidDType)
	}
}

// NormalizeMany normalizes each input, in order. If any of them fails, the constants already created are
// removed from the graph, and the error identifies the offending input.
func NormalizeMany(g *engine.Graph, vs ...NodeInput) ([]engine.Output, error) {
	mark := g.Mark()
	outputs := make([]engine.Output, len(vs))
	for ii, v := range vs {
		output, err := Normalize(g, v)
		if err != nil {
			g.Rollback(mark)
			if opErr, ok := err.(*Error); ok {
				opErr.Input = ii
			}
			return nil, err
		}
		outputs[ii] = output
	}
	return outputs, nil
}

func unsupported(v any) *Error {
	err := newError(ErrUnsupportedInputKind)
	err.Expected = supportedInputKinds
	err.Actual = fmt.Sprintf("%T", v)
	return err
}

func checkOutput(g *engine.Graph, output engine.Output) (engine.Output, error) {
	if !output.IsValid() {
		err := newError(ErrUnsupportedInputKind)
		err.Expected = supportedInputKinds
		err.Actual = "invalid engine.Output"
		return engine.Output{}, err
	}
	node := output.Node()
	if node.Graph() != g {
		err := newError(ErrGraphConstruction)
		err.Actual = fmt.Sprintf("output %s of graph %q", output.Name(), node.Graph().Name())
		err.Expected = fmt.Sprintf("an output of graph %q", g.Name())
		return engine.Output{}, err
	}
	if !node.Committed() {
		err := newError(ErrGraphConstruction)
		err.Actual = fmt.Sprintf("output %s of a node not committed to the graph", output.Name())
		return engine.Output{}, err
	}
	return output, nil
}

var float16Type = reflect.TypeFor[float16.Float16]()

// dtypeForGoType returns the element type for values of the Go type t. It returns ErrUnsupportedInputKind
// for types that are not numbers, and ErrTypeInference for numeric-like types without an element type.
func dtypeForGoType(t reflect.Type) (dtypes.DType, error) {
	if t == float16Type {
		return dtypes.Float16, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		return dtypes.Bool, nil
	case reflect.Int, reflect.Int64:
		return dtypes.Int64, nil
	case reflect.Int8:
		return dtypes.Int8, nil
	case reflect.Int16:
		return dtypes.Int16, nil
	case reflect.Int32:
		return dtypes.Int32, nil
	case reflect.Uint, reflect.Uint64:
		return dtypes.Uint64, nil
	case reflect.Uint8:
		return dtypes.Uint8, nil
	case reflect.Uint16:
		return dtypes.Uint16, nil
	case reflect.Uint32:
		return dtypes.Uint32, nil
	case reflect.Float32:
		return dtypes.Float32, nil
	case reflect.Float64:
		return dtypes.Float64, nil
	case reflect.Complex64:
		return dtypes.Complex64, nil
	case reflect.Complex128:
		return dtypes.Complex128, nil
	case reflect.Uintptr, reflect.UnsafePointer:
		err := newError(ErrTypeInference)
		err.Actual = t.String()
		return dtypes.InvalidDType, err
	default:
		err := newError(ErrUnsupportedInputKind)
		err.Expected = supportedInputKinds
		err.Actual = t.String()
		return dtypes.InvalidDType, err
	}
}

// flattener walks a (nested) Go value collecting its dimensions and scalar leaves.
type flattener struct {
	dims      []int
	leafDepth int
	leafType  reflect.Type
	leaves    []reflect.Value
}

func isArray(v reflect.Value) bool {
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}

func (f *flattener) walk(v reflect.Value, depth int) error {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return unsupported(nil)
		}
		v = v.Elem()
	}
	if isArray(v) {
		if f.leafDepth >= 0 && depth >= f.leafDepth {
			return f.ragged()
		}
		n := v.Len()
		if depth == len(f.dims) {
			f.dims = append(f.dims, n)
		} else if f.dims[depth] != n {
			return f.ragged()
		}
		for ii := range n {
			if err := f.walk(v.Index(ii), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	// Scalar leaf.
	if f.leafDepth < 0 {
		if depth != len(f.dims) {
			return f.ragged()
		}
		f.leafDepth = depth
	} else if depth != f.leafDepth {
		return f.ragged()
	}
	if _, err := dtypeForGoType(v.Type()); err != nil {
		return err
	}
	if f.leafType == nil {
		f.leafType = v.Type()
	} else if f.leafType != v.Type() {
		err := newError(ErrTypeInference)
		err.Actual = fmt.Sprintf("mixed element types %s and %s", f.leafType, v.Type())
		return err
	}
	f.leaves = append(f.leaves, v)
	return nil
}

func (f *flattener) ragged() error {
	err := newError(ErrUnsupportedInputKind)
	err.Expected = "a rectangular array"
	err.Actual = "an array with rows of different lengths"
	return err
}

// staticLeafType returns the scalar type of a nested slice/array type, used for empty arrays.
func staticLeafType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Slice || t.Kind() == reflect.Array || t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// constant creates a constant node from a Go scalar or array. If dtype is not InvalidDType, values are
// converted to it.
func constant(g *engine.Graph, value any, dtype dtypes.DType) (engine.Output, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return engine.Output{}, unsupported(value)
	}
	f := &flattener{leafDepth: -1}
	if err := f.walk(rv, 0); err != nil {
		return engine.Output{}, err
	}
	if f.leafType == nil {
		// Empty array: the element type comes from the static type.
		f.leafType = staticLeafType(rv.Type())
		if f.leafType.Kind() == reflect.Interface {
			err := newError(ErrTypeInference)
			err.Actual = fmt.Sprintf("empty %T", value)
			return engine.Output{}, err
		}
		if _, err := dtypeForGoType(f.leafType); err != nil {
			return engine.Output{}, err
		}
	}
	if dtype == dtypes.InvalidDType {
		dtype, _ = dtypeForGoType(f.leafType)
	}
	goType := engine.GoType(dtype)
	if goType == nil {
		err := newError(ErrTypeInference)
		err.Actual = fmt.Sprintf("element type %s", dtype)
		err.Expected = "a supported element type"
		return engine.Output{}, err
	}
	flat := reflect.MakeSlice(reflect.SliceOf(goType), len(f.leaves), len(f.leaves))
	for ii, leaf := range f.leaves {
		converted, err := convertScalar(leaf, dtype, goType)
		if err != nil {
			return engine.Output{}, err
		}
		flat.Index(ii).Set(converted)
	}
	n, err := g.CreateConstant(dtype, f.dims, flat.Interface())
	if err != nil {
		opErr := newError(ErrGraphConstruction)
		opErr.Cause = err
		return engine.Output{}, opErr
	}
	return n.Output(0), nil
}

func isComplex(t reflect.Type) bool {
	return t.Kind() == reflect.Complex64 || t.Kind() == reflect.Complex128
}

// convertScalar converts a scalar leaf to the Go type of dtype.
func convertScalar(v reflect.Value, dtype dtypes.DType, goType reflect.Type) (reflect.Value, error) {
	if v.Type() == goType {
		return v, nil
	}
	if isComplex(v.Type()) && !isComplex(goType) {
		err := newError(ErrTypeInference)
		err.Actual = fmt.Sprintf("complex value %v", v.Interface())
		err.Expected = fmt.Sprintf("a value convertible to %s", dtype)
		return reflect.Value{}, err
	}
	switch {
	case dtype == dtypes.Bool:
		return reflect.ValueOf(toFloat64(v) != 0), nil
	case dtype == dtypes.Float16:
		return reflect.ValueOf(float16.Fromfloat32(float32(toFloat64(v)))), nil
	case isComplex(goType) && !isComplex(v.Type()):
		return reflect.ValueOf(complex(toFloat64(v), 0)).Convert(goType), nil
	case v.Kind() == reflect.Bool || v.Type() == float16Type:
		return reflect.ValueOf(toFloat64(v)).Convert(goType), nil
	default:
		return v.Convert(goType), nil
	}
}

// toFloat64 returns the value of a real scalar (bool, int, uint, float or float16) as float64.
func toFloat64(v reflect.Value) float64 {
	if v.Type() == float16Type {
		return float64(float16.Float16(v.Uint()).Float32())
	}
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.Complex64, reflect.Complex128:
		return real(v.Complex())
	default:
		return v.Float()
	}
}
