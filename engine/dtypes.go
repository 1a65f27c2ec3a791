package engine

import (
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// elementTypeNames are the short names used in string attributes (e.g. Parameter's "element_type").
var elementTypeNames = map[dtypes.DType]string{
	dtypes.Bool:       "boolean",
	dtypes.Float16:    "f16",
	dtypes.Float32:    "f32",
	dtypes.Float64:    "f64",
	dtypes.Int8:       "i8",
	dtypes.Int16:      "i16",
	dtypes.Int32:      "i32",
	dtypes.Int64:      "i64",
	dtypes.Uint8:      "u8",
	dtypes.Uint16:     "u16",
	dtypes.Uint32:     "u32",
	dtypes.Uint64:     "u64",
	dtypes.Complex64:  "c64",
	dtypes.Complex128: "c128",
}

// ElementTypeName returns the attribute name of the element type, or "" if it is not supported.
func ElementTypeName(dtype dtypes.DType) string {
	return elementTypeNames[dtype]
}

// ParseElementType converts an element type name (case-insensitive) back to a dtype.
func ParseElementType(name string) (dtypes.DType, error) {
	name = strings.ToLower(name)
	for dtype, typeName := range elementTypeNames {
		if typeName == name {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown element type %q, valid values are %q", name, ElementTypeNames())
}

// ElementTypeNames returns all supported element type names, sorted.
func ElementTypeNames() []string {
	names := make([]string, 0, len(elementTypeNames))
	for _, name := range elementTypeNames {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GoType returns the Go type used to hold values of the element type in constants, or nil if the
// element type is not supported.
func GoType(dtype dtypes.DType) reflect.Type {
	switch dtype {
	case dtypes.Bool:
		return reflect.TypeFor[bool]()
	case dtypes.Float16:
		return reflect.TypeFor[float16.Float16]()
	case dtypes.Float32:
		return reflect.TypeFor[float32]()
	case dtypes.Float64:
		return reflect.TypeFor[float64]()
	case dtypes.Int8:
		return reflect.TypeFor[int8]()
	case dtypes.Int16:
		return reflect.TypeFor[int16]()
	case dtypes.Int32:
		return reflect.TypeFor[int32]()
	case dtypes.Int64:
		return reflect.TypeFor[int64]()
	case dtypes.Uint8:
		return reflect.TypeFor[uint8]()
	case dtypes.Uint16:
		return reflect.TypeFor[uint16]()
	case dtypes.Uint32:
		return reflect.TypeFor[uint32]()
	case dtypes.Uint64:
		return reflect.TypeFor[uint64]()
	case dtypes.Complex64:
		return reflect.TypeFor[complex64]()
	case dtypes.Complex128:
		return reflect.TypeFor[complex128]()
	default:
		return nil
	}
}

// ConstantInts returns the values of a constant integer node as []int64.
// It fails if the node is not a constant or its element type is not an integer.
func ConstantInts(n *Node) ([]int64, error) {
	if n == nil || !n.IsConstant() {
		return nil, errors.Errorf("node %s is not a constant", n)
	}
	switch flat := n.constant.(type) {
	case []int8:
		return convertInts(flat), nil
	case []int16:
		return convertInts(flat), nil
	case []int32:
		return convertInts(flat), nil
	case []int64:
		return slices.Clone(flat), nil
	case []uint8:
		return convertInts(flat), nil
	case []uint16:
		return convertInts(flat), nil
	case []uint32:
		return convertInts(flat), nil
	case []uint64:
		return convertInts(flat), nil
	default:
		return nil, errors.Errorf("constant %s is not of an integer element type", n)
	}
}

func convertInts[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64](flat []T) []int64 {
	values := make([]int64, len(flat))
	for ii, v := range flat {
		values[ii] = int64(v)
	}
	return values
}
