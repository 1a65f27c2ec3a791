package onnx

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/opgraph/internal/onnxtest"
	"github.com/gomlx/opgraph/internal/protos"
	"github.com/stretchr/testify/require"
)

func TestValidateInputs(t *testing.T) {
	m, err := Parse(onnxtest.New("two_inputs").
		Input("tokens", protos.TensorProto_INT64, "batch", "seq").
		Input("mask", protos.TensorProto_FLOAT, "batch", 8).
		Node("Identity", []string{"mask"}, []string{"y"}).
		Output("y", protos.TensorProto_FLOAT, "batch", 8).Bytes())
	require.NoError(t, err)

	for _, tc := range []struct {
		name   string
		inputs []shapes.Shape
		errMsg string
	}{
		{"Valid", []shapes.Shape{shapes.Make(dtypes.Int64, 2, 5), shapes.Make(dtypes.Float32, 2, 8)}, ""},
		{"NumInputs", []shapes.Shape{shapes.Make(dtypes.Int64, 2, 5)}, ""},
		{"DType", []shapes.Shape{shapes.Make(dtypes.Int32, 2, 5), shapes.Make(dtypes.Float32, 2, 8)}, ""},
		{"Rank", []shapes.Shape{shapes.Make(dtypes.Int64, 2, 5, 1), shapes.Make(dtypes.Float32, 2, 8)}, ""},
		{"FixedDimension", []shapes.Shape{shapes.Make(dtypes.Int64, 2, 5), shapes.Make(dtypes.Float32, 2, 9)}, ""},
		{"SymbolicDimensionMismatch", []shapes.Shape{shapes.Make(dtypes.Int64, 2, 5), shapes.Make(dtypes.Float32, 3, 8)}, "batch"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := m.ValidateInputs(tc.inputs...)
			if tc.name == "Valid" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tc.errMsg != "" {
				require.ErrorContains(t, err, tc.errMsg)
			}
		})
	}

	t.Run("BoundDimension", func(t *testing.T) {
		m.WithDimension("seq", 5)
		require.NoError(t, m.ValidateInputs(shapes.Make(dtypes.Int64, 2, 5), shapes.Make(dtypes.Float32, 2, 8)))
		err := m.ValidateInputs(shapes.Make(dtypes.Int64, 2, 6), shapes.Make(dtypes.Float32, 2, 8))
		require.ErrorContains(t, err, `dimension "seq" is 5`)
	})
}

func TestDynamicShapeResolve(t *testing.T) {
	dshape := DynamicShape{
		DType:      dtypes.Float16,
		Dimensions: []int{-1, 4, -1},
		Names:      []string{"batch", "4", "seq"},
	}
	require.Equal(t, "(Float16) [batch, 4, seq]", dshape.String())

	shape, err := dshape.Resolve(map[string]int{"batch": 2, "seq": 16, "unused": 1})
	require.NoError(t, err)
	require.True(t, shape.Equal(shapes.Make(dtypes.Float16, 2, 4, 16)))

	_, err = dshape.Resolve(map[string]int{"batch": 2})
	require.ErrorContains(t, err, "seq")
}
