package opset

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/opgraph/engine"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"pgregory.net/rapid"
)

func TestNormalizeScalar(t *testing.T) {
	scalars := []struct {
		value any
		dtype dtypes.DType
	}{
		{true, dtypes.Bool},
		{int(7), dtypes.Int64},
		{int8(-3), dtypes.Int8},
		{int16(300), dtypes.Int16},
		{int32(-70000), dtypes.Int32},
		{int64(1 << 40), dtypes.Int64},
		{uint(7), dtypes.Uint64},
		{uint8(255), dtypes.Uint8},
		{uint16(65535), dtypes.Uint16},
		{uint32(1 << 31), dtypes.Uint32},
		{uint64(1 << 63), dtypes.Uint64},
		{float16.Fromfloat32(1.5), dtypes.Float16},
		{float32(3.25), dtypes.Float32},
		{float64(-2.5), dtypes.Float64},
		{complex64(1 + 2i), dtypes.Complex64},
		{complex128(3 - 1i), dtypes.Complex128},
	}
	rapid.Check(t, func(rt *rapid.T) {
		scalar := rapid.SampledFrom(scalars).Draw(rt, "scalar")
		g := engine.NewGraph("scalars")
		output, err := Normalize(g, scalar.value)
		require.NoError(rt, err)
		n := output.Node()
		require.True(rt, n.IsConstant())
		require.True(rt, output.Shape().IsScalar())
		require.Equal(rt, scalar.dtype, output.DType())
		require.Equal(rt, 1, g.NumNodes())
	})
}

func TestNormalizeArrays(t *testing.T) {
	g := engine.NewGraph("arrays")

	t.Run("Matrix", func(t *testing.T) {
		output, err := Normalize(g, [][]float32{{1, 2, 3}, {4, 5, 6}})
		require.NoError(t, err)
		require.Equal(t, dtypes.Float32, output.DType())
		require.Equal(t, []int{2, 3}, output.Shape().Dimensions)
		require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, output.Node().ConstantValue())
	})

	t.Run("GoArray", func(t *testing.T) {
		output, err := Normalize(g, [2][2]int32{{1, 2}, {3, 4}})
		require.NoError(t, err)
		require.Equal(t, dtypes.Int32, output.DType())
		require.Equal(t, []int{2, 2}, output.Shape().Dimensions)
	})

	t.Run("NestedAny", func(t *testing.T) {
		output, err := Normalize(g, []any{[]any{1.0, 2.0}, []any{3.0, 4.0}})
		require.NoError(t, err)
		require.Equal(t, dtypes.Float64, output.DType())
		require.Equal(t, []int{2, 2}, output.Shape().Dimensions)
	})

	t.Run("Empty", func(t *testing.T) {
		output, err := Normalize(g, []float64{})
		require.NoError(t, err)
		require.Equal(t, []int{0}, output.Shape().Dimensions)
	})

	t.Run("Override", func(t *testing.T) {
		output, err := Normalize(g, Typed([]int{1, 2, 3}, dtypes.Float16))
		require.NoError(t, err)
		require.Equal(t, dtypes.Float16, output.DType())
		values := output.Node().ConstantValue().([]float16.Float16)
		require.Equal(t, float32(3), values[2].Float32())

		output, err = Normalize(g, Typed([]float64{0, 0.5}, dtypes.Bool))
		require.NoError(t, err)
		require.Equal(t, []bool{false, true}, output.Node().ConstantValue())

		output, err = Normalize(g, Typed(true, dtypes.Int32))
		require.NoError(t, err)
		require.Equal(t, []int32{1}, output.Node().ConstantValue())
	})

	t.Run("NoDeduplication", func(t *testing.T) {
		a, err := Normalize(g, float32(1))
		require.NoError(t, err)
		b, err := Normalize(g, float32(1))
		require.NoError(t, err)
		require.NotSame(t, a.Node(), b.Node())
	})
}

func TestNormalizeOutputs(t *testing.T) {
	g := engine.NewGraph("outputs")
	c, err := Normalize(g, []float32{1, 2})
	require.NoError(t, err)

	got, err := Normalize(g, c)
	require.NoError(t, err)
	require.Equal(t, c, got)

	got, err = Normalize(g, c.Node())
	require.NoError(t, err)
	require.Equal(t, c, got)

	other := engine.NewGraph("other")
	_, err = Normalize(other, c)
	require.ErrorIs(t, err, ErrGraphConstruction)
}

func TestNormalizeErrors(t *testing.T) {
	g := engine.NewGraph("errors")
	for name, value := range map[string]any{
		"String": "abc",
		"Nil":    nil,
		"Map":    map[string]int{"a": 1},
		"Ragged": [][]int{{1, 2}, {3}},
		"Struct": struct{ X int }{1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(g, value)
			require.ErrorIs(t, err, ErrUnsupportedInputKind)
		})
	}
	for name, value := range map[string]any{
		"Uintptr":    uintptr(1),
		"Mixed":      []any{int32(1), float32(2)},
		"EmptyAny":   []any{},
		"Complex2F":  Typed(complex(1, 1), dtypes.Float32),
		"BadDType":   Typed(1, dtypes.BFloat16),
		"NestedMix":  []any{[]any{1}, []any{1.0}},
		"UintptrArr": []uintptr{1, 2},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(g, value)
			require.ErrorIs(t, err, ErrTypeInference)
		})
	}
	require.Equal(t, 0, g.NumNodes())
}

func TestNormalizeMany(t *testing.T) {
	g := engine.NewGraph("many")
	outputs, err := NormalizeMany(g, float32(1), []int64{1, 2}, true)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	require.Equal(t, dtypes.Float32, outputs[0].DType())
	require.Equal(t, dtypes.Int64, outputs[1].DType())
	require.Equal(t, dtypes.Bool, outputs[2].DType())
	require.Equal(t, 3, g.NumNodes())

	// A failure identifies the input, and removes the constants already created.
	_, err = NormalizeMany(g, float32(1), "x")
	require.ErrorIs(t, err, ErrUnsupportedInputKind)
	var opErr *Error
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, 1, opErr.Input)
	require.Equal(t, 3, g.NumNodes())
}

func TestNormalizeNoDeduplication(t *testing.T) {
	g := engine.NewGraph("dedup")
	first, err := Normalize(g, []float32{1, 2})
	require.NoError(t, err)
	second, err := Normalize(g, []float32{1, 2})
	require.NoError(t, err)
	require.NotSame(t, first.Node(), second.Node())
	require.Equal(t, first.Node().ConstantValue(), second.Node().ConstantValue())
	require.Equal(t, 2, g.NumNodes())
}
