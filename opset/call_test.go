package opset

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/opgraph/engine"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	g := engine.NewGraph("build")
	data, err := Normalize(g, [][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)

	t.Run("RecordsValidatedAttributes", func(t *testing.T) {
		attrs := Attrs{"mode": "half_away_from_zero"}
		n, err := Create(g, Opset5, "Round", []NodeInput{data}, attrs, "")
		require.NoError(t, err)
		expected, err := Validate(LookupSchema(Opset5, "Round"), attrs)
		require.NoError(t, err)
		require.True(t, expected.Equal(n.Attributes()))
		require.Equal(t, "HALF_AWAY_FROM_ZERO", n.Attributes()["mode"].Str())
	})

	t.Run("InheritedSchema", func(t *testing.T) {
		n, err := Build(g, NewCall(Opset5, "Add", data, float32(1)))
		require.NoError(t, err)
		require.Equal(t, string(Opset5), n.Opset())
		require.Equal(t, "NUMPY", n.Attributes()["auto_broadcast"].Str())
	})

	t.Run("VersionedSemantics", func(t *testing.T) {
		n, err := Build(g, NewCall(Opset0, "Round", data))
		require.NoError(t, err)
		require.Empty(t, n.Attributes())

		_, err = Build(g, NewCall(Opset1, "Round", data))
		require.ErrorIs(t, err, ErrUnknownOperation)

		_, err = Build(g, NewCall(Opset0, "Round", data).Set("mode", "HALF_TO_EVEN"))
		require.ErrorIs(t, err, ErrUnknownAttribute)
	})

	t.Run("Options", func(t *testing.T) {
		c := NewCall(Opset1, "Softmax", data).Apply([]Option{WithName("probs"), WithAttr("axis", 0)})
		n, err := Build(g, c)
		require.NoError(t, err)
		require.Equal(t, "probs", n.Name())
		require.Equal(t, int64(0), n.Attributes()["axis"].Int())
	})
}

func TestBuildLeavesNoPartialNodes(t *testing.T) {
	g := engine.NewGraph("partial")
	x, err := Normalize(g, []float32{1, 2, 3})
	require.NoError(t, err)
	before := g.NumNodes()

	// Invalid attribute: inputs are not even normalized.
	_, err = Build(g, NewCall(Opset1, "Softmax", x, []float32{1}).Set("axis", -1))
	require.ErrorIs(t, err, ErrAttributeValueOutOfRange)
	require.Equal(t, before, g.NumNodes())

	// Engine inference failure: the constant created for the literal is removed.
	_, err = Build(g, NewCall(Opset1, "Add", x, []int32{1, 2, 3}))
	require.ErrorIs(t, err, ErrGraphConstruction)
	require.Equal(t, before, g.NumNodes())

	// Duplicate name: same.
	_, err = Build(g, NewCall(Opset1, "Add", x, float32(1)).Apply([]Option{WithName("a")}))
	require.NoError(t, err)
	before = g.NumNodes()
	_, err = Build(g, NewCall(Opset1, "Add", x, float32(1)).Apply([]Option{WithName("a")}))
	require.ErrorIs(t, err, ErrDuplicateNodeName)
	require.Equal(t, before, g.NumNodes())
}

func TestMustSingle(t *testing.T) {
	g := engine.NewGraph("must")
	output := MustSingle(g, NewCall(Opset1, "Parameter").
		Set("element_type", "f32").Set("shape", []int{2, 3}))
	require.Equal(t, dtypes.Float32, output.DType())
	require.Equal(t, []int{2, 3}, output.Shape().Dimensions)

	err := exceptions.TryCatch[error](func() {
		MustSingle(g, NewCall(Opset5, "LogSoftmax", output).Set("axis", "1"))
	})
	require.ErrorIs(t, err, ErrAttributeTypeMismatch)

	err = exceptions.TryCatch[error](func() {
		MustSingle(g, NewCall(Opset1, "Split", output).Set("axis", 1).Set("num_splits", 3))
	})
	require.ErrorIs(t, err, ErrGraphConstruction)

	split := MustMulti(g, NewCall(Opset1, "Split", output).Set("axis", 1).Set("num_splits", 3))
	require.Equal(t, 3, split.NumOutputs())
}
