package onnx

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/internal/onnxtest"
	"github.com/gomlx/opgraph/internal/protos"
	"github.com/gomlx/opgraph/opset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	m, err := Parse(onnxtest.Linear().Bytes())
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, m.InputsNames)
	require.Equal(t, []string{"y"}, m.OutputsNames)
	require.Equal(t, []int{-1, 3}, m.InputsShapes[0].Dimensions)
	require.Equal(t, "batch_size", m.OutputsShapes[0].Names[0])
	require.Equal(t, opset.Opset5, m.Opset())

	summary := m.String()
	assert.Contains(t, summary, "IR Version:\t8")
	assert.Contains(t, summary, "Op types:\tAdd, Mul, ReduceSum\n")
	assert.Contains(t, summary, "[#0] x: (Float32) [batch_size, 3]")
	assert.Contains(t, summary, "Imported as:\topset5")
	assert.NotContains(t, summary, "Not importable")

	erf, err := Parse(onnxtest.New("erf").Input("x", protos.TensorProto_FLOAT, 2).
		Node("Erf", []string{"x"}, []string{"y"}).
		Output("y", protos.TensorProto_FLOAT, 2).Bytes())
	require.NoError(t, err)
	assert.Contains(t, erf.String(), "Not importable:\tErf\n")

	_, err = Parse([]byte{0xff})
	require.Error(t, err)
	_, err = Parse(nil)
	require.ErrorContains(t, err, "no graph")
}

func TestReadFile(t *testing.T) {
	modelPath := filepath.Join(t.TempDir(), "models", "linear.onnx")
	require.NoError(t, onnxtest.Linear().WriteFile(modelPath))
	m, err := ReadFile(modelPath)
	require.NoError(t, err)
	require.Equal(t, filepath.Dir(modelPath), m.baseDir)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.onnx"))
	require.Error(t, err)
}

func TestImport(t *testing.T) {
	m, err := Parse(onnxtest.Linear().Bytes())
	require.NoError(t, err)

	t.Run("UnboundDimension", func(t *testing.T) {
		g := engine.NewGraph("linear")
		_, err := m.Import(g)
		require.ErrorContains(t, err, "batch_size")
	})

	m.WithDimension("batch_size", 2)
	g := engine.NewGraph("linear")
	outputs, err := m.Import(g)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	y := outputs[0]
	require.Equal(t, "y", y.Node().Name())
	require.Equal(t, "Add", y.Node().OpType())
	require.Equal(t, []int{2}, y.Shape().Dimensions)
	require.Equal(t, dtypes.Float32, y.DType())

	x := g.NodeByName("x")
	require.NotNil(t, x)
	require.Equal(t, "Parameter", x.OpType())
	require.Equal(t, []int64{2, 3}, x.Attributes()["shape"].Ints())

	w := g.NodeByName("w")
	require.True(t, w.IsConstant())
	require.Equal(t, []float32{1, 2, 3}, w.ConstantValue())

	sum := g.NodeByName("sum")
	require.Equal(t, "ReduceSum", sum.OpType())
	require.False(t, sum.Attributes()["keep_dims"].Bool())
	for _, n := range g.Nodes() {
		require.True(t, n.Committed(), "node %s", n)
	}
}

// importModel builds the model and imports it into a new graph.
func importModel(t *testing.T, b *onnxtest.Builder, id opset.ID) (*engine.Graph, []engine.Output, error) {
	m, err := Parse(b.Bytes())
	require.NoError(t, err)
	g := engine.NewGraph(b.Proto().Graph.Name)
	outputs, err := m.WithOpset(id).Import(g)
	return g, outputs, err
}

func TestImportOperators(t *testing.T) {
	float := protos.TensorProto_FLOAT

	t.Run("SoftmaxNegativeAxis", func(t *testing.T) {
		b := onnxtest.New("softmax").Input("x", float, 2, 5).
			Node("Softmax", []string{"x"}, []string{"y"}, onnxtest.Int("axis", -1)).
			Output("y", float, 2, 5)
		_, outputs, err := importModel(t, b, opset.Opset5)
		require.NoError(t, err)
		require.Equal(t, int64(1), outputs[0].Node().Attributes()["axis"].Int())
	})

	t.Run("GemmWithBias", func(t *testing.T) {
		b := onnxtest.New("gemm").Input("a", float, 3, 2).
			Initializer("b", []int{4, 2}, make([]float32, 8)).
			Initializer("c", []int{4}, []float32{1, 2, 3, 4}).
			Node("Gemm", []string{"a", "b", "c"}, []string{"y"}, onnxtest.Int("transB", 1), onnxtest.Float("beta", 2)).
			Output("y", float, 3, 4)
		g, outputs, err := importModel(t, b, opset.Opset5)
		require.NoError(t, err)
		require.Equal(t, []int{3, 4}, outputs[0].Shape().Dimensions)
		require.Equal(t, "Add", outputs[0].Node().OpType())
		require.True(t, g.NodeByName("y/matmul").Attributes()["transpose_b"].Bool())
		require.Equal(t, "Multiply", g.NodeByName("y/beta").OpType())
	})

	t.Run("ReduceSumEmptyAxes", func(t *testing.T) {
		reduceSum := func(noop int64) *onnxtest.Builder {
			return onnxtest.New("reduce").Input("x", float, 2, 3).
				Initializer("axes", []int{0}, []int64{}).
				Node("ReduceSum", []string{"x", "axes"}, []string{"y"},
					onnxtest.Int("keepdims", 0), onnxtest.Int("noop_with_empty_axes", noop)).
				Output("y", float)
		}
		g, outputs, err := importModel(t, reduceSum(0), opset.Opset1)
		require.NoError(t, err)
		require.Equal(t, "ReduceSum", outputs[0].Node().OpType())
		require.Equal(t, 0, outputs[0].Rank())
		axes, err := engine.ConstantInts(g.NodeByName("y/axes"))
		require.NoError(t, err)
		require.Equal(t, []int64{0, 1}, axes)

		_, outputs, err = importModel(t, reduceSum(1), opset.Opset1)
		require.NoError(t, err)
		require.Equal(t, "Parameter", outputs[0].Node().OpType())
		require.Equal(t, []int{2, 3}, outputs[0].Shape().Dimensions)
	})

	t.Run("ReduceSumAxesAttribute", func(t *testing.T) {
		b := onnxtest.New("reduce").Input("x", float, 2, 3).
			Node("ReduceSum", []string{"x"}, []string{"y"}, onnxtest.Ints("axes", -1)).
			Output("y", float, 2, 1)
		_, outputs, err := importModel(t, b, opset.Opset1)
		require.NoError(t, err)
		require.Equal(t, []int{2, 1}, outputs[0].Shape().Dimensions)
	})

	t.Run("SplitAndConcat", func(t *testing.T) {
		b := onnxtest.New("split").Input("x", float, 4, 6).
			Node("Split", []string{"x"}, []string{"p0", "p1", "p2"}, onnxtest.Int("axis", 1)).
			Node("Concat", []string{"p2", "p0"}, []string{"y"}, onnxtest.Int("axis", 1)).
			Output("y", float, 4, 4)
		g, outputs, err := importModel(t, b, opset.Opset1)
		require.NoError(t, err)
		require.Equal(t, []int{4, 4}, outputs[0].Shape().Dimensions)
		split := g.NodeByName("p0_node")
		require.NotNil(t, split)
		require.Equal(t, 3, split.NumOutputs())
	})

	t.Run("ClipCastTranspose", func(t *testing.T) {
		b := onnxtest.New("clip").Input("x", float, 2, 3).
			Initializer("lo", nil, []float32{0}).
			Node("Clip", []string{"x", "lo"}, []string{"clipped"}).
			Node("Cast", []string{"clipped"}, []string{"ints"}, onnxtest.Int("to", int64(protos.TensorProto_INT32))).
			Node("Transpose", []string{"ints"}, []string{"y"}).
			Output("y", protos.TensorProto_INT32, 3, 2)
		g, outputs, err := importModel(t, b, opset.Opset5)
		require.NoError(t, err)
		require.Equal(t, []int{3, 2}, outputs[0].Shape().Dimensions)
		require.Equal(t, dtypes.Int32, outputs[0].DType())
		clamp := g.NodeByName("clipped")
		require.Equal(t, 0.0, clamp.Attributes()["min"].Float())
		require.Greater(t, clamp.Attributes()["max"].Float(), 1e30)
	})

	t.Run("ConstantAndGatherND", func(t *testing.T) {
		b := onnxtest.New("gather").Input("x", float, 3, 4).
			Node("Constant", nil, []string{"idx"},
				onnxtest.TensorAttr("value", onnxtest.Tensor("", []int{2, 1}, []int64{0, 2}))).
			Node("GatherND", []string{"x", "idx"}, []string{"y"}).
			Output("y", float, 2, 4)
		g, outputs, err := importModel(t, b, opset.Opset5)
		require.NoError(t, err)
		require.Equal(t, []int{2, 4}, outputs[0].Shape().Dimensions)
		require.True(t, g.NodeByName("idx").IsConstant())
	})

	t.Run("OperationNotInOpset", func(t *testing.T) {
		b := onnxtest.New("log_softmax").Input("x", float, 2, 5).
			Node("LogSoftmax", []string{"x"}, []string{"y"}).
			Output("y", float, 2, 5)
		_, _, err := importModel(t, b, opset.Opset1)
		require.ErrorIs(t, err, opset.ErrUnknownOperation)

		_, _, err = importModel(t, b, opset.Opset5)
		require.NoError(t, err)
	})

	t.Run("UnsupportedOperator", func(t *testing.T) {
		b := onnxtest.New("erf").Input("x", float, 2).
			Node("Erf", []string{"x"}, []string{"y"}).
			Output("y", float, 2)
		_, _, err := importModel(t, b, opset.Opset5)
		require.ErrorContains(t, err, "unimplemented ONNX Erf")
	})

	t.Run("OutOfOrderNodes", func(t *testing.T) {
		b := onnxtest.New("order").Input("x", float, 2).
			Node("Exp", []string{"e"}, []string{"y"}).
			Node("Sqrt", []string{"x"}, []string{"e"}).
			Output("y", float, 2)
		g, outputs, err := importModel(t, b, opset.Opset1)
		require.NoError(t, err)
		require.Equal(t, "Exp", outputs[0].Node().OpType())
		require.Less(t, g.NodeByName("e").ID(), g.NodeByName("y").ID())
	})

	t.Run("MissingValue", func(t *testing.T) {
		b := onnxtest.New("missing").Input("x", float, 2).
			Node("Add", []string{"x", "nowhere"}, []string{"y"}).
			Output("y", float, 2)
		_, _, err := importModel(t, b, opset.Opset1)
		require.ErrorContains(t, err, "nowhere")
	})
}
