package backend

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/internal/onnxtest"
	"github.com/gomlx/opgraph/opset"
	"github.com/gomlx/opgraph/opset/opset0"
	"github.com/gomlx/opgraph/opset/opset1"
	"github.com/gomlx/opgraph/opset/opset5"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *GoMLX {
	b, err := Default()
	require.NoError(t, err)
	return b
}

// execute runs the graph built by the catalogs, with the given parameters fed by inputs.
func execute(t *testing.T, params []engine.Output, outputs []engine.Output, inputs ...*tensors.Tensor) []*tensors.Tensor {
	module := &Module{Graph: params[0].Node().Graph(), Outputs: outputs}
	for _, param := range params {
		module.Parameters = append(module.Parameters, param.Node())
	}
	results, err := newBackend(t).Execute(module, inputs...)
	require.NoError(t, err)
	return results
}

func TestImportAndExecute(t *testing.T) {
	modelPath := filepath.Join(t.TempDir(), "linear.onnx")
	require.NoError(t, onnxtest.Linear().WriteFile(modelPath))

	b := newBackend(t).WithDimension("batch_size", 2)
	module, err := b.Import(modelPath)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, module.InputsNames())
	require.Equal(t, []string{"y"}, module.OutputsNames())
	require.Len(t, module.Parameters, 1)

	x := tensors.FromFlatDataAndDimensions([]float32{1, 1, 1, 1, 2, 3}, 2, 3)
	outputs, err := b.Execute(module, x)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	require.Equal(t, []float32{6.5, 14.5}, tensors.MustCopyFlatData[float32](outputs[0]))

	t.Run("WrongInputShape", func(t *testing.T) {
		_, err := b.Execute(module, tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 1, 3))
		require.ErrorContains(t, err, "must be shaped")
		_, err = b.Execute(module)
		require.ErrorContains(t, err, "takes 1 inputs")
	})

	t.Run("UnboundDimension", func(t *testing.T) {
		_, err := newBackend(t).Import(modelPath)
		require.ErrorContains(t, err, "batch_size")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := b.Import(filepath.Join(t.TempDir(), "missing.onnx"))
		require.Error(t, err)
	})
}

func TestExecuteOpset1(t *testing.T) {
	t.Run("Broadcast", func(t *testing.T) {
		g := engine.NewGraph("broadcast")
		x := opset1.Parameter(g, dtypes.Float32, []int{2, 3})
		y := opset1.Relu(g, opset1.Subtract(g, x, []float32{2, 2, 2}))
		outputs := execute(t, []engine.Output{x}, []engine.Output{y},
			tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3))
		require.Equal(t, []float32{0, 0, 1, 2, 3, 4}, tensors.MustCopyFlatData[float32](outputs[0]))
	})

	t.Run("MatMulTransposed", func(t *testing.T) {
		g := engine.NewGraph("matmul")
		a := opset1.Parameter(g, dtypes.Float32, []int{2, 2})
		y := opset1.MatMul(g, a, [][]float32{{1, 0}, {1, 1}}, opset1.WithTransposeB(true))
		outputs := execute(t, []engine.Output{a}, []engine.Output{y},
			tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2))
		require.Equal(t, []float32{1, 3, 3, 7}, tensors.MustCopyFlatData[float32](outputs[0]))
	})

	t.Run("SplitConcatTranspose", func(t *testing.T) {
		g := engine.NewGraph("split")
		x := opset1.Parameter(g, dtypes.Int32, []int{2, 4})
		parts := opset1.Split(g, x, 1, 2)
		swapped := opset1.Concat(g, []opset.NodeInput{parts.Output(1), parts.Output(0)}, 1)
		y := opset1.Transpose(g, swapped, []int{1, 0})
		outputs := execute(t, []engine.Output{x}, []engine.Output{y, parts.Output(0)},
			tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 4, 5, 6, 7, 8}, 2, 4))
		require.Equal(t, []int32{3, 7, 4, 8, 1, 5, 2, 6}, tensors.MustCopyFlatData[int32](outputs[0]))
		require.Equal(t, []int{2, 2}, outputs[1].Shape().Dimensions)
	})

	t.Run("ReduceSumClampConvert", func(t *testing.T) {
		g := engine.NewGraph("reduce")
		x := opset1.Parameter(g, dtypes.Float32, []int{2, 3})
		sum := opset1.ReduceSum(g, x, []int{-1}, opset1.WithKeepDims(true))
		clamped := opset1.Clamp(g, sum, 0, 10)
		y := opset1.Convert(g, clamped, dtypes.Int64)
		outputs := execute(t, []engine.Output{x}, []engine.Output{y, sum},
			tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, -4, -5, -6}, 2, 3))
		require.Equal(t, []int64{6, 0}, tensors.MustCopyFlatData[int64](outputs[0]))
		require.Equal(t, []int{2, 1}, outputs[1].Shape().Dimensions)
	})

	t.Run("Softmax", func(t *testing.T) {
		g := engine.NewGraph("softmax")
		x := opset1.Parameter(g, dtypes.Float32, []int{1, 2})
		y := opset1.Softmax(g, x)
		outputs := execute(t, []engine.Output{x}, []engine.Output{y},
			tensors.FromFlatDataAndDimensions([]float32{3, 3}, 1, 2))
		assert.InDeltaSlice(t, []float32{0.5, 0.5}, tensors.MustCopyFlatData[float32](outputs[0]), 1e-6)
	})

	t.Run("NotExecutable", func(t *testing.T) {
		g := engine.NewGraph("asin")
		x := opset1.Parameter(g, dtypes.Float32, []int{2})
		y := opset1.Asin(g, x)
		module := &Module{Graph: g, Parameters: []*engine.Node{x.Node()}, Outputs: []engine.Output{y}}
		_, err := newBackend(t).Execute(module, tensors.FromFlatDataAndDimensions([]float32{0, 1}, 2))
		require.ErrorContains(t, err, "not implemented")
	})
}

func TestExecuteRound(t *testing.T) {
	values := []float32{0.5, 1.5, 2.5, -0.5, -1.5, 1.2, -2.7}
	input := func() *tensors.Tensor { return tensors.FromFlatDataAndDimensions(values, len(values)) }

	g := engine.NewGraph("round")
	x := opset1.Parameter(g, dtypes.Float32, []int{len(values)})
	toEven := opset5.Round(g, x)
	awayFromZero := opset5.Round(g, x, opset5.WithMode("half_away_from_zero"))
	outputs := execute(t, []engine.Output{x}, []engine.Output{toEven, awayFromZero}, input())
	require.Equal(t, []float32{0, 2, 2, 0, -2, 1, -3}, tensors.MustCopyFlatData[float32](outputs[0]))
	require.Equal(t, []float32{1, 2, 3, -1, -2, 1, -3}, tensors.MustCopyFlatData[float32](outputs[1]))

	// Legacy opset: no mode, always half to even; no parameters either, so the input is a constant.
	g0 := engine.NewGraph("round_v0")
	legacy := opset0.Round(g0, values)
	module := &Module{Graph: g0, Outputs: []engine.Output{legacy}}
	results := must.M1(newBackend(t).Execute(module))
	require.Equal(t, []float32{0, 2, 2, 0, -2, 1, -3}, tensors.MustCopyFlatData[float32](results[0]))
}

func TestExecuteGatherNDAndLogSoftmax(t *testing.T) {
	g := engine.NewGraph("gather_nd")
	data := opset1.Parameter(g, dtypes.Float32, []int{3, 2})
	rows := opset5.GatherND(g, data, [][]int32{{2}, {0}})
	logProbs := opset5.LogSoftmax(g, rows, -1)
	outputs := execute(t, []engine.Output{data}, []engine.Output{rows, logProbs},
		tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 5}, 3, 2))
	require.Equal(t, []float32{5, 5, 1, 2}, tensors.MustCopyFlatData[float32](outputs[0]))
	got := tensors.MustCopyFlatData[float32](outputs[1])
	assert.InDelta(t, -0.6931472, got[0], 1e-5)
	assert.InDelta(t, -0.6931472, got[1], 1e-5)
}

func TestSupportedOps(t *testing.T) {
	ops := SupportedOps()
	require.Contains(t, ops, "Maximum")
	require.Contains(t, ops, "GatherND")
	require.NotContains(t, ops, "Asin")
	require.IsIncreasing(t, ops)
}
