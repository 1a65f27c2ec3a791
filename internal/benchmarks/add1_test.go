package benchmarks

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/opgraph/backend"
	"github.com/gomlx/opgraph/internal/onnxtest"
	"github.com/gomlx/opgraph/internal/protos"
	"github.com/gomlx/opgraph/onnx"
	"github.com/janpfeifer/must"
	ort "github.com/yalue/onnxruntime_go"
)

// Add1Shapes are the input shapes the add1 model is benchmarked with.
var Add1Shapes = []shapes.Shape{
	shapes.Make(dtypes.Float32, 1, 1),
	shapes.Make(dtypes.Float32, 10, 10),
	shapes.Make(dtypes.Float32, 100, 100),
	shapes.Make(dtypes.Float32, 1000, 1000),
}

// add1Model is the minimalistic model "Y = X + 1", with X shaped [batch, features].
func add1Model() *onnxtest.Builder {
	return onnxtest.New("add1").
		Input("X", protos.TensorProto_FLOAT, "batch", "features").
		Initializer("one", nil, []float32{1}).
		Node("Add", []string{"X", "one"}, []string{"Y"}).
		Output("Y", protos.TensorProto_FLOAT, "batch", "features")
}

// filledTensor returns a tensor of the given shape with all values set to v.
func filledTensor(s shapes.Shape, v float32) *tensors.Tensor {
	flat := make([]float32, s.Size())
	for ii := range flat {
		flat[ii] = v
	}
	return tensors.FromFlatDataAndDimensions(flat, s.Dimensions...)
}

func verifyAdd1(v float32, got []float32) {
	vWant := v + 1
	for _, vOut := range got {
		if vOut != vWant {
			exceptions.Panicf("Wanted %f, got %f instead!?", vWant, vOut)
		}
	}
}

// BenchmarkAdd1Import measures the import of the add1 model into an operation graph.
func BenchmarkAdd1Import(b *testing.B) {
	contents := add1Model().Bytes()
	gomlxBackend := must.M1(backend.Default())
	for i := 0; i < b.N; i++ {
		model := must.M1(onnx.Parse(contents)).WithDimension("batch", 1).WithDimension("features", 1)
		must.M1(gomlxBackend.ImportModel(model))
	}
}

// BenchmarkAdd1Execute imports the add1 model once per shape, and measures its execution with the pure Go
// backend, including the transfer of the tensors.
func BenchmarkAdd1Execute(b *testing.B) {
	contents := add1Model().Bytes()
	gomlxBackend := must.M1(backend.Default())
	modules := sliceMap(Add1Shapes, func(s shapes.Shape) *backend.Module {
		model := must.M1(onnx.Parse(contents)).
			WithDimension("batch", s.Dimensions[0]).
			WithDimension("features", s.Dimensions[1])
		return must.M1(gomlxBackend.ImportModel(model))
	})
	fmt.Printf("Add1 graph:\n%s\n", modules[1].Graph)

	benchShape := func(v float32, shapeIdx int, isWarmUp bool) {
		x := filledTensor(Add1Shapes[shapeIdx], v)
		y := must.M1(gomlxBackend.Execute(modules[shapeIdx], x))[0]
		if isWarmUp {
			verifyAdd1(v, tensors.MustCopyFlatData[float32](y))
		}
	}

	// Warmup for each shape.
	for shapeIdx := range Add1Shapes {
		for i := range 3 {
			benchShape(float32(i), shapeIdx, true)
		}
	}

	// Reset timer and start actual benchmark
	b.ResetTimer()

	// Test each shape.
	for shapeIdx, s := range Add1Shapes {
		b.Run(s.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				benchShape(float32(i), shapeIdx, false)
			}
		})
	}
}

// BenchmarkAdd1ONNXRuntime executes the add1 model with ONNX Runtime, for comparison. It requires
// $ORT_SO_PATH.
func BenchmarkAdd1ONNXRuntime(b *testing.B) {
	initORT(b)
	modelPath := filepath.Join(b.TempDir(), "add1.onnx")
	must.M(add1Model().WriteFile(modelPath))

	numShapes := len(Add1Shapes)
	inputTensors := make([]*ort.Tensor[float32], numShapes)
	outputTensors := make([]*ort.Tensor[float32], numShapes)
	sessions := make([]*ort.AdvancedSession, numShapes)
	for shapeIdx, s := range Add1Shapes {
		ortShape := ort.NewShape(int64(s.Dimensions[0]), int64(s.Dimensions[1]))
		inputTensors[shapeIdx] = must.M1(ort.NewEmptyTensor[float32](ortShape))
		outputTensors[shapeIdx] = must.M1(ort.NewEmptyTensor[float32](ortShape))
		sessions[shapeIdx] = must.M1(ort.NewAdvancedSession(modelPath,
			[]string{"X"}, []string{"Y"},
			[]ort.Value{inputTensors[shapeIdx]}, []ort.Value{outputTensors[shapeIdx]}, nil))
	}
	defer func() {
		for shapeIdx := range Add1Shapes {
			_ = sessions[shapeIdx].Destroy()
			_ = inputTensors[shapeIdx].Destroy()
			_ = outputTensors[shapeIdx].Destroy()
		}
	}()

	benchShape := func(v float32, shapeIdx int, isWarmUp bool) {
		if isWarmUp {
			flat := inputTensors[shapeIdx].GetData()
			for ii := range flat {
				flat[ii] = v
			}
		}
		must.M(sessions[shapeIdx].Run())
		if isWarmUp {
			verifyAdd1(v, outputTensors[shapeIdx].GetData())
		}
	}

	// Warmup for each shape.
	for shapeIdx := range Add1Shapes {
		for i := range 10 {
			benchShape(float32(i), shapeIdx, true)
		}
	}

	// Reset timer and start actual benchmark
	b.ResetTimer()

	// Test each shape.
	for shapeIdx, s := range Add1Shapes {
		b.Run(s.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				benchShape(float32(i), shapeIdx, false)
			}
		})
	}
}

// BenchmarkAdd1PureGo is the baseline: a plain Go loop over pre-allocated slices.
func BenchmarkAdd1PureGo(b *testing.B) {
	inputs := sliceMap(Add1Shapes, func(s shapes.Shape) []float32 { return make([]float32, s.Size()) })
	outputs := sliceMap(Add1Shapes, func(s shapes.Shape) []float32 { return make([]float32, s.Size()) })

	benchShape := func(v float32, shapeIdx int, isWarmUp bool) {
		x, y := inputs[shapeIdx], outputs[shapeIdx]
		if isWarmUp {
			for ii := range x {
				x[ii] = v
			}
		}
		for ii, xi := range x {
			y[ii] = xi + 1
		}
		if isWarmUp {
			verifyAdd1(v, y)
		}
	}

	// Warmup for each shape.
	for shapeIdx := range Add1Shapes {
		for i := range 10 {
			benchShape(float32(i), shapeIdx, true)
		}
	}

	// Reset timer and start actual benchmark
	b.ResetTimer()

	// Test each shape.
	for shapeIdx, s := range Add1Shapes {
		b.Run(s.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				benchShape(float32(i), shapeIdx, false)
			}
		})
	}
}
