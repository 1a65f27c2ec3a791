package modeltest

import (
	"os"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ORTLibraryEnv is the environment variable with the path to the ONNX Runtime shared library, used as the
// reference runtime.
const ORTLibraryEnv = "ORT_SO_PATH"

// InitReferenceRuntime initializes ONNX Runtime from the library in $ORT_SO_PATH. It returns a function to
// release it.
func InitReferenceRuntime() (destroy func(), err error) {
	ortPath := os.Getenv(ORTLibraryEnv)
	if ortPath == "" {
		return nil, errors.Errorf("set %s with the path to the ONNX Runtime shared library", ORTLibraryEnv)
	}
	ort.SetSharedLibraryPath(ortPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize ONNX Runtime")
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

func dims64(dims []int) []int64 {
	converted := make([]int64, len(dims))
	for ii, dim := range dims {
		converted[ii] = int64(dim)
	}
	return converted
}

// ReferenceOutputs executes the model file with ONNX Runtime. Only float32 inputs and outputs are supported.
// outputShapes are the expected shapes of the outputs.
func ReferenceOutputs(modelPath string, inputNames, outputNames []string, inputs []*tensors.Tensor,
	outputShapes []shapes.Shape) ([]*tensors.Tensor, error) {
	values := make([]ort.Value, 0, len(inputs)+len(outputShapes))
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()

	ortInputs := make([]ort.Value, len(inputs))
	for ii, input := range inputs {
		if input.DType() != dtypes.Float32 {
			return nil, errors.Errorf("input #%d: only float32 supported by the reference runtime, got %s", ii, input.DType())
		}
		tensor, err := ort.NewTensor(ort.NewShape(dims64(input.Shape().Dimensions)...), tensors.MustCopyFlatData[float32](input))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create ONNX Runtime input #%d", ii)
		}
		values = append(values, tensor)
		ortInputs[ii] = tensor
	}
	ortOutputs := make([]*ort.Tensor[float32], len(outputShapes))
	outputValues := make([]ort.Value, len(outputShapes))
	for ii, shape := range outputShapes {
		if shape.DType != dtypes.Float32 {
			return nil, errors.Errorf("output #%d: only float32 supported by the reference runtime, got %s", ii, shape.DType)
		}
		tensor, err := ort.NewEmptyTensor[float32](ort.NewShape(dims64(shape.Dimensions)...))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create ONNX Runtime output #%d", ii)
		}
		values = append(values, tensor)
		ortOutputs[ii] = tensor
		outputValues[ii] = tensor
	}

	session, err := ort.NewAdvancedSession(modelPath, inputNames, outputNames, ortInputs, outputValues, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create ONNX Runtime session for %s", modelPath)
	}
	defer func() { _ = session.Destroy() }()
	if err := session.Run(); err != nil {
		return nil, errors.Wrapf(err, "ONNX Runtime failed to run %s", modelPath)
	}

	outputs := make([]*tensors.Tensor, len(ortOutputs))
	for ii, tensor := range ortOutputs {
		data := append([]float32(nil), tensor.GetData()...)
		outputs[ii] = tensors.FromFlatDataAndDimensions(data, outputShapes[ii].Dimensions...)
	}
	return outputs, nil
}

// FetchModel downloads (or reuses from the local cache) a model file from a HuggingFace repository, and returns
// its local path. The token in $HF_TOKEN is used, if set.
func FetchModel(repoID, fileName string) (string, error) {
	repo := hub.New(repoID).WithAuth(os.Getenv("HF_TOKEN"))
	if !repo.HasFile(fileName) {
		return "", errors.Errorf("file %q not found in HuggingFace repository %q", fileName, repoID)
	}
	path, err := repo.DownloadFile(fileName)
	if err != nil {
		return "", errors.WithMessagef(err, "failed to download %q from %q", fileName, repoID)
	}
	return path, nil
}
