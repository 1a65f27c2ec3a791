// Package onnx reads ONNX models and imports their graphs into an engine.Graph, creating every node through
// the node factories of the opset package.
//
//   - Parse: converts a serialized ONNX ModelProto to a Model.
//   - ReadFile: reads a file and calls Parse. It also resolves initializers stored as external data.
//   - Model: holds the parsed model and its inputs and outputs description. Model.Import builds the
//     corresponding engine graph.
package onnx

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/opgraph/internal/protos"
	"github.com/gomlx/opgraph/opset"
	"github.com/pkg/errors"
)

// Model represents a parsed ONNX file.
type Model struct {
	Proto                       protos.ModelProto
	InputsNames, OutputsNames   []string
	InputsShapes, OutputsShapes []DynamicShape

	// opsetID is the operation set used to create the nodes of the imported graph.
	opsetID opset.ID

	// dimensions binds symbolic dimension names of the inputs to concrete values.
	dimensions map[string]int

	// baseDir is the directory of the model file, used to resolve external data.
	baseDir string
}

// Parse parses an ONNX model into an internal representation that can be imported into an engine graph.
func Parse(contents []byte) (*Model, error) {
	m := &Model{opsetID: opset.Opset5, dimensions: make(map[string]int)}
	if err := m.Proto.Unmarshal(contents); err != nil {
		return nil, errors.Wrap(err, "failed to parse ONNX model proto")
	}
	if m.Proto.Graph == nil {
		return nil, errors.New("ONNX model has no graph")
	}

	// Initializers may be listed as graph inputs (IR version < 4): those are not inputs of the model.
	initializers := make(map[string]bool, len(m.Proto.Graph.Initializer))
	for _, tensorProto := range m.Proto.Graph.Initializer {
		initializers[tensorProto.Name] = true
	}
	for _, inputProto := range m.Proto.Graph.Input {
		if initializers[inputProto.Name] {
			continue
		}
		shape, err := makeDynamicShapeFromProto(inputProto)
		if err != nil {
			return nil, errors.WithMessagef(err, "while parsing input %q", inputProto.Name)
		}
		m.InputsNames = append(m.InputsNames, inputProto.Name)
		m.InputsShapes = append(m.InputsShapes, shape)
	}
	for _, outputProto := range m.Proto.Graph.Output {
		shape, err := makeDynamicShapeFromProto(outputProto)
		if err != nil {
			return nil, errors.WithMessagef(err, "while parsing output %q", outputProto.Name)
		}
		m.OutputsNames = append(m.OutputsNames, outputProto.Name)
		m.OutputsShapes = append(m.OutputsShapes, shape)
	}
	return m, nil
}

// ReadFile parses an ONNX model file. Initializers stored as external data are read relative to the
// directory of the file.
func ReadFile(filePath string) (*Model, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ONNX model file in %s", filePath)
	}
	m, err := Parse(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing %s", filePath)
	}
	m.baseDir = filepath.Dir(filePath)
	return m, nil
}

// WithOpset sets the operation set used to create the nodes of the imported graph. The default is opset.Opset5.
//
// It returns the model, so configuration calls can be chained.
func (m *Model) WithOpset(id opset.ID) *Model {
	m.opsetID = id
	return m
}

// WithDimension binds the symbolic dimension name (e.g. "batch_size") used by the inputs of the model to a
// concrete value, used when importing the graph.
func (m *Model) WithDimension(name string, value int) *Model {
	m.dimensions[name] = value
	return m
}

// Opset returns the operation set used when importing the graph.
func (m *Model) Opset() opset.ID { return m.opsetID }

// DynamicShape represents a shape for which some of the axes have unknown dimensions.
//
// Similar to GoMLX Shape but some of the dimensions may be -1, denoting an undefined dimension.
//
// Dimensions may also be named, in which case shapes of inputs and outputs with the same name should match.
type DynamicShape struct {
	dtypes.DType
	Dimensions []int
	Names      []string
}

// UnnamedDynamicDimension is a placeholder name for an unnamed dynamic dimension, that doesn't necessarily match any other (in inputs/outputs).
const UnnamedDynamicDimension = "?"

// makeDynamicShapeFromProto converts from a tensor proto type to a DynamicShape.
func makeDynamicShapeFromProto(proto *protos.ValueInfoProto) (dshape DynamicShape, err error) {
	if proto.Type == nil || proto.Type.TensorType == nil {
		err = errors.Errorf("only tensor values are supported, got %q", proto.Name)
		return
	}
	tensorType := proto.Type.TensorType
	dshape.DType, err = dtypeForONNX(protos.TensorProto_DataType(tensorType.ElemType))
	if err != nil {
		return
	}
	if tensorType.Shape == nil {
		return
	}
	dshape.Names = make([]string, len(tensorType.Shape.Dim))
	dshape.Dimensions = make([]int, len(tensorType.Shape.Dim))
	for ii, dProto := range tensorType.Shape.Dim {
		if dProto.HasValue {
			dshape.Dimensions[ii] = int(dProto.DimValue)
			dshape.Names[ii] = fmt.Sprintf("%d", dProto.DimValue)
		} else if dProto.DimParam != "" {
			dshape.Dimensions[ii] = -1
			dshape.Names[ii] = dProto.DimParam
		} else {
			dshape.Dimensions[ii] = -1
			dshape.Names[ii] = UnnamedDynamicDimension
		}
	}
	return
}

// String implements fmt.Stringer.
func (dshape DynamicShape) String() string {
	if len(dshape.Dimensions) == 0 {
		return fmt.Sprintf("(%s)", dshape.DType)
	}
	return fmt.Sprintf("(%s) [%s]", dshape.DType, strings.Join(dshape.Names, ", "))
}

// Resolve returns the static shape with dynamic dimensions taken from dimensions (by name).
func (dshape DynamicShape) Resolve(dimensions map[string]int) (shapes.Shape, error) {
	dims := make([]int, len(dshape.Dimensions))
	for axis, dim := range dshape.Dimensions {
		if dim >= 0 {
			dims[axis] = dim
			continue
		}
		value, found := dimensions[dshape.Names[axis]]
		if !found {
			return shapes.Shape{}, errors.Errorf("dynamic dimension %q of axis %d has no value: bind it with Model.WithDimension",
				dshape.Names[axis], axis)
		}
		dims[axis] = value
	}
	return shapes.Make(dshape.DType, dims...), nil
}

// ValidateInputs checks that the shapes of the given inputs match the model inputs. Dimensions bound with
// WithDimension must match their value, and unbound symbolic dimensions must take the same value in all the
// inputs where the name appears.
func (m *Model) ValidateInputs(inputsShapes ...shapes.Shape) error {
	if len(inputsShapes) != len(m.InputsNames) {
		return errors.Errorf("model takes %d inputs, %d given", len(m.InputsNames), len(inputsShapes))
	}
	seen := make(map[string]int, len(m.dimensions))
	maps.Copy(seen, m.dimensions)
	for idx, given := range inputsShapes {
		want := m.InputsShapes[idx]
		if given.DType != want.DType || given.Rank() != len(want.Dimensions) {
			return errors.Errorf("input #%d (%q) must be shaped %s, got %s", idx, m.InputsNames[idx], want, given)
		}
		for axis, dim := range want.Dimensions {
			got := given.Dimensions[axis]
			name := want.Names[axis]
			switch {
			case dim >= 0 && dim != got:
				return errors.Errorf("input #%d (%q) must be shaped %s, got %s", idx, m.InputsNames[idx], want, given)
			case dim >= 0 || name == UnnamedDynamicDimension:
				continue
			}
			if value, found := seen[name]; found && value != got {
				return errors.Errorf("input #%d (%q) must be shaped %s, got %s: dimension %q is %d",
					idx, m.InputsNames[idx], want, given, name, value)
			}
			seen[name] = got
		}
	}
	return nil
}
