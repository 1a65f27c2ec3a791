// Package onnxtest builds small ONNX models programmatically, for tests of the importer, the backend and the
// model-import harness.
package onnxtest

import (
	"os"
	"path/filepath"

	"github.com/gomlx/opgraph/internal/protos"
	"github.com/pkg/errors"
)

// Builder accumulates the parts of an ONNX model.
type Builder struct {
	model *protos.ModelProto
}

// New creates a builder of a model with a graph of the given name, importing the default ONNX domain at
// version 13.
func New(name string) *Builder {
	return &Builder{model: &protos.ModelProto{
		IrVersion:    8,
		ProducerName: "onnxtest",
		OpsetImport:  []*protos.OperatorSetIdProto{{Version: 13}},
		Graph:        &protos.GraphProto{Name: name},
	}}
}

// ValueInfo returns the description of a tensor value. A dimension is symbolic if given as a string, and fixed
// if given as an int.
func ValueInfo(name string, dtype protos.TensorProto_DataType, dims ...any) *protos.ValueInfoProto {
	shape := &protos.TensorShapeProto{}
	for _, dim := range dims {
		switch d := dim.(type) {
		case int:
			shape.Dim = append(shape.Dim, &protos.TensorShapeProto_Dimension{DimValue: int64(d), HasValue: true})
		case string:
			shape.Dim = append(shape.Dim, &protos.TensorShapeProto_Dimension{DimParam: d})
		default:
			panic(errors.Errorf("invalid dimension %v of type %T", dim, dim))
		}
	}
	return &protos.ValueInfoProto{
		Name: name,
		Type: &protos.TypeProto{TensorType: &protos.TypeProto_Tensor{ElemType: int32(dtype), Shape: shape}},
	}
}

// Input adds a graph input.
func (b *Builder) Input(name string, dtype protos.TensorProto_DataType, dims ...any) *Builder {
	b.model.Graph.Input = append(b.model.Graph.Input, ValueInfo(name, dtype, dims...))
	return b
}

// Output adds a graph output.
func (b *Builder) Output(name string, dtype protos.TensorProto_DataType, dims ...any) *Builder {
	b.model.Graph.Output = append(b.model.Graph.Output, ValueInfo(name, dtype, dims...))
	return b
}

// Initializer adds a constant tensor to the graph. See Tensor for the supported values.
func (b *Builder) Initializer(name string, dims []int, values any) *Builder {
	b.model.Graph.Initializer = append(b.model.Graph.Initializer, Tensor(name, dims, values))
	return b
}

// Node adds a node to the graph.
func (b *Builder) Node(opType string, inputs, outputs []string, attrs ...*protos.AttributeProto) *Builder {
	b.model.Graph.Node = append(b.model.Graph.Node, &protos.NodeProto{
		Name:      outputs[0] + "_node",
		OpType:    opType,
		Input:     inputs,
		Output:    outputs,
		Attribute: attrs,
	})
	return b
}

// Proto returns the model built so far.
func (b *Builder) Proto() *protos.ModelProto { return b.model }

// Bytes returns the serialized model.
func (b *Builder) Bytes() []byte { return b.model.Marshal() }

// WriteFile writes the serialized model to filePath, creating its directory if needed.
func (b *Builder) WriteFile(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", filePath)
	}
	if err := os.WriteFile(filePath, b.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write model %s", filePath)
	}
	return nil
}

// Tensor creates a tensor proto with the values stored in the typed fields. values can be []float32,
// []float64, []int32 or []int64.
func Tensor(name string, dims []int, values any) *protos.TensorProto {
	t := &protos.TensorProto{Name: name, Dims: make([]int64, len(dims))}
	for ii, dim := range dims {
		t.Dims[ii] = int64(dim)
	}
	switch v := values.(type) {
	case []float32:
		t.DataType = int32(protos.TensorProto_FLOAT)
		t.FloatData = v
	case []float64:
		t.DataType = int32(protos.TensorProto_DOUBLE)
		t.DoubleData = v
	case []int32:
		t.DataType = int32(protos.TensorProto_INT32)
		t.Int32Data = v
	case []int64:
		t.DataType = int32(protos.TensorProto_INT64)
		t.Int64Data = v
	default:
		panic(errors.Errorf("unsupported tensor values of type %T", values))
	}
	return t
}

// WriteTensorFile writes the serialized tensor to filePath, as in ONNX test data sets.
func WriteTensorFile(filePath string, t *protos.TensorProto) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", filePath)
	}
	return errors.Wrapf(os.WriteFile(filePath, t.Marshal(), 0o644), "failed to write tensor %s", filePath)
}

// Int returns an integer attribute.
func Int(name string, v int64) *protos.AttributeProto {
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_INT, I: v}
}

// Float returns a float attribute.
func Float(name string, v float32) *protos.AttributeProto {
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_FLOAT, F: v}
}

// Ints returns an integer list attribute.
func Ints(name string, v ...int64) *protos.AttributeProto {
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_INTS, Ints: v}
}

// TensorAttr returns a tensor attribute.
func TensorAttr(name string, t *protos.TensorProto) *protos.AttributeProto {
	return &protos.AttributeProto{Name: name, Type: protos.AttributeProto_TENSOR, T: t}
}

// Linear returns the model "y = Sum(x * w, axis=-1) + b", with x shaped [batch_size, 3], w = [1, 2, 3] and
// b = 0.5. It is the reference model of the tests.
func Linear() *Builder {
	return New("linear").
		Input("x", protos.TensorProto_FLOAT, "batch_size", 3).
		Initializer("w", []int{3}, []float32{1, 2, 3}).
		Initializer("b", nil, []float32{0.5}).
		Initializer("axes", []int{1}, []int64{-1}).
		Node("Mul", []string{"x", "w"}, []string{"xw"}).
		Node("ReduceSum", []string{"xw", "axes"}, []string{"sum"}, Int("keepdims", 0)).
		Node("Add", []string{"sum", "b"}, []string{"y"}).
		Output("y", protos.TensorProto_FLOAT, "batch_size")
}
