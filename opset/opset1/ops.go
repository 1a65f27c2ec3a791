// Package opset1 defines the functions to create the nodes of the operation set "opset1".
//
// Functions take the graph as the first argument, then the data inputs (any opset.NodeInput), the required
// attributes and finally options: opset.WithName and the optional attributes of each operation (e.g.
// WithKeepDims). As other graph building functions, they panic with an *opset.Error if the node can't be
// created: use exceptions.TryCatch[error] to handle it.
package opset1

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/opset"
)

// WithAutoBroadcast sets the broadcasting mode of binary element-wise operations: "NUMPY" (the default)
// or "NONE", in which case both operands must have the same shape.
func WithAutoBroadcast(mode string) opset.Option {
	return opset.WithAttr("auto_broadcast", mode)
}

// WithKeepDims keeps the reduced axes, with dimension 1, in ReduceSum. Default is false.
func WithKeepDims(keep bool) opset.Option {
	return opset.WithAttr("keep_dims", keep)
}

// WithTransposeA transposes the last two axes of the first operand of MatMul. Default is false.
func WithTransposeA(transpose bool) opset.Option {
	return opset.WithAttr("transpose_a", transpose)
}

// WithTransposeB transposes the last two axes of the second operand of MatMul. Default is false.
func WithTransposeB(transpose bool) opset.Option {
	return opset.WithAttr("transpose_b", transpose)
}

// WithAxis sets the axis of Softmax. Default is 1.
func WithAxis(axis int) opset.Option {
	return opset.WithAttr("axis", axis)
}

func single(g *engine.Graph, op string, inputs []opset.NodeInput, attrs opset.Attrs, opts []opset.Option) engine.Output {
	c := opset.NewCall(opset.Opset1, op, inputs...)
	for name, value := range attrs {
		c.Set(name, value)
	}
	return opset.MustSingle(g, c.Apply(opts))
}

// Parameter creates an input of the graph with the given element type and dimensions.
func Parameter(g *engine.Graph, dtype dtypes.DType, dims []int, opts ...opset.Option) engine.Output {
	return single(g, "Parameter", nil, opset.Attrs{
		"element_type": engine.ElementTypeName(dtype),
		"shape":        dims,
	}, opts)
}

// Constant creates a constant from a Go scalar or (multi-dimensional) array, or an opset.Literal. References
// to existing nodes are rejected with opset.ErrUnsupportedInputKind.
// Use opset.WithName to name it.
func Constant(g *engine.Graph, value any, opts ...opset.Option) engine.Output {
	c := opset.NewCall(opset.Opset1, engine.ConstantOpType).Apply(opts)
	switch value.(type) {
	case engine.Output, *engine.Node:
		panic(&opset.Error{
			Kind: opset.ErrUnsupportedInputKind, Opset: opset.Opset1, Op: engine.ConstantOpType, Input: 0,
			Expected: "Go scalar, array or opset.Literal", Actual: fmt.Sprintf("%T", value),
		})
	}
	mark := g.Mark()
	output, err := opset.Normalize(g, value)
	if err == nil && c.Name != "" {
		_, err = opset.Named(g, output.Node(), c.Name)
	}
	if err != nil {
		g.Rollback(mark)
		panic(err)
	}
	return output
}

// Add creates an element-wise addition node.
func Add(g *engine.Graph, lhs, rhs opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Add", []opset.NodeInput{lhs, rhs}, nil, opts)
}

// Subtract creates an element-wise subtraction node.
func Subtract(g *engine.Graph, lhs, rhs opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Subtract", []opset.NodeInput{lhs, rhs}, nil, opts)
}

// Multiply creates an element-wise multiplication node.
func Multiply(g *engine.Graph, lhs, rhs opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Multiply", []opset.NodeInput{lhs, rhs}, nil, opts)
}

// Divide creates an element-wise division node.
func Divide(g *engine.Graph, lhs, rhs opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Divide", []opset.NodeInput{lhs, rhs}, nil, opts)
}

// Maximum creates an element-wise maximum node.
func Maximum(g *engine.Graph, lhs, rhs opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Maximum", []opset.NodeInput{lhs, rhs}, nil, opts)
}

// Asin creates an element-wise arc-sine node.
func Asin(g *engine.Graph, data opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Asin", []opset.NodeInput{data}, nil, opts)
}

// Sqrt creates an element-wise square root node.
func Sqrt(g *engine.Graph, data opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Sqrt", []opset.NodeInput{data}, nil, opts)
}

// Exp creates an element-wise exponential node.
func Exp(g *engine.Graph, data opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Exp", []opset.NodeInput{data}, nil, opts)
}

// Relu creates an element-wise max(x, 0) node.
func Relu(g *engine.Graph, data opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Relu", []opset.NodeInput{data}, nil, opts)
}

// Concat concatenates the inputs along axis. Negative axes are counted from the end.
func Concat(g *engine.Graph, inputs []opset.NodeInput, axis int, opts ...opset.Option) engine.Output {
	return single(g, "Concat", inputs, opset.Attrs{"axis": axis}, opts)
}

// Softmax creates a softmax node over the axis set with WithAxis (default 1).
func Softmax(g *engine.Graph, data opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "Softmax", []opset.NodeInput{data}, nil, opts)
}

// ReduceSum sums data over the given axes. The reduced axes are removed, unless WithKeepDims(true) is given.
func ReduceSum(g *engine.Graph, data opset.NodeInput, axes []int, opts ...opset.Option) engine.Output {
	values := make([]int64, len(axes))
	for ii, axis := range axes {
		values[ii] = int64(axis)
	}
	return single(g, "ReduceSum", []opset.NodeInput{data, values}, nil, opts)
}

// MatMul creates a matrix multiplication node, with NumPy semantics for batch axes and vectors.
func MatMul(g *engine.Graph, lhs, rhs opset.NodeInput, opts ...opset.Option) engine.Output {
	return single(g, "MatMul", []opset.NodeInput{lhs, rhs}, nil, opts)
}

// Transpose permutes the axes of data: output axis i is input axis order[i]. An empty order reverses the axes.
func Transpose(g *engine.Graph, data opset.NodeInput, order []int, opts ...opset.Option) engine.Output {
	return single(g, "Transpose", []opset.NodeInput{data}, opset.Attrs{"order": order}, opts)
}

// Convert converts data to the element type dtype.
func Convert(g *engine.Graph, data opset.NodeInput, dtype dtypes.DType, opts ...opset.Option) engine.Output {
	return single(g, "Convert", []opset.NodeInput{data},
		opset.Attrs{"destination_type": engine.ElementTypeName(dtype)}, opts)
}

// Split splits data in numSplits equal parts along axis. It returns the node: its outputs are the parts.
func Split(g *engine.Graph, data opset.NodeInput, axis, numSplits int, opts ...opset.Option) *engine.Node {
	c := opset.NewCall(opset.Opset1, "Split", data).Set("axis", axis).Set("num_splits", numSplits)
	return opset.MustMulti(g, c.Apply(opts))
}

// Clamp limits the values of data to the range [lower, upper].
func Clamp(g *engine.Graph, data opset.NodeInput, lower, upper float64, opts ...opset.Option) engine.Output {
	return single(g, "Clamp", []opset.NodeInput{data}, opset.Attrs{"min": lower, "max": upper}, opts)
}
