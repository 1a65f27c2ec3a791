package backend

import (
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/onnx"
	"github.com/pkg/errors"
)

// lowering converts engine nodes to GoMLX nodes.
type lowering struct {
	g *Graph

	// converted maps engine nodes to the GoMLX nodes of their outputs.
	converted map[*engine.Node][]*Node
}

// lowerModule creates the GoMLX computation of the module outputs, feeding the inputs as constants.
//
// It panics (throws exceptions) in case of errors.
func lowerModule(g *Graph, module *Module, inputs []*tensors.Tensor) []*Node {
	l := &lowering{g: g, converted: make(map[*engine.Node][]*Node)}
	for ii, param := range module.Parameters {
		l.converted[param] = []*Node{Const(g, inputs[ii])}
	}
	outputs := make([]*Node, len(module.Outputs))
	for ii, output := range module.Outputs {
		outputs[ii] = l.output(output)
	}
	return outputs
}

// output returns the GoMLX node of an engine output, lowering its node (and its dependencies) if needed.
func (l *lowering) output(o engine.Output) *Node {
	n := o.Node()
	if _, found := l.converted[n]; !found {
		l.converted[n] = l.lowerNode(n)
	}
	return l.converted[n][o.Index()]
}

// onnxImplicitBroadcast expands the rank of the operands to the largest rank, by prepending axes of
// dimension 1, as NumPy and ONNX broadcasting does. Scalars are left as they are.
func onnxImplicitBroadcast(operands ...*Node) []*Node {
	maxRank := 0
	for _, operand := range operands {
		maxRank = max(maxRank, operand.Rank())
	}
	broadcast := make([]*Node, len(operands))
	for ii, operand := range operands {
		if operand.IsScalar() || operand.Rank() == maxRank {
			broadcast[ii] = operand
		} else {
			broadcast[ii] = ExpandLeftToRank(operand, maxRank)
		}
	}
	return broadcast
}

type gomlxBinaryOp func(lhs, rhs *Node) *Node

var binaryOps = map[string]gomlxBinaryOp{
	"Add":      Add,
	"Subtract": Sub,
	"Multiply": Mul,
	"Divide":   Div,
	"Maximum":  Max,
}

// lowerNode converts one engine node, returning the GoMLX nodes of its outputs.
func (l *lowering) lowerNode(n *engine.Node) []*Node {
	inputs := make([]*Node, 0, len(n.Inputs()))
	for _, input := range n.Inputs() {
		inputs = append(inputs, l.output(input))
	}
	attrs := n.Attributes()

	if fn, found := binaryOps[n.OpType()]; found {
		operands := onnxImplicitBroadcast(inputs[0], inputs[1])
		return []*Node{fn(operands[0], operands[1])}
	}

	var res *Node
	switch n.OpType() {
	case engine.ConstantOpType:
		res = l.constant(n)
	case "Parameter":
		exceptions.Panicf("parameter %s is not an input of the module", n)

	// Unary operators
	case "Sqrt":
		res = Sqrt(inputs[0])
	case "Exp":
		res = Exp(inputs[0])
	case "Relu":
		res = Max(inputs[0], Scalar(l.g, inputs[0].DType(), 0))
	case "Round":
		mode := "HALF_TO_EVEN"
		if attr, found := attrs["mode"]; found {
			mode = attr.Str()
		}
		res = lowerRound(inputs[0], mode)

	// Ops with attributes:
	case "Concat":
		axis := int(attrs["axis"].Int())
		if axis < 0 {
			axis += inputs[0].Rank()
		}
		res = Concatenate(inputs, axis)
	case "Softmax", "LogSoftmax":
		axis := 1
		if attr, found := attrs["axis"]; found {
			axis = int(attr.Int())
		}
		if axis < 0 {
			axis += inputs[0].Rank()
		}
		if n.OpType() == "Softmax" {
			res = Softmax(inputs[0], axis)
		} else {
			res = LogSoftmax(inputs[0], axis)
		}
	case "Sum", "ReduceSum":
		res = lowerReduceSum(n, inputs[0], attrs["keep_dims"].Bool())
	case "MatMul":
		lhs, rhs := inputs[0], inputs[1]
		if attrs["transpose_a"].Bool() {
			lhs = transposeLastAxes(lhs)
		}
		if attrs["transpose_b"].Bool() {
			rhs = transposeLastAxes(rhs)
		}
		res = MatMul(lhs, rhs)
	case "Transpose":
		permutation := make([]int, 0, inputs[0].Rank())
		for _, axis := range attrs["order"].Ints() {
			permutation = append(permutation, int(axis))
		}
		if len(permutation) == 0 {
			for axis := inputs[0].Rank() - 1; axis >= 0; axis-- {
				permutation = append(permutation, axis)
			}
		}
		res = TransposeAllDims(inputs[0], permutation...)
	case "Convert":
		dtype, err := engine.ParseElementType(attrs["destination_type"].Str())
		if err != nil {
			panic(err)
		}
		res = ConvertDType(inputs[0], dtype)
	case "Split":
		return lowerSplit(inputs[0], int(attrs["axis"].Int()), int(attrs["num_splits"].Int()))
	case "Clamp":
		res = lowerClamp(inputs[0], attrs["min"].Float(), attrs["max"].Float())
	case "GatherND":
		if batchDims := attrs["batch_dims"].Int(); batchDims != 0 {
			exceptions.Panicf("GatherND with batch_dims=%d not supported for execution", batchDims)
		}
		res = Gather(inputs[0], inputs[1])

	default:
		exceptions.Panicf("execution of %s not implemented", n)
	}
	return []*Node{res}
}

func (l *lowering) constant(n *engine.Node) *Node {
	tensor, err := onnx.NewTensor(n.ConstantValue(), n.Output(0).Shape().Dimensions...)
	if err != nil {
		panic(errors.WithMessagef(err, "while lowering constant %s", n))
	}
	return Const(l.g, tensor)
}

// transposeLastAxes swaps the two last axes of x. Vectors are returned as is.
func transposeLastAxes(x *Node) *Node {
	rank := x.Rank()
	if rank < 2 {
		return x
	}
	permutation := make([]int, rank)
	for axis := range permutation {
		permutation[axis] = axis
	}
	permutation[rank-2], permutation[rank-1] = rank-1, rank-2
	return TransposeAllDims(x, permutation...)
}

func lowerReduceSum(n *engine.Node, x *Node, keepDims bool) *Node {
	inputs := n.Inputs()
	axes, err := engine.ReductionAxes(inputs[0], inputs[1])
	if err != nil {
		panic(errors.WithMessagef(err, "while lowering %s", n))
	}
	if len(axes) == 0 {
		// GoMLX reduces all axes if none are given.
		return Identity(x)
	}
	if keepDims {
		return ReduceAndKeep(x, ReduceSum, axes...)
	}
	return ReduceSum(x, axes...)
}

// lowerSplit splits x into numSplits equal parts along axis.
func lowerSplit(x *Node, axis, numSplits int) []*Node {
	if axis < 0 {
		axis += x.Rank()
	}
	size := x.Shape().Dimensions[axis] / numSplits
	parts := make([]*Node, numSplits)
	for ii := range parts {
		specs := make([]SliceAxisSpec, x.Rank())
		for jj := range specs {
			specs[jj] = AxisRange() // Full range.
		}
		specs[axis] = AxisRange(ii*size, (ii+1)*size)
		parts[ii] = Slice(x, specs...)
	}
	return parts
}

// lowerClamp limits x to [lower, upper]. Bounds beyond the float32 range are taken as unbounded.
func lowerClamp(x *Node, lower, upper float64) *Node {
	g := x.Graph()
	if lower > -math.MaxFloat32 {
		x = Max(x, Scalar(g, x.DType(), lower))
	}
	if upper < math.MaxFloat32 {
		x = Min(x, Scalar(g, x.DType(), upper))
	}
	return x
}

// lowerRound rounds to the nearest integer, with ties resolved according to mode: "HALF_TO_EVEN" or
// "HALF_AWAY_FROM_ZERO". Integer operands are returned as is.
func lowerRound(x *Node, mode string) *Node {
	dtype := x.DType()
	if !dtype.IsFloat() {
		return x
	}
	g := x.Graph()
	half := Scalar(g, dtype, 0.5)
	switch mode {
	case "HALF_AWAY_FROM_ZERO":
		return Mul(Sign(x), Floor(Add(Abs(x), half)))
	case "HALF_TO_EVEN":
		rounded := Floor(Add(x, half))
		// Ties were rounded up: move the odd ones down to the even neighbor.
		isTie := Equal(Sub(rounded, x), half)
		isOdd := NotEqual(rounded, Mul(Floor(Mul(rounded, half)), Scalar(g, dtype, 2)))
		return Where(LogicalAnd(isTie, isOdd), Sub(rounded, Scalar(g, dtype, 1)), rounded)
	default:
		exceptions.Panicf("unknown rounding mode %q", mode)
		return nil
	}
}

// SupportedOps returns the operation types that can be executed, sorted.
func SupportedOps() []string {
	ops := []string{
		engine.ConstantOpType, "Parameter", "Sqrt", "Exp", "Relu", "Round", "Concat", "Softmax", "LogSoftmax",
		"Sum", "ReduceSum", "MatMul", "Transpose", "Convert", "Split", "Clamp", "GatherND",
	}
	for op := range binaryOps {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}
