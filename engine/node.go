package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// ConstantOpType is the operation type of nodes created with Graph.CreateConstant.
const ConstantOpType = "Constant"

// Node is a unit of computation in a Graph, with zero or more outputs.
//
// Nodes are owned by their Graph. A node returned by Graph.CreateNode is pending: it only becomes part of
// the graph once Graph.AssignName commits it.
type Node struct {
	graph     *Graph
	id        int
	opset     string
	opType    string
	name      string
	inputs    []Output
	attrs     Attributes
	outputs   []shapes.Shape
	constant  any
	committed bool
}

// Graph returns the graph that owns the node.
func (n *Node) Graph() *Graph { return n.graph }

// ID is a graph-unique sequential id assigned at creation.
func (n *Node) ID() int { return n.id }

// Name returns the node name, or "" if the node hasn't been committed yet.
func (n *Node) Name() string { return n.name }

// OpType returns the operation type, e.g. "Round".
func (n *Node) OpType() string { return n.opType }

// Opset returns the identifier of the operation set the node was created with.
// It is "" for constants.
func (n *Node) Opset() string { return n.opset }

// Committed returns whether the node is part of the graph.
func (n *Node) Committed() bool { return n.committed }

// Inputs returns the node inputs, in positional order.
func (n *Node) Inputs() []Output { return slices.Clone(n.inputs) }

// Attributes returns a copy of the attributes recorded on the node.
func (n *Node) Attributes() Attributes { return n.attrs.Clone() }

// Attribute returns the attribute with the given name, and whether it was found.
func (n *Node) Attribute(name string) (Attribute, bool) {
	attr, found := n.attrs[name]
	return attr, found
}

// NumOutputs returns the number of outputs of the node.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// Output returns the reference to the output at the given index. It panics if the index is out of range.
func (n *Node) Output(index int) Output {
	if index < 0 || index >= len(n.outputs) {
		exceptions.Panicf("node %s has %d outputs, output #%d requested", n, len(n.outputs), index)
	}
	return Output{node: n, index: index}
}

// Outputs returns references to all outputs of the node.
func (n *Node) Outputs() []Output {
	outputs := make([]Output, len(n.outputs))
	for ii := range outputs {
		outputs[ii] = Output{node: n, index: ii}
	}
	return outputs
}

// OutputByName returns the output with the given name (see Output.Name), and whether it was found.
func (n *Node) OutputByName(name string) (Output, bool) {
	for _, output := range n.Outputs() {
		if output.Name() == name {
			return output, true
		}
	}
	return Output{}, false
}

// IsConstant returns whether the node was created with Graph.CreateConstant.
func (n *Node) IsConstant() bool { return n.opType == ConstantOpType && n.constant != nil }

// ConstantValue returns the flat values of a constant node (a slice of the Go type of its element type),
// or nil if the node is not a constant.
func (n *Node) ConstantValue() any {
	if !n.IsConstant() {
		return nil
	}
	return n.constant
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	name := n.name
	if name == "" {
		name = fmt.Sprintf("#%d", n.id)
	}
	opType := n.opType
	if n.opset != "" {
		opType = n.opset + "." + opType
	}
	inputs := make([]string, len(n.inputs))
	for ii, input := range n.inputs {
		inputs[ii] = input.Name()
	}
	outputs := make([]string, len(n.outputs))
	for ii, shape := range n.outputs {
		outputs[ii] = shape.String()
	}
	var attrs string
	if len(n.attrs) > 0 {
		attrs = " " + n.attrs.String()
	}
	return fmt.Sprintf("%s = %s(%s)%s -> [%s]", name, opType, strings.Join(inputs, ", "), attrs,
		strings.Join(outputs, ", "))
}

// Output references one output of a Node. The zero value is invalid.
type Output struct {
	node  *Node
	index int
}

// IsValid returns whether the reference points to an output of a node.
func (o Output) IsValid() bool { return o.node != nil }

// Node returns the node that produces the output.
func (o Output) Node() *Node { return o.node }

// Index returns the position of the output in its node.
func (o Output) Index() int { return o.index }

// Shape returns the inferred shape (including the element type) of the output.
func (o Output) Shape() shapes.Shape { return o.node.outputs[o.index] }

// DType returns the inferred element type of the output.
func (o Output) DType() dtypes.DType { return o.Shape().DType }

// Rank returns the rank of the output shape.
func (o Output) Rank() int { return o.Shape().Rank() }

// Name returns "<node name>:<output index>", which is unique in the graph once the node is committed.
func (o Output) Name() string {
	if o.node == nil {
		return "<invalid>"
	}
	name := o.node.name
	if name == "" {
		name = fmt.Sprintf("#%d", o.node.id)
	}
	return fmt.Sprintf("%s:%d", name, o.index)
}

// String implements fmt.Stringer.
func (o Output) String() string {
	if o.node == nil {
		return "<invalid output>"
	}
	return fmt.Sprintf("%s %s", o.Name(), o.Shape())
}
