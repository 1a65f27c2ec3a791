// Package opset0 defines the functions to create the nodes of the legacy operation set "opset0".
//
// Functions take the graph as the first argument, then the data inputs (any opset.NodeInput), the required
// attributes and finally options (opset.WithName). As other graph building functions, they panic with an
// *opset.Error if the node can't be created.
package opset0

import (
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/opset"
)

// Asin creates an element-wise arc-sine node.
func Asin(g *engine.Graph, data opset.NodeInput, opts ...opset.Option) engine.Output {
	return opset.MustSingle(g, opset.NewCall(opset.Opset0, "Asin", data).Apply(opts))
}

// Round creates an element-wise rounding node. Halves are always rounded to the nearest even integer.
func Round(g *engine.Graph, data opset.NodeInput, opts ...opset.Option) engine.Output {
	return opset.MustSingle(g, opset.NewCall(opset.Opset0, "Round", data).Apply(opts))
}

// Sum creates a node that sums data over the given axes, removing them from the output shape.
// Negative axes are counted from the end.
func Sum(g *engine.Graph, data opset.NodeInput, axes []int, opts ...opset.Option) engine.Output {
	return opset.MustSingle(g, opset.NewCall(opset.Opset0, "Sum", data, axesInput(axes)).Apply(opts))
}

// axesInput converts axes to an int64 literal: it is always a vector, even when empty.
func axesInput(axes []int) opset.NodeInput {
	values := make([]int64, len(axes))
	for ii, axis := range axes {
		values[ii] = int64(axis)
	}
	return values
}
