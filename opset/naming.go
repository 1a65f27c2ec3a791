package opset

import (
	"fmt"

	"github.com/gomlx/opgraph/engine"
	"github.com/pkg/errors"
)

// Named assigns name to a node (or an automatic name if name is ""), committing it to the graph.
// If the name is already used in the graph, it fails with ErrDuplicateNodeName, and the node is not committed.
func Named(g *engine.Graph, n *engine.Node, name string) (*engine.Node, error) {
	if _, err := g.AssignName(n, name); err != nil {
		kind := ErrGraphConstruction
		if errors.Is(err, engine.ErrDuplicateName) {
			kind = ErrDuplicateNodeName
		}
		opErr := newError(kind)
		opErr.Opset, opErr.Op = ID(n.Opset()), n.OpType()
		opErr.Actual = fmt.Sprintf("name %q", name)
		opErr.Cause = err
		return nil, opErr
	}
	return n, nil
}

// Single adapts the result of a single-output operation, returning its output.
func Single(n *engine.Node, err error) (engine.Output, error) {
	if err != nil {
		return engine.Output{}, err
	}
	if n.NumOutputs() != 1 {
		opErr := newError(ErrGraphConstruction)
		opErr.Opset, opErr.Op = ID(n.Opset()), n.OpType()
		opErr.Expected = "1 output"
		opErr.Actual = fmt.Sprintf("%d outputs", n.NumOutputs())
		return engine.Output{}, opErr
	}
	return n.Output(0), nil
}

// Multi adapts the result of a multi-output operation, returning the node itself.
func Multi(n *engine.Node, err error) (*engine.Node, error) {
	return n, err
}
