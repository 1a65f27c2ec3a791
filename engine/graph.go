// Package engine implements the computation graph that operation-graph nodes are created in.
//
//   - Graph: owns the nodes and their naming scope.
//   - Node / Output: a node and references to its outputs, with inferred element type and shape.
//   - Opset / OpDef: the tables of engine-side constructors (arity and shape/type inference), one per
//     operation set version.
//   - Attribute / Attributes: the tagged union of attribute values recorded on nodes.
//
// The graph is not safe for concurrent construction: at most one goroutine should build into a given
// Graph at a time. The opset tables are safe for concurrent use.
package engine

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrDuplicateName is returned (wrapped) by Graph.AssignName when the name is already taken.
	ErrDuplicateName = errors.New("node name already in use")

	// ErrUnknownOp is returned (wrapped) by Graph.CreateNode when the opset doesn't define the operation.
	ErrUnknownOp = errors.New("operation not defined in opset")
)

// Graph holds committed nodes in creation order, which is also a topological order.
type Graph struct {
	name     string
	nodes    []*Node
	byName   map[string]*Node
	counters map[string]int
	nextID   int
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:     name,
		byName:   make(map[string]*Node),
		counters: make(map[string]int),
	}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// Nodes returns the committed nodes in creation order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, len(g.nodes))
	copy(nodes, g.nodes)
	return nodes
}

// NumNodes returns the number of committed nodes.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NodeByName returns the committed node with the given name, or nil.
func (g *Graph) NodeByName(name string) *Node { return g.byName[name] }

// HasName returns whether the name is taken in the graph naming scope.
func (g *Graph) HasName(name string) bool {
	_, found := g.byName[name]
	return found
}

func (g *Graph) checkInputs(inputs []Output) error {
	for ii, input := range inputs {
		if !input.IsValid() {
			return errors.Errorf("input #%d is an invalid output reference", ii)
		}
		if input.node.graph != g {
			return errors.Errorf("input #%d (%s) belongs to graph %q, not %q", ii, input.Name(), input.node.graph.name, g.name)
		}
		if !input.node.committed {
			return errors.Errorf("input #%d comes from node #%d, which is not committed to the graph", ii, input.node.id)
		}
		if input.index >= len(input.node.outputs) {
			return errors.Errorf("input #%d references output %d of %s, which has %d outputs",
				ii, input.index, input.node, len(input.node.outputs))
		}
	}
	return nil
}

// CreateNode creates a pending node for the operation opType of the given opset, running the operation's
// shape and type inference.
//
// The returned node is not part of the graph until it is given a name with AssignName. If inference fails,
// nothing is recorded in the graph.
func (g *Graph) CreateNode(opset, opType string, inputs []Output, attrs Attributes) (*Node, error) {
	def := LookupOp(opset, opType)
	if def == nil {
		return nil, errors.Wrapf(ErrUnknownOp, "%s.%s", opset, opType)
	}
	if err := def.checkArity(len(inputs)); err != nil {
		return nil, err
	}
	if err := g.checkInputs(inputs); err != nil {
		return nil, errors.WithMessagef(err, "creating %s.%s", opset, opType)
	}
	attrs = attrs.Clone()
	outputs, err := def.Infer(inputs, attrs)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s.%s inference", opset, opType)
	}
	n := &Node{
		graph:   g,
		id:      g.nextID,
		opset:   opset,
		opType:  opType,
		inputs:  append([]Output(nil), inputs...),
		attrs:   attrs,
		outputs: outputs,
	}
	g.nextID++
	return n, nil
}

// CreateConstant creates and commits a constant node, automatically named.
//
// flat must be a slice of the Go type of dtype (e.g. []float32 for dtypes.Float32) with as many elements as
// the product of dims. An empty dims creates a scalar.
func (g *Graph) CreateConstant(dtype dtypes.DType, dims []int, flat any) (*Node, error) {
	goType := GoType(dtype)
	if goType == nil {
		return nil, errors.Errorf("constants of element type %s are not supported", dtype)
	}
	flatV := reflect.ValueOf(flat)
	if !flatV.IsValid() || flatV.Kind() != reflect.Slice || flatV.Type().Elem() != goType {
		return nil, errors.Errorf("constant of element type %s requires values as []%s, got %T", dtype, goType, flat)
	}
	for axis, dim := range dims {
		if dim < 0 {
			return nil, errors.Errorf("constant dimension #%d is negative (%d)", axis, dim)
		}
	}
	shape := shapes.Make(dtype, dims...)
	if flatV.Len() != shape.Size() {
		return nil, errors.Errorf("constant shaped %s needs %d values, got %d", shape, shape.Size(), flatV.Len())
	}
	dims64 := make([]int64, len(dims))
	for ii, dim := range dims {
		dims64[ii] = int64(dim)
	}
	n := &Node{
		graph:  g,
		id:     g.nextID,
		opType: ConstantOpType,
		attrs: Attributes{
			"element_type": String(ElementTypeName(dtype)),
			"shape":        Ints(dims64...),
		},
		outputs:  []shapes.Shape{shape},
		constant: flat,
	}
	g.nextID++
	if _, err := g.AssignName(n, ""); err != nil {
		return nil, err
	}
	return n, nil
}

// AssignName gives the node a name and commits it to the graph, if it was pending.
//
// If name is empty, a unique name "<OpType>_<counter>" is generated (an already named node keeps its name).
// If name is already taken by another node, it fails with an error wrapping ErrDuplicateName, and the
// node is left untouched. A committed node can be renamed.
//
// It returns the name actually assigned.
func (g *Graph) AssignName(n *Node, name string) (string, error) {
	if n == nil || n.graph != g {
		return "", errors.Errorf("node %s does not belong to graph %q", n, g.name)
	}
	if name == "" {
		if n.name != "" {
			return n.name, nil
		}
		name = g.autoName(n.opType)
	} else if other, found := g.byName[name]; found && other != n {
		return "", errors.Wrapf(ErrDuplicateName, "graph %q already has a node named %q", g.name, name)
	}
	if n.name != "" {
		delete(g.byName, n.name)
	}
	n.name = name
	g.byName[name] = n
	if !n.committed {
		n.committed = true
		g.nodes = append(g.nodes, n)
		if klog.V(3).Enabled() {
			klog.Infof("graph %q: %s", g.name, n)
		}
	}
	return name, nil
}

// Mark returns a marker of the nodes committed so far, to be used with Rollback.
func (g *Graph) Mark() int { return len(g.nodes) }

// Rollback removes the nodes committed after mark was taken, freeing their names.
// It is used to leave no partial construction behind when building a node fails.
func (g *Graph) Rollback(mark int) {
	if mark < 0 || mark >= len(g.nodes) {
		return
	}
	for _, n := range g.nodes[mark:] {
		delete(g.byName, n.name)
		n.committed = false
	}
	clear(g.nodes[mark:])
	g.nodes = g.nodes[:mark]
}

// autoName returns the first "<opType>_<counter>" not yet used in the graph.
func (g *Graph) autoName(opType string) string {
	for {
		counter := g.counters[opType]
		g.counters[opType] = counter + 1
		name := fmt.Sprintf("%s_%d", opType, counter)
		if _, found := g.byName[name]; !found {
			return name
		}
	}
}

// String implements fmt.Stringer, and lists the committed nodes.
func (g *Graph) String() string {
	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Graph %q: %d nodes\n", g.name, len(g.nodes))
	for _, n := range g.nodes {
		_, _ = fmt.Fprintf(&buf, "\t%s\n", n)
	}
	return buf.String()
}
