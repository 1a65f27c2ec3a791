package onnx

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/internal/protos"
	"github.com/gomlx/opgraph/opset"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// importer holds the state of one Model.Import call.
type importer struct {
	m      *Model
	g      *engine.Graph
	reader *ExternalDataReader

	// converted maps ONNX value names to the engine outputs created for them.
	converted map[string]engine.Output
}

// Import creates in g the nodes of the model graph: a Parameter node for each input, a constant for each
// initializer and the nodes of the operations, created by the node factory of the opset configured with
// Model.WithOpset. Nodes are named after the ONNX values they produce.
//
// Symbolic dimensions of the inputs must be bound with Model.WithDimension.
//
// It returns the outputs of the graph, in the order of Model.OutputsNames. On error, nodes created so far are
// left in g.
func (m *Model) Import(g *engine.Graph) (outputs []engine.Output, err error) {
	if len(m.Proto.Functions) > 0 {
		return nil, errors.Errorf("onnx.Import does not support ONNX functions (model has %d)", len(m.Proto.Functions))
	}
	if len(m.Proto.Graph.SparseInitializer) > 0 {
		return nil, errors.New("onnx.Import does not support ONNX SparseTensors")
	}
	imp := &importer{
		m:         m,
		g:         g,
		reader:    NewExternalDataReader(m.baseDir),
		converted: make(map[string]engine.Output),
	}
	defer func() {
		closeErr := imp.reader.Close()
		if err == nil && closeErr != nil {
			err = closeErr
		}
	}()
	err = exceptions.TryCatch[error](func() { outputs = imp.run() })
	if err != nil {
		return nil, errors.WithMessagef(err, "while importing ONNX graph %q", m.Proto.Graph.Name)
	}
	if klog.V(1).Enabled() {
		klog.Infof("imported ONNX graph %q with %s: %d nodes", m.Proto.Graph.Name, m.opsetID, g.NumNodes())
	}
	return outputs, nil
}

// run imports the graph, panicking on errors.
func (imp *importer) run() []engine.Output {
	m, g := imp.m, imp.g
	for idx, name := range m.InputsNames {
		shape, err := m.InputsShapes[idx].Resolve(m.dimensions)
		if err != nil {
			panic(errors.WithMessagef(err, "input #%d (%q)", idx, name))
		}
		n, err := opset.Create(g, m.opsetID, "Parameter", nil, opset.Attrs{
			"element_type": engine.ElementTypeName(shape.DType),
			"shape":        shape.Dimensions,
		}, name)
		imp.set(name, n, err)
	}

	for _, tensorProto := range m.Proto.Graph.Initializer {
		shape, flat, err := FlatData(tensorProto, imp.reader)
		if err != nil {
			panic(err)
		}
		imp.constant(tensorProto.Name, shape.DType, shape.Dimensions, flat)
	}

	sortedNodes := imp.sortedGraph()
	for ii, node := range sortedNodes {
		err := exceptions.TryCatch[error](func() { imp.convertNode(node) })
		if err != nil {
			panic(errors.WithMessagef(err, "while converting node %d out of %d (%s)", ii, len(sortedNodes), nodeToString(node)))
		}
	}

	outputs := make([]engine.Output, len(m.OutputsNames))
	for idx, name := range m.OutputsNames {
		output, found := imp.converted[name]
		if !found {
			exceptions.Panicf("output %q not found", name)
		}
		outputs[idx] = output
	}
	return outputs
}

// set records the single output of n as the value name. It panics if err is not nil.
func (imp *importer) set(name string, n *engine.Node, err error) {
	output, err := opset.Single(n, err)
	if err != nil {
		panic(err)
	}
	imp.converted[name] = output
}

// constant creates a constant named name, and records it as the value name.
func (imp *importer) constant(name string, dtype dtypes.DType, dims []int, flat any) engine.Output {
	n, err := imp.g.CreateConstant(dtype, dims, flat)
	if err == nil {
		n, err = opset.Named(imp.g, n, name)
	}
	if err != nil {
		panic(errors.WithMessagef(err, "while creating constant %q", name))
	}
	imp.converted[name] = n.Output(0)
	return n.Output(0)
}

// input returns the engine output of the ONNX value name, or an invalid output if the name is empty (an
// omitted optional input).
func (imp *importer) input(name string) engine.Output {
	if name == "" {
		return engine.Output{}
	}
	output, found := imp.converted[name]
	if !found {
		exceptions.Panicf("ONNX value %q used before being defined", name)
	}
	return output
}

// sortedGraph returns the nodes in an order where every node comes after the ones producing its inputs.
// Among the nodes ready at any point, the order of the model is kept.
func (imp *importer) sortedGraph() []*protos.NodeProto {
	nodes := imp.m.Proto.Graph.Node
	sortedNodes := make([]*protos.NodeProto, 0, len(nodes))
	available := sets.Make[string]()
	for name := range imp.converted {
		available.Insert(name)
	}
	available.Insert("") // Omitted optional inputs.

	pending := slices.Clone(nodes)
	for len(pending) > 0 {
		var stillPending []*protos.NodeProto
		for _, node := range pending {
			ready := true
			for _, input := range node.Input {
				if !available.Has(input) {
					ready = false
					break
				}
			}
			if !ready {
				stillPending = append(stillPending, node)
				continue
			}
			sortedNodes = append(sortedNodes, node)
			for _, output := range node.Output {
				available.Insert(output)
			}
		}
		if len(stillPending) == len(pending) {
			missing := sets.Make[string]()
			for _, node := range pending {
				for _, input := range node.Input {
					if !available.Has(input) {
						missing.Insert(input)
					}
				}
			}
			exceptions.Panicf("sorting operations graph failed: %d nodes depend on values never produced or on cycles: %q",
				len(pending), sortedKeys(missing))
		}
		pending = stillPending
	}
	return sortedNodes
}

func sortedKeys(s sets.Set[string]) []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
