// Package backend executes operation graphs.
//
//   - Backend: the capability used by the model-import harness: Import a model file into a Module, and Execute
//     it.
//   - GoMLX: a Backend that lowers the engine graph of a Module to a GoMLX computation graph, and runs it on a
//     GoMLX backend (by default the pure Go "simplego").
package backend

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/onnx"
	"github.com/gomlx/opgraph/opset"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend imports models and executes them.
type Backend interface {
	// Import reads the model file and builds its operation graph.
	Import(modelPath string) (*Module, error)

	// Execute runs the module with the given inputs, in the order of Module.InputsNames, and returns its
	// outputs in the order of Module.OutputsNames.
	Execute(module *Module, inputs ...*tensors.Tensor) ([]*tensors.Tensor, error)
}

// Module is an imported model: its operation graph, with the nodes of its inputs and outputs.
type Module struct {
	Model *onnx.Model
	Graph *engine.Graph

	// Parameters are the nodes fed by the inputs, in the order of Model.InputsNames.
	Parameters []*engine.Node

	// Outputs of the graph, in the order of Model.OutputsNames.
	Outputs []engine.Output
}

// InputsNames returns the names of the inputs of the module.
func (m *Module) InputsNames() []string { return m.Model.InputsNames }

// OutputsNames returns the names of the outputs of the module.
func (m *Module) OutputsNames() []string { return m.Model.OutputsNames }

// GoMLX is a Backend that executes modules with GoMLX.
type GoMLX struct {
	backend    backends.Backend
	opsetID    opset.ID
	dimensions map[string]int
}

var _ Backend = (*GoMLX)(nil)

// NewGoMLX creates a Backend that executes modules on the given GoMLX backend.
func NewGoMLX(backend backends.Backend) *GoMLX {
	return &GoMLX{backend: backend, opsetID: opset.Opset5, dimensions: make(map[string]int)}
}

// Default creates a GoMLX Backend using the pure Go "simplego" backend.
func Default() (*GoMLX, error) {
	backend, err := simplego.New("")
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create simplego backend")
	}
	return NewGoMLX(backend), nil
}

// WithOpset sets the operation set used to build the graphs of imported models. Default is opset.Opset5.
func (b *GoMLX) WithOpset(id opset.ID) *GoMLX {
	b.opsetID = id
	return b
}

// WithDimension binds a symbolic input dimension (e.g. "batch_size") for all imported models.
func (b *GoMLX) WithDimension(name string, value int) *GoMLX {
	b.dimensions[name] = value
	return b
}

// Import implements Backend.
func (b *GoMLX) Import(modelPath string) (*Module, error) {
	model, err := onnx.ReadFile(modelPath)
	if err != nil {
		return nil, err
	}
	return b.ImportModel(model)
}

// ImportModel builds the operation graph of an already parsed model.
func (b *GoMLX) ImportModel(model *onnx.Model) (*Module, error) {
	model.WithOpset(b.opsetID)
	for name, value := range b.dimensions {
		model.WithDimension(name, value)
	}
	g := engine.NewGraph(model.Proto.Graph.Name)
	outputs, err := model.Import(g)
	if err != nil {
		return nil, err
	}
	module := &Module{Model: model, Graph: g, Outputs: outputs}
	for _, name := range model.InputsNames {
		module.Parameters = append(module.Parameters, g.NodeByName(name))
	}
	return module, nil
}

// Execute implements Backend.
func (b *GoMLX) Execute(module *Module, inputs ...*tensors.Tensor) (outputs []*tensors.Tensor, err error) {
	if module.Model != nil {
		inputsShapes := make([]shapes.Shape, len(inputs))
		for ii, input := range inputs {
			inputsShapes[ii] = input.Shape()
		}
		if err := module.Model.ValidateInputs(inputsShapes...); err != nil {
			return nil, errors.WithMessagef(err, "module %q", module.Graph.Name())
		}
	}
	if len(inputs) != len(module.Parameters) {
		return nil, errors.Errorf("module %q takes %d inputs, %d given", module.Graph.Name(), len(module.Parameters), len(inputs))
	}
	for ii, param := range module.Parameters {
		want := param.Output(0).Shape()
		if !inputs[ii].Shape().Equal(want) {
			return nil, errors.Errorf("input #%d (%q) must be shaped %s, got %s", ii, param.Name(), want, inputs[ii].Shape())
		}
	}
	err = exceptions.TryCatch[error](func() {
		ctx := context.New()
		outputs = context.MustExecOnceN(b.backend, ctx, func(ctx *context.Context, g *graph.Graph) []*graph.Node {
			return lowerModule(g, module, inputs)
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while executing module %q", module.Graph.Name())
	}
	if klog.V(2).Enabled() {
		klog.Infof("executed module %q: %d outputs", module.Graph.Name(), len(outputs))
	}
	return outputs, nil
}
