// Package opset implements the node factory of operation graphs: it turns an operation name, heterogeneous
// inputs and attributes into a validated, typed node of an engine.Graph.
//
//   - Normalize / NormalizeMany: convert NodeInput values (node outputs, Go scalars and arrays) to node outputs.
//   - Schema / Validate: check attributes against the closed per-operation schemas, filling in defaults.
//   - GetFactory / NodeFactory.Create: dispatch an operation of a versioned operation set to the engine.
//   - Named / Single / Multi: naming of the created nodes and adaptation of their outputs.
//   - Build / Create: the whole path, used by the catalog packages (opset0, opset1, opset5) and by model importers.
//
// Errors are returned as *Error values wrapping one of the Err* kinds.
package opset

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gomlx/opgraph/engine"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ID identifies a versioned operation set. The same operation name can have different schemas and
// semantics in different operation sets.
type ID string

// Known operation sets.
const (
	Opset0 ID = engine.Opset0
	Opset1 ID = engine.Opset1
	Opset5 ID = engine.Opset5
)

// NodeFactory creates nodes of the operations of one operation set.
//
// Factories of registered operation sets are created on first use by GetFactory and cached for the lifetime
// of the process.
type NodeFactory struct {
	id    ID
	table atomic.Pointer[engine.Opset]
}

var (
	factoriesMu sync.Mutex
	factories   = make(map[ID]*NodeFactory)
)

// GetFactory returns the factory for the operation set id, creating it on first use. It is safe for concurrent use,
// and always returns the same factory for the same registered id.
//
// A factory for an unregistered id is valid but not cached: every Create on it fails with ErrUnknownOperation
// until the operation set is registered with engine.RegisterOpset.
func GetFactory(id ID) *NodeFactory {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f, found := factories[id]; found {
		return f
	}
	f := &NodeFactory{id: id}
	table := f.lookupTable()
	if table == nil {
		klog.V(1).Infof("operation set %q is not registered", id)
		return f
	}
	factories[id] = f
	klog.V(1).Infof("node factory for %q created with %d operations", id, len(table.OpTypes()))
	return f
}

// lookupTable returns the engine's operation table, resolving it while the operation set is not registered.
func (f *NodeFactory) lookupTable() *engine.Opset {
	if table := f.table.Load(); table != nil {
		return table
	}
	table := engine.LookupOpset(string(f.id))
	if table != nil {
		f.table.Store(table)
	}
	return table
}

// ID returns the operation set of the factory.
func (f *NodeFactory) ID() ID { return f.id }

// Has returns whether the operation set defines op.
func (f *NodeFactory) Has(op string) bool {
	table := f.lookupTable()
	return table != nil && table.Lookup(op) != nil
}

// Ops returns the operations defined in the operation set, sorted.
func (f *NodeFactory) Ops() []string {
	table := f.lookupTable()
	if table == nil {
		return nil
	}
	return table.OpTypes()
}

// Create asks the engine to create a node for op with already normalized inputs and validated attributes.
//
// The returned node is pending: it is only committed to the graph once named (see Named).
func (f *NodeFactory) Create(g *engine.Graph, op string, inputs []engine.Output, attrs engine.Attributes) (*engine.Node, error) {
	var def *engine.OpDef
	if table := f.lookupTable(); table != nil {
		def = table.Lookup(op)
	}
	if def == nil {
		err := newError(ErrUnknownOperation)
		err.Opset, err.Op = f.id, op
		return nil, err
	}
	if len(inputs) < def.MinInputs || (def.MaxInputs != engine.Unbounded && len(inputs) > def.MaxInputs) {
		err := newError(ErrInputArityMismatch)
		err.Opset, err.Op = f.id, op
		err.Expected = def.ArityString()
		err.Actual = fmt.Sprintf("%d", len(inputs))
		return nil, err
	}
	n, cause := g.CreateNode(string(f.id), op, inputs, attrs)
	if cause != nil {
		err := newError(ErrGraphConstruction)
		err.Opset, err.Op = f.id, op
		err.Cause = errors.WithStack(cause)
		return nil, err
	}
	return n, nil
}
