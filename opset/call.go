package opset

import (
	"sync"

	"github.com/gomlx/opgraph/engine"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Call describes the creation of one node: the operation, its inputs and attributes as given by the caller,
// and an optional name.
type Call struct {
	Opset  ID
	Op     string
	Inputs []NodeInput
	Attrs  Attrs
	Name   string
}

// NewCall creates a Call with the given inputs and no attributes.
func NewCall(id ID, op string, inputs ...NodeInput) *Call {
	return &Call{Opset: id, Op: op, Inputs: inputs, Attrs: make(Attrs)}
}

// Set sets an attribute and returns the call, so calls can be chained.
func (c *Call) Set(name string, value any) *Call {
	if c.Attrs == nil {
		c.Attrs = make(Attrs)
	}
	c.Attrs[name] = value
	return c
}

// Apply applies the options and returns the call.
func (c *Call) Apply(opts []Option) *Call {
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures optional parts of a Call: the node name or optional attributes.
type Option func(c *Call)

// WithName sets the name of the node created. Without it the node is named automatically.
func WithName(name string) Option {
	return func(c *Call) { c.Name = name }
}

// WithAttr sets an (optional) attribute.
func WithAttr(name string, value any) Option {
	return func(c *Call) { c.Set(name, value) }
}

// Build creates the node described by the call: it validates the attributes, normalizes the inputs, creates
// the node with the factory of the operation set and names it.
//
// Attributes are validated before inputs are normalized, and if any step fails, constants created for the
// inputs are removed: the graph is left as it was.
func Build(g *engine.Graph, c *Call) (*engine.Node, error) {
	schema := LookupSchema(c.Opset, c.Op)
	factory := GetFactory(c.Opset)
	if schema == nil || !factory.Has(c.Op) {
		err := newError(ErrUnknownOperation)
		err.Opset, err.Op = c.Opset, c.Op
		return nil, err
	}
	attrs, err := Validate(schema, c.Attrs)
	if err != nil {
		return nil, withOp(err, c.Opset, c.Op)
	}
	mark := g.Mark()
	inputs, err := NormalizeMany(g, c.Inputs...)
	if err != nil {
		return nil, withOp(err, c.Opset, c.Op)
	}
	n, err := factory.Create(g, c.Op, inputs, attrs)
	if err == nil {
		n, err = Named(g, n, c.Name)
	}
	if err != nil {
		g.Rollback(mark)
		return nil, err
	}
	if klog.V(2).Enabled() {
		klog.Infof("built %s", n)
	}
	return n, nil
}

// Create is the generic path to create a node of any operation: see Build.
func Create(g *engine.Graph, id ID, op string, inputs []NodeInput, attrs Attrs, name string) (*engine.Node, error) {
	return Build(g, &Call{Opset: id, Op: op, Inputs: inputs, Attrs: attrs, Name: name})
}

// MustSingle builds a single-output call and returns its output. It panics with the *Error on failure.
//
// This is the way catalog functions report errors, like other graph building functions. Use
// exceptions.TryCatch[error] to convert it back to an error.
func MustSingle(g *engine.Graph, c *Call) engine.Output {
	output, err := Single(Build(g, c))
	if err != nil {
		panic(err)
	}
	return output
}

// MustMulti builds a multi-output call and returns its node. It panics with the *Error on failure.
func MustMulti(g *engine.Graph, c *Call) *engine.Node {
	n, err := Multi(Build(g, c))
	if err != nil {
		panic(err)
	}
	return n
}

var (
	schemasMu sync.RWMutex
	schemas   = make(map[ID]map[string]*Schema)
)

// RegisterSchemas registers the attribute schemas of operations of the operation set id.
// It panics if a schema is registered twice: it is meant to be called from init().
func RegisterSchemas(id ID, list ...*Schema) {
	schemasMu.Lock()
	defer schemasMu.Unlock()
	table, found := schemas[id]
	if !found {
		table = make(map[string]*Schema)
		schemas[id] = table
	}
	for _, s := range list {
		if _, found := table[s.Op]; found {
			panic(errors.Errorf("schema of %s.%s registered more than once", id, s.Op))
		}
		table[s.Op] = s
	}
}

// LookupSchema returns the schema of op in the operation set id, or in the ones it extends. It returns nil if
// not found.
func LookupSchema(id ID, op string) *Schema {
	schemasMu.RLock()
	defer schemasMu.RUnlock()
	if s := schemas[id][op]; s != nil {
		return s
	}
	table := engine.LookupOpset(string(id))
	if table == nil {
		return nil
	}
	for base := table.Base; base != nil; base = base.Base {
		if s := schemas[ID(base.ID)][op]; s != nil {
			return s
		}
	}
	return nil
}
