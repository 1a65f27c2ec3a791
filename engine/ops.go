package engine

import (
	"slices"
	"strconv"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Unbounded is used as OpDef.MaxInputs for variadic operations.
const Unbounded = -1

// InferFn infers the output shapes (with element types) of an operation, given its inputs and
// attributes. It returns an error if the inputs or attributes are invalid for the operation.
type InferFn func(inputs []Output, attrs Attributes) ([]shapes.Shape, error)

// OpDef is the engine-side constructor of an operation.
type OpDef struct {
	Type      string
	MinInputs int
	MaxInputs int // Unbounded for variadic operations.
	Infer     InferFn
}

func (def *OpDef) checkArity(numInputs int) error {
	if numInputs < def.MinInputs || (def.MaxInputs != Unbounded && numInputs > def.MaxInputs) {
		return errors.Errorf("%s takes %s inputs, got %d", def.Type, def.ArityString(), numInputs)
	}
	return nil
}

// ArityString describes the accepted number of inputs, e.g. "2", "1..unbounded" or "1..3".
func (def *OpDef) ArityString() string {
	switch {
	case def.MaxInputs == Unbounded:
		return strconv.Itoa(def.MinInputs) + "..unbounded"
	case def.MinInputs == def.MaxInputs:
		return strconv.Itoa(def.MinInputs)
	default:
		return strconv.Itoa(def.MinInputs) + ".." + strconv.Itoa(def.MaxInputs)
	}
}

// Opset is a table of operation definitions for one operation set version.
// Operations not found are looked up in Base, if set.
type Opset struct {
	ID   string
	Base *Opset
	ops  map[string]*OpDef
}

// Lookup returns the definition of the operation, or nil if neither the opset nor its bases define it.
func (o *Opset) Lookup(opType string) *OpDef {
	for opset := o; opset != nil; opset = opset.Base {
		if def, found := opset.ops[opType]; found {
			return def
		}
	}
	return nil
}

// OpTypes returns all operation types available in the opset, including the inherited ones, sorted.
func (o *Opset) OpTypes() []string {
	var opTypes []string
	for opset := o; opset != nil; opset = opset.Base {
		for opType := range opset.ops {
			if !slices.Contains(opTypes, opType) {
				opTypes = append(opTypes, opType)
			}
		}
	}
	slices.Sort(opTypes)
	return opTypes
}

var (
	opsetsMu sync.RWMutex
	opsets   = make(map[string]*Opset)
)

// RegisterOpset registers a new opset with the given definitions, extending base (which may be "").
//
// It panics if the id is already registered or if base is unknown: it is meant to be called from init().
func RegisterOpset(id, base string, defs ...OpDef) *Opset {
	opsetsMu.Lock()
	defer opsetsMu.Unlock()
	if _, found := opsets[id]; found {
		panic(errors.Errorf("opset %q registered more than once", id))
	}
	opset := &Opset{ID: id, ops: make(map[string]*OpDef, len(defs))}
	if base != "" {
		opset.Base = opsets[base]
		if opset.Base == nil {
			panic(errors.Errorf("opset %q extends unknown opset %q", id, base))
		}
	}
	for _, def := range defs {
		if _, found := opset.ops[def.Type]; found {
			panic(errors.Errorf("opset %q defines %q more than once", id, def.Type))
		}
		opset.ops[def.Type] = &def
	}
	opsets[id] = opset
	return opset
}

// LookupOpset returns the registered opset, or nil.
func LookupOpset(id string) *Opset {
	opsetsMu.RLock()
	defer opsetsMu.RUnlock()
	return opsets[id]
}

// LookupOp returns the definition of opType in the registered opset id, or nil.
func LookupOp(id, opType string) *OpDef {
	opset := LookupOpset(id)
	if opset == nil {
		return nil
	}
	return opset.Lookup(opType)
}
