// Package opset5 defines the functions to create the nodes introduced or redefined by the operation set
// "opset5". The operations of opset1 are also available in opset5: use the opset1 functions for them, or
// opset.Create with opset.Opset5.
//
// As other graph building functions, they panic with an *opset.Error if the node can't be created.
package opset5

import (
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/opset"
)

// Rounding modes of Round.
const (
	HalfToEven       = "HALF_TO_EVEN"
	HalfAwayFromZero = "HALF_AWAY_FROM_ZERO"
)

// WithBatchDims sets the number of leading batch axes of GatherND. Default is 0.
func WithBatchDims(batchDims int) opset.Option {
	return opset.WithAttr("batch_dims", batchDims)
}

// WithMode sets the rounding mode of Round, case-insensitive: HalfToEven (the default) or HalfAwayFromZero.
func WithMode(mode string) opset.Option {
	return opset.WithAttr("mode", mode)
}

// GatherND gathers slices of data at the positions given by the last axis of indices.
//
// With batch_dims=b, data shaped [B..., D...] and indices shaped [B..., I..., k], the output is shaped
// [prod(B)..., I..., D[k:]...]: when b is 0 there is no leading batch axis.
func GatherND(g *engine.Graph, data, indices opset.NodeInput, opts ...opset.Option) engine.Output {
	return opset.MustSingle(g, opset.NewCall(opset.Opset5, "GatherND", data, indices).Apply(opts))
}

// LogSoftmax computes log(softmax(data)) over axis. Negative axes are counted from the end.
func LogSoftmax(g *engine.Graph, data opset.NodeInput, axis int, opts ...opset.Option) engine.Output {
	return opset.MustSingle(g, opset.NewCall(opset.Opset5, "LogSoftmax", data).Set("axis", axis).Apply(opts))
}

// Round rounds data element-wise to the nearest integer, resolving halves with the mode set with WithMode.
func Round(g *engine.Graph, data opset.NodeInput, opts ...opset.Option) engine.Output {
	return opset.MustSingle(g, opset.NewCall(opset.Opset5, "Round", data).Apply(opts))
}
