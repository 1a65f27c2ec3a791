package opset

import (
	"github.com/gomlx/opgraph/engine"
)

var autoBroadcast = Mode("auto_broadcast", "NUMPY", "NONE", "NUMPY")

func init() {
	RegisterSchemas(Opset0,
		NewSchema("Asin"),
		NewSchema("Round"),
		NewSchema("Sum"),
	)

	RegisterSchemas(Opset1,
		NewSchema("Parameter",
			Required("element_type", engine.KindString, ElementType()),
			Required("shape", engine.KindInts, NonNegative())),
		NewSchema("Add", autoBroadcast),
		NewSchema("Subtract", autoBroadcast),
		NewSchema("Multiply", autoBroadcast),
		NewSchema("Divide", autoBroadcast),
		NewSchema("Maximum", autoBroadcast),
		NewSchema("Asin"),
		NewSchema("Sqrt"),
		NewSchema("Exp"),
		NewSchema("Relu"),
		NewSchema("Concat", Required("axis", engine.KindInt)),
		NewSchema("Softmax", Optional("axis", engine.Int(1), NonNegative())),
		NewSchema("ReduceSum", Optional("keep_dims", engine.Bool(false))),
		NewSchema("MatMul",
			Optional("transpose_a", engine.Bool(false)),
			Optional("transpose_b", engine.Bool(false))),
		NewSchema("Transpose", Required("order", engine.KindInts, Permutation())),
		NewSchema("Convert", Required("destination_type", engine.KindString, ElementType())),
		NewSchema("Split",
			Required("axis", engine.KindInt),
			Required("num_splits", engine.KindInt, Positive())),
		NewSchema("Clamp",
			Required("min", engine.KindFloat),
			Required("max", engine.KindFloat)),
	)

	RegisterSchemas(Opset5,
		NewSchema("GatherND", Optional("batch_dims", engine.Int(0), NonNegative())),
		NewSchema("LogSoftmax", Required("axis", engine.KindInt)),
		NewSchema("Round", Mode("mode", "HALF_TO_EVEN", "HALF_TO_EVEN", "HALF_AWAY_FROM_ZERO")),
	)
}
