package engine

// Identifiers of the operation sets registered by the engine.
const (
	Opset0 = "opset0"
	Opset1 = "opset1"
	Opset5 = "opset5"
)

func unary(opType string) OpDef {
	return OpDef{Type: opType, MinInputs: 1, MaxInputs: 1, Infer: inferUnary}
}

func binary(opType string) OpDef {
	return OpDef{Type: opType, MinInputs: 2, MaxInputs: 2, Infer: inferBinary}
}

func init() {
	RegisterOpset(Opset0, "",
		unary("Asin"),
		unary("Round"),
		OpDef{Type: "Sum", MinInputs: 2, MaxInputs: 2, Infer: inferReduce},
	)

	RegisterOpset(Opset1, "",
		OpDef{Type: "Parameter", MinInputs: 0, MaxInputs: 0, Infer: inferParameter},
		binary("Add"),
		binary("Subtract"),
		binary("Multiply"),
		binary("Divide"),
		binary("Maximum"),
		unary("Asin"),
		unary("Sqrt"),
		unary("Exp"),
		unary("Relu"),
		OpDef{Type: "Concat", MinInputs: 1, MaxInputs: Unbounded, Infer: inferConcat},
		OpDef{Type: "Softmax", MinInputs: 1, MaxInputs: 1, Infer: inferSoftmax},
		OpDef{Type: "ReduceSum", MinInputs: 2, MaxInputs: 2, Infer: inferReduce},
		OpDef{Type: "MatMul", MinInputs: 2, MaxInputs: 2, Infer: inferMatMul},
		OpDef{Type: "Transpose", MinInputs: 1, MaxInputs: 1, Infer: inferTranspose},
		OpDef{Type: "Convert", MinInputs: 1, MaxInputs: 1, Infer: inferConvert},
		OpDef{Type: "Split", MinInputs: 1, MaxInputs: 1, Infer: inferSplit},
		OpDef{Type: "Clamp", MinInputs: 1, MaxInputs: 1, Infer: inferClamp},
	)

	RegisterOpset(Opset5, Opset1,
		OpDef{Type: "GatherND", MinInputs: 2, MaxInputs: 2, Infer: inferGatherND},
		OpDef{Type: "LogSoftmax", MinInputs: 1, MaxInputs: 1, Infer: inferLogSoftmax},
		unary("Round"),
	)
}
