package onnx

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/internal/protos"
	"github.com/gomlx/opgraph/opset"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// This file maps ONNX operators to the operations of the opsets, and converts their attributes.

// converter creates the nodes of one ONNX node, and records its outputs in imp.converted.
type converter func(imp *importer, node *protos.NodeProto)

var converters map[string]converter

func init() {
	converters = map[string]converter{
		"Add":        binaryOp("Add"),
		"Sub":        binaryOp("Subtract"),
		"Mul":        binaryOp("Multiply"),
		"Div":        binaryOp("Divide"),
		"Max":        convertMax,
		"Asin":       unaryOp("Asin"),
		"Sqrt":       unaryOp("Sqrt"),
		"Exp":        unaryOp("Exp"),
		"Relu":       unaryOp("Relu"),
		"Round":      unaryOp("Round"),
		"Identity":   convertIdentity,
		"Constant":   convertConstant,
		"Concat":     convertConcat,
		"Softmax":    convertSoftmax,
		"LogSoftmax": convertLogSoftmax,
		"ReduceSum":  convertReduceSum,
		"MatMul":     convertMatMul,
		"Gemm":       convertGemm,
		"Transpose":  convertTranspose,
		"Cast":       convertCast,
		"Split":      convertSplit,
		"Clip":       convertClip,
		"GatherND":   convertGatherND,
	}
}

// SupportedOps returns the ONNX operators that can be imported, sorted.
func SupportedOps() []string {
	ops := make([]string, 0, len(converters))
	for op := range converters {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// nodeToString returns a one-line description of an ONNX node, for error messages.
func nodeToString(node *protos.NodeProto) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(", node.OpType)
	sb.WriteString(strings.Join(node.Input, ", "))
	sb.WriteString(")")
	if len(node.Attribute) > 0 {
		names := make([]string, len(node.Attribute))
		for ii, attr := range node.Attribute {
			names[ii] = attr.Name
		}
		fmt.Fprintf(&sb, "[%s]", strings.Join(names, ", "))
	}
	fmt.Fprintf(&sb, " -> [%s]", strings.Join(node.Output, ", "))
	if node.Name != "" {
		fmt.Fprintf(&sb, " (%q)", node.Name)
	}
	return sb.String()
}

// convertNode converts a single ONNX node, creating the corresponding engine nodes.
//
// It panics (throws exceptions) in case of errors.
func (imp *importer) convertNode(node *protos.NodeProto) {
	if node.Domain != "" && node.Domain != "ai.onnx" {
		exceptions.Panicf("unsupported domain %q", node.Domain)
	}
	if node.Overload != "" {
		exceptions.Panicf("overload %q to in-model function in ONNX model not implemented", node.Overload)
	}
	convert, found := converters[node.OpType]
	if !found {
		exceptions.Panicf("unimplemented ONNX %s", nodeToString(node))
	}
	convert(imp, node)
	if klog.V(2).Enabled() {
		klog.Infof("converted ONNX %s", nodeToString(node))
	}
}

// create creates a node with the factory of the model opset, named after the first ONNX output of node.
func (imp *importer) create(node *protos.NodeProto, op string, inputs []opset.NodeInput, attrs opset.Attrs) {
	if len(node.Output) != 1 {
		exceptions.Panicf("ONNX %s should have exactly one output", nodeToString(node))
	}
	name := node.Output[0]
	n, err := opset.Create(imp.g, imp.m.opsetID, op, inputs, attrs, name)
	imp.set(name, n, err)
}

// inputs returns the engine outputs of the node inputs, checking their number.
func (imp *importer) inputs(node *protos.NodeProto, minInputs, maxInputs int) []engine.Output {
	if len(node.Input) < minInputs || len(node.Input) > maxInputs {
		exceptions.Panicf("ONNX %s takes %d to %d inputs, got %d", nodeToString(node), minInputs, maxInputs, len(node.Input))
	}
	inputs := make([]engine.Output, len(node.Input))
	for ii, name := range node.Input {
		inputs[ii] = imp.input(name)
	}
	return inputs
}

func toNodeInputs(outputs []engine.Output) []opset.NodeInput {
	inputs := make([]opset.NodeInput, len(outputs))
	for ii, output := range outputs {
		inputs[ii] = output
	}
	return inputs
}

func binaryOp(op string) converter {
	return func(imp *importer, node *protos.NodeProto) {
		inputs := imp.inputs(node, 2, 2)
		imp.create(node, op, toNodeInputs(inputs), nil)
	}
}

func unaryOp(op string) converter {
	return func(imp *importer, node *protos.NodeProto) {
		inputs := imp.inputs(node, 1, 1)
		imp.create(node, op, toNodeInputs(inputs), nil)
	}
}

// convertMax converts the variadic ONNX Max to a chain of binary Maximum operations.
func convertMax(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, math.MaxInt)
	output := node.Output[0]
	result := inputs[0]
	for ii, input := range inputs[1:] {
		name := output
		if ii < len(inputs)-2 {
			name = fmt.Sprintf("%s/max_%d", output, ii)
		}
		n, err := opset.Create(imp.g, imp.m.opsetID, "Maximum", []opset.NodeInput{result, input}, nil, name)
		result, err = opset.Single(n, err)
		if err != nil {
			panic(err)
		}
	}
	imp.converted[output] = result
}

func convertIdentity(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, 1)
	imp.converted[node.Output[0]] = inputs[0]
}

// convertConstant converts an ONNX Constant node to an engine constant named after its output.
func convertConstant(imp *importer, node *protos.NodeProto) {
	imp.inputs(node, 0, 0)
	output := node.Output[0]
	if attr := getNodeAttr(node, "value", false); attr != nil {
		assertNodeAttrType(node, attr, protos.AttributeProto_TENSOR)
		shape, flat, err := FlatData(attr.T, imp.reader)
		if err != nil {
			panic(errors.WithMessagef(err, "while converting %s", nodeToString(node)))
		}
		imp.constant(output, shape.DType, shape.Dimensions, flat)
		return
	}
	if attr := getNodeAttr(node, "value_float", false); attr != nil {
		assertNodeAttrType(node, attr, protos.AttributeProto_FLOAT)
		imp.constant(output, dtypes.Float32, nil, []float32{attr.F})
		return
	}
	if attr := getNodeAttr(node, "value_floats", false); attr != nil {
		assertNodeAttrType(node, attr, protos.AttributeProto_FLOATS)
		imp.constant(output, dtypes.Float32, []int{len(attr.Floats)}, append([]float32{}, attr.Floats...))
		return
	}
	if attr := getNodeAttr(node, "value_int", false); attr != nil {
		assertNodeAttrType(node, attr, protos.AttributeProto_INT)
		imp.constant(output, dtypes.Int64, nil, []int64{attr.I})
		return
	}
	if attr := getNodeAttr(node, "value_ints", false); attr != nil {
		assertNodeAttrType(node, attr, protos.AttributeProto_INTS)
		imp.constant(output, dtypes.Int64, []int{len(attr.Ints)}, append([]int64{}, attr.Ints...))
		return
	}
	exceptions.Panicf("ONNX %s has no supported value attribute", nodeToString(node))
}

func convertConcat(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, math.MaxInt)
	imp.create(node, "Concat", toNodeInputs(inputs), opset.Attrs{"axis": mustGetIntAttr(node, "axis")})
}

// adjustAxis converts a negative ONNX axis to its non-negative value, given the rank of the operand.
func adjustAxis(node *protos.NodeProto, axis, rank int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += rank
	}
	if adjusted < 0 || adjusted >= rank {
		exceptions.Panicf("axis %d out of range for rank %d in ONNX %s", axis, rank, nodeToString(node))
	}
	return adjusted
}

// convertSoftmax converts ONNX Softmax (version 13 semantics: a single axis, default -1).
func convertSoftmax(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, 1)
	axis := adjustAxis(node, getIntAttrOr(node, "axis", -1), inputs[0].Rank())
	imp.create(node, "Softmax", toNodeInputs(inputs), opset.Attrs{"axis": axis})
}

func convertLogSoftmax(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, 1)
	imp.create(node, "LogSoftmax", toNodeInputs(inputs), opset.Attrs{"axis": getIntAttrOr(node, "axis", -1)})
}

// convertReduceSum converts ONNX ReduceSum: the axes are given either as an attribute (before version 13) or as
// a second input. Without axes, or with an empty constant list of axes, all axes are reduced, unless
// noop_with_empty_axes is set, in which case data is returned unchanged.
func convertReduceSum(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, 2)
	data := inputs[0]
	attrs := opset.Attrs{"keep_dims": getBoolAttrOr(node, "keepdims", true)}
	var axes opset.NodeInput
	switch {
	case len(inputs) == 2 && inputs[1].IsValid():
		axes = inputs[1]
		if values, err := engine.ConstantInts(inputs[1].Node()); err == nil && len(values) == 0 {
			axes = nil
		}
	case getNodeAttr(node, "axes", false) != nil:
		if values := toInt64s(mustGetIntsAttr(node, "axes")); len(values) > 0 {
			axes = values
		}
	}
	if axes == nil {
		if getBoolAttrOr(node, "noop_with_empty_axes", false) {
			imp.converted[node.Output[0]] = data
			return
		}
		all := make([]int64, data.Rank())
		for axis := range all {
			all[axis] = int64(axis)
		}
		axes = all
	}
	if values, ok := axes.([]int64); ok {
		axes = imp.constant(node.Output[0]+"/axes", dtypes.Int64, []int{len(values)}, values)
	}
	imp.create(node, "ReduceSum", []opset.NodeInput{data, axes}, attrs)
}

func convertMatMul(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 2, 2)
	imp.create(node, "MatMul", toNodeInputs(inputs), nil)
}

// convertGemm converts ONNX Gemm (alpha * A' x B' + beta * C) to MatMul, followed by Multiply and Add as needed.
func convertGemm(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 2, 3)
	output := node.Output[0]
	alpha := getFloatAttrOr(node, "alpha", 1)
	beta := getFloatAttrOr(node, "beta", 1)
	hasBias := len(inputs) == 3 && inputs[2].IsValid()

	name := output
	if alpha != 1 || hasBias {
		name = output + "/matmul"
	}
	n, err := opset.Create(imp.g, imp.m.opsetID, "MatMul", toNodeInputs(inputs[:2]), opset.Attrs{
		"transpose_a": getBoolAttrOr(node, "transA", false),
		"transpose_b": getBoolAttrOr(node, "transB", false),
	}, name)
	result, err := opset.Single(n, err)
	if err != nil {
		panic(err)
	}
	dtype := result.DType()
	scale := func(x engine.Output, factor float32, name string) engine.Output {
		if factor == 1 {
			return x
		}
		factorOutput := imp.constant(name+"/factor", dtype, nil, scalarOf(node, dtype, float64(factor)))
		n, err := opset.Create(imp.g, imp.m.opsetID, "Multiply", []opset.NodeInput{x, factorOutput}, nil, name)
		scaled, err := opset.Single(n, err)
		if err != nil {
			panic(err)
		}
		return scaled
	}
	if !hasBias {
		imp.converted[output] = scale(result, alpha, output)
		return
	}
	result = scale(result, alpha, output+"/alpha")
	bias := scale(inputs[2], beta, output+"/beta")
	n, err = opset.Create(imp.g, imp.m.opsetID, "Add", []opset.NodeInput{result, bias}, nil, output)
	imp.set(output, n, err)
}

// scalarOf returns value as a one-element flat slice of dtype. Only float element types are supported.
func scalarOf(node *protos.NodeProto, dtype dtypes.DType, value float64) any {
	switch dtype {
	case dtypes.Float32:
		return []float32{float32(value)}
	case dtypes.Float64:
		return []float64{value}
	default:
		exceptions.Panicf("ONNX %s: scaling factors not supported for %s", nodeToString(node), dtype)
		return nil
	}
}

func convertTranspose(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, 1)
	imp.create(node, "Transpose", toNodeInputs(inputs), opset.Attrs{"order": getIntsAttrOr(node, "perm", []int{})})
}

func convertCast(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, 1)
	dtype, err := dtypeForONNX(protos.TensorProto_DataType(mustGetIntAttr(node, "to")))
	if err != nil {
		panic(errors.WithMessagef(err, "while converting ONNX %s", nodeToString(node)))
	}
	imp.create(node, "Convert", toNodeInputs(inputs), opset.Attrs{"destination_type": engine.ElementTypeName(dtype)})
}

// convertSplit converts ONNX Split into equal parts, one per output. Uneven splits are not supported.
func convertSplit(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, 2)
	numSplits := len(node.Output)
	axis := getIntAttrOr(node, "axis", 0)
	var sizes []int64
	switch {
	case len(inputs) == 2 && inputs[1].IsValid():
		values, err := engine.ConstantInts(inputs[1].Node())
		if err != nil {
			panic(errors.WithMessagef(err, "split sizes of ONNX %s must be a constant", nodeToString(node)))
		}
		sizes = values
	case getNodeAttr(node, "split", false) != nil:
		sizes = toInt64s(mustGetIntsAttr(node, "split"))
	}
	for _, size := range sizes {
		if size != sizes[0] || len(sizes) != numSplits {
			exceptions.Panicf("ONNX %s: only splits into equal parts are supported, got sizes %v", nodeToString(node), sizes)
		}
	}
	name := node.Name
	if name == "" || imp.g.HasName(name) {
		name = node.Output[0] + "/split"
	}
	n, err := opset.Create(imp.g, imp.m.opsetID, "Split", []opset.NodeInput{inputs[0]},
		opset.Attrs{"axis": axis, "num_splits": numSplits}, name)
	n, err = opset.Multi(n, err)
	if err != nil {
		panic(err)
	}
	for ii, output := range node.Output {
		imp.converted[output] = n.Output(ii)
	}
}

// convertClip converts ONNX Clip to Clamp. The bounds, given as attributes (before version 11) or as
// constant scalar inputs, are optional.
func convertClip(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 1, 3)
	lower := float64(getFloatAttrOr(node, "min", -math.MaxFloat32))
	upper := float64(getFloatAttrOr(node, "max", math.MaxFloat32))
	bound := func(idx int, value *float64) {
		if idx >= len(inputs) || !inputs[idx].IsValid() {
			return
		}
		n := inputs[idx].Node()
		if !n.IsConstant() || inputs[idx].Shape().Size() != 1 {
			exceptions.Panicf("ONNX %s: bound #%d must be a constant scalar", nodeToString(node), idx)
		}
		*value = constantFloat(n.ConstantValue())
	}
	bound(1, &lower)
	bound(2, &upper)
	imp.create(node, "Clamp", []opset.NodeInput{inputs[0]}, opset.Attrs{"min": lower, "max": upper})
}

// constantFloat returns the first value of a flat constant as a float64.
func constantFloat(flat any) float64 {
	switch values := flat.(type) {
	case []float32:
		return float64(values[0])
	case []float64:
		return values[0]
	case []int32:
		return float64(values[0])
	case []int64:
		return float64(values[0])
	default:
		exceptions.Panicf("constant bound of type %T not supported", flat)
		return 0
	}
}

func convertGatherND(imp *importer, node *protos.NodeProto) {
	inputs := imp.inputs(node, 2, 2)
	imp.create(node, "GatherND", toNodeInputs(inputs), opset.Attrs{"batch_dims": getIntAttrOr(node, "batch_dims", 0)})
}

func toInt64s(values []int) []int64 {
	converted := make([]int64, len(values))
	for ii, v := range values {
		converted[ii] = int64(v)
	}
	return converted
}

////////////////////////////////////////////////////////////////////
//
// Attributes.
//
////////////////////////////////////////////////////////////////////

// getNodeAttr returns the given node attribute. If required is true, it will panic with a message about
// the missing attribute.
func getNodeAttr(node *protos.NodeProto, name string, required bool) *protos.AttributeProto {
	for _, attr := range node.Attribute {
		if attr.Name == name {
			return attr
		}
	}
	if required {
		exceptions.Panicf("ONNX %s is missing required attribute %q", nodeToString(node), name)
	}
	return nil
}

func assertNodeAttrType(node *protos.NodeProto, attr *protos.AttributeProto, attributeType protos.AttributeProto_AttributeType) {
	if attr.Type != attributeType {
		exceptions.Panicf("unsupported ONNX attribute %q of type %q in %s", attr.Name, attr.Type, nodeToString(node))
	}
}

// mustGetIntAttr get the attribute as an integer.
// It panics with an exception if attribute is not set or if it is of the wrong type.
func mustGetIntAttr(node *protos.NodeProto, attrName string) int {
	attr := getNodeAttr(node, attrName, true)
	assertNodeAttrType(node, attr, protos.AttributeProto_INT)
	return int(attr.I)
}

// mustGetIntsAttr gets a list of integers attribute for node.
// It panics with an error message if the attribute is not present of if it is of the wrong type.
func mustGetIntsAttr(node *protos.NodeProto, attrName string) []int {
	attr := getNodeAttr(node, attrName, true)
	if attr.Type == protos.AttributeProto_INT {
		return []int{int(attr.I)}
	}
	assertNodeAttrType(node, attr, protos.AttributeProto_INTS)
	values := make([]int, len(attr.Ints))
	for ii, v := range attr.Ints {
		values[ii] = int(v)
	}
	return values
}

// getIntAttrOr gets an integer attribute for node if present or return the given defaultValue.
// It panics with an error message if the attribute is present but is of the wrong type.
func getIntAttrOr(node *protos.NodeProto, attrName string, defaultValue int) int {
	if getNodeAttr(node, attrName, false) == nil {
		return defaultValue
	}
	return mustGetIntAttr(node, attrName)
}

// getBoolAttrOr gets a boolean attribute (ONNX uses an int value of 0 or 1) for node if present or return the given defaultValue.
func getBoolAttrOr(node *protos.NodeProto, attrName string, defaultValue bool) bool {
	defaultInt := 0
	if defaultValue {
		defaultInt = 1
	}
	return getIntAttrOr(node, attrName, defaultInt) != 0
}

// getFloatAttrOr gets a float attribute for node if present or return the given defaultValue.
func getFloatAttrOr(node *protos.NodeProto, attrName string, defaultValue float32) float32 {
	attr := getNodeAttr(node, attrName, false)
	if attr == nil {
		return defaultValue
	}
	assertNodeAttrType(node, attr, protos.AttributeProto_FLOAT)
	return attr.F
}

// getIntsAttrOr gets an integer list attribute for node if present or return the given defaultValues.
func getIntsAttrOr(node *protos.NodeProto, attrName string, defaultValues []int) []int {
	if getNodeAttr(node, attrName, false) == nil {
		return defaultValues
	}
	return mustGetIntsAttr(node, attrName)
}
