package engine

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Shape and type inference of the operations in the registered opsets.
// Attributes are expected to have been validated, but optional ones may be missing when
// nodes are created directly with Graph.CreateNode, so defaults are applied here too.

func attrInt(attrs Attributes, name string, defaultValue int64) int64 {
	if attr, found := attrs[name]; found && attr.Kind() == KindInt {
		return attr.Int()
	}
	return defaultValue
}

func attrBool(attrs Attributes, name string) bool {
	attr, found := attrs[name]
	return found && attr.Kind() == KindBool && attr.Bool()
}

func attrString(attrs Attributes, name, defaultValue string) string {
	if attr, found := attrs[name]; found && attr.Kind() == KindString {
		return attr.Str()
	}
	return defaultValue
}

func requireAttr(attrs Attributes, name string, kind Kind) (Attribute, error) {
	attr, found := attrs[name]
	if !found {
		return Attribute{}, errors.Errorf("attribute %q is required", name)
	}
	if attr.Kind() != kind {
		return Attribute{}, errors.Errorf("attribute %q must be %s, got %s", name, kind, attr.Kind())
	}
	return attr, nil
}

// adjustAxis converts a possibly negative axis to its non-negative value, checking it is in range.
func adjustAxis(axis int64, rank int) (int, error) {
	adjusted := axis
	if adjusted < 0 {
		adjusted += int64(rank)
	}
	if adjusted < 0 || adjusted >= int64(rank) {
		return 0, errors.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return int(adjusted), nil
}

func isNumeric(dtype dtypes.DType) bool {
	return dtype != dtypes.InvalidDType && dtype != dtypes.Bool
}

func inferUnary(inputs []Output, _ Attributes) ([]shapes.Shape, error) {
	shape := inputs[0].Shape()
	if !isNumeric(shape.DType) {
		return nil, errors.Errorf("operand must be numeric, got %s", shape)
	}
	return []shapes.Shape{shape.Clone()}, nil
}

func inferSameAsInput(inputs []Output, _ Attributes) ([]shapes.Shape, error) {
	return []shapes.Shape{inputs[0].Shape().Clone()}, nil
}

// broadcastDims returns the dimensions resulting from broadcasting lhs and rhs with NumPy rules.
func broadcastDims(lhs, rhs []int) ([]int, error) {
	rank := max(len(lhs), len(rhs))
	dims := make([]int, rank)
	for ii := range rank {
		lhsDim, rhsDim := 1, 1
		if jj := ii - (rank - len(lhs)); jj >= 0 {
			lhsDim = lhs[jj]
		}
		if jj := ii - (rank - len(rhs)); jj >= 0 {
			rhsDim = rhs[jj]
		}
		switch {
		case lhsDim == rhsDim || rhsDim == 1:
			dims[ii] = lhsDim
		case lhsDim == 1:
			dims[ii] = rhsDim
		default:
			return nil, errors.Errorf("dimensions %v and %v are not broadcastable", lhs, rhs)
		}
	}
	return dims, nil
}

func inferBinary(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	lhs, rhs := inputs[0].Shape(), inputs[1].Shape()
	if lhs.DType != rhs.DType {
		return nil, errors.Errorf("operands must have the same element type, got %s and %s", lhs, rhs)
	}
	if !isNumeric(lhs.DType) {
		return nil, errors.Errorf("operands must be numeric, got %s", lhs)
	}
	switch mode := attrString(attrs, "auto_broadcast", "NUMPY"); mode {
	case "NONE":
		if !slices.Equal(lhs.Dimensions, rhs.Dimensions) {
			return nil, errors.Errorf("auto_broadcast=NONE requires equal shapes, got %s and %s", lhs, rhs)
		}
		return []shapes.Shape{lhs.Clone()}, nil
	case "NUMPY":
		dims, err := broadcastDims(lhs.Dimensions, rhs.Dimensions)
		if err != nil {
			return nil, err
		}
		return []shapes.Shape{shapes.Make(lhs.DType, dims...)}, nil
	default:
		return nil, errors.Errorf("unsupported auto_broadcast mode %q", mode)
	}
}

func inferConcat(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	axisAttr, err := requireAttr(attrs, "axis", KindInt)
	if err != nil {
		return nil, err
	}
	first := inputs[0].Shape()
	if first.IsScalar() {
		return nil, errors.New("cannot concatenate scalars")
	}
	axis, err := adjustAxis(axisAttr.Int(), first.Rank())
	if err != nil {
		return nil, err
	}
	dims := slices.Clone(first.Dimensions)
	for ii, input := range inputs[1:] {
		shape := input.Shape()
		if shape.DType != first.DType || shape.Rank() != first.Rank() {
			return nil, errors.Errorf("input #%d shaped %s incompatible with input #0 shaped %s", ii+1, shape, first)
		}
		for jj, dim := range shape.Dimensions {
			if jj != axis && dim != first.Dimensions[jj] {
				return nil, errors.Errorf("input #%d shaped %s differs from input #0 shaped %s on axis %d", ii+1, shape, first, jj)
			}
		}
		dims[axis] += shape.Dimensions[axis]
	}
	return []shapes.Shape{shapes.Make(first.DType, dims...)}, nil
}

func inferSoftmax(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	shape := inputs[0].Shape()
	if !shape.DType.IsFloat() {
		return nil, errors.Errorf("softmax requires a float operand, got %s", shape)
	}
	axis := attrInt(attrs, "axis", 1)
	if axis < 0 || axis >= int64(shape.Rank()) {
		return nil, errors.Errorf("axis %d out of range for operand shaped %s", axis, shape)
	}
	return []shapes.Shape{shape.Clone()}, nil
}

func inferLogSoftmax(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	shape := inputs[0].Shape()
	if !shape.DType.IsFloat() {
		return nil, errors.Errorf("log-softmax requires a float operand, got %s", shape)
	}
	axisAttr, err := requireAttr(attrs, "axis", KindInt)
	if err != nil {
		return nil, err
	}
	if _, err = adjustAxis(axisAttr.Int(), shape.Rank()); err != nil {
		return nil, err
	}
	return []shapes.Shape{shape.Clone()}, nil
}

// ReductionAxes returns the normalized (non-negative, sorted) axes of a reduction node: its second
// input must be a constant of integer values.
func ReductionAxes(data, axes Output) ([]int, error) {
	values, err := ConstantInts(axes.Node())
	if err != nil {
		return nil, errors.WithMessage(err, "reduction axes must be a constant")
	}
	if axes.Rank() > 1 {
		return nil, errors.Errorf("reduction axes must be a scalar or a vector, got %s", axes.Shape())
	}
	rank := data.Rank()
	normalized := make([]int, 0, len(values))
	for _, value := range values {
		axis, err := adjustAxis(value, rank)
		if err != nil {
			return nil, err
		}
		if slices.Contains(normalized, axis) {
			return nil, errors.Errorf("reduction axis %d repeated in %v", axis, values)
		}
		normalized = append(normalized, axis)
	}
	slices.Sort(normalized)
	return normalized, nil
}

func inferReduce(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	data := inputs[0].Shape()
	if !isNumeric(data.DType) {
		return nil, errors.Errorf("operand must be numeric, got %s", data)
	}
	axes, err := ReductionAxes(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	keepDims := attrBool(attrs, "keep_dims")
	dims := make([]int, 0, data.Rank())
	for axis, dim := range data.Dimensions {
		switch {
		case !slices.Contains(axes, axis):
			dims = append(dims, dim)
		case keepDims:
			dims = append(dims, 1)
		}
	}
	return []shapes.Shape{shapes.Make(data.DType, dims...)}, nil
}

func inferMatMul(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	lhs, rhs := inputs[0].Shape(), inputs[1].Shape()
	if lhs.DType != rhs.DType || !isNumeric(lhs.DType) {
		return nil, errors.Errorf("operands must be numeric and of the same element type, got %s and %s", lhs, rhs)
	}
	if lhs.IsScalar() || rhs.IsScalar() {
		return nil, errors.Errorf("operands must have rank >= 1, got %s and %s", lhs, rhs)
	}
	lhsDims, rhsDims := slices.Clone(lhs.Dimensions), slices.Clone(rhs.Dimensions)
	lhsVector, rhsVector := len(lhsDims) == 1, len(rhsDims) == 1
	if lhsVector {
		lhsDims = []int{1, lhsDims[0]}
	} else if attrBool(attrs, "transpose_a") {
		last := len(lhsDims) - 1
		lhsDims[last-1], lhsDims[last] = lhsDims[last], lhsDims[last-1]
	}
	if rhsVector {
		rhsDims = []int{rhsDims[0], 1}
	} else if attrBool(attrs, "transpose_b") {
		last := len(rhsDims) - 1
		rhsDims[last-1], rhsDims[last] = rhsDims[last], rhsDims[last-1]
	}
	lhsRank, rhsRank := len(lhsDims), len(rhsDims)
	if lhsDims[lhsRank-1] != rhsDims[rhsRank-2] {
		return nil, errors.Errorf("contracting dimensions differ: %s x %s", lhs, rhs)
	}
	batch, err := broadcastDims(lhsDims[:lhsRank-2], rhsDims[:rhsRank-2])
	if err != nil {
		return nil, errors.WithMessage(err, "batch dimensions")
	}
	dims := batch
	if !lhsVector {
		dims = append(dims, lhsDims[lhsRank-2])
	}
	if !rhsVector {
		dims = append(dims, rhsDims[rhsRank-1])
	}
	return []shapes.Shape{shapes.Make(lhs.DType, dims...)}, nil
}

func inferTranspose(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	shape := inputs[0].Shape()
	orderAttr, err := requireAttr(attrs, "order", KindInts)
	if err != nil {
		return nil, err
	}
	order := orderAttr.Ints()
	if len(order) == 0 {
		// Empty order reverses the axes.
		for axis := shape.Rank() - 1; axis >= 0; axis-- {
			order = append(order, int64(axis))
		}
	}
	if len(order) != shape.Rank() {
		return nil, errors.Errorf("order %v has %d axes, but operand shaped %s has rank %d", order, len(order), shape, shape.Rank())
	}
	dims := make([]int, len(order))
	seen := make([]bool, len(order))
	for ii, axis := range order {
		if axis < 0 || axis >= int64(len(order)) || seen[axis] {
			return nil, errors.Errorf("order %v is not a permutation of the axes", order)
		}
		seen[axis] = true
		dims[ii] = shape.Dimensions[axis]
	}
	return []shapes.Shape{shapes.Make(shape.DType, dims...)}, nil
}

func inferConvert(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	destAttr, err := requireAttr(attrs, "destination_type", KindString)
	if err != nil {
		return nil, err
	}
	dtype, err := ParseElementType(destAttr.Str())
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{shapes.Make(dtype, inputs[0].Shape().Dimensions...)}, nil
}

func inferSplit(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	shape := inputs[0].Shape()
	axisAttr, err := requireAttr(attrs, "axis", KindInt)
	if err != nil {
		return nil, err
	}
	numAttr, err := requireAttr(attrs, "num_splits", KindInt)
	if err != nil {
		return nil, err
	}
	axis, err := adjustAxis(axisAttr.Int(), shape.Rank())
	if err != nil {
		return nil, err
	}
	numSplits := int(numAttr.Int())
	if numSplits <= 0 {
		return nil, errors.Errorf("num_splits must be positive, got %d", numSplits)
	}
	if shape.Dimensions[axis]%numSplits != 0 {
		return nil, errors.Errorf("dimension %d of axis %d is not divisible into %d splits", shape.Dimensions[axis], axis, numSplits)
	}
	dims := slices.Clone(shape.Dimensions)
	dims[axis] /= numSplits
	outputs := make([]shapes.Shape, numSplits)
	for ii := range outputs {
		outputs[ii] = shapes.Make(shape.DType, dims...)
	}
	return outputs, nil
}

func inferClamp(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	minAttr, err := requireAttr(attrs, "min", KindFloat)
	if err != nil {
		return nil, err
	}
	maxAttr, err := requireAttr(attrs, "max", KindFloat)
	if err != nil {
		return nil, err
	}
	if minAttr.Float() > maxAttr.Float() {
		return nil, errors.Errorf("min (%g) is greater than max (%g)", minAttr.Float(), maxAttr.Float())
	}
	return inferUnary(inputs, attrs)
}

func inferGatherND(inputs []Output, attrs Attributes) ([]shapes.Shape, error) {
	data, indices := inputs[0].Shape(), inputs[1].Shape()
	if !indices.DType.IsInt() {
		return nil, errors.Errorf("indices must be integers, got %s", indices)
	}
	rank, indicesRank := data.Rank(), indices.Rank()
	if rank < 1 || indicesRank < 1 {
		return nil, errors.Errorf("data and indices must have rank >= 1, got %s and %s", data, indices)
	}
	batchDims := int(attrInt(attrs, "batch_dims", 0))
	if batchDims < 0 || batchDims >= min(rank, indicesRank) {
		return nil, errors.Errorf("batch_dims=%d must be smaller than the ranks of data (%d) and indices (%d)", batchDims, rank, indicesRank)
	}
	if !slices.Equal(data.Dimensions[:batchDims], indices.Dimensions[:batchDims]) {
		return nil, errors.Errorf("batch dimensions of data %s and indices %s differ", data, indices)
	}
	tupleSize := indices.Dimensions[indicesRank-1]
	if tupleSize < 1 || tupleSize > rank-batchDims {
		return nil, errors.Errorf("last dimension of indices (%d) must be in [1, %d]", tupleSize, rank-batchDims)
	}
	var dims []int
	if batchDims > 0 {
		batchSize := 1
		for _, dim := range data.Dimensions[:batchDims] {
			batchSize *= dim
		}
		dims = append(dims, batchSize)
	}
	dims = append(dims, indices.Dimensions[batchDims:indicesRank-1]...)
	dims = append(dims, data.Dimensions[batchDims+tupleSize:]...)
	return []shapes.Shape{shapes.Make(data.DType, dims...)}, nil
}

func inferParameter(_ []Output, attrs Attributes) ([]shapes.Shape, error) {
	typeAttr, err := requireAttr(attrs, "element_type", KindString)
	if err != nil {
		return nil, err
	}
	dtype, err := ParseElementType(typeAttr.Str())
	if err != nil {
		return nil, err
	}
	shapeAttr, err := requireAttr(attrs, "shape", KindInts)
	if err != nil {
		return nil, err
	}
	values := shapeAttr.Ints()
	dims := make([]int, len(values))
	for ii, dim := range values {
		if dim < 0 {
			return nil, errors.Errorf("shape %v has negative dimension", values)
		}
		dims[ii] = int(dim)
	}
	return []shapes.Shape{shapes.Make(dtype, dims...)}, nil
}
