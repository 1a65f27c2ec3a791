package onnx

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/opgraph/internal/protos"
	"github.com/pkg/errors"
)

// onnxToDType maps the ONNX element types with a GoMLX equivalent. STRING and the float8/int4 variants are
// not supported.
var onnxToDType = map[protos.TensorProto_DataType]dtypes.DType{
	protos.TensorProto_BOOL:       dtypes.Bool,
	protos.TensorProto_INT8:       dtypes.Int8,
	protos.TensorProto_INT16:      dtypes.Int16,
	protos.TensorProto_INT32:      dtypes.Int32,
	protos.TensorProto_INT64:      dtypes.Int64,
	protos.TensorProto_UINT8:      dtypes.Uint8,
	protos.TensorProto_UINT16:     dtypes.Uint16,
	protos.TensorProto_UINT32:     dtypes.Uint32,
	protos.TensorProto_UINT64:     dtypes.Uint64,
	protos.TensorProto_FLOAT16:    dtypes.Float16,
	protos.TensorProto_BFLOAT16:   dtypes.BFloat16,
	protos.TensorProto_FLOAT:      dtypes.Float32,
	protos.TensorProto_DOUBLE:     dtypes.Float64,
	protos.TensorProto_COMPLEX64:  dtypes.Complex64,
	protos.TensorProto_COMPLEX128: dtypes.Complex128,
}

var dtypeToONNX = func() map[dtypes.DType]protos.TensorProto_DataType {
	inverse := make(map[dtypes.DType]protos.TensorProto_DataType, len(onnxToDType))
	for onnxDType, dtype := range onnxToDType {
		inverse[dtype] = onnxDType
	}
	return inverse
}()

// dtypeForONNX returns the GoMLX element type of an ONNX tensor element type.
func dtypeForONNX(onnxDType protos.TensorProto_DataType) (dtypes.DType, error) {
	if dtype, found := onnxToDType[onnxDType]; found {
		return dtype, nil
	}
	return dtypes.InvalidDType, errors.Errorf("ONNX element type %s has no GoMLX equivalent", onnxDType)
}

// ONNXDType returns the ONNX tensor element type of a GoMLX element type.
func ONNXDType(dtype dtypes.DType) (protos.TensorProto_DataType, error) {
	if onnxDType, found := dtypeToONNX[dtype]; found {
		return onnxDType, nil
	}
	return protos.TensorProto_UNDEFINED, errors.Errorf("element type %s has no ONNX equivalent", dtype)
}
