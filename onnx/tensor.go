package onnx

import (
	"bytes"
	"encoding/binary"
	"os"
	"reflect"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/opgraph/engine"
	"github.com/gomlx/opgraph/internal/protos"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Shape converts an ONNX data type and shape to GoMLX shapes.Shape (it includes the dtype).
func Shape(proto *protos.TensorProto) (shape shapes.Shape, err error) {
	if proto == nil {
		err = errors.New("ONNX TensorProto is nil")
		return
	}
	shape.DType, err = dtypeForONNX(protos.TensorProto_DataType(proto.DataType))
	if err != nil {
		return
	}
	shape.Dimensions = make([]int, len(proto.Dims))
	for axis, dim := range proto.Dims {
		if dim < 0 {
			err = errors.Errorf("tensor %q has negative dimension %d on axis %d", proto.Name, dim, axis)
			return
		}
		shape.Dimensions[axis] = int(dim)
	}
	if proto.Segment != nil {
		err = errors.Errorf("segmented tensor not supported (%v)", proto.Segment)
		return
	}
	return
}

// FlatData returns the shape and the values of the tensor as a flat slice of the Go type of its element type
// (see engine.GoType), as used by engine constants.
//
// Values stored as external data are read with reader, which can be nil if the tensor is not stored externally.
func FlatData(proto *protos.TensorProto, reader *ExternalDataReader) (shape shapes.Shape, flat any, err error) {
	shape, err = Shape(proto)
	if err != nil {
		err = errors.WithMessagef(err, "while parsing tensor %q", proto.Name)
		return
	}
	goType := engine.GoType(shape.DType)
	if goType == nil {
		err = errors.Errorf("tensor %q shaped %s: element type not supported", proto.Name, shape)
		return
	}
	size := shape.Size()

	switch {
	case proto.DataLocation == protos.TensorProto_EXTERNAL:
		var info *externalDataInfo
		info, err = parseExternalData(proto)
		if err != nil {
			return
		}
		raw := make([]byte, size*int(goType.Size()))
		if reader != nil {
			err = reader.ReadInto(info, raw)
		} else {
			err = errors.Errorf("tensor %q is stored in external file %q, but no external data reader was given",
				proto.Name, info.location)
		}
		if err != nil {
			err = errors.WithMessagef(err, "while reading tensor %q", proto.Name)
			return
		}
		flat, err = decodeRawData(proto.Name, raw, goType, size)
		return

	case proto.RawData != nil:
		flat, err = decodeRawData(proto.Name, proto.RawData, goType, size)
		return
	}

	// Typed fields.
	switch shape.DType {
	case dtypes.Float32:
		flat = checkSize(proto, &err, append([]float32{}, proto.FloatData...), size)
	case dtypes.Float64:
		flat = checkSize(proto, &err, append([]float64{}, proto.DoubleData...), size)
	case dtypes.Int64:
		flat = checkSize(proto, &err, append([]int64{}, proto.Int64Data...), size)
	case dtypes.Uint64:
		flat = checkSize(proto, &err, append([]uint64{}, proto.Uint64Data...), size)
	case dtypes.Uint32:
		flat = checkSize(proto, &err, convertData[uint64, uint32](proto.Uint64Data), size)
	case dtypes.Int32:
		flat = checkSize(proto, &err, append([]int32{}, proto.Int32Data...), size)
	case dtypes.Int16:
		flat = checkSize(proto, &err, convertData[int32, int16](proto.Int32Data), size)
	case dtypes.Int8:
		flat = checkSize(proto, &err, convertData[int32, int8](proto.Int32Data), size)
	case dtypes.Uint16:
		flat = checkSize(proto, &err, convertData[int32, uint16](proto.Int32Data), size)
	case dtypes.Uint8:
		flat = checkSize(proto, &err, convertData[int32, uint8](proto.Int32Data), size)
	case dtypes.Float16:
		// Float16 values are stored as their bits.
		values := make([]float16.Float16, len(proto.Int32Data))
		for ii, v := range proto.Int32Data {
			values[ii] = float16.Frombits(uint16(v))
		}
		flat = checkSize(proto, &err, values, size)
	case dtypes.Bool:
		values := make([]bool, len(proto.Int32Data))
		for ii, v := range proto.Int32Data {
			values[ii] = v != 0
		}
		flat = checkSize(proto, &err, values, size)
	case dtypes.Complex64:
		values := make([]complex64, len(proto.FloatData)/2)
		for ii := range values {
			values[ii] = complex(proto.FloatData[2*ii], proto.FloatData[2*ii+1])
		}
		flat = checkSize(proto, &err, values, size)
	case dtypes.Complex128:
		values := make([]complex128, len(proto.DoubleData)/2)
		for ii := range values {
			values[ii] = complex(proto.DoubleData[2*ii], proto.DoubleData[2*ii+1])
		}
		flat = checkSize(proto, &err, values, size)
	default:
		err = errors.Errorf("tensor %q shaped %s has no supported format of data in the ONNX model!?", proto.Name, shape)
	}
	return
}

func convertData[From, To int32 | uint64 | int16 | int8 | uint16 | uint8 | uint32](data []From) []To {
	values := make([]To, len(data))
	for ii, v := range data {
		values[ii] = To(v)
	}
	return values
}

// checkSize returns values if it has the size of the tensor, or sets err otherwise.
func checkSize[T any](proto *protos.TensorProto, err *error, values []T, size int) any {
	if len(values) != size {
		*err = errors.Errorf("tensor %q has size %d, but ONNX model provided %d values of type %T!?",
			proto.Name, size, len(values), values)
		return nil
	}
	return values
}

// decodeRawData decodes little-endian raw data into a new slice of goType.
func decodeRawData(name string, raw []byte, goType reflect.Type, size int) (any, error) {
	if want := size * int(goType.Size()); len(raw) != want {
		return nil, errors.Errorf("tensor %q uses %d bytes, but ONNX model provided %d bytes of raw-data!?",
			name, want, len(raw))
	}
	flat := reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface()
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, flat); err != nil {
		return nil, errors.Wrapf(err, "while decoding raw data of tensor %q", name)
	}
	return flat, nil
}

// TensorToGoMLX converts a protos.TensorProto object to a tensors.Tensor object.
// reader is used for tensors stored as external data, and can be nil otherwise.
func TensorToGoMLX(proto *protos.TensorProto, reader *ExternalDataReader) (*tensors.Tensor, error) {
	shape, flat, err := FlatData(proto, reader)
	if err != nil {
		return nil, err
	}
	return NewTensor(flat, shape.Dimensions...)
}

// NewTensor creates a GoMLX tensor from a flat slice of values and the dimensions.
func NewTensor(flat any, dims ...int) (*tensors.Tensor, error) {
	switch values := flat.(type) {
	case []float32:
		return fromFlat(values, dims)
	case []float64:
		return fromFlat(values, dims)
	case []float16.Float16:
		return fromFlat(values, dims)
	case []int8:
		return fromFlat(values, dims)
	case []int16:
		return fromFlat(values, dims)
	case []int32:
		return fromFlat(values, dims)
	case []int64:
		return fromFlat(values, dims)
	case []uint8:
		return fromFlat(values, dims)
	case []uint16:
		return fromFlat(values, dims)
	case []uint32:
		return fromFlat(values, dims)
	case []uint64:
		return fromFlat(values, dims)
	case []bool:
		return fromFlat(values, dims)
	case []complex64:
		return fromFlat(values, dims)
	case []complex128:
		return fromFlat(values, dims)
	default:
		return nil, errors.Errorf("cannot create a tensor from values of type %T", flat)
	}
}

func fromFlat[T dtypes.Supported](values []T, dims []int) (*tensors.Tensor, error) {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	if size != len(values) {
		return nil, errors.Errorf("tensor with dimensions %v needs %d values, got %d", dims, size, len(values))
	}
	return tensors.FromFlatDataAndDimensions(values, dims...), nil
}

// TensorProtoFromFlat creates an ONNX tensor with the given name, shape and flat values, stored as raw data.
func TensorProtoFromFlat(name string, shape shapes.Shape, flat any) (*protos.TensorProto, error) {
	onnxDType, err := ONNXDType(shape.DType)
	if err != nil {
		return nil, err
	}
	goType := engine.GoType(shape.DType)
	flatV := reflect.ValueOf(flat)
	if goType == nil || !flatV.IsValid() || flatV.Kind() != reflect.Slice || flatV.Type().Elem() != goType {
		return nil, errors.Errorf("tensor %q shaped %s cannot be created from values of type %T", name, shape, flat)
	}
	if flatV.Len() != shape.Size() {
		return nil, errors.Errorf("tensor %q shaped %s needs %d values, got %d", name, shape, shape.Size(), flatV.Len())
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, flat); err != nil {
		return nil, errors.Wrapf(err, "while encoding tensor %q", name)
	}
	proto := &protos.TensorProto{
		Name:     name,
		DataType: int32(onnxDType),
		Dims:     make([]int64, shape.Rank()),
		RawData:  buf.Bytes(),
	}
	for axis, dim := range shape.Dimensions {
		proto.Dims[axis] = int64(dim)
	}
	return proto, nil
}

// ReadTensorFile reads a serialized TensorProto, like the inputs and outputs stored in ONNX test data sets.
func ReadTensorFile(filePath string) (*protos.TensorProto, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ONNX tensor file %s", filePath)
	}
	proto := &protos.TensorProto{}
	if err := proto.Unmarshal(contents); err != nil {
		return nil, errors.Wrapf(err, "failed to parse ONNX tensor proto in %s", filePath)
	}
	return proto, nil
}
