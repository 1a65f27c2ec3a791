package onnx

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/opgraph/internal/protos"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// TestShape tests the Shape() function that converts ONNX TensorProto to GoMLX shapes.Shape
func TestShape(t *testing.T) {
	t.Run("NilProto", func(t *testing.T) {
		_, err := Shape(nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "nil")
	})

	t.Run("Float32Scalar", func(t *testing.T) {
		shape, err := Shape(&protos.TensorProto{DataType: int32(protos.TensorProto_FLOAT)})
		require.NoError(t, err)
		require.Equal(t, dtypes.Float32, shape.DType)
		require.Equal(t, 0, shape.Rank())
	})

	t.Run("Int64_4D", func(t *testing.T) {
		shape, err := Shape(&protos.TensorProto{
			Dims:     []int64{2, 3, 4, 5},
			DataType: int32(protos.TensorProto_INT64),
		})
		require.NoError(t, err)
		require.Equal(t, dtypes.Int64, shape.DType)
		require.Equal(t, []int{2, 3, 4, 5}, shape.Dimensions)
	})

	t.Run("SegmentedTensorNotSupported", func(t *testing.T) {
		_, err := Shape(&protos.TensorProto{
			Dims:     []int64{10},
			DataType: int32(protos.TensorProto_FLOAT),
			Segment:  &protos.TensorProto_Segment{Begin: 0, End: 5},
		})
		require.ErrorContains(t, err, "segmented tensor not supported")
	})

	t.Run("UnknownDataType", func(t *testing.T) {
		_, err := Shape(&protos.TensorProto{DataType: int32(protos.TensorProto_STRING)})
		require.ErrorContains(t, err, "ONNX element type STRING has no GoMLX equivalent")
	})
}

func TestFlatData(t *testing.T) {
	t.Run("FloatData", func(t *testing.T) {
		shape, flat, err := FlatData(&protos.TensorProto{
			Dims:      []int64{2, 2},
			DataType:  int32(protos.TensorProto_FLOAT),
			FloatData: []float32{1, 2, 3, 4},
		}, nil)
		require.NoError(t, err)
		require.Equal(t, []int{2, 2}, shape.Dimensions)
		require.Equal(t, []float32{1, 2, 3, 4}, flat)
	})

	t.Run("Int32DataNarrowTypes", func(t *testing.T) {
		_, flat, err := FlatData(&protos.TensorProto{
			Dims:      []int64{3},
			DataType:  int32(protos.TensorProto_INT8),
			Int32Data: []int32{-1, 0, 7},
		}, nil)
		require.NoError(t, err)
		require.Equal(t, []int8{-1, 0, 7}, flat)

		_, flat, err = FlatData(&protos.TensorProto{
			Dims:      []int64{2},
			DataType:  int32(protos.TensorProto_BOOL),
			Int32Data: []int32{0, 1},
		}, nil)
		require.NoError(t, err)
		require.Equal(t, []bool{false, true}, flat)
	})

	t.Run("Float16Bits", func(t *testing.T) {
		half := float16.Fromfloat32(1.5)
		_, flat, err := FlatData(&protos.TensorProto{
			Dims:      []int64{1},
			DataType:  int32(protos.TensorProto_FLOAT16),
			Int32Data: []int32{int32(half.Bits())},
		}, nil)
		require.NoError(t, err)
		require.Equal(t, []float16.Float16{half}, flat)
	})

	t.Run("RawData", func(t *testing.T) {
		proto, err := TensorProtoFromFlat("raw", shapes.Make(dtypes.Float64, 3), []float64{0.5, -1, 2})
		require.NoError(t, err)
		require.Len(t, proto.RawData, 24)
		shape, flat, err := FlatData(proto, nil)
		require.NoError(t, err)
		require.Equal(t, dtypes.Float64, shape.DType)
		require.Equal(t, []float64{0.5, -1, 2}, flat)
	})

	t.Run("SizeMismatch", func(t *testing.T) {
		_, _, err := FlatData(&protos.TensorProto{
			Name:      "short",
			Dims:      []int64{3},
			DataType:  int32(protos.TensorProto_INT64),
			Int64Data: []int64{1, 2},
		}, nil)
		require.ErrorContains(t, err, `tensor "short" has size 3`)

		_, _, err = FlatData(&protos.TensorProto{
			Name:     "raw",
			Dims:     []int64{2},
			DataType: int32(protos.TensorProto_FLOAT),
			RawData:  []byte{1, 2, 3},
		}, nil)
		require.ErrorContains(t, err, "bytes of raw-data")
	})

	t.Run("BFloat16NotSupported", func(t *testing.T) {
		_, _, err := FlatData(&protos.TensorProto{
			Dims:     []int64{1},
			DataType: int32(protos.TensorProto_BFLOAT16),
			RawData:  []byte{0, 0},
		}, nil)
		require.ErrorContains(t, err, "element type not supported")
	})
}

func TestTensorToGoMLX(t *testing.T) {
	tensor, err := TensorToGoMLX(&protos.TensorProto{
		Dims:      []int64{3},
		DataType:  int32(protos.TensorProto_INT32),
		Int32Data: []int32{10, 20, 30},
	}, nil)
	require.NoError(t, err)
	defer tensor.FinalizeAll()
	require.Equal(t, dtypes.Int32, tensor.Shape().DType)
	require.Equal(t, []int32{10, 20, 30}, tensors.MustCopyFlatData[int32](tensor))

	_, err = NewTensor([]float32{1, 2}, 3)
	require.Error(t, err)
	_, err = NewTensor([]string{"a"}, 1)
	require.Error(t, err)
}

// writeRawFile writes the little-endian encoding of values to filePath.
func writeRawFile(t *testing.T, filePath string, values ...any) {
	var buf bytes.Buffer
	for _, v := range values {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	require.NoError(t, os.WriteFile(filePath, buf.Bytes(), 0o644))
}

func TestParseExternalData(t *testing.T) {
	t.Run("AllFields", func(t *testing.T) {
		info, err := parseExternalData(&protos.TensorProto{
			Name: "test",
			ExternalData: []*protos.StringStringEntryProto{
				{Key: "location", Value: "weights.bin"},
				{Key: "offset", Value: "1024"},
				{Key: "length", Value: "4096"},
				{Key: "checksum", Value: "abc123"},
			},
		})
		require.NoError(t, err)
		require.Equal(t, &externalDataInfo{location: "weights.bin", offset: 1024, length: 4096}, info)
	})

	for name, entries := range map[string][]*protos.StringStringEntryProto{
		"MissingLocation": {{Key: "offset", Value: "1024"}},
		"InvalidOffset":   {{Key: "location", Value: "w.bin"}, {Key: "offset", Value: "not-a-number"}},
		"NegativeLength":  {{Key: "location", Value: "w.bin"}, {Key: "length", Value: "-3"}},
		"EscapingPath":    {{Key: "location", Value: "../secrets.bin"}},
		"UnknownKey":      {{Key: "location", Value: "w.bin"}, {Key: "compression", Value: "zstd"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseExternalData(&protos.TensorProto{Name: "test", ExternalData: entries})
			require.Error(t, err)
		})
	}
}

func TestExternalDataReader(t *testing.T) {
	tmpDir := t.TempDir()
	writeRawFile(t, filepath.Join(tmpDir, "shared.bin"), []float32{1, 2}, []int64{3, 4, 5})
	reader := NewExternalDataReader(tmpDir)

	external := func(name string, dtype protos.TensorProto_DataType, dims []int64, offset, length string) *protos.TensorProto {
		return &protos.TensorProto{
			Name:         name,
			Dims:         dims,
			DataType:     int32(dtype),
			DataLocation: protos.TensorProto_EXTERNAL,
			ExternalData: []*protos.StringStringEntryProto{
				{Key: "location", Value: "shared.bin"},
				{Key: "offset", Value: offset},
				{Key: "length", Value: length},
			},
		}
	}

	t.Run("MultipleTensorsShareSameFile", func(t *testing.T) {
		_, flat, err := FlatData(external("a", protos.TensorProto_FLOAT, []int64{2}, "0", "8"), reader)
		require.NoError(t, err)
		require.Equal(t, []float32{1, 2}, flat)

		_, flat, err = FlatData(external("b", protos.TensorProto_INT64, []int64{3}, "8", "24"), reader)
		require.NoError(t, err)
		require.Equal(t, []int64{3, 4, 5}, flat)
		require.Len(t, reader.mappings, 1)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		_, _, err := FlatData(external("c", protos.TensorProto_INT64, []int64{3}, "8", "16"), reader)
		require.ErrorContains(t, err, "doesn't match destination size")
	})

	t.Run("ReadPastEnd", func(t *testing.T) {
		_, _, err := FlatData(external("d", protos.TensorProto_INT64, []int64{3}, "16", "24"), reader)
		require.Error(t, err)
	})

	t.Run("NoReader", func(t *testing.T) {
		_, _, err := FlatData(external("e", protos.TensorProto_FLOAT, []int64{2}, "0", "8"), nil)
		require.ErrorContains(t, err, "no external data reader")
	})

	require.NoError(t, reader.Close())
	_, _, err := FlatData(external("f", protos.TensorProto_FLOAT, []int64{2}, "0", "8"), reader)
	require.ErrorContains(t, err, "already closed")
}
