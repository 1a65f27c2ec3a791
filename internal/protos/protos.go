// Package protos holds the subset of the ONNX protobuf messages (onnx.proto3, IR version 10) needed to read,
// inspect and write ONNX models, with a decoder and an encoder of their wire format.
//
// Field and enum names follow the naming of the Go code generated by protoc-gen-go, so code reading models
// looks the same. Fields not listed here are skipped when decoding.
package protos

import "fmt"

// TensorProto_DataType enumerates the element types of ONNX tensors.
type TensorProto_DataType int32

const (
	TensorProto_UNDEFINED  TensorProto_DataType = 0
	TensorProto_FLOAT      TensorProto_DataType = 1
	TensorProto_UINT8      TensorProto_DataType = 2
	TensorProto_INT8       TensorProto_DataType = 3
	TensorProto_UINT16     TensorProto_DataType = 4
	TensorProto_INT16      TensorProto_DataType = 5
	TensorProto_INT32      TensorProto_DataType = 6
	TensorProto_INT64      TensorProto_DataType = 7
	TensorProto_STRING     TensorProto_DataType = 8
	TensorProto_BOOL       TensorProto_DataType = 9
	TensorProto_FLOAT16    TensorProto_DataType = 10
	TensorProto_DOUBLE     TensorProto_DataType = 11
	TensorProto_UINT32     TensorProto_DataType = 12
	TensorProto_UINT64     TensorProto_DataType = 13
	TensorProto_COMPLEX64  TensorProto_DataType = 14
	TensorProto_COMPLEX128 TensorProto_DataType = 15
	TensorProto_BFLOAT16   TensorProto_DataType = 16
)

var dataTypeNames = map[TensorProto_DataType]string{
	TensorProto_UNDEFINED: "UNDEFINED", TensorProto_FLOAT: "FLOAT", TensorProto_UINT8: "UINT8",
	TensorProto_INT8: "INT8", TensorProto_UINT16: "UINT16", TensorProto_INT16: "INT16",
	TensorProto_INT32: "INT32", TensorProto_INT64: "INT64", TensorProto_STRING: "STRING",
	TensorProto_BOOL: "BOOL", TensorProto_FLOAT16: "FLOAT16", TensorProto_DOUBLE: "DOUBLE",
	TensorProto_UINT32: "UINT32", TensorProto_UINT64: "UINT64", TensorProto_COMPLEX64: "COMPLEX64",
	TensorProto_COMPLEX128: "COMPLEX128", TensorProto_BFLOAT16: "BFLOAT16",
}

func (x TensorProto_DataType) String() string {
	if name, found := dataTypeNames[x]; found {
		return name
	}
	return fmt.Sprintf("TensorProto_DataType(%d)", int32(x))
}

// TensorProto_DataLocation tells where the data of a tensor is stored.
type TensorProto_DataLocation int32

const (
	TensorProto_DEFAULT  TensorProto_DataLocation = 0
	TensorProto_EXTERNAL TensorProto_DataLocation = 1
)

// AttributeProto_AttributeType enumerates the kinds of node attributes.
type AttributeProto_AttributeType int32

const (
	AttributeProto_UNDEFINED AttributeProto_AttributeType = 0
	AttributeProto_FLOAT     AttributeProto_AttributeType = 1
	AttributeProto_INT       AttributeProto_AttributeType = 2
	AttributeProto_STRING    AttributeProto_AttributeType = 3
	AttributeProto_TENSOR    AttributeProto_AttributeType = 4
	AttributeProto_GRAPH     AttributeProto_AttributeType = 5
	AttributeProto_FLOATS    AttributeProto_AttributeType = 6
	AttributeProto_INTS      AttributeProto_AttributeType = 7
	AttributeProto_STRINGS   AttributeProto_AttributeType = 8
	AttributeProto_TENSORS   AttributeProto_AttributeType = 9
	AttributeProto_GRAPHS    AttributeProto_AttributeType = 10
)

var attributeTypeNames = []string{"UNDEFINED", "FLOAT", "INT", "STRING", "TENSOR", "GRAPH", "FLOATS", "INTS",
	"STRINGS", "TENSORS", "GRAPHS"}

func (x AttributeProto_AttributeType) String() string {
	if x >= 0 && int(x) < len(attributeTypeNames) {
		return attributeTypeNames[x]
	}
	return fmt.Sprintf("AttributeProto_AttributeType(%d)", int32(x))
}

// ModelProto is the top-level ONNX message.
type ModelProto struct {
	IrVersion       int64
	OpsetImport     []*OperatorSetIdProto
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []*StringStringEntryProto
	TrainingInfo    [][]byte // Kept undecoded.
	Functions       []*FunctionProto
}

// OperatorSetIdProto identifies an operator set imported by the model.
type OperatorSetIdProto struct {
	Domain  string
	Version int64
}

// StringStringEntryProto is a key/value pair.
type StringStringEntryProto struct {
	Key   string
	Value string
}

// FunctionProto is a model-local function. Only its identification is decoded.
type FunctionProto struct {
	Name   string
	Domain string
}

// GraphProto is a computation graph: nodes, initializers and the graph inputs and outputs.
type GraphProto struct {
	Node              []*NodeProto
	Name              string
	Initializer       []*TensorProto
	SparseInitializer [][]byte // Kept undecoded.
	DocString         string
	Input             []*ValueInfoProto
	Output            []*ValueInfoProto
	ValueInfo         []*ValueInfoProto
}

// NodeProto is one operation of a graph.
type NodeProto struct {
	Input     []string
	Output    []string
	Name      string
	OpType    string
	Domain    string
	Overload  string
	Attribute []*AttributeProto
	DocString string
}

// AttributeProto is a named attribute of a node. Type tells which of the value fields is set.
type AttributeProto struct {
	Name        string
	RefAttrName string
	DocString   string
	Type        AttributeProto_AttributeType
	F           float32
	I           int64
	S           []byte
	T           *TensorProto
	G           *GraphProto
	Floats      []float32
	Ints        []int64
	Strings     [][]byte
	Tensors     []*TensorProto
	Graphs      []*GraphProto
}

// TensorProto_Segment is the range of a segmented tensor.
type TensorProto_Segment struct {
	Begin int64
	End   int64
}

// TensorProto is a tensor value: initializers, attributes and test data.
type TensorProto struct {
	Dims         []int64
	DataType     int32
	Segment      *TensorProto_Segment
	FloatData    []float32
	Int32Data    []int32
	StringData   [][]byte
	Int64Data    []int64
	Name         string
	DocString    string
	RawData      []byte
	ExternalData []*StringStringEntryProto
	DataLocation TensorProto_DataLocation
	DoubleData   []float64
	Uint64Data   []uint64
}

// ValueInfoProto describes a graph input, output or intermediate value.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

// TypeProto is the type of a value. Only tensor types are supported.
type TypeProto struct {
	TensorType *TypeProto_Tensor
}

// TypeProto_Tensor is the element type and (possibly symbolic) shape of a tensor value.
type TypeProto_Tensor struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto is a shape with named or fixed dimensions.
type TensorShapeProto struct {
	Dim []*TensorShapeProto_Dimension
}

// TensorShapeProto_Dimension is either a fixed value (HasValue) or a symbolic parameter.
type TensorShapeProto_Dimension struct {
	DimValue int64
	DimParam string
	HasValue bool
}
