package protos

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPackedVarints[T int32 | int64 | uint64](b []byte, num protowire.Number, values []T) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	return appendMessage(b, num, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, values []float32) []byte {
	if len(values) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendMessage(b, num, packed)
}

func appendPackedDoubles(b []byte, num protowire.Number, values []float64) []byte {
	if len(values) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

// Marshal encodes the model in the protobuf wire format.
func (m *ModelProto) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.IrVersion))
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendVarint(b, 5, uint64(m.ModelVersion))
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, m.Graph.Marshal())
	}
	for _, opset := range m.OpsetImport {
		var msg []byte
		msg = appendString(msg, 1, opset.Domain)
		msg = appendVarint(msg, 2, uint64(opset.Version))
		b = appendMessage(b, 8, msg)
	}
	for _, entry := range m.MetadataProps {
		b = appendMessage(b, 14, entry.marshal())
	}
	for _, raw := range m.TrainingInfo {
		b = appendMessage(b, 20, raw)
	}
	for _, fn := range m.Functions {
		var msg []byte
		msg = appendString(msg, 1, fn.Name)
		msg = appendString(msg, 10, fn.Domain)
		b = appendMessage(b, 25, msg)
	}
	return b
}

func (e *StringStringEntryProto) marshal() []byte {
	var b []byte
	b = appendString(b, 1, e.Key)
	return appendString(b, 2, e.Value)
}

// Marshal encodes the graph in the protobuf wire format.
func (g *GraphProto) Marshal() []byte {
	var b []byte
	for _, node := range g.Node {
		b = appendMessage(b, 1, node.Marshal())
	}
	b = appendString(b, 2, g.Name)
	for _, tensor := range g.Initializer {
		b = appendMessage(b, 5, tensor.Marshal())
	}
	b = appendString(b, 10, g.DocString)
	for _, info := range g.Input {
		b = appendMessage(b, 11, info.Marshal())
	}
	for _, info := range g.Output {
		b = appendMessage(b, 12, info.Marshal())
	}
	for _, info := range g.ValueInfo {
		b = appendMessage(b, 13, info.Marshal())
	}
	for _, raw := range g.SparseInitializer {
		b = appendMessage(b, 15, raw)
	}
	return b
}

// Marshal encodes the node in the protobuf wire format.
func (node *NodeProto) Marshal() []byte {
	var b []byte
	// Empty names are meaningful for inputs and outputs (optional values), so they are always written.
	for _, name := range node.Input {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	for _, name := range node.Output {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	b = appendString(b, 3, node.Name)
	b = appendString(b, 4, node.OpType)
	for _, attr := range node.Attribute {
		b = appendMessage(b, 5, attr.Marshal())
	}
	b = appendString(b, 6, node.DocString)
	b = appendString(b, 7, node.Domain)
	return appendString(b, 8, node.Overload)
}

// Marshal encodes the attribute in the protobuf wire format.
func (a *AttributeProto) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, a.Name)
	if a.F != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	}
	b = appendVarint(b, 3, uint64(a.I))
	b = appendBytes(b, 4, a.S)
	if a.T != nil {
		b = appendMessage(b, 5, a.T.Marshal())
	}
	if a.G != nil {
		b = appendMessage(b, 6, a.G.Marshal())
	}
	b = appendPackedFloats(b, 7, a.Floats)
	b = appendPackedVarints(b, 8, a.Ints)
	for _, s := range a.Strings {
		b = appendMessage(b, 9, s)
	}
	for _, tensor := range a.Tensors {
		b = appendMessage(b, 10, tensor.Marshal())
	}
	for _, graph := range a.Graphs {
		b = appendMessage(b, 11, graph.Marshal())
	}
	b = appendString(b, 13, a.DocString)
	b = appendVarint(b, 20, uint64(a.Type))
	return appendString(b, 21, a.RefAttrName)
}

// Marshal encodes the tensor in the protobuf wire format.
func (t *TensorProto) Marshal() []byte {
	var b []byte
	b = appendPackedVarints(b, 1, t.Dims)
	b = appendVarint(b, 2, uint64(t.DataType))
	if t.Segment != nil {
		var msg []byte
		msg = appendVarint(msg, 1, uint64(t.Segment.Begin))
		msg = appendVarint(msg, 2, uint64(t.Segment.End))
		b = appendMessage(b, 3, msg)
	}
	b = appendPackedFloats(b, 4, t.FloatData)
	b = appendPackedVarints(b, 5, t.Int32Data)
	for _, s := range t.StringData {
		b = appendMessage(b, 6, s)
	}
	b = appendPackedVarints(b, 7, t.Int64Data)
	b = appendString(b, 8, t.Name)
	b = appendBytes(b, 9, t.RawData)
	b = appendPackedDoubles(b, 10, t.DoubleData)
	b = appendPackedVarints(b, 11, t.Uint64Data)
	b = appendString(b, 12, t.DocString)
	for _, entry := range t.ExternalData {
		b = appendMessage(b, 13, entry.marshal())
	}
	return appendVarint(b, 14, uint64(t.DataLocation))
}

// Marshal encodes the value info in the protobuf wire format.
func (v *ValueInfoProto) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, v.Name)
	if v.Type != nil && v.Type.TensorType != nil {
		tt := v.Type.TensorType
		var tensorType []byte
		tensorType = appendVarint(tensorType, 1, uint64(tt.ElemType))
		if tt.Shape != nil {
			var shape []byte
			for _, dim := range tt.Shape.Dim {
				var msg []byte
				if dim.HasValue {
					// Zero is a valid dimension, so it is written explicitly.
					msg = protowire.AppendTag(msg, 1, protowire.VarintType)
					msg = protowire.AppendVarint(msg, uint64(dim.DimValue))
				}
				msg = appendString(msg, 2, dim.DimParam)
				shape = appendMessage(shape, 1, msg)
			}
			tensorType = appendMessage(tensorType, 2, shape)
		}
		b = appendMessage(b, 2, appendMessage(nil, 1, tensorType))
	}
	return appendString(b, 3, v.DocString)
}
