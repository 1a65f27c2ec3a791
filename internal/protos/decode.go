package protos

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// fieldFn handles one field of a message, whose value starts at b. It returns the number of bytes of the
// value consumed, or 0 if the field is not handled and should be skipped.
type fieldFn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// forEachField iterates over the fields of the message encoded in b.
func forEachField(b []byte, fn fieldFn) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if err != nil {
			return errors.WithMessagef(err, "field #%d", num)
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "field #%d", num)
		}
		b = b[n:]
	}
	return nil
}

func wrongType(typ, expected protowire.Type) error {
	return errors.Errorf("wire type %d, expected %d", typ, expected)
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, wrongType(typ, protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	*dst = string(v)
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, wrongType(typ, protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	*dst = append([]byte{}, v...)
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, wrongType(typ, protowire.VarintType)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, nil
	}
	*dst = v
	return n, nil
}

func consumeInt64(typ protowire.Type, b []byte, dst *int64) (int, error) {
	var v uint64
	n, err := consumeVarint(typ, b, &v)
	*dst = int64(v)
	return n, err
}

func consumeInt32(typ protowire.Type, b []byte, dst *int32) (int, error) {
	var v uint64
	n, err := consumeVarint(typ, b, &v)
	*dst = int32(int64(v))
	return n, err
}

// consumeMessage decodes a length-delimited sub-message with decode.
func consumeMessage(typ protowire.Type, b []byte, decode func([]byte) error) (int, error) {
	if typ != protowire.BytesType {
		return 0, wrongType(typ, protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	return n, decode(v)
}

// consumeVarints decodes a repeated varint field, packed or not.
func consumeVarints(typ protowire.Type, b []byte, fn func(uint64)) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			fn(v)
		}
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m, nil
			}
			fn(v)
			packed = packed[m:]
		}
		return n, nil
	default:
		return 0, wrongType(typ, protowire.VarintType)
	}
}

// consumeFixed32s decodes a repeated fixed32 (float) field, packed or not.
func consumeFixed32s(typ protowire.Type, b []byte, fn func(uint32)) (int, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n >= 0 {
			fn(v)
		}
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed32(packed)
			if m < 0 {
				return m, nil
			}
			fn(v)
			packed = packed[m:]
		}
		return n, nil
	default:
		return 0, wrongType(typ, protowire.Fixed32Type)
	}
}

// consumeFixed64s decodes a repeated fixed64 (double) field, packed or not.
func consumeFixed64s(typ protowire.Type, b []byte, fn func(uint64)) (int, error) {
	switch typ {
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n >= 0 {
			fn(v)
		}
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed64(packed)
			if m < 0 {
				return m, nil
			}
			fn(v)
			packed = packed[m:]
		}
		return n, nil
	default:
		return 0, wrongType(typ, protowire.Fixed64Type)
	}
}

func consumeInt64s(typ protowire.Type, b []byte, dst *[]int64) (int, error) {
	return consumeVarints(typ, b, func(v uint64) { *dst = append(*dst, int64(v)) })
}

// Unmarshal decodes a serialized ModelProto.
func (m *ModelProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(typ, b, &m.IrVersion)
		case 2:
			return consumeString(typ, b, &m.ProducerName)
		case 3:
			return consumeString(typ, b, &m.ProducerVersion)
		case 4:
			return consumeString(typ, b, &m.Domain)
		case 5:
			return consumeInt64(typ, b, &m.ModelVersion)
		case 6:
			return consumeString(typ, b, &m.DocString)
		case 7:
			m.Graph = &GraphProto{}
			return consumeMessage(typ, b, m.Graph.Unmarshal)
		case 8:
			opset := &OperatorSetIdProto{}
			m.OpsetImport = append(m.OpsetImport, opset)
			return consumeMessage(typ, b, opset.Unmarshal)
		case 14:
			entry := &StringStringEntryProto{}
			m.MetadataProps = append(m.MetadataProps, entry)
			return consumeMessage(typ, b, entry.Unmarshal)
		case 20:
			var raw []byte
			n, err := consumeBytes(typ, b, &raw)
			m.TrainingInfo = append(m.TrainingInfo, raw)
			return n, err
		case 25:
			fn := &FunctionProto{}
			m.Functions = append(m.Functions, fn)
			return consumeMessage(typ, b, fn.Unmarshal)
		}
		return 0, nil
	})
}

// Unmarshal decodes a serialized OperatorSetIdProto.
func (o *OperatorSetIdProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &o.Domain)
		case 2:
			return consumeInt64(typ, b, &o.Version)
		}
		return 0, nil
	})
}

// Unmarshal decodes a serialized StringStringEntryProto.
func (e *StringStringEntryProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &e.Key)
		case 2:
			return consumeString(typ, b, &e.Value)
		}
		return 0, nil
	})
}

// Unmarshal decodes the identification of a serialized FunctionProto.
func (f *FunctionProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &f.Name)
		case 10:
			return consumeString(typ, b, &f.Domain)
		}
		return 0, nil
	})
}

// Unmarshal decodes a serialized GraphProto.
func (g *GraphProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			node := &NodeProto{}
			g.Node = append(g.Node, node)
			return consumeMessage(typ, b, node.Unmarshal)
		case 2:
			return consumeString(typ, b, &g.Name)
		case 5:
			tensor := &TensorProto{}
			g.Initializer = append(g.Initializer, tensor)
			return consumeMessage(typ, b, tensor.Unmarshal)
		case 10:
			return consumeString(typ, b, &g.DocString)
		case 11, 12, 13:
			info := &ValueInfoProto{}
			switch num {
			case 11:
				g.Input = append(g.Input, info)
			case 12:
				g.Output = append(g.Output, info)
			default:
				g.ValueInfo = append(g.ValueInfo, info)
			}
			return consumeMessage(typ, b, info.Unmarshal)
		case 15:
			var raw []byte
			n, err := consumeBytes(typ, b, &raw)
			g.SparseInitializer = append(g.SparseInitializer, raw)
			return n, err
		}
		return 0, nil
	})
}

// Unmarshal decodes a serialized NodeProto.
func (node *NodeProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2:
			var s string
			n, err := consumeString(typ, b, &s)
			if num == 1 {
				node.Input = append(node.Input, s)
			} else {
				node.Output = append(node.Output, s)
			}
			return n, err
		case 3:
			return consumeString(typ, b, &node.Name)
		case 4:
			return consumeString(typ, b, &node.OpType)
		case 5:
			attr := &AttributeProto{}
			node.Attribute = append(node.Attribute, attr)
			return consumeMessage(typ, b, attr.Unmarshal)
		case 6:
			return consumeString(typ, b, &node.DocString)
		case 7:
			return consumeString(typ, b, &node.Domain)
		case 8:
			return consumeString(typ, b, &node.Overload)
		}
		return 0, nil
	})
}

// Unmarshal decodes a serialized AttributeProto.
func (a *AttributeProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &a.Name)
		case 2:
			return consumeFixed32s(typ, b, func(v uint32) { a.F = math.Float32frombits(v) })
		case 3:
			return consumeInt64(typ, b, &a.I)
		case 4:
			return consumeBytes(typ, b, &a.S)
		case 5:
			a.T = &TensorProto{}
			return consumeMessage(typ, b, a.T.Unmarshal)
		case 6:
			a.G = &GraphProto{}
			return consumeMessage(typ, b, a.G.Unmarshal)
		case 7:
			return consumeFixed32s(typ, b, func(v uint32) { a.Floats = append(a.Floats, math.Float32frombits(v)) })
		case 8:
			return consumeInt64s(typ, b, &a.Ints)
		case 9:
			var s []byte
			n, err := consumeBytes(typ, b, &s)
			a.Strings = append(a.Strings, s)
			return n, err
		case 10:
			tensor := &TensorProto{}
			a.Tensors = append(a.Tensors, tensor)
			return consumeMessage(typ, b, tensor.Unmarshal)
		case 11:
			graph := &GraphProto{}
			a.Graphs = append(a.Graphs, graph)
			return consumeMessage(typ, b, graph.Unmarshal)
		case 13:
			return consumeString(typ, b, &a.DocString)
		case 20:
			var v int32
			n, err := consumeInt32(typ, b, &v)
			a.Type = AttributeProto_AttributeType(v)
			return n, err
		case 21:
			return consumeString(typ, b, &a.RefAttrName)
		}
		return 0, nil
	})
}

// Unmarshal decodes a serialized TensorProto.
func (t *TensorProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64s(typ, b, &t.Dims)
		case 2:
			return consumeInt32(typ, b, &t.DataType)
		case 3:
			t.Segment = &TensorProto_Segment{}
			return consumeMessage(typ, b, func(b []byte) error {
				return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
					switch num {
					case 1:
						return consumeInt64(typ, b, &t.Segment.Begin)
					case 2:
						return consumeInt64(typ, b, &t.Segment.End)
					}
					return 0, nil
				})
			})
		case 4:
			return consumeFixed32s(typ, b, func(v uint32) { t.FloatData = append(t.FloatData, math.Float32frombits(v)) })
		case 5:
			return consumeVarints(typ, b, func(v uint64) { t.Int32Data = append(t.Int32Data, int32(int64(v))) })
		case 6:
			var s []byte
			n, err := consumeBytes(typ, b, &s)
			t.StringData = append(t.StringData, s)
			return n, err
		case 7:
			return consumeInt64s(typ, b, &t.Int64Data)
		case 8:
			return consumeString(typ, b, &t.Name)
		case 9:
			return consumeBytes(typ, b, &t.RawData)
		case 10:
			return consumeFixed64s(typ, b, func(v uint64) { t.DoubleData = append(t.DoubleData, math.Float64frombits(v)) })
		case 11:
			return consumeVarints(typ, b, func(v uint64) { t.Uint64Data = append(t.Uint64Data, v) })
		case 12:
			return consumeString(typ, b, &t.DocString)
		case 13:
			entry := &StringStringEntryProto{}
			t.ExternalData = append(t.ExternalData, entry)
			return consumeMessage(typ, b, entry.Unmarshal)
		case 14:
			var v int32
			n, err := consumeInt32(typ, b, &v)
			t.DataLocation = TensorProto_DataLocation(v)
			return n, err
		}
		return 0, nil
	})
}

// Unmarshal decodes a serialized ValueInfoProto.
func (v *ValueInfoProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &v.Name)
		case 2:
			v.Type = &TypeProto{}
			return consumeMessage(typ, b, v.Type.Unmarshal)
		case 3:
			return consumeString(typ, b, &v.DocString)
		}
		return 0, nil
	})
}

// Unmarshal decodes a serialized TypeProto. Types other than tensors are skipped.
func (tp *TypeProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		tp.TensorType = &TypeProto_Tensor{}
		return consumeMessage(typ, b, func(b []byte) error {
			return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					return consumeInt32(typ, b, &tp.TensorType.ElemType)
				case 2:
					tp.TensorType.Shape = &TensorShapeProto{}
					return consumeMessage(typ, b, tp.TensorType.Shape.Unmarshal)
				}
				return 0, nil
			})
		})
	})
}

// Unmarshal decodes a serialized TensorShapeProto.
func (s *TensorShapeProto) Unmarshal(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		dim := &TensorShapeProto_Dimension{}
		s.Dim = append(s.Dim, dim)
		return consumeMessage(typ, b, func(b []byte) error {
			return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					dim.HasValue = true
					return consumeInt64(typ, b, &dim.DimValue)
				case 2:
					return consumeString(typ, b, &dim.DimParam)
				}
				return 0, nil
			})
		})
	})
}
