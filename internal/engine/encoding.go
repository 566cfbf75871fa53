package engine

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/swiglu/internal/tensor"
)

// Snapshot field numbers.
const (
	fieldSubgraphNumExternal protowire.Number = 1
	fieldSubgraphFlags       protowire.Number = 2
	fieldSubgraphValue       protowire.Number = 3
	fieldSubgraphNode        protowire.Number = 4

	fieldValueID         protowire.Number = 1
	fieldValueDType      protowire.Number = 2
	fieldValueDims       protowire.Number = 3
	fieldValueExternalID protowire.Number = 4
	fieldValueFlags      protowire.Number = 5
	fieldValueData       protowire.Number = 6

	fieldNodeOp     protowire.Number = 1
	fieldNodeInputs protowire.Number = 2
	fieldNodeOutput protowire.Number = 3
	fieldNodeMin    protowire.Number = 4
	fieldNodeMax    protowire.Number = 5
	fieldNodeFlags  protowire.Number = 6
)

// MarshalBinary encodes the subgraph, static weights included, in protobuf wire format.
func (sg *Subgraph) MarshalBinary() ([]byte, error) {
	sg.mu.Lock()
	defer sg.mu.Unlock()

	if sg.deleted {
		return nil, newError("marshal_subgraph", InvalidState, "subgraph was deleted")
	}

	var b []byte
	b = protowire.AppendTag(b, fieldSubgraphNumExternal, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(sg.numExternal))
	if sg.flags != 0 {
		b = protowire.AppendTag(b, fieldSubgraphFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(sg.flags))
	}
	for _, v := range sg.values {
		if v == nil {
			continue
		}
		b = protowire.AppendTag(b, fieldSubgraphValue, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalValue(v))
	}
	for _, n := range sg.nodes {
		b = protowire.AppendTag(b, fieldSubgraphNode, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalNode(n))
	}
	return b, nil
}

func marshalValue(v *value) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldValueID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.id))
	b = protowire.AppendTag(b, fieldValueDType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.dtype))

	var dims []byte
	for _, d := range v.shape {
		dims = protowire.AppendVarint(dims, uint64(d))
	}
	b = protowire.AppendTag(b, fieldValueDims, protowire.BytesType)
	b = protowire.AppendBytes(b, dims)

	b = protowire.AppendTag(b, fieldValueExternalID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.externalID))
	b = protowire.AppendTag(b, fieldValueFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.flags))

	if v.data != nil {
		data := make([]byte, 0, 4*len(v.data))
		for _, f := range v.data {
			data = protowire.AppendFixed32(data, math.Float32bits(f))
		}
		b = protowire.AppendTag(b, fieldValueData, protowire.BytesType)
		b = protowire.AppendBytes(b, data)
	}
	return b
}

func marshalNode(n *node) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldNodeOp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.op))

	var inputs []byte
	for _, id := range n.inputs {
		inputs = protowire.AppendVarint(inputs, uint64(id))
	}
	b = protowire.AppendTag(b, fieldNodeInputs, protowire.BytesType)
	b = protowire.AppendBytes(b, inputs)

	b = protowire.AppendTag(b, fieldNodeOutput, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.output))
	b = protowire.AppendTag(b, fieldNodeMin, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(n.bounds.Min))
	b = protowire.AppendTag(b, fieldNodeMax, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(n.bounds.Max))
	if n.flags != 0 {
		b = protowire.AppendTag(b, fieldNodeFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(n.flags))
	}
	return b
}

type valueRecord struct {
	id         uint32
	dtype      tensor.DataType
	dims       []int
	externalID uint32
	flags      ValueFlags
	data       []float32
}

type nodeRecord struct {
	op       OpType
	inputs   []uint32
	output   uint32
	min, max float32
	flags    uint32
}

type subgraphRecord struct {
	numExternal uint32
	flags       uint32
	values      []valueRecord
	nodes       []nodeRecord
}

// UnmarshalSubgraph rebuilds a subgraph from MarshalBinary output. Every value
// and node goes through the regular define calls, so a snapshot is validated
// exactly like a graph built in code.
func UnmarshalSubgraph(data []byte) (*Subgraph, error) {
	const op = "unmarshal_subgraph"

	if err := checkInitialized(op); err != nil {
		return nil, err
	}

	rec, err := parseSubgraph(data)
	if err != nil {
		return nil, wrapError(op, InvalidParameter, err)
	}

	sg, err := CreateSubgraph(rec.numExternal, rec.flags)
	if err != nil {
		return nil, err
	}
	if err := rec.define(sg); err != nil {
		_ = sg.Delete()
		return nil, err
	}
	return sg, nil
}

func (rec *subgraphRecord) define(sg *Subgraph) error {
	sort.Slice(rec.values, func(i, j int) bool { return rec.values[i].id < rec.values[j].id })

	next := rec.numExternal
	for _, v := range rec.values {
		if v.id < rec.numExternal {
			if v.externalID != v.id {
				return newError("unmarshal_subgraph", InvalidParameter, "value %d has external id %d", v.id, v.externalID)
			}
		} else if v.id != next {
			return newError("unmarshal_subgraph", InvalidParameter, "value ids are not dense at %d", v.id)
		}

		id, err := sg.DefineTensorValue(v.dtype, v.dims, v.data, v.externalID, v.flags)
		if err != nil {
			return err
		}
		if v.id >= rec.numExternal {
			next = id + 1
		}
	}

	for _, n := range rec.nodes {
		var err error
		switch n.op {
		case OpFullyConnected:
			if len(n.inputs) != 3 {
				return newError("unmarshal_subgraph", InvalidParameter, "fully connected node has %d inputs", len(n.inputs))
			}
			err = sg.DefineFullyConnected(n.min, n.max, n.inputs[0], n.inputs[1], n.inputs[2], n.output, n.flags)
		case OpSigmoid, OpClamp:
			if len(n.inputs) != 1 {
				return newError("unmarshal_subgraph", InvalidParameter, "unary node has %d inputs", len(n.inputs))
			}
			if n.op == OpSigmoid {
				err = sg.DefineUnary(UnarySigmoid, nil, n.inputs[0], n.output, n.flags)
			} else {
				err = sg.DefineUnary(UnaryClamp, &UnaryParams{Min: n.min, Max: n.max}, n.inputs[0], n.output, n.flags)
			}
		case OpMultiply:
			if len(n.inputs) != 2 {
				return newError("unmarshal_subgraph", InvalidParameter, "multiply node has %d inputs", len(n.inputs))
			}
			err = sg.DefineMultiply2(n.min, n.max, n.inputs[0], n.inputs[1], n.output, n.flags)
		default:
			return newError("unmarshal_subgraph", UnsupportedParameter, "unsupported operator %d", int(n.op))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func parseSubgraph(b []byte) (*subgraphRecord, error) {
	rec := &subgraphRecord{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch {
		case num == fieldSubgraphNumExternal && typ == protowire.VarintType:
			v, err := varint(field)
			rec.numExternal = uint32(v)
			return err
		case num == fieldSubgraphFlags && typ == protowire.VarintType:
			v, err := varint(field)
			rec.flags = uint32(v)
			return err
		case num == fieldSubgraphValue && typ == protowire.BytesType:
			v, err := parseValue(field)
			if err != nil {
				return fmt.Errorf("value %d: %w", len(rec.values), err)
			}
			rec.values = append(rec.values, v)
			return nil
		case num == fieldSubgraphNode && typ == protowire.BytesType:
			n, err := parseNode(field)
			if err != nil {
				return fmt.Errorf("node %d: %w", len(rec.nodes), err)
			}
			rec.nodes = append(rec.nodes, n)
			return nil
		}
		return fmt.Errorf("%w: %d", ErrUnknownField, num)
	})
	return rec, err
}

func parseValue(b []byte) (valueRecord, error) {
	v := valueRecord{externalID: InvalidValueID}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, field []byte) error {
		var err error
		var x uint64
		switch {
		case num == fieldValueID && typ == protowire.VarintType:
			x, err = varint(field)
			v.id = uint32(x)
		case num == fieldValueDType && typ == protowire.VarintType:
			x, err = varint(field)
			v.dtype = tensor.DataType(x)
		case num == fieldValueDims && typ == protowire.BytesType:
			var dims []uint64
			dims, err = packedVarints(field)
			v.dims = make([]int, len(dims))
			for i, d := range dims {
				v.dims[i] = int(d)
			}
		case num == fieldValueExternalID && typ == protowire.VarintType:
			x, err = varint(field)
			v.externalID = uint32(x)
		case num == fieldValueFlags && typ == protowire.VarintType:
			x, err = varint(field)
			v.flags = ValueFlags(x)
		case num == fieldValueData && typ == protowire.BytesType:
			if len(field)%4 != 0 {
				return fmt.Errorf("%w: data length %d", ErrTruncated, len(field))
			}
			v.data = make([]float32, len(field)/4)
			for i := range v.data {
				bits, _ := protowire.ConsumeFixed32(field[4*i:])
				v.data[i] = math.Float32frombits(bits)
			}
		default:
			return fmt.Errorf("%w: %d", ErrUnknownField, num)
		}
		return err
	})
	return v, err
}

func parseNode(b []byte) (nodeRecord, error) {
	var n nodeRecord
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, field []byte) error {
		var err error
		var x uint64
		switch {
		case num == fieldNodeOp && typ == protowire.VarintType:
			x, err = varint(field)
			n.op = OpType(x)
		case num == fieldNodeInputs && typ == protowire.BytesType:
			var ids []uint64
			ids, err = packedVarints(field)
			n.inputs = make([]uint32, len(ids))
			for i, id := range ids {
				n.inputs[i] = uint32(id)
			}
		case num == fieldNodeOutput && typ == protowire.VarintType:
			x, err = varint(field)
			n.output = uint32(x)
		case num == fieldNodeMin && typ == protowire.Fixed32Type:
			bits, _ := protowire.ConsumeFixed32(field)
			n.min = math.Float32frombits(bits)
		case num == fieldNodeMax && typ == protowire.Fixed32Type:
			bits, _ := protowire.ConsumeFixed32(field)
			n.max = math.Float32frombits(bits)
		case num == fieldNodeFlags && typ == protowire.VarintType:
			x, err = varint(field)
			n.flags = uint32(x)
		default:
			return fmt.Errorf("%w: %d", ErrUnknownField, num)
		}
		return err
	})
	return n, err
}

// forEachField walks a message and calls f with each field's raw value bytes.
// Length-delimited fields are passed without their length prefix.
func forEachField(b []byte, f func(num protowire.Number, typ protowire.Type, field []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		var field []byte
		if typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(m))
			}
			field, n = v, m
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
			}
			field = b[:n]
		}
		b = b[n:]

		if err := f(num, typ, field); err != nil {
			return err
		}
	}
	return nil
}

func varint(b []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
	}
	return v, nil
}

func packedVarints(b []byte) ([]uint64, error) {
	var out []uint64
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}
