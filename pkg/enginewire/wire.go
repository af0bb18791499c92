// Package enginewire implements the engine service wire contract.
// Messages are marshaled by hand with protowire against the field
// numbers in engine.proto, so the repository carries no generated code
// while staying byte-compatible with any standard protobuf peer.
package enginewire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProcessMethod is the full gRPC method name for EngineService.Process.
const ProcessMethod = "/framewell.engine.v1.EngineService/Process"

// ProcessRequest carries one frame to the engine.
type ProcessRequest struct {
	FrameID  uint64
	Image    []byte
	Format   string
	Template string
}

// ResultItem is one detection in a ProcessResponse.
type ResultItem struct {
	Kind       string
	Text       string
	Format     string
	Confidence float32
	Points     []int32 // flattened x,y pairs
	Payload    []byte
}

// ProcessResponse is the engine output for one frame.
type ProcessResponse struct {
	Items      []ResultItem
	Clarity    float64
	HasClarity bool
}

func (r *ProcessRequest) marshal() ([]byte, error) {
	var b []byte
	if r.FrameID != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, r.FrameID)
	}
	if len(r.Image) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Image)
	}
	if r.Format != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, r.Format)
	}
	if r.Template != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, r.Template)
	}
	return b, nil
}

func (r *ProcessRequest) unmarshal(b []byte) error {
	*r = ProcessRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			r.FrameID = v
			b = b[m:]
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			r.Image = append([]byte(nil), v...)
			b = b[m:]
		case num == 3 && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			r.Format = v
			b = b[m:]
		case num == 4 && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			r.Template = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}

func (it *ResultItem) marshal() []byte {
	var b []byte
	if it.Kind != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, it.Kind)
	}
	if it.Text != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, it.Text)
	}
	if it.Format != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, it.Format)
	}
	if it.Confidence != 0 {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(it.Confidence))
	}
	if len(it.Points) > 0 {
		var packed []byte
		for _, p := range it.Points {
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(p)))
		}
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(it.Payload) > 0 {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, it.Payload)
	}
	return b
}

func (it *ResultItem) unmarshal(b []byte) error {
	*it = ResultItem{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			it.Kind = v
			b = b[m:]
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			it.Text = v
			b = b[m:]
		case num == 3 && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			it.Format = v
			b = b[m:]
		case num == 4 && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			it.Confidence = math.Float32frombits(v)
			b = b[m:]
		case num == 5 && typ == protowire.BytesType:
			packed, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
			for len(packed) > 0 {
				v, k := protowire.ConsumeVarint(packed)
				if k < 0 {
					return protowire.ParseError(k)
				}
				it.Points = append(it.Points, int32(protowire.DecodeZigZag(v)))
				packed = packed[k:]
			}
		case num == 5 && typ == protowire.VarintType:
			// Unpacked encoding from a lenient peer.
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			it.Points = append(it.Points, int32(protowire.DecodeZigZag(v)))
			b = b[m:]
		case num == 6 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			it.Payload = append([]byte(nil), v...)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}

func (r *ProcessResponse) marshal() ([]byte, error) {
	var b []byte
	for i := range r.Items {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Items[i].marshal())
	}
	if r.Clarity != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(r.Clarity))
	}
	if r.HasClarity {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func (r *ProcessResponse) unmarshal(b []byte) error {
	*r = ProcessResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			var it ResultItem
			if err := it.unmarshal(v); err != nil {
				return fmt.Errorf("result item: %w", err)
			}
			r.Items = append(r.Items, it)
			b = b[m:]
		case num == 2 && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			r.Clarity = math.Float64frombits(v)
			b = b[m:]
		case num == 3 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			r.HasClarity = v != 0
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}
