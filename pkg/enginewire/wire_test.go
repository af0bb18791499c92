package enginewire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestProcessRequestRoundTrip(t *testing.T) {
	in := ProcessRequest{
		FrameID:  42,
		Image:    []byte{0xff, 0xd8, 0xff},
		Format:   "jpeg",
		Template: "invoice",
	}
	b, err := Codec{}.Marshal(&in)
	require.NoError(t, err)

	var out ProcessRequest
	require.NoError(t, Codec{}.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestProcessResponseRoundTrip(t *testing.T) {
	in := ProcessResponse{
		Items: []ResultItem{
			{
				Kind:       "barcode",
				Text:       "hello",
				Format:     "qr",
				Confidence: 0.93,
				Points:     []int32{10, 20, -30, 40},
				Payload:    []byte{1, 2, 3},
			},
			{Kind: "text-line", Text: "total 12.50"},
		},
		Clarity:    87.5,
		HasClarity: true,
	}
	b, err := Codec{}.Marshal(&in)
	require.NoError(t, err)

	var out ProcessResponse
	require.NoError(t, Codec{}.Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestProcessResponseZeroClarityDistinctFromAbsent(t *testing.T) {
	in := ProcessResponse{HasClarity: true} // score 0.0, but present
	b, err := Codec{}.Marshal(&in)
	require.NoError(t, err)

	var out ProcessResponse
	require.NoError(t, Codec{}.Unmarshal(b, &out))
	assert.True(t, out.HasClarity)
	assert.Zero(t, out.Clarity)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	// A newer peer appends field 99; older readers must ignore it.
	in := ProcessRequest{FrameID: 7, Format: "png"}
	b, err := in.marshal()
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	var out ProcessRequest
	require.NoError(t, out.unmarshal(b))
	assert.Equal(t, uint64(7), out.FrameID)
	assert.Equal(t, "png", out.Format)
}

func TestUnmarshalUnpackedPoints(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "boundary")
	for _, p := range []int32{5, -6} {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(p)))
	}

	var it ResultItem
	require.NoError(t, it.unmarshal(b))
	assert.Equal(t, []int32{5, -6}, it.Points)
}

func TestUnmarshalRejectsTruncatedInput(t *testing.T) {
	in := ProcessResponse{Items: []ResultItem{{Kind: "barcode"}}}
	b, err := in.marshal()
	require.NoError(t, err)

	var out ProcessResponse
	assert.Error(t, out.unmarshal(b[:len(b)-1]))
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	_, err := Codec{}.Marshal("not a message")
	assert.Error(t, err)
	assert.Error(t, Codec{}.Unmarshal(nil, 42))
}

func TestCodecName(t *testing.T) {
	assert.Equal(t, "proto", Codec{}.Name())
}
