package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-rpc/message"
)

var allCodecs = []CodecType{CodecTypeJSON, CodecTypeBinary, CodecTypeGob}

func TestRequestRoundTrip(t *testing.T) {
	for _, ct := range allCodecs {
		t.Run(ct.String(), func(t *testing.T) {
			cdc, err := GetCodec(ct)
			require.NoError(t, err)

			a, err := cdc.Encode(10)
			require.NoError(t, err)
			b, err := cdc.Encode(20)
			require.NoError(t, err)

			original := &message.Request{
				CallID:   42,
				Service:  "Calculator",
				Method:   "Add",
				ArgTypes: []string{"int", "int"},
				Args:     [][]byte{a, b},
			}

			data, err := cdc.Encode(original)
			require.NoError(t, err)

			var decoded message.Request
			require.NoError(t, cdc.Decode(data, &decoded))
			assert.Equal(t, *original, decoded)

			var x, y int
			require.NoError(t, cdc.Decode(decoded.Args[0], &x))
			require.NoError(t, cdc.Decode(decoded.Args[1], &y))
			assert.Equal(t, 30, x+y)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	responses := map[string]*message.Response{
		"result": message.NewResult(9, []byte(`30`)),
		"error": message.NewFailure(10, message.Wrap(message.CodeInvocationFailed, "Calculator.Div",
			message.NewError(message.CodeBadRequest, "division by zero"))),
	}
	for _, ct := range allCodecs {
		for name, original := range responses {
			t.Run(ct.String()+"/"+name, func(t *testing.T) {
				cdc, err := GetCodec(ct)
				require.NoError(t, err)

				data, err := cdc.Encode(original)
				require.NoError(t, err)

				var decoded message.Response
				require.NoError(t, cdc.Decode(data, &decoded))
				assert.Equal(t, *original, decoded)
			})
		}
	}
}

func TestBinaryCodecRejectsTruncatedInput(t *testing.T) {
	cdc := &BinaryCodec{}
	data, err := cdc.Encode(&message.Request{CallID: 1, Service: "Calculator", Method: "Add"})
	require.NoError(t, err)

	for i := 0; i < len(data); i++ {
		var req message.Request
		assert.Error(t, cdc.Decode(data[:i], &req), "prefix of %d bytes", i)
	}
}

func TestBinaryCodecMismatchedArgs(t *testing.T) {
	cdc := &BinaryCodec{}
	_, err := cdc.Encode(&message.Request{ArgTypes: []string{"int"}})
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	ct, err := ParseType("Binary")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeBinary, ct)

	_, err = ParseType("xml")
	assert.Error(t, err)

	_, err = GetCodec(CodecType(9))
	assert.Error(t, err)
}

func BenchmarkCodecs(b *testing.B) {
	req := &message.Request{
		CallID:   1,
		Service:  "Calculator",
		Method:   "Add",
		ArgTypes: []string{"int", "int"},
		Args:     [][]byte{[]byte(`1`), []byte(`2`)},
	}
	for _, ct := range allCodecs {
		cdc, _ := GetCodec(ct)
		b.Run(ct.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				data, _ := cdc.Encode(req)
				var out message.Request
				cdc.Decode(data, &out)
			}
		})
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	var n int
	assert.ErrorIs(t, (&JSONCodec{}).Decode(nil, &n), ErrEmptyInput)
	assert.ErrorIs(t, (&GobCodec{}).Decode([]byte{}, &n), ErrEmptyInput)
}
