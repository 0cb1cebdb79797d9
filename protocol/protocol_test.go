package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-rpc/codec"
	"mini-rpc/message"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{Kind: KindRequest, CallID: 12345}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	assert.Equal(t, HeaderSize+len(body), buf.Len())

	frames, err := NewDecoder(0).Feed(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, frames, 1)

	assert.Equal(t, KindRequest, frames[0].Header.Kind)
	assert.Equal(t, uint64(12345), frames[0].Header.CallID)
	assert.Equal(t, uint32(len(body)), frames[0].Header.PayloadLen)
	assert.Equal(t, body, frames[0].Payload)
}

func TestHeaderLayout(t *testing.T) {
	frame := AppendFrame(nil, &Header{Kind: KindResponse, CallID: 0x0102030405060708}, []byte{0xaa})

	assert.Equal(t, []byte{0x6d, 0x72}, frame[0:2])
	assert.Equal(t, Version, frame[2])
	assert.Equal(t, byte(KindResponse), frame[3])
	assert.Equal(t, uint64(0x0102030405060708), binary.BigEndian.Uint64(frame[4:12]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(frame[12:16]))
	assert.Equal(t, byte(0xaa), frame[16])
}

func TestDecodeInvalidMagic(t *testing.T) {
	frame := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 1}, []byte("hello world"))
	frame[0], frame[1] = 0x00, 0x00

	d := NewDecoder(0)
	frames, err := d.Feed(frame)
	assert.Empty(t, frames)
	require.ErrorIs(t, err, ErrBadMagic)
	assert.ErrorIs(t, err, ErrFraming)
	assert.Zero(t, d.Buffered())

	// The decoder does not scan forward for the next valid header.
	_, err = d.Feed(AppendFrame(nil, &Header{Kind: KindRequest, CallID: 2}, nil))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeInvalidMagicNeedsOnlyHeader(t *testing.T) {
	// A corrupt header announcing a huge payload is rejected from the header
	// alone, before any payload is buffered or allocated.
	hdr := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(hdr[0:2], 0xdead)
	hdr[2] = Version
	hdr[3] = byte(KindRequest)
	binary.BigEndian.PutUint32(hdr[12:16], 0xffffffff)

	_, err := NewDecoder(0).Feed(hdr)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeInvalidVersion(t *testing.T) {
	frame := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 1}, nil)
	frame[2] = 0xff

	_, err := NewDecoder(0).Feed(frame)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestDecodeInvalidKind(t *testing.T) {
	frame := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 1}, nil)
	frame[3] = 0x7f

	_, err := NewDecoder(0).Feed(frame)
	assert.ErrorIs(t, err, ErrBadKind)
}

func TestDecodeOversizedPayload(t *testing.T) {
	frame := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 1}, make([]byte, 64))

	_, err := NewDecoder(32).Feed(frame[:HeaderSize])
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeEmptyBody(t *testing.T) {
	frames, err := NewDecoder(0).Feed(HeartbeatFrame())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, KindHeartbeat, frames[0].Header.Kind)
	assert.Zero(t, frames[0].Header.PayloadLen)
	assert.Empty(t, frames[0].Payload)
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}
	frame := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 999}, largeBody)

	// Deliver in 4 KiB reads, as a socket would.
	d := NewDecoder(0)
	var frames []Frame
	for off := 0; off < len(frame); off += 4096 {
		end := min(off+4096, len(frame))
		got, err := d.Feed(frame[off:end])
		require.NoError(t, err)
		frames = append(frames, got...)
	}
	require.Len(t, frames, 1)
	assert.True(t, bytes.Equal(largeBody, frames[0].Payload))
	assert.Zero(t, d.Buffered())
}

func TestDecodeEverySplitPoint(t *testing.T) {
	frame := AppendFrame(nil, &Header{Kind: KindResponse, CallID: 77}, []byte("split me anywhere"))

	whole, err := NewDecoder(0).Feed(frame)
	require.NoError(t, err)
	require.Len(t, whole, 1)

	for i := 0; i <= len(frame); i++ {
		d := NewDecoder(0)
		first, err := d.Feed(frame[:i])
		require.NoError(t, err)
		second, err := d.Feed(frame[i:])
		require.NoError(t, err)

		got := append(first, second...)
		require.Len(t, got, 1, "split at %d", i)
		assert.Equal(t, whole[0], got[0], "split at %d", i)
	}
}

func TestDecodeByteAtATime(t *testing.T) {
	frame := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 5}, []byte("drip"))

	d := NewDecoder(0)
	var got []Frame
	for i := range frame {
		frames, err := d.Feed(frame[i : i+1])
		require.NoError(t, err)
		if i < len(frame)-1 {
			assert.Empty(t, frames)
		}
		got = append(got, frames...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, []byte("drip"), got[0].Payload)
}

func TestDecodeMultipleFramesInOneRead(t *testing.T) {
	var stream []byte
	for i := 0; i < 10; i++ {
		stream = AppendFrame(stream, &Header{Kind: KindRequest, CallID: uint64(i)}, bytes.Repeat([]byte{byte(i)}, i))
	}
	// Half a frame trailing behind the complete ones.
	partial := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 10}, []byte("tail"))
	stream = append(stream, partial[:HeaderSize+2]...)

	d := NewDecoder(0)
	frames, err := d.Feed(stream)
	require.NoError(t, err)
	require.Len(t, frames, 10)
	for i, f := range frames {
		assert.Equal(t, uint64(i), f.Header.CallID)
		assert.Len(t, f.Payload, i)
	}
	assert.Equal(t, HeaderSize+2, d.Buffered())

	frames, err = d.Feed(partial[HeaderSize+2:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("tail"), frames[0].Payload)
}

func TestFramesBeforeErrorAreReturned(t *testing.T) {
	good := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 1}, []byte("ok"))
	bad := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 2}, nil)
	bad[0] = 0

	frames, err := NewDecoder(0).Feed(append(good, bad...))
	assert.True(t, errors.Is(err, ErrFraming))
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(1), frames[0].Header.CallID)
}

func TestFrameCodecRoundTrip(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary, codec.CodecTypeGob} {
		t.Run(ct.String(), func(t *testing.T) {
			cdc, err := codec.GetCodec(ct)
			require.NoError(t, err)
			fc := NewFrameCodec(cdc, 0)

			req := &message.Request{
				CallID:   3,
				Service:  "Calculator",
				Method:   "Add",
				ArgTypes: []string{"int", "int"},
				Args:     [][]byte{[]byte("10"), []byte("20")},
			}
			resp := message.NewFailure(4, message.NewError(message.CodeMethodNotFound, "method not found"))

			reqFrame, err := fc.EncodeRequest(req)
			require.NoError(t, err)
			respFrame, err := fc.EncodeResponse(resp)
			require.NoError(t, err)

			msgs, err := fc.NewDecoder().Feed(append(reqFrame, respFrame...))
			require.NoError(t, err)
			require.Len(t, msgs, 2)

			require.NoError(t, msgs[0].Err)
			assert.Equal(t, req, msgs[0].Request)
			assert.Nil(t, msgs[0].Response)

			require.NoError(t, msgs[1].Err)
			assert.Equal(t, resp, msgs[1].Response)
			assert.Nil(t, msgs[1].Request)
		})
	}
}

func TestFrameCodecUndecodablePayload(t *testing.T) {
	fc := NewFrameCodec(&codec.JSONCodec{}, 0)
	frame := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 88}, []byte("{not json"))

	msgs, err := fc.NewDecoder().Feed(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Error(t, msgs[0].Err)
	assert.Nil(t, msgs[0].Request)
	assert.Equal(t, uint64(88), msgs[0].Header.CallID)
}

func TestFrameCodecEmptyPayload(t *testing.T) {
	fc := NewFrameCodec(&codec.BinaryCodec{}, 0)
	frame := AppendFrame(nil, &Header{Kind: KindRequest, CallID: 9}, nil)

	msgs, err := fc.NewDecoder().Feed(frame)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, msgs[0].Err)
	assert.Equal(t, &message.Request{CallID: 9}, msgs[0].Request)
}

func TestFrameCodecRejectsOversizedEncode(t *testing.T) {
	fc := NewFrameCodec(&codec.BinaryCodec{}, 8)
	_, err := fc.EncodeRequest(&message.Request{CallID: 1, Service: "Calculator", Method: "Add"})
	assert.Error(t, err)
}
