package protocol

import (
	"fmt"

	"mini-rpc/codec"
	"mini-rpc/message"
)

// FrameCodec turns requests and responses into frames and back, using a
// pluggable payload codec for the frame body.
type FrameCodec struct {
	codec      codec.Codec
	maxPayload uint32
}

// NewFrameCodec returns a FrameCodec serializing payloads with c.
// A zero maxPayload selects DefaultMaxPayload.
func NewFrameCodec(c codec.Codec, maxPayload uint32) *FrameCodec {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	return &FrameCodec{codec: c, maxPayload: maxPayload}
}

// Codec returns the payload codec.
func (fc *FrameCodec) Codec() codec.Codec {
	return fc.codec
}

// EncodeRequest serializes req into a complete request frame.
func (fc *FrameCodec) EncodeRequest(req *message.Request) ([]byte, error) {
	return fc.encode(KindRequest, req.CallID, req)
}

// EncodeResponse serializes resp into a complete response frame.
func (fc *FrameCodec) EncodeResponse(resp *message.Response) ([]byte, error) {
	return fc.encode(KindResponse, resp.CallID, resp)
}

// HeartbeatFrame returns an empty heartbeat frame.
func HeartbeatFrame() []byte {
	return AppendFrame(make([]byte, 0, HeaderSize), &Header{Kind: KindHeartbeat}, nil)
}

func (fc *FrameCodec) encode(kind Kind, callID uint64, msg any) ([]byte, error) {
	payload, err := fc.codec.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	if uint64(len(payload)) > uint64(fc.maxPayload) {
		return nil, fmt.Errorf("encode %s payload: %d bytes exceeds limit %d", kind, len(payload), fc.maxPayload)
	}
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), &Header{Kind: kind, CallID: callID}, payload), nil
}

// Message is a decoded frame. Exactly one of Request and Response is set for
// request and response frames; neither is set for heartbeats.
//
// Err is set when the frame was well formed but its payload could not be
// deserialized. The stream is still in sync, and Header.CallID identifies the
// call the broken payload belonged to.
type Message struct {
	Header   Header
	Request  *message.Request
	Response *message.Response
	Err      error
}

// MessageDecoder decodes a byte stream into Messages. One per connection.
type MessageDecoder struct {
	fc  *FrameCodec
	dec *Decoder
}

// NewDecoder returns a streaming decoder bound to fc's payload codec.
func (fc *FrameCodec) NewDecoder() *MessageDecoder {
	return &MessageDecoder{fc: fc, dec: NewDecoder(fc.maxPayload)}
}

// Feed consumes p and returns every message completed by it. A non-nil error
// is a framing error and is fatal to the connection.
func (md *MessageDecoder) Feed(p []byte) ([]Message, error) {
	frames, err := md.dec.Feed(p)
	msgs := make([]Message, 0, len(frames))
	for _, f := range frames {
		msgs = append(msgs, md.fc.decodeFrame(f))
	}
	return msgs, err
}

// Buffered returns the number of undecoded bytes held by the decoder.
func (md *MessageDecoder) Buffered() int {
	return md.dec.Buffered()
}

func (fc *FrameCodec) decodeFrame(f Frame) Message {
	m := Message{Header: f.Header}
	switch f.Header.Kind {
	case KindRequest:
		req := &message.Request{}
		if len(f.Payload) > 0 {
			if err := fc.codec.Decode(f.Payload, req); err != nil {
				m.Err = fmt.Errorf("decode request payload: %w", err)
				return m
			}
		}
		req.CallID = f.Header.CallID
		m.Request = req
	case KindResponse:
		resp := &message.Response{}
		if len(f.Payload) > 0 {
			if err := fc.codec.Decode(f.Payload, resp); err != nil {
				m.Err = fmt.Errorf("decode response payload: %w", err)
				return m
			}
		}
		resp.CallID = f.Header.CallID
		m.Response = resp
	}
	return m
}
