package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"

	"mini-rpc/message"
)

// BinaryCodec hand-encodes *message.Request and *message.Response with
// length-prefixed fields. Any other value (argument and result values) falls
// back to JSON.
type BinaryCodec struct{}

var errShortBuffer = errors.New("BinaryCodec: short buffer")

// maxErrorDepth bounds the cause chain accepted from a peer.
const maxErrorDepth = 32

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *message.Request:
		return encodeRequest(msg)
	case *message.Response:
		return encodeResponse(msg)
	}
	return json.Marshal(v)
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	switch msg := v.(type) {
	case *message.Request:
		return decodeRequest(data, msg)
	case *message.Response:
		return decodeResponse(data, msg)
	}
	return json.Unmarshal(data, v)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// Request layout:
//
//	callID u64 | service str16 | method str16 | argc u16 | argTypes str16* | args bytes32*
func encodeRequest(req *message.Request) ([]byte, error) {
	if len(req.ArgTypes) != len(req.Args) {
		return nil, errors.New("BinaryCodec: argument types and values differ in length")
	}
	if len(req.Args) > math.MaxUint16 {
		return nil, errors.New("BinaryCodec: too many arguments")
	}
	w := &writer{}
	w.u64(req.CallID)
	w.str16(req.Service)
	w.str16(req.Method)
	w.u16(uint16(len(req.Args)))
	for _, t := range req.ArgTypes {
		w.str16(t)
	}
	for _, a := range req.Args {
		w.bytes32(a)
	}
	return w.buf, w.err
}

func decodeRequest(data []byte, req *message.Request) error {
	r := &reader{buf: data}
	req.CallID = r.u64()
	req.Service = r.str16()
	req.Method = r.str16()
	argc := int(r.u16())
	if r.err != nil {
		return r.err
	}
	req.ArgTypes = nil
	req.Args = nil
	if argc > 0 {
		req.ArgTypes = make([]string, argc)
		req.Args = make([][]byte, argc)
	}
	for i := 0; i < argc; i++ {
		req.ArgTypes[i] = r.str16()
	}
	for i := 0; i < argc; i++ {
		req.Args[i] = r.bytes32()
	}
	return r.err
}

// Response layout:
//
//	callID u64 | result bytes32 | error
//
// error is a presence byte followed by code str16 | message str32 | error (cause).
func encodeResponse(resp *message.Response) ([]byte, error) {
	w := &writer{}
	w.u64(resp.CallID)
	w.bytes32(resp.Result)
	for e := resp.Error; ; e = e.Cause {
		if e == nil {
			w.u8(0)
			break
		}
		w.u8(1)
		w.str16(string(e.Code))
		w.str32(e.Message)
	}
	return w.buf, w.err
}

func decodeResponse(data []byte, resp *message.Response) error {
	r := &reader{buf: data}
	resp.CallID = r.u64()
	resp.Result = r.bytes32()
	resp.Error = nil
	next := &resp.Error
	for depth := 0; r.err == nil; depth++ {
		if r.u8() == 0 {
			break
		}
		if depth == maxErrorDepth {
			return errors.New("BinaryCodec: error chain too deep")
		}
		e := &message.Error{}
		e.Code = message.Code(r.str16())
		e.Message = r.str32()
		*next = e
		next = &e.Cause
	}
	return r.err
}

type writer struct {
	buf []byte
	err error
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *writer) str16(s string) {
	if len(s) > math.MaxUint16 {
		w.err = errors.New("BinaryCodec: string too long")
		return
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) str32(s string) {
	w.bytes32([]byte(s))
}

func (w *writer) bytes32(b []byte) {
	if uint64(len(b)) > math.MaxUint32 {
		w.err = errors.New("BinaryCodec: field too long")
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// reader records the first short read and returns zero values afterwards.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = errShortBuffer
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) str16() string {
	return string(r.next(int(r.u16())))
}

func (r *reader) str32() string {
	return string(r.bytes32())
}

func (r *reader) bytes32() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(r.buf)-r.off) {
		r.err = errShortBuffer
		return nil
	}
	b := r.next(int(n))
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
