// Package protocol implements the binary frame protocol for mini-RPC.
//
// It solves TCP's sticky packet problem by using a fixed-size 16-byte header
// followed by a variable-length payload. The decoder buffers input until a whole
// frame is available, so a single read may carry several frames and a frame may
// span several reads.
//
// Frame format (big-endian):
//
//	0     2  3  4                12        16
//	┌─────┬──┬──┬─────────────────┬─────────┬──────────────────┐
//	│magic│v │k │     call id     │ length  │    payload ...   │
//	│ mr  │01│  │     uint64      │ uint32  │  length bytes    │
//	└─────┴──┴──┴─────────────────┴─────────┴──────────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic number "mr" (mini-rpc). A mismatch means the stream is desynchronized
// or the peer is not speaking this protocol.
const (
	Magic      uint16 = 0x6d72
	Version    byte   = 0x01
	HeaderSize int    = 16 // 2 (magic) + 1 (version) + 1 (kind) + 8 (call id) + 4 (payload length)

	// DefaultMaxPayload bounds the allocation a peer can force with a single header.
	DefaultMaxPayload uint32 = 16 << 20
)

// Kind distinguishes request, response and heartbeat frames.
type Kind byte

const (
	KindRequest   Kind = 1 // Client → Server RPC request
	KindResponse  Kind = 2 // Server → Client RPC response
	KindHeartbeat Kind = 3 // KeepAlive probe (no payload)
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

func (k Kind) valid() bool {
	return k == KindRequest || k == KindResponse || k == KindHeartbeat
}

// ErrFraming is wrapped by every error that makes a stream undecodable.
// The connection carrying such a stream must be closed.
var ErrFraming = errors.New("framing error")

var (
	ErrBadMagic      = fmt.Errorf("%w: invalid magic number", ErrFraming)
	ErrBadVersion    = fmt.Errorf("%w: unsupported version", ErrFraming)
	ErrBadKind       = fmt.Errorf("%w: unsupported frame kind", ErrFraming)
	ErrFrameTooLarge = fmt.Errorf("%w: payload length exceeds limit", ErrFraming)
)

// Header is the fixed 16-byte frame header.
type Header struct {
	Kind       Kind
	CallID     uint64 // duplicated from the payload so frames can be routed before deserialization
	PayloadLen uint32
}

// AppendFrame appends the encoded frame (header + payload) to dst.
// h.PayloadLen is ignored; the actual payload length is written.
func AppendFrame(dst []byte, h *Header, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, Magic)
	dst = append(dst, Version, byte(h.Kind))
	dst = binary.BigEndian.AppendUint64(dst, h.CallID)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// Encode writes a complete frame (header + payload) to w in a single Write.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, payload []byte) error {
	buf := AppendFrame(make([]byte, 0, HeaderSize+len(payload)), h, payload)
	_, err := w.Write(buf)
	return err
}

// parseHeader validates and parses the first HeaderSize bytes of buf.
func parseHeader(buf []byte, maxPayload uint32) (Header, error) {
	if magic := binary.BigEndian.Uint16(buf[0:2]); magic != Magic {
		return Header{}, fmt.Errorf("%w: %#04x", ErrBadMagic, magic)
	}
	if buf[2] != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, buf[2])
	}
	kind := Kind(buf[3])
	if !kind.valid() {
		return Header{}, fmt.Errorf("%w: %d", ErrBadKind, buf[3])
	}
	h := Header{
		Kind:       kind,
		CallID:     binary.BigEndian.Uint64(buf[4:12]),
		PayloadLen: binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.PayloadLen > maxPayload {
		return Header{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.PayloadLen, maxPayload)
	}
	return h, nil
}
