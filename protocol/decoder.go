package protocol

// Frame is one complete frame lifted off the stream.
type Frame struct {
	Header  Header
	Payload []byte
}

type decodeState int

const (
	awaitingHeader decodeState = iota
	awaitingBody
)

// Decoder reassembles frames from an arbitrarily split byte stream.
//
// Bytes are accumulated in an internal buffer. Once a header has been parsed the
// decoder waits in awaitingBody without moving its read position, so the header
// is neither re-consumed nor re-validated when more bytes arrive.
//
// A Decoder is not safe for concurrent use; each connection's read loop owns one.
type Decoder struct {
	maxPayload uint32
	buf        []byte
	off        int // read position into buf
	state      decodeState
	hdr        Header
	err        error
}

// NewDecoder returns a decoder rejecting payloads larger than maxPayload.
// A zero maxPayload selects DefaultMaxPayload.
func NewDecoder(maxPayload uint32) *Decoder {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{maxPayload: maxPayload}
}

// Feed appends p to the buffered input and returns every frame that is now
// complete, in stream order. Incomplete trailing bytes stay buffered.
//
// A framing error is sticky: the stream cannot be resynchronized, so every later
// call returns the same error. Frames completed before the error are returned
// alongside it.
func (d *Decoder) Feed(p []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, p...)

	var frames []Frame
	for {
		switch d.state {
		case awaitingHeader:
			if len(d.buf)-d.off < HeaderSize {
				d.compact()
				return frames, nil
			}
			h, err := parseHeader(d.buf[d.off:d.off+HeaderSize], d.maxPayload)
			if err != nil {
				d.err = err
				d.buf = nil
				d.off = 0
				return frames, err
			}
			d.hdr = h
			d.state = awaitingBody

		case awaitingBody:
			end := d.off + HeaderSize + int(d.hdr.PayloadLen)
			if len(d.buf) < end {
				d.compact()
				return frames, nil
			}
			payload := make([]byte, d.hdr.PayloadLen)
			copy(payload, d.buf[d.off+HeaderSize:end])
			frames = append(frames, Frame{Header: d.hdr, Payload: payload})
			d.off = end
			d.state = awaitingHeader
		}
	}
}

// Buffered returns the number of bytes received but not yet emitted as frames.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Err returns the sticky framing error, if any.
func (d *Decoder) Err() error {
	return d.err
}

// compact drops consumed bytes so the buffer does not grow without bound on a
// long-lived connection.
func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}
	n := copy(d.buf, d.buf[d.off:])
	d.buf = d.buf[:n]
	d.off = 0
}
