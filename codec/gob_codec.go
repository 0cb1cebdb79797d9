package codec

import (
	"bytes"
	"encoding/gob"
)

// GobCodec serializes with encoding/gob. Each Encode produces a self-contained
// gob stream (type descriptors included) because frames are decoded independently.
type GobCodec struct{}

func (c *GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *GobCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmptyInput
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (c *GobCodec) Type() CodecType {
	return CodecTypeGob
}
