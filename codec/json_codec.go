package codec

import (
	"encoding/json"
	"fmt"
)

// JSONCodec is the default payload codec. Arguments and results travel as
// individual JSON documents, so a request stays readable in a packet dump.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode %T: %w", v, err)
	}
	return b, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmptyInput
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json decode into %T: %w", v, err)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
