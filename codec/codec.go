// Package codec provides the pluggable payload codecs used to serialize
// requests, responses and individual argument values.
//
// Both peers of a connection must be configured with the same codec; the frame
// header does not carry a codec tag.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyInput is returned when Decode is given no bytes.
var ErrEmptyInput = errors.New("codec: empty input")

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
	CodecTypeGob    CodecType = 2
)

// Codec must be symmetric: Decode(Encode(v)) reproduces v for every request,
// response and argument shape used on a connection.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeGob:
		return "gob"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

// GetCodec returns the codec for codecType.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}, nil
	case CodecTypeBinary:
		return &BinaryCodec{}, nil
	case CodecTypeGob:
		return &GobCodec{}, nil
	}
	return nil, fmt.Errorf("unsupported codec type: %d", byte(codecType))
}

// ParseType maps a codec name ("json", "binary", "gob") to its type.
func ParseType(name string) (CodecType, error) {
	switch strings.ToLower(name) {
	case "json":
		return CodecTypeJSON, nil
	case "binary", "bin":
		return CodecTypeBinary, nil
	case "gob":
		return CodecTypeGob, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}
